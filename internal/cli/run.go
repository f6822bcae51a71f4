package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/longlee218/goclass-editor/internal/api"
	"github.com/longlee218/goclass-editor/internal/assets"
	"github.com/longlee218/goclass-editor/internal/collab"
	"github.com/longlee218/goclass-editor/internal/config"
	"github.com/longlee218/goclass-editor/internal/i18n"
	"github.com/longlee218/goclass-editor/internal/persist"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/source"
	"github.com/longlee218/goclass-editor/internal/store"
	"github.com/longlee218/goclass-editor/internal/workspace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store        string
	Name         string
	Token        string
	AcceptRemote bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [location]",
		Short: "Open a workspace and keep it saved",
		Long: `Open the local workspace for a scene location and keep it running.

The location picks the scene source: empty for the stored scene, a
share link, an inline payload, a plain URL, or a room link that joins
a live collaborative session. Autosave runs until interrupted;
shutdown flushes pending writes and waits for queued asset uploads.

Example:
  goclass run
  goclass run --store ./class.db "https://board.example/#room=class1,aGVsbG8"
  goclass run --accept-remote --token "$GOCLASS_TOKEN" "https://board.example/#json=doc7,k3y"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			location := ""
			if len(args) == 1 {
				location = args[0]
			}
			return runWorkspace(opts, location, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "path to the local store (default from config)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name shown to room peers")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for the classroom backend")
	cmd.Flags().BoolVar(&opts.AcceptRemote, "accept-remote", false, "replace the stored scene with external content without prompting")

	return cmd
}

func runWorkspace(opts *RunOptions, location string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	storePath := opts.Store
	if storePath == "" {
		storePath = cfg.Store.Path
	}
	locale := i18n.NewDetector().Localize(cfg.Locale.Language, i18n.NormalizeEnvLang(os.Getenv("LANG")))

	slog.Info("opening store", "path", storePath)
	db, err := store.Open(storePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	// Workspace callbacks print from internal goroutines; serialize
	// them with the command goroutine's own prints.
	out := &syncWriter{w: cmd.OutOrStdout()}

	mgr := persist.NewManager(db, persist.Options{
		Window:           cfg.Persist.SaveWindow,
		FailureThreshold: cfg.Persist.FailureThreshold,
		OnStatus: func(st persist.Status) {
			if st.Err != nil {
				slog.Warn("background save failing", "category", st.Category, "failures", st.Failures, "error", st.Err)
				fmt.Fprintln(out, locale.Message("persist.save_failing"))
				return
			}
			slog.Info("background save recovered", "category", st.Category)
		},
	})
	resolver := assets.NewResolver(mgr, nil)

	httpc := api.NewHTTPClient(cfg.API.Timeout)
	objects := api.NewObjectStore(cfg.API.BaseURL, httpc)

	var classroom *api.Classroom
	userName := opts.Name
	if opts.Token != "" {
		classroom = api.NewClassroom(cfg.API.BaseURL, opts.Token, httpc)
		identity, idErr := classroom.Identity()
		if idErr != nil {
			return WrapExitError(ExitCommandError, "invalid bearer token", idErr)
		}
		slog.Info("signed in", "subject", identity.Subject, "role", identity.Role)
		if userName == "" {
			userName = identity.Name
		}
	}

	var decider source.Decider
	if opts.AcceptRemote {
		decider = source.DeciderFunc(func(ctx context.Context, kind source.Kind) (bool, error) {
			return true, nil
		})
	}

	ws := workspace.New(workspace.Options{
		Persist:   mgr,
		Assets:    resolver,
		Objects:   objects,
		Classroom: classroom,
		Decider:   decider,
		Locale:    locale,
		Collab: collab.Settings{
			ServerURL:           cfg.Collab.ServerURL,
			BroadcastInterval:   cfg.Collab.BroadcastInterval,
			FullSyncInterval:    cfg.Collab.FullSyncInterval,
			ReconnectMaxElapsed: cfg.Collab.ReconnectMaxElapsed,
		},
		UserName: userName,
		Logger:   logger,
		Callbacks: workspace.Callbacks{
			OnDocument: func(doc scene.Document) {
				slog.Debug("document updated", "elements", len(doc.Elements), "version", scene.SceneVersion(doc.Elements))
			},
			OnMessage: func(key, text string) {
				fmt.Fprintln(out, text)
			},
			OnSessionState: func(state collab.State, err error) {
				fmt.Fprintf(out, "Session: %s\n", state)
			},
			OnPeers: func(peers []collab.Peer) {
				slog.Info("room roster changed", "peers", len(peers))
			},
			OnAssist: func(from collab.Peer) {
				name := from.Name
				if name == "" {
					name = from.UserID
				}
				fmt.Fprintf(out, "%s asked for help.\n", name)
			},
		},
	})

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := ws.Open(ctx, location)
	switch {
	case err == nil:
		doc := ws.Document()
		fmt.Fprintf(out, "Workspace open (%s scene, %d elements).\n", res.Kind, len(doc.Elements))
		if room := ws.Room(); room != nil {
			fmt.Fprintf(out, "Room: %s\n", room.RoomID)
		}
		fmt.Fprintln(out, "Autosave running. Press Ctrl-C to stop.")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Interrupted before the scene resolved; fall through to shutdown.
	default:
		if sdErr := shutdownWorkspace(ws); sdErr != nil {
			slog.Error("shutdown after failed open", "error", sdErr)
		}
		return WrapExitError(ExitFailure, "failed to open workspace", err)
	}

	<-ctx.Done()

	slog.Info("closing workspace")
	if err := shutdownWorkspace(ws); err != nil {
		var pending *workspace.PendingAssetsError
		if errors.As(err, &pending) {
			slog.Warn("asset uploads still pending at exit", "count", len(pending.IDs))
			return WrapExitError(ExitFailure, "unsaved assets at exit", err)
		}
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}

	slog.Info("workspace stopped gracefully")
	return nil
}

// shutdownWorkspace runs the unload contract with its own deadline,
// detached from the command context that is already canceled.
func shutdownWorkspace(ws *workspace.Workspace) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ws.Shutdown(ctx)
}

// syncWriter serializes writes from workspace callbacks and the
// command goroutine onto one writer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
