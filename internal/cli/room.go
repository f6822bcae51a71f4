package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/longlee218/goclass-editor/internal/config"
	"github.com/longlee218/goclass-editor/internal/relay"
)

// RoomOptions holds flags for the room command.
type RoomOptions struct {
	*RootOptions
	Addr string
}

// NewRoomCommand creates the room command.
func NewRoomCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RoomOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "room",
		Short: "Serve the collaborative room relay",
		Long: `Serve the room relay that collaborative sessions connect to.

The relay fans sealed scene updates out to every room member, answers
snapshot and file requests over HTTP, and keeps room state in Redis
when configured, in process memory otherwise. Payloads stay encrypted
end to end; the relay never holds a room key.

Example:
  goclass room
  goclass room --addr :9000 --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")

	return cmd
}

func runRelay(opts *RoomOptions, cmd *cobra.Command) error {
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
	addr := opts.Addr
	if addr == "" {
		addr = cfg.Relay.Addr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	var rdb *redis.Client
	if cfg.Relay.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Relay.RedisAddr,
			Password: cfg.Relay.RedisPassword,
			DB:       cfg.Relay.RedisDB,
		})
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				slog.Error("error closing redis client", "error", closeErr)
			}
		}()
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err = rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to reach redis", err)
		}
		slog.Info("room state in redis", "addr", cfg.Relay.RedisAddr)
	}

	srv := relay.NewServer(relay.Options{
		Redis:       rdb,
		SnapshotTTL: cfg.Relay.SnapshotTTL,
		Logger:      logger,
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{Handler: srv}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		// Close the relay first: hijacked websocket connections are not
		// tracked by Shutdown and would hold it until its deadline.
		srv.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := httpSrv.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("error shutting down http server", "error", shutdownErr)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Room relay listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "relay error", err)
	}

	slog.Info("relay stopped gracefully")
	return nil
}
