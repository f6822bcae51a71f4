package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/longlee218/goclass-editor/internal/config"
	"github.com/longlee218/goclass-editor/internal/persist"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Store string
}

// SceneReport summarizes the stored scene.
type SceneReport struct {
	Found    bool  `json:"found"`
	Elements int   `json:"elements"`
	Deleted  int   `json:"deleted"`
	Version  int64 `json:"version"`
}

// MarkerReport is one category's freshness marker.
type MarkerReport struct {
	Category  string `json:"category"`
	Counter   int64  `json:"counter"`
	UpdatedAt int64  `json:"updated_at_ms"`
}

// FileReport summarizes one stored asset.
type FileReport struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// InspectReport holds the complete inspect output.
type InspectReport struct {
	Store   string         `json:"store"`
	Scene   SceneReport    `json:"scene"`
	Library int            `json:"library_items"`
	Markers []MarkerReport `json:"markers"`
	Files   []FileReport   `json:"files"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report what the local store holds",
		Long: `Report the stored scene, library, freshness markers and assets.

Reads the local store without opening a workspace: element counts
split into live and deleted, the per-category version markers that
drive cross-tab freshness checks, and every stored asset with its
size.

Example:
  goclass inspect --store ./goclass.db
  goclass inspect --store ./goclass.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "path to the local store (default from config)")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	storePath := opts.Store
	if storePath == "" {
		storePath = cfg.Store.Path
	}

	// Opening would create an empty store; a missing path is an error here.
	if _, err := os.Stat(storePath); err != nil {
		return WrapExitError(ExitCommandError, "store not found", err)
	}

	db, err := store.Open(storePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer db.Close()

	report, err := buildInspectReport(ctx, db, storePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read store", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return outputInspectText(cmd, report)
}

func buildInspectReport(ctx context.Context, db *store.Store, storePath string) (InspectReport, error) {
	report := InspectReport{Store: storePath}

	doc, found, err := db.LoadScene(ctx, persist.DefaultSceneID)
	if err != nil {
		return report, fmt.Errorf("load scene: %w", err)
	}
	if found {
		report.Scene.Found = true
		report.Scene.Version = scene.SceneVersion(doc.Elements)
		for _, el := range doc.Elements {
			if el.Deleted {
				report.Scene.Deleted++
				continue
			}
			report.Scene.Elements++
		}
	}

	items, err := db.LoadLibrary(ctx)
	if err != nil {
		return report, fmt.Errorf("load library: %w", err)
	}
	report.Library = len(items)

	markers, err := db.Markers(ctx)
	if err != nil {
		return report, fmt.Errorf("read markers: %w", err)
	}
	for _, category := range store.Categories {
		marker, ok := markers[category]
		if !ok {
			continue
		}
		report.Markers = append(report.Markers, MarkerReport{
			Category:  string(category),
			Counter:   marker.Counter,
			UpdatedAt: marker.UpdatedAt,
		})
	}

	ids, err := db.ListFileIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list files: %w", err)
	}
	for _, id := range ids {
		rec, ok, err := db.GetFile(ctx, id)
		if err != nil {
			return report, fmt.Errorf("read file %s: %w", id, err)
		}
		if !ok {
			continue
		}
		report.Files = append(report.Files, FileReport{
			ID:       string(rec.ID),
			MimeType: rec.MimeType,
			Size:     len(rec.Data),
		})
	}

	return report, nil
}

// outputInspectText outputs the report as text.
func outputInspectText(cmd *cobra.Command, report InspectReport) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Store: %s\n", report.Store)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Scene ===")
	if !report.Scene.Found {
		fmt.Fprintln(w, "  (no stored scene)")
	} else {
		fmt.Fprintf(w, "  Elements: %d live, %d deleted\n", report.Scene.Elements, report.Scene.Deleted)
		fmt.Fprintf(w, "  Version:  %d\n", report.Scene.Version)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Library ===")
	fmt.Fprintf(w, "  Items: %d\n", report.Library)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Markers ===")
	if len(report.Markers) == 0 {
		fmt.Fprintln(w, "  (no markers)")
	} else {
		for _, m := range report.Markers {
			updated := time.UnixMilli(m.UpdatedAt).UTC().Format(time.RFC3339)
			fmt.Fprintf(w, "  %-8s counter=%d updated=%s\n", m.Category, m.Counter, updated)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Files ===")
	if len(report.Files) == 0 {
		fmt.Fprintln(w, "  (no stored assets)")
	} else {
		for _, f := range report.Files {
			fmt.Fprintf(w, "  %s  %s  %d bytes\n", f.ID, f.MimeType, f.Size)
		}
	}

	return nil
}
