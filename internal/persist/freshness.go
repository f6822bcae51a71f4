package persist

import (
	"context"
	"fmt"

	"github.com/longlee218/goclass-editor/internal/reconcile"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/store"
)

// Freshness is the outcome of a cross-tab staleness probe. Zero value
// means every category was current.
type Freshness struct {
	// Scene is the merged document when another tab wrote a newer
	// snapshot, nil otherwise. The merge runs through reconcile so
	// unsaved in-memory edits survive; app state stays local because it
	// is per-tab view state, not reconciled content.
	Scene        *scene.Document
	SceneChanged bool

	// Library holds the freshly loaded items when the library category
	// was stale. LibraryStale distinguishes "stale, now empty" from
	// "current".
	Library      []scene.LibraryItem
	LibraryStale bool

	// FilesStale reports that another tab changed the stored asset set.
	// Advisory: per-asset reads fall back to storage anyway, so no
	// eager reload happens here.
	FilesStale bool
}

// CheckFreshness compares stored category markers against the last
// markers this manager observed, reloading any category another tab has
// written since. Equal or older markers are no-ops, which both avoids
// redundant reloads and keeps newer in-memory state from being
// clobbered by stale storage. Intended to run on focus or
// visibility-regained events.
func (m *Manager) CheckFreshness(ctx context.Context, current scene.Document) (Freshness, error) {
	var fresh Freshness

	markers, err := m.db.Markers(ctx)
	if err != nil {
		return fresh, fmt.Errorf("freshness probe: %w", err)
	}

	m.mu.Lock()
	seenScene := m.seen[store.CategoryScene]
	seenLibrary := m.seen[store.CategoryLibrary]
	seenFiles := m.seen[store.CategoryFiles]
	m.mu.Unlock()

	if mk, ok := markers[store.CategoryScene]; ok && mk.Counter > seenScene {
		stored, found, err := m.db.LoadScene(ctx, m.opts.SceneID)
		if err != nil {
			return fresh, fmt.Errorf("freshness reload scene: %w", err)
		}
		if found {
			merged, changed, err := reconcile.Documents(current, stored.Elements)
			if err != nil {
				return fresh, fmt.Errorf("freshness reload scene: %w", err)
			}
			fresh.Scene = &merged
			fresh.SceneChanged = changed
		}
		m.noteSeen(store.CategoryScene, mk.Counter)
	}

	if mk, ok := markers[store.CategoryLibrary]; ok && mk.Counter > seenLibrary {
		items, err := m.db.LoadLibrary(ctx)
		if err != nil {
			return fresh, fmt.Errorf("freshness reload library: %w", err)
		}
		fresh.Library = items
		fresh.LibraryStale = true
		m.noteSeen(store.CategoryLibrary, mk.Counter)
	}

	if mk, ok := markers[store.CategoryFiles]; ok && mk.Counter > seenFiles {
		fresh.FilesStale = true
		m.noteSeen(store.CategoryFiles, mk.Counter)
	}

	return fresh, nil
}
