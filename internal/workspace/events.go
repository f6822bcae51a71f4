package workspace

import (
	"context"
	"errors"

	"github.com/longlee218/goclass-editor/internal/appevent"
	"github.com/longlee218/goclass-editor/internal/reconcile"
	"github.com/longlee218/goclass-editor/internal/source"
)

// handleEvent runs on the bus dispatch path and must not block, so
// every reaction moves to its own goroutine.
func (w *Workspace) handleEvent(e appevent.Event) {
	switch ev := e.(type) {
	case appevent.FocusGained:
		go w.refresh(context.Background())
	case appevent.FocusLost:
		go w.flushBackground()
	case appevent.VisibilityChanged:
		if ev.Visible {
			go w.refresh(context.Background())
		}
	case appevent.LocationChanged:
		go func() {
			_, err := w.openLocation(context.Background(), ev.Location, false)
			switch {
			case err == nil:
			case errors.Is(err, source.ErrStale),
				errors.Is(err, context.Canceled),
				errors.Is(err, ErrClosed):
				// A newer navigation or shutdown won; nothing to report.
			default:
				w.logger.Warn("location change failed", "location", ev.Location, "err", err)
			}
		}()
	}
}

// refresh runs the cross-tab freshness check: when another tab saved a
// newer scene or library while this one was hidden, merge it in.
func (w *Workspace) refresh(ctx context.Context) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	current := w.doc.Clone()
	w.mu.Unlock()

	fresh, err := w.persist.CheckFreshness(ctx, current)
	if err != nil {
		w.logger.Warn("freshness check failed", "err", err)
		return
	}

	if fresh.Scene != nil && fresh.SceneChanged {
		// The document may have moved on while the check ran, so the
		// merged result is reconciled against the live document rather
		// than assigned. Merging twice is harmless.
		w.mu.Lock()
		merged, changed, mergeErr := reconcile.Documents(w.doc, fresh.Scene.Elements)
		if mergeErr == nil && changed {
			w.doc = merged
		}
		sess := w.session
		w.mu.Unlock()
		if mergeErr != nil {
			w.logger.Warn("freshness merge failed", "err", mergeErr)
		} else if changed {
			w.persist.Save(merged)
			w.notifyDocument(merged)
			if sess != nil {
				sess.QueueBroadcast(merged.Elements)
			}
		}
	}
	if fresh.LibraryStale {
		items := fresh.Library
		w.mu.Lock()
		w.library = items
		w.mu.Unlock()
		w.notifyLibrary(items)
	}
	if fresh.FilesStale {
		w.logger.Debug("stored assets changed in another tab")
	}
}

func (w *Workspace) flushBackground() {
	if err := w.persist.Flush(context.Background()); err != nil {
		w.logger.Warn("background flush failed", "err", err)
	}
}
