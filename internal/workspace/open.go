package workspace

import (
	"context"

	"github.com/longlee218/goclass-editor/internal/api"
	"github.com/longlee218/goclass-editor/internal/assets"
	"github.com/longlee218/goclass-editor/internal/reconcile"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/source"
)

// Open loads stored state, resolves location and installs the winning
// document. It is the first call after New; later location changes
// arrive through the event bus instead.
func (w *Workspace) Open(ctx context.Context, location string) (source.Resolution, error) {
	// The stored scene becomes the starting document before resolution
	// runs, so a room join merges the user's local work instead of an
	// empty scene. Reading it here also baselines the version markers
	// for later freshness checks.
	if doc, found, err := w.persist.LoadScene(ctx); err != nil {
		w.logger.Warn("scene load failed", "err", err)
	} else if found {
		w.mu.Lock()
		w.doc = doc
		w.mu.Unlock()
	}
	items, err := w.persist.LoadLibrary(ctx)
	if err != nil {
		w.logger.Warn("library load failed", "err", err)
	} else {
		w.mu.Lock()
		w.library = items
		w.mu.Unlock()
	}
	return w.openLocation(ctx, location, true)
}

// openLocation resolves one location and installs the result. A newer
// call cancels the previous one; the resolver's own generation check
// makes the loser's result unobservable even if the cancel races.
func (w *Workspace) openLocation(parent context.Context, location string, freshLoad bool) (source.Resolution, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return source.Resolution{}, ErrClosed
	}
	w.resolveSeq++
	seq := w.resolveSeq
	if w.resolveCancel != nil {
		w.resolveCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	w.resolveCancel = cancel
	current := w.doc.Clone()
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.resolveSeq == seq {
			w.resolveCancel = nil
		}
		w.mu.Unlock()
		cancel()
	}()

	res, err := w.resolver.Resolve(ctx, location, current)
	if err != nil {
		return source.Resolution{}, err
	}
	w.install(location, res, freshLoad)
	return res, nil
}

// install makes a resolution the current state: document, cleaned
// location, room link, asset remote, and the follow-up save and
// broadcast the resolution kind calls for.
func (w *Workspace) install(location string, res source.Resolution, freshLoad bool) {
	// Autosave pauses while the document is swapped so a debounce
	// firing mid-replace cannot persist a half-installed state.
	w.persist.SetPaused(true)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.persist.SetPaused(false)
		return
	}
	if res.Kind == source.KindRoom {
		// The session may already be applying remote updates; merging
		// instead of assigning keeps any update that landed between
		// join and install.
		merged, _, err := reconcile.Documents(w.doc, res.Document.Elements)
		if err != nil {
			w.logger.Warn("install merge failed", "err", err)
			w.doc = res.Document.Clone()
		} else {
			w.doc = merged
		}
	} else {
		w.doc = res.Document.Clone()
	}
	doc := w.doc
	w.location = location
	if res.CleanLocation != "" {
		w.location = res.CleanLocation
	}
	w.room = res.Room
	sess := w.session
	w.mu.Unlock()
	w.persist.SetPaused(false)

	if res.Kind != source.KindRoom && sess != nil {
		w.clearSession()
		sess = nil
	}
	switch res.Kind {
	case source.KindRoom:
		// joinRoom already pointed the asset remote at the session.
	case source.KindShareID:
		w.assets.SetRemote(w.shareRemote(location))
	default:
		w.assets.SetRemote(nil)
	}

	// External content becomes local content the moment it is accepted.
	switch res.Kind {
	case source.KindShareID, source.KindInline, source.KindExternalURL, source.KindRoom:
		w.persist.Save(doc)
	}
	if sess != nil && res.Kind == source.KindRoom {
		sess.QueueBroadcast(doc.Elements)
	}
	if freshLoad {
		go w.collectGarbage(context.Background())
	}
	w.notifyDocument(doc)
	if res.Message != "" {
		w.notifyMessage(res.Message)
	}
}

// shareRemote serves room-less shared scenes: asset bytes live next to
// the scene in the object store, keyed by the share id.
func (w *Workspace) shareRemote(location string) assets.Remote {
	if w.objects == nil {
		return nil
	}
	shareID := source.ParseLocation(location).ShareID
	if shareID == "" {
		return nil
	}
	return assets.RemoteFunc(func(ctx context.Context, id scene.FileID) ([]byte, string, error) {
		data, mime, err := w.objects.FetchFile(ctx, shareID, id)
		if err != nil {
			if api.IsNotFound(err) {
				return nil, "", assets.ErrNotFound
			}
			return nil, "", err
		}
		return data, mime, nil
	})
}

// collectGarbage drops stored assets no live element or library item
// references. Runs once per fresh load, never on location changes
// within a running workspace.
func (w *Workspace) collectGarbage(ctx context.Context) {
	w.mu.Lock()
	referenced := w.doc.FileIDs()
	for _, item := range w.library {
		for _, el := range item.Elements {
			if el.FileID != "" {
				referenced = append(referenced, el.FileID)
			}
		}
	}
	w.mu.Unlock()
	removed, err := w.assets.CollectGarbage(ctx, referenced)
	if err != nil {
		w.logger.Warn("asset cleanup failed", "err", err)
		return
	}
	if removed > 0 {
		w.logger.Debug("removed unreferenced assets", "count", removed)
	}
}
