package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"

	"github.com/longlee218/goclass-editor/internal/api"
	"github.com/longlee218/goclass-editor/internal/appevent"
	"github.com/longlee218/goclass-editor/internal/assets"
	"github.com/longlee218/goclass-editor/internal/collab"
	"github.com/longlee218/goclass-editor/internal/i18n"
	"github.com/longlee218/goclass-editor/internal/persist"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/source"
)

// ErrClosed reports an operation on a workspace after Shutdown.
var ErrClosed = errors.New("workspace: closed")

var errNoSession = errors.New("workspace: no active session")

// PendingAssetsError reports assets whose bytes were still not durable
// when the unload deadline ran out. The caller decides whether to warn
// the user or leave anyway; errored assets never appear here.
type PendingAssetsError struct {
	IDs []scene.FileID
}

func (e *PendingAssetsError) Error() string {
	return fmt.Sprintf("workspace: %d asset write(s) still pending", len(e.IDs))
}

// Callbacks surface workspace changes to the editing surface. All of
// them run on internal goroutines; implementations must not block and
// must not call back into the workspace synchronously.
type Callbacks struct {
	// OnDocument delivers the document after a merge the surface did not
	// initiate: a remote update, a cross-tab reload, an installed
	// resolution.
	OnDocument func(doc scene.Document)

	// OnLibrary delivers the library after a cross-tab reload.
	OnLibrary func(items []scene.LibraryItem)

	// OnMessage delivers a recoverable, user-visible note. key is the
	// catalog key, text its localized rendering.
	OnMessage func(key, text string)

	// OnSessionState mirrors the collaboration session lifecycle.
	OnSessionState func(state collab.State, err error)

	// OnPeers delivers the room roster, self excluded.
	OnPeers func(peers []collab.Peer)

	// OnAssist delivers a peer's request for attention.
	OnAssist func(from collab.Peer)
}

// Options wire a Workspace. Persist and Assets are required; everything
// else degrades gracefully when absent.
type Options struct {
	Persist   *persist.Manager
	Assets    *assets.Resolver
	Bus       *appevent.Bus
	Objects   *api.ObjectStore
	Classroom *api.Classroom
	Decider   source.Decider
	Locale    i18n.Locale
	Collab    collab.Settings
	UserName  string
	Clock     bclock.Clock
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Workspace owns the current document between the editing surface and
// the sync core. It installs resolved scenes, routes local edits to the
// persistence manager and the live session, applies remote and
// cross-tab merges, and runs the unload contract.
//
// Mutation model: every change to the document happens under one mutex,
// and merges go through the reconciliation rules, so any interleaving
// of surface edits, remote updates and cross-tab reloads converges.
// Long-running work (resolution, joins, freshness probes) computes
// outside the lock and installs its result under it.
type Workspace struct {
	persist        *persist.Manager
	assets         *assets.Resolver
	resolver       *source.Resolver
	objects        *api.ObjectStore
	classroom      *api.Classroom
	locale         i18n.Locale
	collabSettings collab.Settings
	userName       string
	clk            bclock.Clock
	logger         *slog.Logger
	cb             Callbacks
	vis            *appevent.Visibility
	unsub          func()

	mu            sync.Mutex
	doc           scene.Document
	library       []scene.LibraryItem
	location      string
	room          *source.RoomLink
	session       *collab.Session
	closed        bool
	resolveSeq    int64
	resolveCancel context.CancelFunc
}

func New(opts Options) *Workspace {
	bus := opts.Bus
	if bus == nil {
		bus = appevent.NewBus()
	}
	clk := opts.Clock
	if clk == nil {
		clk = bclock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workspace{
		persist:        opts.Persist,
		assets:         opts.Assets,
		objects:        opts.Objects,
		classroom:      opts.Classroom,
		locale:         opts.Locale,
		collabSettings: opts.Collab,
		userName:       opts.UserName,
		clk:            clk,
		logger:         logger,
		cb:             opts.Callbacks,
		doc:            scene.EmptyDocument(),
	}
	// The tracker subscribes first so the resolver's visibility view is
	// current before any other reaction to the same event runs.
	w.vis = appevent.TrackVisibility(bus)
	w.resolver = source.NewResolver(source.Options{
		Store:      opts.Persist,
		Objects:    opts.Objects,
		Joiner:     roomJoiner{w},
		Decider:    opts.Decider,
		Visibility: w.vis,
	})
	w.unsub = bus.Subscribe(w.handleEvent)
	return w
}

// Document returns a deep copy of the current document.
func (w *Workspace) Document() scene.Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doc.Clone()
}

// Library returns a deep copy of the current library.
func (w *Workspace) Library() []scene.LibraryItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	items := make([]scene.LibraryItem, len(w.library))
	for i, item := range w.library {
		items[i] = item.Clone()
	}
	return items
}

// Location is the address currently installed, after any cleanup a
// resolution asked for.
func (w *Workspace) Location() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.location
}

// Room returns the active room link, nil outside collaboration.
func (w *Workspace) Room() *source.RoomLink {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.room == nil {
		return nil
	}
	link := *w.room
	return &link
}

// SessionState reports the collaboration lifecycle position.
func (w *Workspace) SessionState() collab.State {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess == nil {
		return collab.StateDisconnected
	}
	return sess.State()
}

// UpdateScene is the editing surface's commit: the whole document after
// a local change. It becomes the current document, is queued for a
// debounced save, and is broadcast to the room when a session is live.
// Never blocks on storage or the network.
func (w *Workspace) UpdateScene(doc scene.Document) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.doc = doc.Clone()
	snapshot := w.doc
	sess := w.session
	w.mu.Unlock()

	w.persist.Save(snapshot)
	if sess != nil {
		sess.QueueBroadcast(snapshot.Elements)
	}
}

// UpdateLibrary replaces the library and queues a debounced save.
func (w *Workspace) UpdateLibrary(items []scene.LibraryItem) {
	cloned := make([]scene.LibraryItem, len(items))
	for i, item := range items {
		cloned[i] = item.Clone()
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.library = cloned
	w.mu.Unlock()
	w.persist.SaveLibrary(items)
}

// AddAsset registers locally produced bytes, for example a pasted
// image. The asset starts pending and becomes saved once durable. While
// a session is live the sealed bytes are also shared with the room so
// peers can resolve the id.
func (w *Workspace) AddAsset(data []byte, mimeType string) scene.FileID {
	id := w.assets.Add(data, mimeType)
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess != nil {
		go func() {
			if err := sess.PutFile(context.Background(), id, data, mimeType); err != nil {
				w.logger.Warn("room asset share failed", "file", string(id), "err", err)
			}
		}()
	}
	return id
}

// ResolveAssets resolves the given asset ids through the source chain.
func (w *Workspace) ResolveAssets(ctx context.Context, ids []scene.FileID) (map[scene.FileID]assets.File, error) {
	return w.assets.Resolve(ctx, ids)
}

// PendingAssets lists assets whose bytes are not yet durable. The
// hosting surface consults this before allowing an unload.
func (w *Workspace) PendingAssets() []scene.FileID {
	return w.assets.PendingIDs()
}

// Shutdown runs the unload contract: leave the session, flush every
// queued write, and wait for pending asset writes until ctx expires.
// After Shutdown the workspace drops all further calls. Safe to call
// more than once.
func (w *Workspace) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	sess := w.session
	w.session = nil
	cancel := w.resolveCancel
	w.resolveCancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.unsub()
	w.vis.Close()
	if sess != nil {
		sess.Close()
	}

	flushErr := w.persist.Flush(ctx)
	guardErr := w.awaitAssetWrites(ctx)
	w.persist.Close()
	return errors.Join(flushErr, guardErr)
}

// awaitAssetWrites re-flushes until no asset is pending or ctx runs
// out. Writes queued by fetches that complete mid-unload are picked up
// by the next cycle; errored assets never hold the door.
func (w *Workspace) awaitAssetWrites(ctx context.Context) error {
	for {
		pending := w.assets.PendingIDs()
		if len(pending) == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return &PendingAssetsError{IDs: pending}
		}
		select {
		case <-ctx.Done():
		case <-w.clk.After(50 * time.Millisecond):
			if err := w.persist.Flush(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

func (w *Workspace) notifyDocument(doc scene.Document) {
	if w.cb.OnDocument != nil {
		w.cb.OnDocument(doc)
	}
}

func (w *Workspace) notifyLibrary(items []scene.LibraryItem) {
	if w.cb.OnLibrary != nil {
		w.cb.OnLibrary(items)
	}
}

func (w *Workspace) notifyMessage(key string) {
	if w.cb.OnMessage != nil {
		w.cb.OnMessage(key, w.locale.Message(key))
	}
}
