package source

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/longlee218/goclass-editor/internal/api"
	"github.com/longlee218/goclass-editor/internal/appevent"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/seal"
)

// SceneStore is the stored-scene side of resolution. *persist.Manager
// satisfies it.
type SceneStore interface {
	LoadScene(ctx context.Context) (scene.Document, bool, error)
}

// Decider answers the replace-local-scene question. Implementations
// surface a real prompt; the resolver only ever asks while the page is
// visible.
type Decider interface {
	ConfirmReplace(ctx context.Context, kind Kind) (bool, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, kind Kind) (bool, error)

func (f DeciderFunc) ConfirmReplace(ctx context.Context, kind Kind) (bool, error) {
	return f(ctx, kind)
}

// Joiner connects to a room and returns the initial document, already
// reconciled against whatever the workspace currently holds, so a peer
// snapshot arriving before resolution finishes cannot clobber local
// work. *collab.Session satisfies it.
type Joiner interface {
	Join(ctx context.Context, link RoomLink, current scene.Document) (scene.Document, error)
}

// Resolution is the terminal state of one resolve pass.
type Resolution struct {
	Document scene.Document
	Kind     Kind

	// Room is set for room locations, including a failed join where
	// the caller may retry connecting explicitly.
	Room *RoomLink

	// Message, when non-empty, is an i18n catalog key for a
	// recoverable, user-visible note about how resolution degraded.
	Message string

	// CleanLocation, when non-empty, is the address to install in
	// place of the current one (external markers cleared after the
	// user declined an import).
	CleanLocation string
}

// Options wires a Resolver. Store is required; the rest degrade
// gracefully when absent (no objects client means share ids cannot
// resolve, a nil Decider declines every import, a nil Visibility is
// treated as always visible).
type Options struct {
	Store      SceneStore
	Objects    *api.ObjectStore
	HTTPClient *http.Client
	Joiner     Joiner
	Decider    Decider
	Visibility *appevent.Visibility
}

// Resolver runs the scene-source state machine.
type Resolver struct {
	store   SceneStore
	objects *api.ObjectStore
	httpc   *http.Client
	joiner  Joiner
	decider Decider
	vis     *appevent.Visibility

	gen atomic.Int64
}

func NewResolver(opts Options) *Resolver {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = api.NewHTTPClient(0)
	}
	return &Resolver{
		store:   opts.Store,
		objects: opts.Objects,
		httpc:   httpc,
		joiner:  opts.Joiner,
		decider: opts.Decider,
		vis:     opts.Visibility,
	}
}

// Supersede invalidates any in-flight resolution without starting a
// new one. Late results return ErrStale and are discarded.
func (r *Resolver) Supersede() {
	r.gen.Add(1)
}

// Resolve inspects location and produces the initial document. current
// is whatever the workspace holds right now; room joins reconcile
// against it and recoverable failures fall back to it or to stored
// state. The error path is reserved for cancellation, supersession and
// storage failures; external-source trouble degrades into a Resolution
// carrying a message instead.
func (r *Resolver) Resolve(ctx context.Context, location string, current scene.Document) (Resolution, error) {
	gen := r.gen.Add(1)
	for {
		res, restart, err := r.resolveOnce(ctx, gen, location, current)
		if err != nil || !restart {
			return res, err
		}
	}
}

func (r *Resolver) stale(gen int64) bool {
	return r.gen.Load() != gen
}

// resolveOnce runs one pass of the state machine. restart is true when
// the pass suspended for visibility and must re-run from inspection.
func (r *Resolver) resolveOnce(ctx context.Context, gen int64, location string, current scene.Document) (Resolution, bool, error) {
	ref := ParseLocation(location)

	if ref.External() {
		stored, found, err := r.store.LoadScene(ctx)
		if err != nil {
			return Resolution{}, false, err
		}
		if found && len(stored.Elements) > 0 {
			// Replacing real local work needs an attended decision.
			if r.vis != nil && !r.vis.Visible() {
				if err := r.vis.AwaitVisible(ctx); err != nil {
					return Resolution{}, false, err
				}
				if r.stale(gen) {
					return Resolution{}, false, ErrStale
				}
				return Resolution{}, true, nil
			}
			accept, err := r.confirmReplace(ctx, ref.externalKind())
			if err != nil {
				return Resolution{}, false, err
			}
			if r.stale(gen) {
				return Resolution{}, false, ErrStale
			}
			if !accept {
				return Resolution{
					Document:      stored,
					Kind:          KindLocal,
					CleanLocation: StripExternalMarkers(location),
				}, false, nil
			}
		}

		res, err := r.fetchExternal(ctx, ref)
		if r.stale(gen) {
			return Resolution{}, false, ErrStale
		}
		if err != nil {
			var resErr *ResolutionError
			if errors.As(err, &resErr) {
				return Resolution{
					Document: scene.EmptyDocument(),
					Kind:     ref.externalKind(),
					Message:  resErr.MessageKey(),
				}, false, nil
			}
			return Resolution{}, false, err
		}
		return res, false, nil
	}

	if ref.Room != nil {
		return r.resolveRoom(ctx, gen, *ref.Room, current)
	}

	res, err := r.loadStored(ctx)
	return res, false, err
}

func (r *Resolver) resolveRoom(ctx context.Context, gen int64, link RoomLink, current scene.Document) (Resolution, bool, error) {
	if r.joiner == nil {
		return Resolution{
			Document: current,
			Kind:     KindRoom,
			Room:     &link,
			Message:  MsgSessionUnreached,
		}, false, nil
	}
	doc, err := r.joiner.Join(ctx, link, current)
	if r.stale(gen) {
		return Resolution{}, false, ErrStale
	}
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, false, ctx.Err()
		}
		// Join failure keeps local editing alive; the caller may
		// reconnect explicitly.
		return Resolution{
			Document: current,
			Kind:     KindRoom,
			Room:     &link,
			Message:  MsgSessionUnreached,
		}, false, nil
	}
	return Resolution{Document: doc, Kind: KindRoom, Room: &link}, false, nil
}

func (r *Resolver) confirmReplace(ctx context.Context, kind Kind) (bool, error) {
	if r.decider == nil {
		return false, nil
	}
	return r.decider.ConfirmReplace(ctx, kind)
}

func (r *Resolver) loadStored(ctx context.Context) (Resolution, error) {
	doc, found, err := r.store.LoadScene(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if !found {
		return Resolution{Document: scene.EmptyDocument(), Kind: KindEmpty}, nil
	}
	return Resolution{Document: doc, Kind: KindLocal}, nil
}

// fetchExternal materializes the highest-priority external reference.
// Failures come back as *ResolutionError.
func (r *Resolver) fetchExternal(ctx context.Context, ref Reference) (Resolution, error) {
	switch {
	case ref.ShareID != "":
		if r.objects == nil {
			return Resolution{}, &ResolutionError{Code: CodeFetchFailed, Err: errors.New("no object store configured")}
		}
		data, err := r.objects.FetchScene(ctx, ref.ShareID)
		if err != nil {
			return Resolution{}, &ResolutionError{Code: CodeFetchFailed, Err: err}
		}
		doc, err := decodeScenePayload(data)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Document: doc, Kind: KindShareID}, nil

	case ref.Inline != nil:
		if r.objects == nil {
			return Resolution{}, &ResolutionError{Code: CodeFetchFailed, Err: errors.New("no object store configured")}
		}
		key, err := seal.ParseKey(ref.Inline.Key)
		if err != nil {
			return Resolution{}, &ResolutionError{Code: CodeInvalidPayload, Err: err}
		}
		sealed, err := r.objects.FetchScene(ctx, ref.Inline.DocID)
		if err != nil {
			return Resolution{}, &ResolutionError{Code: CodeFetchFailed, Err: err}
		}
		plain, err := key.Open(sealed)
		if err != nil {
			return Resolution{}, &ResolutionError{Code: CodeInvalidPayload, Err: err}
		}
		doc, err := decodeScenePayload(plain)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Document: doc, Kind: KindInline}, nil

	case ref.URL != "":
		data, err := api.FetchExternal(ctx, r.httpc, ref.URL)
		if err != nil {
			return Resolution{}, &ResolutionError{Code: CodeFetchFailed, Err: err}
		}
		doc, err := decodeScenePayload(data)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Document: doc, Kind: KindExternalURL}, nil
	}
	return Resolution{}, &ResolutionError{Code: CodeFetchFailed, Err: errors.New("no external reference")}
}

// decodeScenePayload schema-validates untrusted bytes before decoding.
func decodeScenePayload(data []byte) (scene.Document, error) {
	if err := scene.ValidateSceneBytes(data); err != nil {
		return scene.Document{}, &ResolutionError{Code: CodeInvalidPayload, Err: err}
	}
	doc, err := scene.DecodeDocument(data)
	if err != nil {
		return scene.Document{}, &ResolutionError{Code: CodeInvalidPayload, Err: err}
	}
	return doc, nil
}
