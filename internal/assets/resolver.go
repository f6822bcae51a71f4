package assets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	bclock "github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/store"
)

// ErrNotFound reports that a remote source does not hold the asset.
var ErrNotFound = errors.New("asset not found")

// Status is the lifecycle state of one asset on this replica.
type Status int

const (
	// StatusPending: bytes may be in memory but are not yet confirmed
	// durable here. Pending assets block unload.
	StatusPending Status = iota
	// StatusSaved: bytes are durably stored locally.
	StatusSaved
	// StatusErrored: every resolution source was exhausted. Errored
	// assets do not block unload; the referencing element stays.
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSaved:
		return "saved"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// File is one resolved asset as seen by the editing surface.
type File struct {
	ID       scene.FileID
	MimeType string
	Data     []byte
	Status   Status
	// Err holds the final resolution failure for errored assets.
	Err error
}

// Storage is the durable side of the chain. *persist.Manager satisfies
// it; tests substitute their own.
type Storage interface {
	GetFile(ctx context.Context, id scene.FileID) (store.FileRecord, bool, error)
	SaveFile(rec store.FileRecord, done func(error))
	TouchFile(ctx context.Context, id scene.FileID) error
	CollectGarbage(ctx context.Context, keep []scene.FileID) (int64, error)
}

// Remote fetches one asset from outside this replica. Implementations
// return ErrNotFound when the source answered but does not hold the id.
type Remote interface {
	FetchFile(ctx context.Context, id scene.FileID) (data []byte, mimeType string, err error)
}

// RemoteFunc adapts a function to the Remote interface.
type RemoteFunc func(ctx context.Context, id scene.FileID) ([]byte, string, error)

func (f RemoteFunc) FetchFile(ctx context.Context, id scene.FileID) ([]byte, string, error) {
	return f(ctx, id)
}

type cached struct {
	mimeType string
	data     []byte
	status   Status
	err      error
}

// Resolver runs the source chain with at-most-once in flight per id.
// A second request for an id already being resolved joins the existing
// attempt instead of duplicating work.
type Resolver struct {
	storage Storage
	clk     bclock.Clock

	mu     sync.Mutex
	remote Remote
	cache  map[scene.FileID]*cached

	flight singleflight.Group
}

func NewResolver(storage Storage, clk bclock.Clock) *Resolver {
	if clk == nil {
		clk = bclock.New()
	}
	return &Resolver{
		storage: storage,
		clk:     clk,
		cache:   map[scene.FileID]*cached{},
	}
}

// SetRemote swaps the context-appropriate remote source. nil means no
// remote; the chain then ends at the durable store. Swapping does not
// affect lookups already in flight.
func (r *Resolver) SetRemote(remote Remote) {
	r.mu.Lock()
	r.remote = remote
	r.mu.Unlock()
}

// Add registers bytes produced locally, for example a pasted image.
// The asset starts pending and is queued for a durable write; it
// becomes saved when the write is confirmed. The returned id is derived
// from the content, so adding identical bytes twice is harmless.
func (r *Resolver) Add(data []byte, mimeType string) scene.FileID {
	id := scene.FileIDFor(data)

	r.mu.Lock()
	if c, ok := r.cache[id]; ok && c.status == StatusSaved {
		r.mu.Unlock()
		return id
	}
	r.cache[id] = &cached{mimeType: mimeType, data: data, status: StatusPending}
	r.mu.Unlock()

	now := r.clk.Now().UnixMilli()
	r.storage.SaveFile(store.FileRecord{
		ID:              id,
		MimeType:        mimeType,
		Data:            data,
		CreatedAt:       now,
		LastRetrievedAt: now,
	}, func(err error) {
		if err == nil {
			r.markSaved(id)
		}
	})
	return id
}

// Resolve resolves each id through the source chain, concurrently
// across ids. The returned map has an entry per requested id; per-id
// failures are carried in File.Status and File.Err, never abort the
// batch. The error is non-nil only when ctx ended first.
func (r *Resolver) Resolve(ctx context.Context, ids []scene.FileID) (map[scene.FileID]File, error) {
	out := make(map[scene.FileID]File, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var (
		wg    sync.WaitGroup
		outMu sync.Mutex
	)
	seen := make(map[scene.FileID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		wg.Add(1)
		go func(id scene.FileID) {
			defer wg.Done()
			f := r.resolveOne(ctx, id)
			outMu.Lock()
			out[id] = f
			outMu.Unlock()
		}(id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Get returns the asset from memory, if present.
func (r *Resolver) Get(id scene.FileID) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[id]
	if !ok {
		return File{}, false
	}
	return File{ID: id, MimeType: c.mimeType, Data: c.data, Status: c.status, Err: c.err}, true
}

// PendingIDs lists assets whose bytes are not yet confirmed durable,
// sorted for determinism. The unload guard blocks while this is
// non-empty; errored assets are deliberately excluded.
func (r *Resolver) PendingIDs() []scene.FileID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []scene.FileID
	for id, c := range r.cache {
		if c.status == StatusPending {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// CollectGarbage drops cached and stored assets not referenced by the
// current document. Pending entries are kept regardless: their bytes
// exist nowhere else yet. Callers run this on fresh loads only, not on
// location-change reloads.
func (r *Resolver) CollectGarbage(ctx context.Context, referenced []scene.FileID) (int64, error) {
	keep := make(map[scene.FileID]bool, len(referenced))
	for _, id := range referenced {
		keep[id] = true
	}

	r.mu.Lock()
	for id, c := range r.cache {
		if !keep[id] && c.status != StatusPending {
			delete(r.cache, id)
		}
	}
	r.mu.Unlock()

	return r.storage.CollectGarbage(ctx, referenced)
}

func (r *Resolver) resolveOne(ctx context.Context, id scene.FileID) File {
	// Memory first; no flight needed for a warm hit.
	if f, ok := r.Get(id); ok && f.Status != StatusErrored {
		return f
	}

	// Joiners share one lookup per id. The lookup runs detached from
	// any single caller's ctx so one canceled joiner does not kill the
	// fetch for the rest.
	ch := r.flight.DoChan(string(id), func() (any, error) {
		return r.lookup(context.WithoutCancel(ctx), id), nil
	})
	select {
	case res := <-ch:
		return res.Val.(File)
	case <-ctx.Done():
		return File{ID: id, Status: StatusPending, Err: ctx.Err()}
	}
}

// lookup runs the store and remote stages and records the outcome in
// the memory cache.
func (r *Resolver) lookup(ctx context.Context, id scene.FileID) File {
	rec, found, err := r.storage.GetFile(ctx, id)
	if err == nil && found {
		// Durable already. The touch feeds retention only, so its
		// failure does not matter here.
		_ = r.storage.TouchFile(ctx, id)
		return r.store(id, cached{mimeType: rec.MimeType, data: rec.Data, status: StatusSaved})
	}
	storeErr := err

	r.mu.Lock()
	remote := r.remote
	r.mu.Unlock()

	if remote == nil {
		return r.store(id, cached{
			status: StatusErrored,
			err:    fmt.Errorf("resolve asset %s: no remote source: %w", id, errors.Join(storeErr, ErrNotFound)),
		})
	}

	data, mimeType, err := remote.FetchFile(ctx, id)
	if err != nil {
		return r.store(id, cached{
			status: StatusErrored,
			err:    fmt.Errorf("resolve asset %s: %w", id, errors.Join(storeErr, err)),
		})
	}

	// Fetched into memory only; durability decides saved.
	f := r.store(id, cached{mimeType: mimeType, data: data, status: StatusPending})
	now := r.clk.Now().UnixMilli()
	r.storage.SaveFile(store.FileRecord{
		ID:              id,
		MimeType:        mimeType,
		Data:            data,
		CreatedAt:       now,
		LastRetrievedAt: now,
	}, func(err error) {
		if err == nil {
			r.markSaved(id)
		}
	})
	return f
}

func (r *Resolver) store(id scene.FileID, c cached) File {
	r.mu.Lock()
	r.cache[id] = &c
	r.mu.Unlock()
	return File{ID: id, MimeType: c.mimeType, Data: c.data, Status: c.status, Err: c.err}
}

func (r *Resolver) markSaved(id scene.FileID) {
	r.mu.Lock()
	if c, ok := r.cache[id]; ok {
		c.status = StatusSaved
		c.err = nil
	}
	r.mu.Unlock()
}
