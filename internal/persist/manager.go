package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/bep/debounce"

	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/store"
)

const (
	// DefaultSceneID keys the single local scene snapshot. The store
	// supports many rows; the workspace edits one document at a time.
	DefaultSceneID = "current"

	// DefaultWindow is the debounce quiet period for background saves.
	DefaultWindow = 300 * time.Millisecond

	// DefaultFailureThreshold is how many consecutive write failures a
	// category tolerates before the status callback fires.
	DefaultFailureThreshold = 3
)

var errClosed = errors.New("persist: manager closed")

// Status reports background write health for one category. Err is nil
// when a previously failing category has recovered.
type Status struct {
	Category store.Category
	Failures int
	Err      error
}

// Options configures a Manager. The zero value is usable.
type Options struct {
	// SceneID selects the scene row; DefaultSceneID when empty.
	SceneID string
	// Window is the debounce quiet period; DefaultWindow when zero.
	Window time.Duration
	// FailureThreshold is the consecutive-failure count that triggers
	// OnStatus; DefaultFailureThreshold when zero.
	FailureThreshold int
	// Clock supplies write timestamps; the real clock when nil.
	Clock bclock.Clock
	// OnStatus observes repeated write failures and their recovery.
	// Called outside manager locks.
	OnStatus func(Status)
	// OnSaved runs after each successful background write with the new
	// marker counter. Called outside manager locks.
	OnSaved func(store.Category, int64)
}

type fileWrite struct {
	rec  store.FileRecord
	done func(error)
}

// Manager debounces durable writes and tracks the last marker counter
// it has observed per category. Saves return immediately; the actual
// write runs on a debounce timer goroutine. Flush forces everything
// pending to disk before returning.
type Manager struct {
	db   *store.Store
	clk  bclock.Clock
	opts Options

	debScene   func(func())
	debLibrary func(func())
	debFiles   func(func())

	mu         sync.Mutex
	paused     bool
	closed     bool
	sceneDirty bool
	pendingDoc scene.Document
	libDirty   bool
	pendingLib []scene.LibraryItem
	fileQueue  []fileWrite
	seen       map[store.Category]int64
	failures   map[store.Category]int
	reported   map[store.Category]bool

	// writeMu serializes durable writes so a Flush never interleaves
	// with a debounce-timer write.
	writeMu sync.Mutex
}

func NewManager(db *store.Store, opts Options) *Manager {
	if opts.SceneID == "" {
		opts.SceneID = DefaultSceneID
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Clock == nil {
		opts.Clock = bclock.New()
	}
	return &Manager{
		db:         db,
		clk:        opts.Clock,
		opts:       opts,
		debScene:   debounce.New(opts.Window),
		debLibrary: debounce.New(opts.Window),
		debFiles:   debounce.New(opts.Window),
		seen:       map[store.Category]int64{},
		failures:   map[store.Category]int{},
		reported:   map[store.Category]bool{},
	}
}

// Save queues doc for a debounced durable write. Rapid calls within the
// window collapse; the last document queued before a quiet period is
// the one persisted. The document is cloned on intake, so the caller
// may keep mutating its copy. Calls while paused or after Close are
// dropped.
func (m *Manager) Save(doc scene.Document) {
	m.mu.Lock()
	if m.paused || m.closed {
		m.mu.Unlock()
		return
	}
	m.pendingDoc = doc.Clone()
	m.sceneDirty = true
	m.mu.Unlock()
	m.debScene(m.writeScene)
}

// SaveLibrary queues the full library for a debounced durable write.
// Calls while paused or after Close are dropped.
func (m *Manager) SaveLibrary(items []scene.LibraryItem) {
	m.mu.Lock()
	if m.paused || m.closed {
		m.mu.Unlock()
		return
	}
	cloned := make([]scene.LibraryItem, len(items))
	for i, item := range items {
		cloned[i] = item.Clone()
	}
	m.pendingLib = cloned
	m.libDirty = true
	m.mu.Unlock()
	m.debLibrary(m.writeLibrary)
}

// SaveFile queues one binary asset for a durable write. done, when
// non-nil, runs once the bytes are confirmed on disk; until then the
// asset must be treated as pending. A failing write stays queued and is
// retried on the next cycle, so done is not called with transient
// errors. The paused flag does not apply to asset bytes.
func (m *Manager) SaveFile(rec store.FileRecord, done func(error)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if done != nil {
			done(errClosed)
		}
		return
	}
	m.fileQueue = append(m.fileQueue, fileWrite{rec: rec, done: done})
	m.mu.Unlock()
	m.debFiles(m.writeFiles)
}

// Flush runs every pending write to completion. This is the unload
// path: after Flush returns nil, nothing queued before the call can be
// lost. Write failures are returned joined and the failed state stays
// queued for retry.
func (m *Manager) Flush(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return errors.Join(
		m.flushScene(ctx),
		m.flushLibrary(ctx),
		m.drainFiles(ctx),
	)
}

// SetPaused toggles suppression of Save and SaveLibrary. A bulk import
// pauses saves so half-imported documents never reach disk; queued
// state from before the pause still flushes normally.
func (m *Manager) SetPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
}

// Paused reports whether change-driven saves are currently suppressed.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Close stops background writes. It does not flush; the unload path
// calls Flush first, then Close.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// LoadScene reads the persisted document and notes the current scene
// marker as seen, so the next freshness probe reacts only to writes
// that happen after this load. The marker is read before the row; at
// worst that causes a redundant reload later, never a missed one.
func (m *Manager) LoadScene(ctx context.Context) (scene.Document, bool, error) {
	if err := m.adoptMarker(ctx, store.CategoryScene); err != nil {
		return scene.Document{}, false, err
	}
	return m.db.LoadScene(ctx, m.opts.SceneID)
}

// LoadLibrary reads the persisted library items and notes the library
// marker as seen.
func (m *Manager) LoadLibrary(ctx context.Context) ([]scene.LibraryItem, error) {
	if err := m.adoptMarker(ctx, store.CategoryLibrary); err != nil {
		return nil, err
	}
	return m.db.LoadLibrary(ctx)
}

// GetFile reads one stored asset.
func (m *Manager) GetFile(ctx context.Context, id scene.FileID) (store.FileRecord, bool, error) {
	return m.db.GetFile(ctx, id)
}

// TouchFile records that an asset was served from storage, feeding the
// retention policy without moving the files marker.
func (m *Manager) TouchFile(ctx context.Context, id scene.FileID) error {
	return m.db.TouchFile(ctx, id, m.clk.Now().UnixMilli())
}

// CollectGarbage removes stored assets not referenced by keep and
// adopts the resulting files marker, so this tab does not treat its own
// cleanup as another tab's write.
func (m *Manager) CollectGarbage(ctx context.Context, keep []scene.FileID) (int64, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	removed, err := m.db.DeleteFilesExcept(ctx, keep, m.clk.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := m.adoptMarker(ctx, store.CategoryFiles); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (m *Manager) writeScene() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.flushScene(context.Background())
}

func (m *Manager) writeLibrary() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.flushLibrary(context.Background())
}

func (m *Manager) writeFiles() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.drainFiles(context.Background())
}

// flushScene writes the pending document, if any. Caller holds writeMu.
func (m *Manager) flushScene(ctx context.Context) error {
	m.mu.Lock()
	if !m.sceneDirty || m.closed {
		m.mu.Unlock()
		return nil
	}
	doc := m.pendingDoc
	m.sceneDirty = false
	m.mu.Unlock()

	marker, err := m.db.SaveScene(ctx, m.opts.SceneID, doc, m.clk.Now().UnixMilli())
	if err != nil {
		m.requeueScene(doc)
		m.recordFailure(store.CategoryScene, err)
		return fmt.Errorf("persist scene: %w", err)
	}
	m.recordSuccess(store.CategoryScene, marker)
	return nil
}

// flushLibrary writes the pending library, if any. Caller holds writeMu.
func (m *Manager) flushLibrary(ctx context.Context) error {
	m.mu.Lock()
	if !m.libDirty || m.closed {
		m.mu.Unlock()
		return nil
	}
	items := m.pendingLib
	m.libDirty = false
	m.mu.Unlock()

	marker, err := m.db.SaveLibrary(ctx, items, m.clk.Now().UnixMilli())
	if err != nil {
		m.requeueLibrary(items)
		m.recordFailure(store.CategoryLibrary, err)
		return fmt.Errorf("persist library: %w", err)
	}
	m.recordSuccess(store.CategoryLibrary, marker)
	return nil
}

// drainFiles writes queued assets in order, stopping at the first
// failure so the failed write stays at the head for the next cycle.
// Caller holds writeMu.
func (m *Manager) drainFiles(ctx context.Context) error {
	wrote := false
	for {
		m.mu.Lock()
		if m.closed || len(m.fileQueue) == 0 {
			m.mu.Unlock()
			break
		}
		w := m.fileQueue[0]
		m.fileQueue = append([]fileWrite(nil), m.fileQueue[1:]...)
		m.mu.Unlock()

		if _, err := m.db.PutFile(ctx, w.rec); err != nil {
			m.mu.Lock()
			m.fileQueue = append([]fileWrite{w}, m.fileQueue...)
			closed := m.closed
			m.mu.Unlock()
			m.recordFailure(store.CategoryFiles, err)
			if !closed {
				m.debFiles(m.writeFiles)
			}
			return fmt.Errorf("persist file %s: %w", w.rec.ID, err)
		}
		wrote = true
		if w.done != nil {
			w.done(nil)
		}
	}
	if !wrote {
		return nil
	}

	// PutFile reports inserted-or-not rather than a counter, so read
	// the marker once per drained batch.
	mk, ok, err := m.db.MarkerFor(ctx, store.CategoryFiles)
	if err != nil {
		return fmt.Errorf("persist files: %w", err)
	}
	if ok {
		m.recordSuccess(store.CategoryFiles, mk.Counter)
	}
	return nil
}

// requeueScene restores doc as pending after a failed write unless a
// newer document arrived meanwhile, and arms a retry cycle.
func (m *Manager) requeueScene(doc scene.Document) {
	m.mu.Lock()
	if !m.sceneDirty && !m.closed {
		m.pendingDoc = doc
		m.sceneDirty = true
	}
	closed := m.closed
	m.mu.Unlock()
	if !closed {
		m.debScene(m.writeScene)
	}
}

func (m *Manager) requeueLibrary(items []scene.LibraryItem) {
	m.mu.Lock()
	if !m.libDirty && !m.closed {
		m.pendingLib = items
		m.libDirty = true
	}
	closed := m.closed
	m.mu.Unlock()
	if !closed {
		m.debLibrary(m.writeLibrary)
	}
}

func (m *Manager) adoptMarker(ctx context.Context, category store.Category) error {
	mk, ok, err := m.db.MarkerFor(ctx, category)
	if err != nil {
		return err
	}
	if ok {
		m.noteSeen(category, mk.Counter)
	}
	return nil
}

func (m *Manager) noteSeen(category store.Category, counter int64) {
	m.mu.Lock()
	if counter > m.seen[category] {
		m.seen[category] = counter
	}
	m.mu.Unlock()
}

func (m *Manager) recordFailure(category store.Category, err error) {
	m.mu.Lock()
	m.failures[category]++
	n := m.failures[category]
	report := n >= m.opts.FailureThreshold
	if report {
		m.reported[category] = true
	}
	cb := m.opts.OnStatus
	m.mu.Unlock()
	if report && cb != nil {
		cb(Status{Category: category, Failures: n, Err: err})
	}
}

func (m *Manager) recordSuccess(category store.Category, marker int64) {
	m.mu.Lock()
	m.failures[category] = 0
	wasReported := m.reported[category]
	m.reported[category] = false
	if marker > m.seen[category] {
		m.seen[category] = marker
	}
	onStatus := m.opts.OnStatus
	onSaved := m.opts.OnSaved
	m.mu.Unlock()
	if wasReported && onStatus != nil {
		onStatus(Status{Category: category})
	}
	if onSaved != nil {
		onSaved(category, marker)
	}
}
