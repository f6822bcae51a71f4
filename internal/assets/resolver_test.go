package assets

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longlee218/goclass-editor/internal/persist"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/store"
)

func newTestResolver(t *testing.T, window time.Duration) (*Resolver, *persist.Manager, *store.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock := bclock.NewMock()
	mock.Set(time.UnixMilli(1700000000000))
	mgr := persist.NewManager(db, persist.Options{Window: window, Clock: mock})
	t.Cleanup(mgr.Close)

	return NewResolver(mgr, mock), mgr, db
}

func TestResolver_Add_PendingUntilDurable(t *testing.T) {
	r, mgr, _ := newTestResolver(t, 10*time.Second)

	data := []byte("pasted-image")
	id := r.Add(data, "image/png")
	assert.Equal(t, scene.FileIDFor(data), id)

	f, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, f.Status)
	assert.Equal(t, []scene.FileID{id}, r.PendingIDs())

	require.NoError(t, mgr.Flush(context.Background()))

	f, ok = r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusSaved, f.Status)
	assert.Empty(t, r.PendingIDs())
}

func TestResolver_Resolve_StoreHit(t *testing.T) {
	r, _, db := newTestResolver(t, 10*time.Millisecond)
	ctx := context.Background()

	data := []byte("already-durable")
	id := scene.FileIDFor(data)
	_, err := db.PutFile(ctx, store.FileRecord{ID: id, MimeType: "image/jpeg", Data: data, CreatedAt: 1})
	require.NoError(t, err)

	var remoteCalls atomic.Int64
	r.SetRemote(RemoteFunc(func(ctx context.Context, id scene.FileID) ([]byte, string, error) {
		remoteCalls.Add(1)
		return nil, "", ErrNotFound
	}))

	got, err := r.Resolve(ctx, []scene.FileID{id})
	require.NoError(t, err)
	require.Contains(t, got, id)
	assert.Equal(t, StatusSaved, got[id].Status)
	assert.Equal(t, data, got[id].Data)
	assert.Equal(t, "image/jpeg", got[id].MimeType)
	assert.Zero(t, remoteCalls.Load(), "store hit must not reach the remote")
}

func TestResolver_Resolve_RemoteThenDurable(t *testing.T) {
	r, mgr, _ := newTestResolver(t, 10*time.Millisecond)
	ctx := context.Background()

	data := []byte("fetched-from-peers")
	id := scene.FileIDFor(data)
	r.SetRemote(RemoteFunc(func(ctx context.Context, want scene.FileID) ([]byte, string, error) {
		if want != id {
			return nil, "", ErrNotFound
		}
		return data, "image/png", nil
	}))

	got, err := r.Resolve(ctx, []scene.FileID{id})
	require.NoError(t, err)
	require.Contains(t, got, id)
	assert.Equal(t, data, got[id].Data)
	assert.Equal(t, StatusPending, got[id].Status, "fetched into memory is not yet durable")

	// The queued durable write confirms and flips the status.
	require.Eventually(t, func() bool {
		f, ok := r.Get(id)
		return ok && f.Status == StatusSaved
	}, 2*time.Second, 10*time.Millisecond)

	rec, found, err := mgr.GetFile(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, data, rec.Data)
}

func TestResolver_Resolve_AllSourcesExhausted(t *testing.T) {
	r, _, _ := newTestResolver(t, 10*time.Millisecond)
	ctx := context.Background()

	goodData := []byte("resolvable")
	goodID := scene.FileIDFor(goodData)
	badID := scene.FileID("deadbeef")

	r.SetRemote(RemoteFunc(func(ctx context.Context, id scene.FileID) ([]byte, string, error) {
		if id == goodID {
			return goodData, "image/png", nil
		}
		return nil, "", ErrNotFound
	}))

	got, err := r.Resolve(ctx, []scene.FileID{badID, goodID})
	require.NoError(t, err, "a per-asset failure must not fail the batch")

	assert.Equal(t, StatusErrored, got[badID].Status)
	assert.ErrorIs(t, got[badID].Err, ErrNotFound)
	assert.Equal(t, goodData, got[goodID].Data)

	assert.NotContains(t, r.PendingIDs(), badID, "errored assets do not block unload")
}

func TestResolver_Resolve_NoRemoteConfigured(t *testing.T) {
	r, _, _ := newTestResolver(t, 10*time.Millisecond)

	id := scene.FileID("0123456789abcdef")
	got, err := r.Resolve(context.Background(), []scene.FileID{id})
	require.NoError(t, err)
	assert.Equal(t, StatusErrored, got[id].Status)
	assert.ErrorIs(t, got[id].Err, ErrNotFound)
}

func TestResolver_Resolve_SingleFlightPerID(t *testing.T) {
	r, _, _ := newTestResolver(t, 10*time.Millisecond)

	data := []byte("slow-asset")
	id := scene.FileIDFor(data)

	release := make(chan struct{})
	var calls atomic.Int64
	r.SetRemote(RemoteFunc(func(ctx context.Context, id scene.FileID) ([]byte, string, error) {
		calls.Add(1)
		<-release
		return data, "image/png", nil
	}))

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]File, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), []scene.FileID{id})
			if err == nil {
				results[i] = got[id]
			}
		}(i)
	}

	// Give every goroutine time to join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "duplicate requests must join the existing attempt")
	for i := 0; i < waiters; i++ {
		assert.Equal(t, data, results[i].Data)
	}
}

func TestResolver_Resolve_CallerCancellation(t *testing.T) {
	r, _, _ := newTestResolver(t, 10*time.Millisecond)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	r.SetRemote(RemoteFunc(func(ctx context.Context, id scene.FileID) ([]byte, string, error) {
		<-block
		return nil, "", ErrNotFound
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	id := scene.FileID("feedface")
	got, err := r.Resolve(ctx, []scene.FileID{id})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, got[id].Err, context.Canceled)
	assert.Equal(t, StatusPending, got[id].Status)
}

func TestResolver_CollectGarbage(t *testing.T) {
	r, mgr, db := newTestResolver(t, 10*time.Second)
	ctx := context.Background()

	keptData := []byte("still-referenced")
	staleData := []byte("orphaned")
	keptID := r.Add(keptData, "image/png")
	staleID := r.Add(staleData, "image/png")
	require.NoError(t, mgr.Flush(ctx))

	pendingData := []byte("not-yet-durable")
	pendingID := r.Add(pendingData, "image/png")

	removed, err := r.CollectGarbage(ctx, []scene.FileID{keptID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok := r.Get(staleID)
	assert.False(t, ok, "orphaned saved asset leaves the memory cache")
	_, found, err := db.GetFile(ctx, staleID)
	require.NoError(t, err)
	assert.False(t, found, "orphaned saved asset leaves the store")

	f, ok := r.Get(keptID)
	require.True(t, ok)
	assert.Equal(t, StatusSaved, f.Status)

	f, ok = r.Get(pendingID)
	require.True(t, ok, "pending bytes exist nowhere else and must survive GC")
	assert.Equal(t, StatusPending, f.Status)
}

func TestResolver_Resolve_ErroredRetriesNextResolve(t *testing.T) {
	r, _, _ := newTestResolver(t, 10*time.Millisecond)
	ctx := context.Background()

	data := []byte("late-arrival")
	id := scene.FileIDFor(data)

	r.SetRemote(RemoteFunc(func(ctx context.Context, id scene.FileID) ([]byte, string, error) {
		return nil, "", ErrNotFound
	}))
	got, err := r.Resolve(ctx, []scene.FileID{id})
	require.NoError(t, err)
	require.Equal(t, StatusErrored, got[id].Status)

	// A later context, for example after joining a session whose peers
	// hold the file, may succeed.
	r.SetRemote(RemoteFunc(func(ctx context.Context, id scene.FileID) ([]byte, string, error) {
		return data, "image/png", nil
	}))
	got, err = r.Resolve(ctx, []scene.FileID{id})
	require.NoError(t, err)
	assert.Equal(t, data, got[id].Data)
}
