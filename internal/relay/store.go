package relay

import (
	"context"
	"sync"
	"time"

	"github.com/longlee218/goclass-editor/internal/collab"
)

// roomStore keeps sealed room state and the roster. Everything in it is
// opaque ciphertext except peer identities; the relay cannot read scene
// content because the room key never reaches it.
type roomStore interface {
	SaveSnapshot(ctx context.Context, roomID string, sealed []byte) error
	Snapshot(ctx context.Context, roomID string) ([]byte, bool, error)
	SaveFile(ctx context.Context, roomID, fileID string, sealed []byte) error
	File(ctx context.Context, roomID, fileID string) ([]byte, bool, error)
	AddMember(ctx context.Context, roomID string, peer collab.Peer) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	Members(ctx context.Context, roomID string) ([]collab.Peer, error)

	// Touch extends the room's lifetime; called on client heartbeats.
	Touch(ctx context.Context, roomID string) error
}

type memoryBlob struct {
	data    []byte
	expires time.Time
}

func (b memoryBlob) expired(now time.Time) bool {
	return !b.expires.IsZero() && now.After(b.expires)
}

// memoryStore is the single-instance backing used when no Redis is
// configured. Blobs expire lazily on read.
type memoryStore struct {
	ttl time.Duration

	mu        sync.Mutex
	snapshots map[string]memoryBlob
	files     map[string]memoryBlob
	members   map[string]map[string]collab.Peer
}

func newMemoryStore(ttl time.Duration) *memoryStore {
	return &memoryStore{
		ttl:       ttl,
		snapshots: make(map[string]memoryBlob),
		files:     make(map[string]memoryBlob),
		members:   make(map[string]map[string]collab.Peer),
	}
}

func (s *memoryStore) blob(data []byte) memoryBlob {
	b := memoryBlob{data: data}
	if s.ttl > 0 {
		b.expires = time.Now().Add(s.ttl)
	}
	return b
}

func (s *memoryStore) SaveSnapshot(ctx context.Context, roomID string, sealed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[roomID] = s.blob(sealed)
	return nil
}

func (s *memoryStore) Snapshot(ctx context.Context, roomID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.snapshots[roomID]
	if !ok {
		return nil, false, nil
	}
	if b.expired(time.Now()) {
		delete(s.snapshots, roomID)
		return nil, false, nil
	}
	return b.data, true, nil
}

func (s *memoryStore) SaveFile(ctx context.Context, roomID, fileID string, sealed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[roomID+"/"+fileID] = s.blob(sealed)
	return nil
}

func (s *memoryStore) File(ctx context.Context, roomID, fileID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomID + "/" + fileID
	b, ok := s.files[key]
	if !ok {
		return nil, false, nil
	}
	if b.expired(time.Now()) {
		delete(s.files, key)
		return nil, false, nil
	}
	return b.data, true, nil
}

func (s *memoryStore) AddMember(ctx context.Context, roomID string, peer collab.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.members[roomID]
	if !ok {
		room = make(map[string]collab.Peer)
		s.members[roomID] = room
	}
	room[peer.UserID] = peer
	return nil
}

func (s *memoryStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.members[roomID]
	if !ok {
		return nil
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(s.members, roomID)
	}
	return nil
}

func (s *memoryStore) Members(ctx context.Context, roomID string) ([]collab.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.members[roomID]
	peers := make([]collab.Peer, 0, len(room))
	for _, p := range room {
		peers = append(peers, p)
	}
	return peers, nil
}

func (s *memoryStore) Touch(ctx context.Context, roomID string) error {
	return nil
}
