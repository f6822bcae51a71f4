package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/longlee218/goclass-editor/internal/collab"
)

// roomTTL bounds how long an idle or abandoned room's roster survives.
// Client heartbeats refresh it, so only dead rooms expire.
const roomTTL = 10 * time.Minute

func snapshotKey(roomID string) string {
	return "goclass:room:" + roomID + ":snapshot"
}

func fileKey(roomID, fileID string) string {
	return "goclass:room:" + roomID + ":file:" + fileID
}

func membersKey(roomID string) string {
	return "goclass:room:" + roomID + ":members"
}

func channelKey(roomID string) string {
	return "goclass:room:" + roomID
}

// redisStore backs rooms with Redis so several relay instances can
// serve one room: roster in a hash, sealed snapshot and files in keys
// with a TTL. Fanout across instances goes over pub/sub, handled by the
// server's room subscription rather than here.
type redisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func newRedisStore(rdb *redis.Client, ttl time.Duration) *redisStore {
	return &redisStore{rdb: rdb, ttl: ttl}
}

func (s *redisStore) SaveSnapshot(ctx context.Context, roomID string, sealed []byte) error {
	return s.rdb.Set(ctx, snapshotKey(roomID), sealed, s.ttl).Err()
}

func (s *redisStore) Snapshot(ctx context.Context, roomID string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *redisStore) SaveFile(ctx context.Context, roomID, fileID string, sealed []byte) error {
	return s.rdb.Set(ctx, fileKey(roomID, fileID), sealed, s.ttl).Err()
}

func (s *redisStore) File(ctx context.Context, roomID, fileID string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, fileKey(roomID, fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *redisStore) AddMember(ctx context.Context, roomID string, peer collab.Peer) error {
	data, err := json.Marshal(peer)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, membersKey(roomID), peer.UserID, data).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, membersKey(roomID), roomTTL).Err()
}

func (s *redisStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	return s.rdb.HDel(ctx, membersKey(roomID), userID).Err()
}

func (s *redisStore) Members(ctx context.Context, roomID string) ([]collab.Peer, error) {
	entries, err := s.rdb.HGetAll(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	peers := make([]collab.Peer, 0, len(entries))
	for _, raw := range entries {
		var p collab.Peer
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		peers = append(peers, p)
	}
	return peers, nil
}

func (s *redisStore) Touch(ctx context.Context, roomID string) error {
	return s.rdb.Expire(ctx, membersKey(roomID), roomTTL).Err()
}
