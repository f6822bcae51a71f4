package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/longlee218/goclass-editor/internal/collab"
)

const (
	// maxBody bounds one sealed payload, over HTTP or the socket.
	maxBody = 16 << 20

	// DefaultSnapshotTTL keeps a room's sealed scene around long enough
	// for a class to reconvene the next day.
	DefaultSnapshotTTL = 24 * time.Hour
)

// Options wire a Server. A nil Redis client selects the in-memory
// single-instance backing.
type Options struct {
	Redis       *redis.Client
	SnapshotTTL time.Duration
	Logger      *slog.Logger
}

// room is one live board: a hub for the local connections plus, with
// Redis, a subscription that delivers what other instances publish.
type room struct {
	id     string
	hub    *hub
	pubsub *redis.PubSub

	// refs counts local connections; guarded by the server mutex.
	refs int

	closeOnce sync.Once
}

func (rm *room) close() {
	rm.closeOnce.Do(func() {
		if rm.pubsub != nil {
			rm.pubsub.Close()
		}
		rm.hub.stop()
	})
}

// Server is the room relay. It fans sealed scene payloads and presence
// between the connections of a room and keeps a sealed snapshot so a
// peer joining an empty room still gets the last known scene. It never
// holds a room key and cannot read what it relays.
type Server struct {
	store    roomStore
	rdb      *redis.Client
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   *mux.Router

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

func NewServer(opts Options) *Server {
	ttl := opts.SnapshotTTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var store roomStore
	if opts.Redis != nil {
		store = newRedisStore(opts.Redis, ttl)
	} else {
		store = newMemoryStore(ttl)
	}
	s := &Server{
		store:  store,
		rdb:    opts.Redis,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/scene", s.handleGetScene).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/scene", s.handlePutScene).Methods(http.MethodPut)
	r.HandleFunc("/rooms/{roomID}/files/{fileID}", s.handleGetFile).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/files/{fileID}", s.handlePutFile).Methods(http.MethodPut)
	r.HandleFunc("/rooms/{roomID}/ws", s.serveWS)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close tears down every room and rejects further connections. Existing
// sockets are closed; their pumps unwind on their own.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rooms := make([]*room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	clear(s.rooms)
	s.mu.Unlock()
	for _, rm := range rooms {
		rm.close()
	}
}

func (s *Server) acquireRoom(id string) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	rm, ok := s.rooms[id]
	if !ok {
		rm = s.newRoom(id)
		s.rooms[id] = rm
	}
	rm.refs++
	return rm, true
}

func (s *Server) releaseRoom(rm *room) {
	s.mu.Lock()
	rm.refs--
	last := rm.refs == 0
	if last && s.rooms[rm.id] == rm {
		delete(s.rooms, rm.id)
	}
	s.mu.Unlock()
	if last {
		rm.close()
	}
}

func (s *Server) newRoom(id string) *room {
	rm := &room{id: id, hub: newHub()}
	go rm.hub.run()
	if s.rdb != nil {
		rm.pubsub = s.rdb.Subscribe(context.Background(), channelKey(id))
		go func(pubsub *redis.PubSub, h *hub) {
			for msg := range pubsub.Channel() {
				h.cast(outbound{data: []byte(msg.Payload)})
			}
		}(rm.pubsub, rm.hub)
	}
	return rm
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	rm, ok := s.acquireRoom(roomID)
	if !ok {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.releaseRoom(rm)
		s.logger.Warn("websocket upgrade failed", "room", roomID, "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueue)}
	rm.hub.add(c)
	go c.writePump()
	go s.readPump(rm, c)
	s.logger.Info("peer connected", "room", roomID)
}

func (s *Server) readPump(rm *room, c *client) {
	defer func() {
		rm.hub.remove(c)
		c.conn.Close()
		if c.userID != "" {
			ctx := context.Background()
			if err := s.store.RemoveMember(ctx, rm.id, c.userID); err != nil {
				s.logger.Warn("roster remove failed", "room", rm.id, "err", err)
			}
			s.broadcastPresence(rm)
			s.logger.Info("peer left", "room", rm.id, "user", c.userID)
		}
		s.releaseRoom(rm)
	}()

	c.conn.SetReadLimit(maxBody)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		s.store.Touch(context.Background(), rm.id)
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		s.handleMessage(rm, c, message)
	}
}

func (s *Server) handleMessage(rm *room, c *client, message []byte) {
	ctx := context.Background()
	var env collab.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Warn("dropping malformed message", "room", rm.id, "err", err)
		return
	}
	switch env.Type {
	case collab.TypeHello:
		if env.Peer == nil || env.Peer.UserID == "" {
			return
		}
		c.userID = env.Peer.UserID
		if err := s.store.AddMember(ctx, rm.id, *env.Peer); err != nil {
			s.logger.Warn("roster add failed", "room", rm.id, "err", err)
		}
		s.broadcastPresence(rm)
		s.logger.Info("peer joined", "room", rm.id, "user", c.userID)
	case collab.TypeSceneUpdate:
		if len(env.Sealed) > 0 {
			if err := s.store.SaveSnapshot(ctx, rm.id, env.Sealed); err != nil {
				s.logger.Warn("snapshot save failed", "room", rm.id, "err", err)
			}
		}
		s.forward(rm, c, message)
	case collab.TypeSceneRequest:
		s.answerIfAlone(rm, c)
		s.forward(rm, c, message)
	default:
		// Unknown types pass through untouched so newer clients can
		// extend the protocol across an older relay.
		s.forward(rm, c, message)
	}
}

// forward fans a message out to the room. With Redis the message goes
// through pub/sub and comes back via every instance's subscription,
// this one included; clients discard their own sender id.
func (s *Server) forward(rm *room, from *client, data []byte) {
	if s.rdb != nil {
		if err := s.rdb.Publish(context.Background(), channelKey(rm.id), data).Err(); err != nil {
			s.logger.Warn("publish failed, delivering locally", "room", rm.id, "err", err)
			rm.hub.cast(outbound{from: from, data: data})
		}
		return
	}
	rm.hub.cast(outbound{from: from, data: data})
}

func (s *Server) broadcastPresence(rm *room) {
	peers, err := s.store.Members(context.Background(), rm.id)
	if err != nil {
		s.logger.Warn("roster read failed", "room", rm.id, "err", err)
		return
	}
	slices.SortFunc(peers, func(a, b collab.Peer) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	data, err := json.Marshal(collab.Envelope{Type: collab.TypePresence, Peers: peers})
	if err != nil {
		return
	}
	s.forward(rm, nil, data)
}

// answerIfAlone serves the cached sealed snapshot to a requester whose
// room has no other members, the late-joiner path. With peers present
// the peers answer instead.
func (s *Server) answerIfAlone(rm *room, c *client) {
	ctx := context.Background()
	peers, err := s.store.Members(ctx, rm.id)
	if err != nil {
		return
	}
	for _, p := range peers {
		if p.UserID != c.userID {
			return
		}
	}
	sealed, ok, err := s.store.Snapshot(ctx, rm.id)
	if err != nil || !ok {
		return
	}
	data, err := json.Marshal(collab.Envelope{Type: collab.TypeSceneUpdate, Sealed: sealed})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	sealed, ok, err := s.store.Snapshot(r.Context(), roomID)
	if err != nil {
		s.logger.Error("snapshot read failed", "room", roomID, "err", err)
		http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(sealed)
}

func (s *Server) handlePutScene(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	sealed, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveSnapshot(r.Context(), roomID, sealed); err != nil {
		s.logger.Error("snapshot save failed", "room", roomID, "err", err)
		http.Error(w, "snapshot not saved", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sealed, ok, err := s.store.File(r.Context(), vars["roomID"], vars["fileID"])
	if err != nil {
		s.logger.Error("file read failed", "room", vars["roomID"], "file", vars["fileID"], "err", err)
		http.Error(w, "file unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(sealed)
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sealed, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveFile(r.Context(), vars["roomID"], vars["fileID"], sealed); err != nil {
		s.logger.Error("file save failed", "room", vars["roomID"], "file", vars["fileID"], "err", err)
		http.Error(w, "file not saved", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
