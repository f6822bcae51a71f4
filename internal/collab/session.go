package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/longlee218/goclass-editor/internal/api"
	"github.com/longlee218/goclass-editor/internal/reconcile"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/seal"
)

const (
	sendBuffer = 16

	// maxMessageSize bounds one inbound frame. Sealed scenes run to a
	// few megabytes at most on real boards.
	maxMessageSize = 16 << 20
)

// State is the session lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	}
	return "unknown"
}

// ErrClosed reports an operation on a session after Close.
var ErrClosed = errors.New("collab: session closed")

var (
	errAlreadyConnected = errors.New("already connected")
	errNotConnected     = errors.New("not connected")
	errConnectionLost   = errors.New("connection lost")
	errNoRoom           = errors.New("no room configured")
)

// SessionError wraps a failure of one session operation. The session is
// Disconnected afterwards; local editing is unaffected and the caller
// decides whether to Reconnect.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return "collab " + e.Op + ": " + e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Room carries the link parameters a session is bound to. UserID may be
// empty; the session then generates one.
type Room struct {
	ID        string
	Key       seal.Key
	SessionID string
	UserID    string
}

// Settings tune the transport. Zero fields take defaults; a negative
// FullSyncInterval disables the periodic full sync.
type Settings struct {
	ServerURL           string
	BroadcastInterval   time.Duration
	FullSyncInterval    time.Duration
	InitialSyncTimeout  time.Duration
	DialTimeout         time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	PingInterval        time.Duration
	ReconnectMaxElapsed time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ServerURL:           "ws://localhost:8787",
		BroadcastInterval:   200 * time.Millisecond,
		FullSyncInterval:    20 * time.Second,
		InitialSyncTimeout:  2 * time.Second,
		DialTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReadTimeout:         30 * time.Second,
		PingInterval:        20 * time.Second,
		ReconnectMaxElapsed: 30 * time.Second,
	}
}

// Handlers receive session callbacks. All of them run on session
// goroutines: OnRemote in inbound arrival order, the rest wherever the
// transition happens. Blocking inside a handler stalls the session.
type Handlers struct {
	// OnRemote delivers decoded peer elements for merging.
	OnRemote func(elements []scene.Element)

	// OnState reports lifecycle transitions. err is non-nil only when
	// a failure forced the transition to StateDisconnected.
	OnState func(state State, err error)

	// OnPeers delivers the room roster, self excluded.
	OnPeers func(peers []Peer)

	// OnAssist delivers a peer's request for attention.
	OnAssist func(from Peer)

	// CurrentScene supplies the local elements when a peer asks for
	// the scene and on the periodic full sync. Must be safe to call
	// from session goroutines.
	CurrentScene func() []scene.Element
}

// Options wire a Session.
type Options struct {
	Settings   Settings
	Room       Room
	Name       string
	Handlers   Handlers
	Clock      bclock.Clock
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Session is one client of a collaboration room. It dials the relay,
// announces itself, requests the room scene on join, broadcasts local
// edits at a bounded rate with intermediate states coalesced, and hands
// every inbound update to OnRemote in arrival order. All scene payloads
// are sealed with the room key before they leave the process.
type Session struct {
	settings  Settings
	roomID    string
	sessionID string
	self      Peer
	codec     codec
	handlers  Handlers
	clk       bclock.Clock
	httpc     *http.Client
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu         sync.Mutex
	state      State
	closed     bool
	conn       *websocket.Conn
	connCtx    context.Context
	connStop   context.CancelFunc
	send       chan []byte
	firstScene chan []scene.Element
	pending    []scene.Element
	dirty      bool
	peers      []Peer

	// kick wakes the broadcast loop; buffered so queueing never blocks
	// an editing path.
	kick chan struct{}
}

func NewSession(opts Options) *Session {
	settings := opts.Settings
	def := DefaultSettings()
	if settings.ServerURL == "" {
		settings.ServerURL = def.ServerURL
	}
	if settings.BroadcastInterval <= 0 {
		settings.BroadcastInterval = def.BroadcastInterval
	}
	if settings.FullSyncInterval == 0 {
		settings.FullSyncInterval = def.FullSyncInterval
	}
	if settings.InitialSyncTimeout <= 0 {
		settings.InitialSyncTimeout = def.InitialSyncTimeout
	}
	if settings.DialTimeout <= 0 {
		settings.DialTimeout = def.DialTimeout
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = def.WriteTimeout
	}
	if settings.ReadTimeout <= 0 {
		settings.ReadTimeout = def.ReadTimeout
	}
	if settings.PingInterval <= 0 {
		settings.PingInterval = def.PingInterval
	}
	if settings.ReconnectMaxElapsed <= 0 {
		settings.ReconnectMaxElapsed = def.ReconnectMaxElapsed
	}
	clk := opts.Clock
	if clk == nil {
		clk = bclock.New()
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = api.NewHTTPClient(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userID := opts.Room.UserID
	if userID == "" {
		userID = ulid.Make().String()
	}
	return &Session{
		settings:  settings,
		roomID:    opts.Room.ID,
		sessionID: opts.Room.SessionID,
		self:      Peer{UserID: userID, Name: opts.Name},
		codec:     codec{key: opts.Room.Key},
		handlers:  opts.Handlers,
		clk:       clk,
		httpc:     httpc,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(settings.BroadcastInterval), 1),
		kick:      make(chan struct{}, 1),
	}
}

// UserID is this participant's identity in the room.
func (s *Session) UserID() string {
	return s.self.UserID
}

// SessionID is the classroom session the room belongs to, if any.
func (s *Session) SessionID() string {
	return s.sessionID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peers is the current roster, self excluded.
func (s *Session) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.peers)
}

// Join connects, requests the room scene and reconciles it against
// current. A room with no peers and no snapshot yields current back
// after a short wait; an update arriving later merges through OnRemote
// the same way. One attempt only; retry policy belongs to Reconnect.
func (s *Session) Join(ctx context.Context, current scene.Document) (scene.Document, error) {
	return s.connect(ctx, current)
}

// Reconnect re-joins with exponential backoff, giving up after the
// configured maximum elapsed time. Never called implicitly; a dropped
// session stays Disconnected until the caller asks for it back.
func (s *Session) Reconnect(ctx context.Context, current scene.Document) (scene.Document, error) {
	var doc scene.Document
	op := func() error {
		d, err := s.connect(ctx, current)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		doc = d
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.settings.ReconnectMaxElapsed
	if b.InitialInterval > b.MaxElapsedTime/4 {
		b.InitialInterval = b.MaxElapsedTime / 4
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return scene.Document{}, err
	}
	return doc, nil
}

// Leave disconnects without touching local state.
func (s *Session) Leave() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.drop(conn, "", nil)
}

// Close leaves and makes the session unusable for further joins.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Leave()
}

// QueueBroadcast schedules the given elements as the next outbound
// scene update. Calls during one rate window collapse to the latest
// state; the tail of any edit burst is always delivered. Dropped
// silently unless joined, since local editing never depends on the
// session.
func (s *Session) QueueBroadcast(elements []scene.Element) {
	s.mu.Lock()
	if s.state != StateJoined {
		s.mu.Unlock()
		return
	}
	s.pending = cloneElements(elements)
	s.dirty = true
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RequestAssistance raises the assistance signal to the room.
func (s *Session) RequestAssistance() error {
	s.mu.Lock()
	send := s.send
	ctx := s.connCtx
	s.mu.Unlock()
	if send == nil {
		return &SessionError{Op: "assist", Err: errNotConnected}
	}
	return pushEnvelope(ctx, send, Envelope{Type: TypeAssist, SenderID: s.self.UserID, Peer: &s.self})
}

func (s *Session) connect(ctx context.Context, current scene.Document) (scene.Document, error) {
	if s.roomID == "" {
		return scene.Document{}, &SessionError{Op: "join", Err: errNoRoom}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return scene.Document{}, ErrClosed
	}
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return scene.Document{}, &SessionError{Op: "join", Err: errAlreadyConnected}
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateConnecting, nil)

	addr, err := s.endpoint(true, "ws")
	if err != nil {
		return scene.Document{}, s.connectFailed("join", err)
	}
	dialer := &websocket.Dialer{HandshakeTimeout: s.settings.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return scene.Document{}, s.connectFailed("dial", err)
	}

	connCtx, stop := context.WithCancel(context.Background())
	send := make(chan []byte, sendBuffer)
	first := make(chan []scene.Element, 1)

	s.mu.Lock()
	s.conn = conn
	s.connCtx = connCtx
	s.connStop = stop
	s.send = send
	s.firstScene = first
	s.pending = nil
	s.dirty = false
	s.mu.Unlock()

	go s.writePump(connCtx, conn, send)
	go s.readPump(connCtx, conn)
	go s.broadcastLoop(connCtx, conn, send)
	go s.fullSyncLoop(connCtx)

	hello := Envelope{Type: TypeHello, SenderID: s.self.UserID, Peer: &s.self}
	request := Envelope{Type: TypeSceneRequest, SenderID: s.self.UserID}
	if err := pushEnvelope(connCtx, send, hello); err != nil {
		return scene.Document{}, &SessionError{Op: "join", Err: errConnectionLost}
	}
	if err := pushEnvelope(connCtx, send, request); err != nil {
		return scene.Document{}, &SessionError{Op: "join", Err: errConnectionLost}
	}

	var remote []scene.Element
	select {
	case remote = <-first:
	case <-s.clk.After(s.settings.InitialSyncTimeout):
		// Empty room, or slow peers whose update will merge through
		// OnRemote like any other.
	case <-ctx.Done():
		s.drop(conn, "", nil)
		return scene.Document{}, ctx.Err()
	case <-connCtx.Done():
		return scene.Document{}, &SessionError{Op: "join", Err: errConnectionLost}
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return scene.Document{}, &SessionError{Op: "join", Err: errConnectionLost}
	}
	s.firstScene = nil
	s.state = StateJoined
	s.mu.Unlock()
	s.notifyState(StateJoined, nil)

	doc, _, err := reconcile.Documents(current, remote)
	if err != nil {
		s.Leave()
		return scene.Document{}, &SessionError{Op: "join", Err: err}
	}
	return doc, nil
}

func (s *Session) connectFailed(op string, err error) error {
	serr := &SessionError{Op: op, Err: err}
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	s.notifyState(StateDisconnected, serr)
	return serr
}

func (s *Session) notifyState(state State, err error) {
	if s.handlers.OnState != nil {
		s.handlers.OnState(state, err)
	}
}

// drop tears down the given connection if it is still current. A nil
// err is a deliberate leave, a non-nil err a failure surfaced through
// OnState. Stale pump errors from an already-replaced connection are
// ignored.
func (s *Session) drop(conn *websocket.Conn, op string, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.connStop()
	conn.Close()
	s.conn = nil
	s.connCtx = nil
	s.connStop = nil
	s.send = nil
	s.firstScene = nil
	s.pending = nil
	s.dirty = false
	s.peers = nil
	s.state = StateDisconnected
	s.mu.Unlock()
	if err != nil {
		s.notifyState(StateDisconnected, &SessionError{Op: op, Err: err})
		return
	}
	s.notifyState(StateDisconnected, nil)
}

func (s *Session) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ping := s.clk.Ticker(s.settings.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.drop(conn, "write", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.drop(conn, "ping", err)
				return
			}
		}
	}
}

func (s *Session) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	})
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.drop(conn, "read", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.logger.Warn("dropping malformed room message", "room", s.roomID, "err", err)
			continue
		}
		s.handleEnvelope(env)
	}
}

// handleEnvelope runs on the read pump, so OnRemote sees updates in
// arrival order. A cross-instance relay echoes the sender's own
// messages back; those are discarded here by sender id.
func (s *Session) handleEnvelope(env Envelope) {
	if env.SenderID != "" && env.SenderID == s.self.UserID {
		return
	}
	switch env.Type {
	case TypeSceneUpdate:
		elements, err := s.codec.decodeScene(env.Sealed)
		if err != nil {
			s.logger.Warn("dropping undecodable scene payload",
				"room", s.roomID, "from", env.SenderID, "err", err)
			return
		}
		s.mu.Lock()
		first := s.firstScene
		s.firstScene = nil
		s.mu.Unlock()
		if first != nil {
			first <- elements
			return
		}
		if s.handlers.OnRemote != nil {
			s.handlers.OnRemote(elements)
		}
	case TypePresence:
		peers := make([]Peer, 0, len(env.Peers))
		for _, p := range env.Peers {
			if p.UserID == s.self.UserID {
				continue
			}
			peers = append(peers, p)
		}
		s.mu.Lock()
		s.peers = peers
		s.mu.Unlock()
		if s.handlers.OnPeers != nil {
			s.handlers.OnPeers(slices.Clone(peers))
		}
	case TypeAssist:
		if env.Peer == nil || env.Peer.UserID == s.self.UserID {
			return
		}
		if s.handlers.OnAssist != nil {
			s.handlers.OnAssist(*env.Peer)
		}
	case TypeSceneRequest:
		if s.handlers.CurrentScene != nil {
			s.QueueBroadcast(s.handlers.CurrentScene())
		}
	}
}

func (s *Session) broadcastLoop(ctx context.Context, conn *websocket.Conn, send chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		elements, ok := s.takePending()
		if !ok {
			continue
		}
		sealed, err := s.codec.encodeScene(elements)
		if err != nil {
			s.drop(conn, "broadcast", err)
			return
		}
		env := Envelope{Type: TypeSceneUpdate, SenderID: s.self.UserID, Sealed: sealed}
		if err := pushEnvelope(ctx, send, env); err != nil {
			return
		}
	}
}

// fullSyncLoop rebroadcasts the whole scene periodically. Lost updates
// heal on the next cycle because receivers merge idempotently.
func (s *Session) fullSyncLoop(ctx context.Context) {
	if s.handlers.CurrentScene == nil || s.settings.FullSyncInterval <= 0 {
		return
	}
	t := s.clk.Ticker(s.settings.FullSyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.QueueBroadcast(s.handlers.CurrentScene())
		}
	}
}

func (s *Session) takePending() ([]scene.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, false
	}
	elements := s.pending
	s.pending = nil
	s.dirty = false
	return elements, true
}

func pushEnvelope(ctx context.Context, send chan<- []byte, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// endpoint builds a relay URL under this session's room, as a websocket
// address when websock is set and plain HTTP otherwise. The configured
// server URL may use either scheme family.
func (s *Session) endpoint(websock bool, parts ...string) (string, error) {
	u, err := url.Parse(s.settings.ServerURL)
	if err != nil {
		return "", err
	}
	secure := u.Scheme == "https" || u.Scheme == "wss"
	switch {
	case websock && secure:
		u.Scheme = "wss"
	case websock:
		u.Scheme = "ws"
	case secure:
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	elems := append([]string{"/", u.Path, "rooms", s.roomID}, parts...)
	u.Path = path.Join(elems...)
	return u.String(), nil
}

// FetchFile retrieves a peer-shared asset from the room store and opens
// it with the room key. Satisfies the asset resolver's remote source
// while a session is active.
func (s *Session) FetchFile(ctx context.Context, id scene.FileID) ([]byte, string, error) {
	addr, err := s.endpoint(false, "files", string(id))
	if err != nil {
		return nil, "", &SessionError{Op: "fetch file", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, "", &SessionError{Op: "fetch file", Err: err}
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, "", &SessionError{Op: "fetch file", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, "", &SessionError{Op: "fetch file", Err: &api.Error{
			Status: resp.StatusCode,
			URL:    addr,
			Body:   string(snippet),
		}}
	}
	sealed, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if err != nil {
		return nil, "", &SessionError{Op: "fetch file", Err: err}
	}
	data, mimeType, err := s.codec.decodeFile(sealed)
	if err != nil {
		return nil, "", &SessionError{Op: "fetch file", Err: err}
	}
	return data, mimeType, nil
}

// PutFile seals an asset with the room key and shares it through the
// room store so peers can resolve it.
func (s *Session) PutFile(ctx context.Context, id scene.FileID, data []byte, mimeType string) error {
	sealed, err := s.codec.encodeFile(data, mimeType)
	if err != nil {
		return &SessionError{Op: "put file", Err: err}
	}
	addr, err := s.endpoint(false, "files", string(id))
	if err != nil {
		return &SessionError{Op: "put file", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, addr, bytes.NewReader(sealed))
	if err != nil {
		return &SessionError{Op: "put file", Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.httpc.Do(req)
	if err != nil {
		return &SessionError{Op: "put file", Err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &SessionError{Op: "put file", Err: &api.Error{
		Status: resp.StatusCode,
		URL:    addr,
		Body:   string(snippet),
	}}
}

func cloneElements(elements []scene.Element) []scene.Element {
	out := make([]scene.Element, 0, len(elements))
	for _, e := range elements {
		out = append(out, e.Clone())
	}
	return out
}
