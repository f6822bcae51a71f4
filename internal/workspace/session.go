package workspace

import (
	"context"
	"fmt"
	"slices"

	"github.com/longlee218/goclass-editor/internal/api"
	"github.com/longlee218/goclass-editor/internal/collab"
	"github.com/longlee218/goclass-editor/internal/reconcile"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/seal"
	"github.com/longlee218/goclass-editor/internal/source"
)

// roomJoiner lets the resolver hand room links back to the workspace
// without the two packages knowing each other's concrete types.
type roomJoiner struct {
	w *Workspace
}

func (j roomJoiner) Join(ctx context.Context, link source.RoomLink, current scene.Document) (scene.Document, error) {
	return j.w.joinRoom(ctx, link, current)
}

// joinRoom builds a session for the link and joins it. On success the
// session replaces any previous one and becomes the asset remote; on
// failure it is torn down and the resolver falls back to the local
// scene.
func (w *Workspace) joinRoom(ctx context.Context, link source.RoomLink, current scene.Document) (scene.Document, error) {
	key, err := seal.ParseKey(link.RoomKey)
	if err != nil {
		return scene.Document{}, fmt.Errorf("room key: %w", err)
	}
	// Any previous session stops before the new one dials so its read
	// loop cannot interleave with the new join's initial sync.
	w.clearSession()
	sess := collab.NewSession(collab.Options{
		Settings: w.collabSettings,
		Room: collab.Room{
			ID:        link.RoomID,
			Key:       key,
			SessionID: link.SessionID,
			UserID:    link.UserID,
		},
		Name: w.userName,
		Handlers: collab.Handlers{
			OnRemote:     w.applyRemote,
			OnState:      w.handleSessionState,
			OnPeers:      w.cb.OnPeers,
			OnAssist:     w.cb.OnAssist,
			CurrentScene: w.currentElements,
		},
		Clock:  w.clk,
		Logger: w.logger,
	})
	doc, err := sess.Join(ctx, current)
	if err != nil {
		sess.Close()
		return scene.Document{}, err
	}
	w.adoptSession(sess)
	return doc, nil
}

func (w *Workspace) adoptSession(sess *collab.Session) {
	w.mu.Lock()
	old := w.session
	w.session = sess
	w.mu.Unlock()
	if old != nil && old != sess {
		old.Close()
	}
	// The session doubles as the asset remote. It stays in place after a
	// connection drop: file transfer is plain HTTP and keeps working.
	w.assets.SetRemote(sess)
}

func (w *Workspace) clearSession() {
	w.mu.Lock()
	old := w.session
	w.session = nil
	w.room = nil
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}
	w.assets.SetRemote(nil)
}

// applyRemote merges a peer's update into the current document. Runs on
// the session's read loop, one update at a time, in arrival order.
func (w *Workspace) applyRemote(elements []scene.Element) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	merged, changed, err := reconcile.Documents(w.doc, elements)
	if err != nil {
		w.mu.Unlock()
		w.logger.Warn("remote merge failed", "err", err)
		return
	}
	if changed {
		w.doc = merged
	}
	w.mu.Unlock()
	if !changed {
		return
	}
	w.persist.Save(merged)
	w.notifyDocument(merged)
}

// currentElements snapshots the document for the session's scene
// request answers and full-sync rebroadcasts.
func (w *Workspace) currentElements() []scene.Element {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.doc.Elements)
}

func (w *Workspace) handleSessionState(state collab.State, err error) {
	if err != nil {
		w.logger.Warn("session state", "state", state.String(), "err", err)
		w.notifyMessage(source.MsgSessionUnreached)
	} else {
		w.logger.Info("session state", "state", state.String())
	}
	if w.cb.OnSessionState != nil {
		w.cb.OnSessionState(state, err)
	}
}

// Reconnect re-dials the current room after a connection loss, with
// bounded retries. The returned room scene is merged, saved and
// rebroadcast so peers see edits made while offline.
func (w *Workspace) Reconnect(ctx context.Context) error {
	w.mu.Lock()
	sess := w.session
	current := w.doc.Clone()
	w.mu.Unlock()
	if sess == nil {
		return errNoSession
	}
	doc, err := sess.Reconnect(ctx, current)
	if err != nil {
		return err
	}
	w.mu.Lock()
	merged, _, mergeErr := reconcile.Documents(w.doc, doc.Elements)
	if mergeErr != nil {
		merged = w.doc
	} else {
		w.doc = merged
	}
	w.mu.Unlock()
	if mergeErr != nil {
		w.logger.Warn("reconnect merge failed", "err", mergeErr)
	}
	w.persist.Save(merged)
	sess.QueueBroadcast(merged.Elements)
	w.notifyDocument(merged)
	return nil
}

// RequestAssistance signals the room that this user wants attention.
func (w *Workspace) RequestAssistance() error {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess == nil {
		return errNoSession
	}
	return sess.RequestAssistance()
}

// FinalizeSession marks the classroom session finished for this user
// and leaves the room. Requires a room link that carries a session id
// and a configured classroom client.
func (w *Workspace) FinalizeSession(ctx context.Context) error {
	if w.classroom == nil {
		return fmt.Errorf("finalize: no classroom backend configured")
	}
	w.mu.Lock()
	room := w.room
	sess := w.session
	w.mu.Unlock()
	if room == nil || room.SessionID == "" {
		return fmt.Errorf("finalize: not in a classroom session")
	}
	userID := room.UserID
	if sess != nil {
		userID = sess.UserID()
	}
	if err := w.classroom.FinalizeSession(ctx, room.SessionID, userID); err != nil {
		return err
	}
	if sess != nil {
		sess.Leave()
	}
	return nil
}

// Guidance fetches the contextual help configured for the current
// classroom session, or nil when none is.
func (w *Workspace) Guidance(ctx context.Context) (*api.Guidance, error) {
	if w.classroom == nil {
		return nil, fmt.Errorf("guidance: no classroom backend configured")
	}
	w.mu.Lock()
	room := w.room
	sess := w.session
	w.mu.Unlock()
	if room == nil || room.SessionID == "" {
		return nil, fmt.Errorf("guidance: not in a classroom session")
	}
	userID := room.UserID
	if sess != nil {
		userID = sess.UserID()
	}
	g, err := w.classroom.FetchGuidance(ctx, room.SessionID, room.RoomID, userID)
	if err != nil {
		if api.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}
