package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/security"
)

// Conn abstracts one client connection so the relay core stays independent
// of the websocket transport. Send must not block the caller.
type Conn interface {
	Send(env Envelope)
	Close()
}

// Authorizer checks room joins against the persisted store's participant
// list. The relay never lets a connection subscribe to a conversation it
// does not belong to.
type Authorizer interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// session is the per-connection state machine: connected (unauthenticated)
// until a verified join event attaches an identity, then optionally in one
// or more rooms, until disconnect.
type session struct {
	conn     Conn
	identity *domain.Identity
	rooms    map[string]struct{}
}

// Relay fans message, typing, read and presence events out to subscribed
// connections. It owns the presence registry and room tracker; handlers run
// to completion under one lock, so per-connection event ordering is the
// transport's FIFO order. It never persists anything: the store is written
// independently by clients and stays the source of truth.
type Relay struct {
	mu       sync.Mutex
	sessions map[Conn]*session

	presence *Presence
	rooms    *Rooms
	tokens   *security.TokenService
	auth     Authorizer
	fanout   Fanout

	originID string
	now      func() time.Time
}

func New(tokens *security.TokenService, auth Authorizer, presenceGrace time.Duration, fanout Fanout) *Relay {
	if fanout == nil {
		fanout = NoopFanout{}
	}
	r := &Relay{
		sessions: make(map[Conn]*session),
		rooms:    NewRooms(),
		tokens:   tokens,
		auth:     auth,
		fanout:   fanout,
		originID: uuid.NewString(),
		now:      time.Now,
	}
	r.presence = NewPresence(presenceGrace, r.onPresenceExpired)
	return r
}

// Start begins applying fan-out traffic from other relay processes. No-op
// for the in-process fan-out.
func (r *Relay) Start(ctx context.Context) error {
	return r.fanout.Start(ctx, r.applyRemote)
}

// Presence exposes the presence registry for read-only introspection.
func (r *Relay) Presence() *Presence { return r.presence }

// Rooms exposes the room membership tracker for read-only introspection.
func (r *Relay) Rooms() *Rooms { return r.rooms }

// Connect registers a new, not-yet-identified connection.
func (r *Relay) Connect(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[conn] = &session{conn: conn, rooms: make(map[string]struct{})}
}

// Disconnect removes the connection. Room membership and presence follow the
// user's authoritative connection: when that one closes, every joined room
// is left and offline removal is scheduled after the grace window. A
// superseded tab closing leaves both untouched.
func (r *Relay) Disconnect(conn Conn) {
	r.mu.Lock()
	sess, ok := r.sessions[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, conn)
	if sess.identity != nil && r.presence.ConnOf(sess.identity.UserID) == conn {
		for roomID := range sess.rooms {
			r.rooms.Leave(roomID, sess.identity.UserID)
		}
	}
	r.mu.Unlock()

	r.presence.MarkDisconnected(conn)
}

// HandleEvent dispatches one decoded event frame from a connection.
func (r *Relay) HandleEvent(ctx context.Context, conn Conn, env Envelope) {
	switch env.Event {
	case EventJoin:
		r.handleJoin(conn, env.Data)
	case EventJoinConversation:
		r.handleJoinConversation(ctx, conn, env.Data)
	case EventLeaveConversation:
		r.handleLeaveConversation(conn, env.Data)
	case EventSendMessage:
		r.handleSendMessage(ctx, conn, env.Data)
	case EventTypingStart, EventTypingStop:
		r.handleTyping(ctx, conn, env.Data, env.Event == EventTypingStart)
	case EventMarkRead:
		r.handleMarkRead(ctx, conn, env.Data)
	case EventUpdateStatus:
		r.handleUpdateStatus(ctx, conn, env.Data)
	default:
		r.sendError(conn, CodeUnknownEvent, fmt.Sprintf("unknown event %q", env.Event))
	}
}

func (r *Relay) handleJoin(conn Conn, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		r.sendError(conn, CodeInvalidPayload, "join requires userId, userName and token")
		return
	}

	// A connection carries exactly one identity for its lifetime. Swapping
	// identities mid-session would leave the old user's room memberships and
	// presence entry dangling, so a second join is rejected outright.
	r.mu.Lock()
	if sess, ok := r.sessions[conn]; ok && sess.identity != nil {
		r.mu.Unlock()
		r.sendError(conn, CodeAlreadyIdentified, "connection already identified; reconnect to change identity")
		return
	}
	r.mu.Unlock()

	identity, err := r.tokens.ParseIdentity(p.Token)
	if err != nil || identity.UserID != p.UserID {
		r.sendError(conn, CodeUnauthorized, "identity token missing or not minted for this user")
		return
	}
	if p.UserName != "" {
		identity.DisplayName = p.UserName
	}

	r.mu.Lock()
	sess, ok := r.sessions[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess.identity = &identity
	r.mu.Unlock()

	r.presence.RegisterJoin(identity.UserID, identity.DisplayName, conn)
	r.broadcastAll(context.Background(), conn, identity.UserID, NewEnvelope(EventUserOnline, PresencePayload{
		UserID:   identity.UserID,
		UserName: identity.DisplayName,
		IsOnline: true,
	}))
}

func (r *Relay) handleJoinConversation(ctx context.Context, conn Conn, data json.RawMessage) {
	sess, id := r.identified(conn)
	if sess == nil {
		return
	}
	convID, ok := r.decodeConversationID(conn, data)
	if !ok {
		return
	}

	allowed, err := r.auth.IsParticipant(ctx, convID, id.UserID)
	if err != nil {
		log.Printf("relay: participant check for %s in %s: %v", id.UserID, convID, err)
		r.sendError(conn, CodeForbidden, "could not verify conversation membership")
		return
	}
	if !allowed {
		r.sendError(conn, CodeForbidden, "not a participant in this conversation")
		return
	}

	r.rooms.Join(convID, id.UserID)
	r.mu.Lock()
	if s, ok := r.sessions[conn]; ok {
		s.rooms[convID] = struct{}{}
	}
	r.mu.Unlock()
}

func (r *Relay) handleLeaveConversation(conn Conn, data json.RawMessage) {
	sess, id := r.identified(conn)
	if sess == nil {
		return
	}
	convID, ok := r.decodeConversationID(conn, data)
	if !ok {
		return
	}

	r.rooms.Leave(convID, id.UserID)
	r.mu.Lock()
	if s, ok := r.sessions[conn]; ok {
		delete(s.rooms, convID)
	}
	r.mu.Unlock()
}

func (r *Relay) handleSendMessage(ctx context.Context, conn Conn, data json.RawMessage) {
	_, id := r.identified(conn)
	if id == nil {
		return
	}
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		r.sendError(conn, CodeInvalidPayload, "send_message requires conversationId and message")
		return
	}
	if !r.rooms.Contains(p.ConversationID, id.UserID) {
		r.sendError(conn, CodeNotInRoom, "join the conversation before sending")
		return
	}

	// The relay forwards a copy; persistence is the sender's independent
	// write against the store.
	p.Message.SenderID = id.UserID
	if p.Message.SenderName == "" {
		p.Message.SenderName = id.DisplayName
	}
	r.broadcastRoom(ctx, p.ConversationID, id.UserID, NewEnvelope(EventNewMessage, NewMessagePayload{
		ConversationID: p.ConversationID,
		Message:        p.Message,
		DeliveredAt:    r.now().UTC(),
	}))
}

func (r *Relay) handleTyping(ctx context.Context, conn Conn, data json.RawMessage, isTyping bool) {
	_, id := r.identified(conn)
	if id == nil {
		return
	}
	var p RoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		r.sendError(conn, CodeInvalidPayload, "typing events require conversationId")
		return
	}
	if !r.rooms.Contains(p.ConversationID, id.UserID) {
		r.sendError(conn, CodeNotInRoom, "join the conversation before typing")
		return
	}

	r.broadcastRoom(ctx, p.ConversationID, id.UserID, NewEnvelope(EventUserTyping, TypingPayload{
		ConversationID: p.ConversationID,
		UserID:         id.UserID,
		UserName:       id.DisplayName,
		IsTyping:       isTyping,
	}))
}

func (r *Relay) handleMarkRead(ctx context.Context, conn Conn, data json.RawMessage) {
	_, id := r.identified(conn)
	if id == nil {
		return
	}
	var p MarkReadPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		r.sendError(conn, CodeInvalidPayload, "mark_read requires conversationId and messageIds")
		return
	}
	if !r.rooms.Contains(p.ConversationID, id.UserID) {
		r.sendError(conn, CodeNotInRoom, "join the conversation before marking read")
		return
	}

	// Advisory only: persisted read flags are the caller's separate store
	// write. This broadcast just lets other open tabs catch up instantly.
	r.broadcastRoom(ctx, p.ConversationID, id.UserID, NewEnvelope(EventMessagesRead, MessagesReadPayload{
		ConversationID: p.ConversationID,
		MessageIDs:     p.MessageIDs,
		ReadBy:         id.UserID,
	}))
}

func (r *Relay) handleUpdateStatus(ctx context.Context, conn Conn, data json.RawMessage) {
	_, id := r.identified(conn)
	if id == nil {
		return
	}
	var status string
	if err := json.Unmarshal(data, &status); err != nil || (status != "online" && status != "offline") {
		r.sendError(conn, CodeInvalidPayload, `update_status requires "online" or "offline"`)
		return
	}

	online := status == "online"
	r.presence.SetStatus(id.UserID, online)
	r.broadcastAll(ctx, conn, id.UserID, NewEnvelope(EventUserStatusChanged, PresencePayload{
		UserID:   id.UserID,
		UserName: id.DisplayName,
		IsOnline: online,
	}))
}

// onPresenceExpired runs after the grace window elapses with no rejoin.
func (r *Relay) onPresenceExpired(userID, displayName string) {
	r.broadcastAll(context.Background(), nil, userID, NewEnvelope(EventUserOnline, PresencePayload{
		UserID:   userID,
		UserName: displayName,
		IsOnline: false,
	}))
}

// identified returns the session and identity for conn, rejecting the event
// with an error ack when the connection has not completed join yet.
func (r *Relay) identified(conn Conn) (*session, *domain.Identity) {
	r.mu.Lock()
	sess, ok := r.sessions[conn]
	r.mu.Unlock()
	if !ok || sess.identity == nil {
		r.sendError(conn, CodeNotIdentified, "send join before other events")
		return nil, nil
	}
	return sess, sess.identity
}

// decodeConversationID accepts the bare-string payload of
// join_conversation / leave_conversation.
func (r *Relay) decodeConversationID(conn Conn, data json.RawMessage) (string, bool) {
	var convID string
	if err := json.Unmarshal(data, &convID); err != nil || convID == "" {
		r.sendError(conn, CodeInvalidPayload, "expected a conversation id string")
		return "", false
	}
	return convID, true
}

// broadcastAll delivers env to every connection except origin, and forwards
// it to other relay processes through the fan-out adapter.
func (r *Relay) broadcastAll(ctx context.Context, origin Conn, exceptUserID string, env Envelope) {
	r.mu.Lock()
	for conn := range r.sessions {
		if conn != origin {
			conn.Send(env)
		}
	}
	r.mu.Unlock()

	r.publish(ctx, FanoutMessage{
		Origin:       r.originID,
		Scope:        ScopeAll,
		ExceptUserID: exceptUserID,
		Envelope:     env,
	})
}

// broadcastRoom delivers env to the authoritative connection of every room
// member except the sender, and forwards to other relay processes.
func (r *Relay) broadcastRoom(ctx context.Context, conversationID, exceptUserID string, env Envelope) {
	r.deliverRoom(conversationID, exceptUserID, env)
	r.publish(ctx, FanoutMessage{
		Origin:         r.originID,
		Scope:          ScopeRoom,
		ConversationID: conversationID,
		ExceptUserID:   exceptUserID,
		Envelope:       env,
	})
}

func (r *Relay) deliverRoom(conversationID, exceptUserID string, env Envelope) {
	for _, uid := range r.rooms.Members(conversationID) {
		if uid == exceptUserID {
			continue
		}
		if conn := r.presence.ConnOf(uid); conn != nil {
			conn.Send(env)
		}
	}
}

func (r *Relay) publish(ctx context.Context, msg FanoutMessage) {
	if err := r.fanout.Publish(ctx, msg); err != nil {
		log.Printf("relay: fanout publish: %v", err)
	}
}

// applyRemote delivers a broadcast originating from another relay process to
// local connections. The origin tag filters out this process's own traffic.
func (r *Relay) applyRemote(msg FanoutMessage) {
	if msg.Origin == r.originID {
		return
	}
	switch msg.Scope {
	case ScopeRoom:
		r.deliverRoom(msg.ConversationID, msg.ExceptUserID, msg.Envelope)
	case ScopeAll:
		r.mu.Lock()
		for conn, sess := range r.sessions {
			if sess.identity != nil && sess.identity.UserID == msg.ExceptUserID {
				continue
			}
			conn.Send(msg.Envelope)
		}
		r.mu.Unlock()
	}
}

func (r *Relay) sendError(conn Conn, code, message string) {
	conn.Send(NewEnvelope(EventError, ErrorPayload{Code: code, Message: message}))
}
