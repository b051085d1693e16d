// Package client is the consumer-side session adapter for the relay: one
// connection per authenticated identity, joined to conversation rooms as the
// user navigates, with relay events reconciled against the authoritative
// store through Inbox.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/relay"
)

const defaultTypingTTL = 5 * time.Second

// Config parameterizes a relay session.
type Config struct {
	// URL is the relay websocket endpoint, e.g. ws://host:8000/ws.
	URL      string
	Identity domain.Identity
	// Token is the externally-minted identity token proving the identity.
	Token string
	// TypingTTL clears a peer's typing indicator when no renewal arrives,
	// so an unmatched typing_start never sticks forever.
	TypingTTL time.Duration
}

// Handlers are the event callbacks a UI wires in. Nil callbacks are skipped.
// new_message is a hint to refresh, never the canonical message list; feed
// it into an Inbox alongside the store subscription.
type Handlers struct {
	OnNewMessage        func(relay.NewMessagePayload)
	OnUserOnline        func(relay.PresencePayload)
	OnUserTyping        func(relay.TypingPayload)
	OnMessagesRead      func(relay.MessagesReadPayload)
	OnUserStatusChanged func(relay.PresencePayload)
	OnError             func(relay.ErrorPayload)
	// OnClose fires once when the read loop ends.
	OnClose func(error)
}

// Session is one live relay connection.
type Session struct {
	cfg      Config
	handlers Handlers

	mu     sync.Mutex
	ws     *websocket.Conn
	joined map[string]struct{}
	closed bool

	typing *typingTracker
}

// Dial connects to the relay and immediately announces the identity with a
// join event, before any room can be joined.
func Dial(ctx context.Context, cfg Config, handlers Handlers) (*Session, error) {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = defaultTypingTTL
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		handlers: handlers,
		ws:       ws,
		joined:   make(map[string]struct{}),
	}
	s.typing = newTypingTracker(cfg.TypingTTL, func(p relay.TypingPayload) {
		if handlers.OnUserTyping != nil {
			handlers.OnUserTyping(p)
		}
	})

	if err := s.send(relay.EventJoin, relay.JoinPayload{
		UserID:   cfg.Identity.UserID,
		UserName: cfg.Identity.DisplayName,
		Token:    cfg.Token,
	}); err != nil {
		ws.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

// JoinConversation subscribes the session to a conversation room. Call when
// the user navigates into the conversation view.
func (s *Session) JoinConversation(conversationID string) error {
	if err := s.send(relay.EventJoinConversation, conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	s.joined[conversationID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// LeaveConversation unsubscribes from a room. Call when the user navigates
// away; skipping it leaks room membership until disconnect.
func (s *Session) LeaveConversation(conversationID string) error {
	if err := s.send(relay.EventLeaveConversation, conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.joined, conversationID)
	s.mu.Unlock()
	return nil
}

// SendMessage fans a message copy out to the room. This does NOT persist:
// the caller must independently write the message to the store.
func (s *Session) SendMessage(conversationID string, msg relay.MessagePayload) error {
	return s.send(relay.EventSendMessage, relay.SendMessagePayload{
		ConversationID: conversationID,
		Message:        msg,
	})
}

// TypingStart announces the user started typing in the conversation.
func (s *Session) TypingStart(conversationID string) error {
	return s.send(relay.EventTypingStart, relay.RoomPayload{ConversationID: conversationID})
}

// TypingStop clears the user's typing indicator in the conversation.
func (s *Session) TypingStop(conversationID string) error {
	return s.send(relay.EventTypingStop, relay.RoomPayload{ConversationID: conversationID})
}

// MarkRead tells other tabs in the room which messages were read. The
// durable read flags are the caller's separate store write.
func (s *Session) MarkRead(conversationID string, messageIDs []string) error {
	return s.send(relay.EventMarkRead, relay.MarkReadPayload{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	})
}

// UpdateStatus flips the user's advertised online flag.
func (s *Session) UpdateStatus(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	return s.send(relay.EventUpdateStatus, status)
}

// Joined returns the conversation rooms this session currently subscribes to.
func (s *Session) Joined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]string, 0, len(s.joined))
	for id := range s.joined {
		res = append(res, id)
	}
	return res
}

// Close tears the session down. The relay removes all room membership on
// disconnect, so no explicit leaves are required.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ws := s.ws
	s.mu.Unlock()

	s.typing.stopAll()
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return ws.Close()
}

func (s *Session) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if err := s.ws.WriteJSON(relay.Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (s *Session) readLoop() {
	var loopErr error
	for {
		var env relay.Envelope
		if err := s.ws.ReadJSON(&env); err != nil {
			loopErr = err
			break
		}
		s.dispatch(env)
	}

	s.typing.stopAll()
	if s.handlers.OnClose != nil {
		s.handlers.OnClose(loopErr)
	}
}

func (s *Session) dispatch(env relay.Envelope) {
	switch env.Event {
	case relay.EventNewMessage:
		var p relay.NewMessagePayload
		if json.Unmarshal(env.Data, &p) == nil && s.handlers.OnNewMessage != nil {
			s.handlers.OnNewMessage(p)
		}
	case relay.EventUserOnline:
		var p relay.PresencePayload
		if json.Unmarshal(env.Data, &p) == nil && s.handlers.OnUserOnline != nil {
			s.handlers.OnUserOnline(p)
		}
	case relay.EventUserTyping:
		var p relay.TypingPayload
		if json.Unmarshal(env.Data, &p) == nil {
			s.typing.observe(p)
		}
	case relay.EventMessagesRead:
		var p relay.MessagesReadPayload
		if json.Unmarshal(env.Data, &p) == nil && s.handlers.OnMessagesRead != nil {
			s.handlers.OnMessagesRead(p)
		}
	case relay.EventUserStatusChanged:
		var p relay.PresencePayload
		if json.Unmarshal(env.Data, &p) == nil && s.handlers.OnUserStatusChanged != nil {
			s.handlers.OnUserStatusChanged(p)
		}
	case relay.EventError:
		var p relay.ErrorPayload
		if json.Unmarshal(env.Data, &p) == nil && s.handlers.OnError != nil {
			s.handlers.OnError(p)
		}
	}
}
