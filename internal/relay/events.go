package relay

import (
	"encoding/json"
	"time"
)

// Event names consumed from clients.
const (
	EventJoin              = "join"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
	EventUpdateStatus      = "update_status"
)

// Event names produced for clients.
const (
	EventUserOnline        = "user_online"
	EventNewMessage        = "new_message"
	EventUserTyping        = "user_typing"
	EventMessagesRead      = "messages_read"
	EventUserStatusChanged = "user_status_changed"
	EventError             = "error"
)

// Error codes carried by error acks.
const (
	CodeInvalidPayload    = "invalid_payload"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeNotIdentified     = "not_identified"
	CodeAlreadyIdentified = "already_identified"
	CodeNotInRoom         = "not_in_room"
	CodeUnknownEvent      = "unknown_event"
)

// Envelope is the wire frame for every relay event, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals v into an Envelope for the given event name.
// Marshalling of the payload types below cannot fail.
func NewEnvelope(event string, v any) Envelope {
	data, _ := json.Marshal(v)
	return Envelope{Event: event, Data: data}
}

// JoinPayload identifies a connection. The token must verify and must have
// been minted for the claimed user id; the relay never trusts a bare claim.
type JoinPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Token    string `json:"token"`
}

// MessagePayload is the relayed copy of a message. Content ownership and
// ordering stay with the persisted store; the relay only forwards.
type MessagePayload struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"senderId"`
	SenderName string  `json:"senderName"`
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	PhotoURL   *string `json:"photoUrl,omitempty"`
}

// SendMessagePayload is the client request to fan a message out to a room.
type SendMessagePayload struct {
	ConversationID string         `json:"conversationId"`
	Message        MessagePayload `json:"message"`
}

// RoomPayload scopes typing events to a conversation.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// MarkReadPayload announces which messages a user has read.
type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// PresencePayload is broadcast as user_online and user_status_changed.
type PresencePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsOnline bool   `json:"isOnline"`
}

// NewMessagePayload is broadcast to a room on send_message. DeliveredAt is
// the relay's stamp, advisory only: the store's write timestamp remains the
// ordering authority.
type NewMessagePayload struct {
	ConversationID string         `json:"conversationId"`
	Message        MessagePayload `json:"message"`
	DeliveredAt    time.Time      `json:"deliveredAt"`
}

// TypingPayload is broadcast to a room on typing_start/typing_stop.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

// MessagesReadPayload is broadcast to a room on mark_read. It does not mutate
// persisted read flags; callers update the store independently.
type MessagesReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy"`
}

// ErrorPayload is the explicit rejection ack for malformed or out-of-order
// events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
