package domain

import (
	"context"
	"time"
)

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, participants []Participant) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	// FindByParticipants returns an existing conversation with exactly the
	// given participant set and product id, or nil.
	FindByParticipants(ctx context.Context, participantIDs []string, productID *string) (*Conversation, error)
	// SetLastMessage updates the denormalized preview and bumps updated_at.
	SetLastMessage(ctx context.Context, id, preview string, at time.Time) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// ListForConversation returns all messages ordered by server write time
	// ascending (ties broken by insertion order).
	ListForConversation(ctx context.Context, conversationID string) ([]*Message, error)
	// MarkRead sets read=true on every message in the conversation not sent
	// by userID and returns the ids of messages flipped by this call.
	MarkRead(ctx context.Context, conversationID, userID string) ([]string, error)
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, conversationID string) ([]Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	// IncrementUnread bumps the unread counter of every participant except
	// exceptUserID by one.
	IncrementUnread(ctx context.Context, conversationID, exceptUserID string) error
	// ResetUnread zeroes the unread counter for one participant.
	ResetUnread(ctx context.Context, conversationID, userID string) error
}
