package domain

import "time"

// Message types supported by conversations.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// Identity is the opaque user identity minted by the external identity
// provider. The relay and the store never create identities; they only
// carry them.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
}

// Conversation represents a marketplace conversation between participants,
// optionally linked to a product listing.
type Conversation struct {
	ID              string     `db:"id" json:"id"`
	ProductID       *string    `db:"product_id" json:"productId,omitempty"`
	ProductTitle    *string    `db:"product_title" json:"productTitle,omitempty"`
	LastMessage     string     `db:"last_message" json:"lastMessage"`
	LastMessageTime *time.Time `db:"last_message_time" json:"lastMessageTime,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`

	// Denormalized participant info, loaded alongside the row.
	Participants []Participant `json:"participants,omitempty"`
}

// Participant is the membership of a user in a conversation, including the
// per-participant unread counter. Counters are only zeroed by an explicit
// mark-read for that participant.
type Participant struct {
	ConversationID string `db:"conversation_id" json:"-"`
	UserID         string `db:"user_id" json:"userId"`
	DisplayName    string `db:"display_name" json:"userName"`
	UnreadCount    int    `db:"unread_count" json:"unreadCount"`
}

// Message is a single message inside a conversation. Order within a
// conversation is the store's write order (server-assigned timestamp),
// never relay-delivery order.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	SenderID       string    `db:"sender_id" json:"senderId"`
	SenderName     string    `db:"sender_name" json:"senderName"`
	Content        string    `db:"content" json:"content"`
	Type           string    `db:"type" json:"type"`
	PhotoURL       *string   `db:"photo_url" json:"photoUrl,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	Read           bool      `db:"read" json:"read"`
}
