package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/IreinStark/marketgo/internal/domain"
)

// Sentinel errors used by handlers to map to HTTP status codes.
var (
	ErrForbidden            = errors.New("forbidden")
	ErrConversationNotFound = errors.New("conversation not found")
)

const maxMessageRunes = 5000

// ConversationService is the authoritative conversation store: conversation
// creation, message appends with server-assigned timestamps, per-participant
// unread counters, read flags, and live subscriptions. The relay broadcasts
// are a latency-reducing side channel on top of this; the store remains the
// source of truth for content and ordering.
type ConversationService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository

	msgSubs  *subscribers[[]*domain.Message]
	convSubs *subscribers[[]*domain.Conversation]

	now   func() time.Time
	newID func() string
}

func NewConversationService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		msgSubs:       newSubscribers[[]*domain.Message](),
		convSubs:      newSubscribers[[]*domain.Conversation](),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

type ConversationCreateInput struct {
	Participants []domain.Participant
	ProductID    *string
	ProductTitle *string
}

// CreateConversation creates a conversation, or returns the existing one with
// the same participant set and product id. Idempotent by design so two users
// opening the same listing chat never fork into parallel threads.
func (s *ConversationService) CreateConversation(
	ctx context.Context,
	in ConversationCreateInput,
) (*domain.Conversation, error) {
	if len(in.Participants) < 2 {
		return nil, errors.New("at least two participants are required")
	}

	seen := make(map[string]struct{}, len(in.Participants))
	unique := make([]domain.Participant, 0, len(in.Participants))
	ids := make([]string, 0, len(in.Participants))
	for _, p := range in.Participants {
		if p.UserID == "" {
			return nil, errors.New("participant userId cannot be empty")
		}
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		unique = append(unique, p)
		ids = append(ids, p.UserID)
	}

	existing, err := s.conversations.FindByParticipants(ctx, ids, in.ProductID)
	if err != nil {
		return nil, fmt.Errorf("find existing conversation: %w", err)
	}
	if existing != nil {
		existing.Participants, err = s.participants.ListParticipants(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("list participants: %w", err)
		}
		return existing, nil
	}

	conv := &domain.Conversation{
		ID:           s.newID(),
		ProductID:    in.ProductID,
		ProductTitle: in.ProductTitle,
	}
	if err := s.conversations.Create(ctx, conv, unique); err != nil {
		return nil, err
	}
	conv.Participants = unique

	s.notifyConversations(ctx, ids)
	return conv, nil
}

type MessageSendInput struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	Type           string
	PhotoURL       *string
}

// SendMessage appends a message with a server-assigned timestamp, updates the
// denormalized last-message preview, and increments every other participant's
// unread counter. The sender's own counter is never touched.
func (s *ConversationService) SendMessage(ctx context.Context, in MessageSendInput) (*domain.Message, error) {
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}
	if in.Type != domain.MessageTypeText && in.Type != domain.MessageTypeImage {
		return nil, fmt.Errorf("unknown message type %q", in.Type)
	}
	if len([]rune(in.Content)) > maxMessageRunes {
		return nil, errors.New("message content exceeds 5000 characters")
	}
	if in.Content == "" && (in.PhotoURL == nil || *in.PhotoURL == "") {
		return nil, errors.New("message content cannot be empty")
	}

	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	isParticipant, err := s.participants.IsParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, ErrForbidden
	}

	msg := &domain.Message{
		ID:             s.newID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Content:        in.Content,
		Type:           in.Type,
		PhotoURL:       in.PhotoURL,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	preview := in.Content
	if preview == "" {
		preview = "Photo"
	}
	if err := s.conversations.SetLastMessage(ctx, in.ConversationID, preview, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("set last message: %w", err)
	}
	if err := s.participants.IncrementUnread(ctx, in.ConversationID, in.SenderID); err != nil {
		return nil, fmt.Errorf("increment unread: %w", err)
	}

	s.notifyMessages(ctx, in.ConversationID)
	s.notifyConversationParticipants(ctx, in.ConversationID)
	return msg, nil
}

// MarkMessagesAsRead flips read=true on every message not sent by userID and
// zeroes that user's unread counter. Returns the ids of messages flipped by
// this call.
func (s *ConversationService) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, ErrForbidden
	}

	ids, err := s.messages.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if err := s.participants.ResetUnread(ctx, conversationID, userID); err != nil {
		return nil, fmt.Errorf("reset unread: %w", err)
	}

	if len(ids) > 0 {
		s.notifyMessages(ctx, conversationID)
	}
	s.notifyConversationParticipants(ctx, conversationID)
	return ids, nil
}

// GetConversation returns a conversation with its participants, after
// verifying the caller belongs to it.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, ErrForbidden
	}
	conv.Participants, err = s.participants.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser returns all conversations the user participates in, most
// recently updated first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		c.Participants, err = s.participants.ListParticipants(ctx, c.ID)
		if err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// ListMessages returns the conversation's messages in server write order,
// oldest first, after verifying the caller belongs to the conversation.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, userID string) ([]*domain.Message, error) {
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, ErrForbidden
	}
	return s.messages.ListForConversation(ctx, conversationID)
}

// IsParticipant reports whether userID belongs to the conversation. Used by
// the relay to authorize room joins.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.participants.IsParticipant(ctx, conversationID, userID)
}

// SubscribeToMessages registers a live query over the conversation's ordered
// message list. The callback fires immediately with the current snapshot and
// again after every change. Returns an unsubscribe func.
func (s *ConversationService) SubscribeToMessages(
	ctx context.Context,
	conversationID string,
	fn func([]*domain.Message),
) (func(), error) {
	unsub := s.msgSubs.add(conversationID, fn)
	msgs, err := s.messages.ListForConversation(ctx, conversationID)
	if err != nil {
		unsub()
		return nil, err
	}
	fn(msgs)
	return unsub, nil
}

// SubscribeToConversations registers a live query over the user's
// conversation list, ordered by last update descending.
func (s *ConversationService) SubscribeToConversations(
	ctx context.Context,
	userID string,
	fn func([]*domain.Conversation),
) (func(), error) {
	unsub := s.convSubs.add(userID, fn)
	convs, err := s.ListForUser(ctx, userID)
	if err != nil {
		unsub()
		return nil, err
	}
	fn(convs)
	return unsub, nil
}

func (s *ConversationService) notifyMessages(ctx context.Context, conversationID string) {
	if !s.msgSubs.hasSubscribers(conversationID) {
		return
	}
	msgs, err := s.messages.ListForConversation(ctx, conversationID)
	if err != nil {
		log.Printf("store: notify messages for %s: %v", conversationID, err)
		return
	}
	s.msgSubs.notify(conversationID, msgs)
}

func (s *ConversationService) notifyConversationParticipants(ctx context.Context, conversationID string) {
	participants, err := s.participants.ListParticipants(ctx, conversationID)
	if err != nil {
		log.Printf("store: list participants for %s: %v", conversationID, err)
		return
	}
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	s.notifyConversations(ctx, ids)
}

func (s *ConversationService) notifyConversations(ctx context.Context, userIDs []string) {
	for _, uid := range userIDs {
		if !s.convSubs.hasSubscribers(uid) {
			continue
		}
		convs, err := s.ListForUser(ctx, uid)
		if err != nil {
			log.Printf("store: notify conversations for %s: %v", uid, err)
			continue
		}
		s.convSubs.notify(uid, convs)
	}
}
