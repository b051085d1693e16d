package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/service"
	"github.com/IreinStark/marketgo/internal/store/sqlite"
)

func newTestService(t *testing.T) *service.ConversationService {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	return service.NewConversationService(
		sqlite.NewConversationRepo(db),
		sqlite.NewParticipantRepo(db),
		sqlite.NewMessageRepo(db),
	)
}

func twoParticipants() []domain.Participant {
	return []domain.Participant{
		{UserID: "u1", DisplayName: "Alice"},
		{UserID: "u2", DisplayName: "Bob"},
	}
}

func TestCreateConversation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	productID := "p1"
	title := "Vintage bike"
	conv, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: twoParticipants(),
		ProductID:    &productID,
		ProductTitle: &title,
	})
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "p1", *conv.ProductID)
	assert.Len(t, conv.Participants, 2)

	got, err := svc.GetConversation(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "Vintage bike", *got.ProductTitle)
}

func TestCreateConversationIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	productID := "p1"
	first, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: twoParticipants(),
		ProductID:    &productID,
	})
	require.NoError(t, err)

	second, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: twoParticipants(),
		ProductID:    &productID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same participants and product must reuse the conversation")

	// a different product forks a new conversation for the same pair
	otherProduct := "p2"
	third, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: twoParticipants(),
		ProductID:    &otherProduct,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	// so does a different participant set
	fourth, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: []domain.Participant{
			{UserID: "u1", DisplayName: "Alice"},
			{UserID: "u3", DisplayName: "Carol"},
		},
		ProductID: &productID,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fourth.ID)
}

func TestCreateConversationValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: []domain.Participant{{UserID: "u1"}},
	})
	assert.Error(t, err)

	_, err = svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: []domain.Participant{{UserID: "u1"}, {UserID: ""}},
	})
	assert.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, service.ConversationCreateInput{Participants: twoParticipants()})
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, service.MessageSendInput{
		ConversationID: conv.ID,
		SenderID:       "u1",
		SenderName:     "Alice",
		Content:        "hello there",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, domain.MessageTypeText, msg.Type)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.False(t, msg.Read)

	// last-message preview is denormalized onto the conversation
	got, err := svc.GetConversation(ctx, conv.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, "hello there", got.LastMessage)
	require.NotNil(t, got.LastMessageTime)

	// only the recipient's unread counter moved
	for _, p := range got.Participants {
		switch p.UserID {
		case "u1":
			assert.Equal(t, 0, p.UnreadCount)
		case "u2":
			assert.Equal(t, 1, p.UnreadCount)
		}
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, service.ConversationCreateInput{Participants: twoParticipants()})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, service.MessageSendInput{
		ConversationID: conv.ID, SenderID: "u1", Content: "",
	})
	assert.Error(t, err, "empty text message without photo is rejected")

	_, err = svc.SendMessage(ctx, service.MessageSendInput{
		ConversationID: conv.ID, SenderID: "u1", Content: "hi", Type: "carrier-pigeon",
	})
	assert.Error(t, err)

	_, err = svc.SendMessage(ctx, service.MessageSendInput{
		ConversationID: conv.ID, SenderID: "u1", Content: strings.Repeat("a", 5001),
	})
	assert.Error(t, err)

	_, err = svc.SendMessage(ctx, service.MessageSendInput{
		ConversationID: conv.ID, SenderID: "u9", Content: "hi",
	})
	assert.ErrorIs(t, err, service.ErrForbidden, "non-participants cannot send")

	_, err = svc.SendMessage(ctx, service.MessageSendInput{
		ConversationID: "nope", SenderID: "u1", Content: "hi",
	})
	assert.ErrorIs(t, err, service.ErrConversationNotFound)

	// photo message with empty content is allowed
	url := "https://example.com/a.jpg"
	msg, err := svc.SendMessage(ctx, service.MessageSendInput{
		ConversationID: conv.ID, SenderID: "u1", Type: domain.MessageTypeImage, PhotoURL: &url,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeImage, msg.Type)

	got, err := svc.GetConversation(ctx, conv.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Photo", got.LastMessage)
}

func TestListMessagesOrdered(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, service.ConversationCreateInput{Participants: twoParticipants()})
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(ctx, service.MessageSendInput{
			ConversationID: conv.ID, SenderID: "u1", Content: content,
		})
		require.NoError(t, err)
	}

	msgs, err := svc.ListMessages(ctx, conv.ID, "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)

	_, err = svc.ListMessages(ctx, conv.ID, "stranger")
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestMarkMessagesAsRead(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, service.ConversationCreateInput{Participants: twoParticipants()})
	require.NoError(t, err)

	m1, err := svc.SendMessage(ctx, service.MessageSendInput{ConversationID: conv.ID, SenderID: "u1", Content: "a"})
	require.NoError(t, err)
	m2, err := svc.SendMessage(ctx, service.MessageSendInput{ConversationID: conv.ID, SenderID: "u1", Content: "b"})
	require.NoError(t, err)
	own, err := svc.SendMessage(ctx, service.MessageSendInput{ConversationID: conv.ID, SenderID: "u2", Content: "c"})
	require.NoError(t, err)

	ids, err := svc.MarkMessagesAsRead(ctx, conv.ID, "u2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, ids, "only the other sender's messages flip")

	msgs, err := svc.ListMessages(ctx, conv.ID, "u2")
	require.NoError(t, err)
	for _, m := range msgs {
		if m.ID == own.ID {
			assert.False(t, m.Read, "the reader's own message stays untouched")
		} else {
			assert.True(t, m.Read)
		}
	}

	got, err := svc.GetConversation(ctx, conv.ID, "u2")
	require.NoError(t, err)
	for _, p := range got.Participants {
		if p.UserID == "u2" {
			assert.Equal(t, 0, p.UnreadCount)
		}
	}

	// a second call has nothing left to flip
	ids, err = svc.MarkMessagesAsRead(ctx, conv.ID, "u2")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = svc.MarkMessagesAsRead(ctx, conv.ID, "stranger")
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestListForUserOrdersByActivity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p1 := "p1"
	p2 := "p2"
	first, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: twoParticipants(), ProductID: &p1,
	})
	require.NoError(t, err)
	second, err := svc.CreateConversation(ctx, service.ConversationCreateInput{
		Participants: twoParticipants(), ProductID: &p2,
	})
	require.NoError(t, err)

	// activity in the older conversation bumps it to the top
	_, err = svc.SendMessage(ctx, service.MessageSendInput{ConversationID: first.ID, SenderID: "u1", Content: "ping"})
	require.NoError(t, err)

	convs, err := svc.ListForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Equal(t, second.ID, convs[1].ID)
	assert.Len(t, convs[0].Participants, 2)

	convs, err = svc.ListForUser(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestSubscribeToMessages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, service.ConversationCreateInput{Participants: twoParticipants()})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, service.MessageSendInput{ConversationID: conv.ID, SenderID: "u1", Content: "first"})
	require.NoError(t, err)

	var snapshots [][]*domain.Message
	unsub, err := svc.SubscribeToMessages(ctx, conv.ID, func(msgs []*domain.Message) {
		snapshots = append(snapshots, msgs)
	})
	require.NoError(t, err)

	// the initial snapshot fires synchronously
	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0], 1)
	assert.Equal(t, "first", snapshots[0][0].Content)

	// a write after subscribing delivers the full updated list, new message last
	_, err = svc.SendMessage(ctx, service.MessageSendInput{ConversationID: conv.ID, SenderID: "u2", Content: "second"})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Len(t, snapshots[1], 2)
	assert.Equal(t, "second", snapshots[1][1].Content)

	// nothing fires after unsubscribe
	unsub()
	_, err = svc.SendMessage(ctx, service.MessageSendInput{ConversationID: conv.ID, SenderID: "u1", Content: "third"})
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestSubscribeToConversations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var snapshots [][]*domain.Conversation
	unsub, err := svc.SubscribeToConversations(ctx, "u1", func(convs []*domain.Conversation) {
		snapshots = append(snapshots, convs)
	})
	require.NoError(t, err)
	defer unsub()

	require.Len(t, snapshots, 1)
	assert.Empty(t, snapshots[0])

	conv, err := svc.CreateConversation(ctx, service.ConversationCreateInput{Participants: twoParticipants()})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Len(t, snapshots[1], 1)
	assert.Equal(t, conv.ID, snapshots[1][0].ID)

	// message activity refreshes the list with the new preview
	_, err = svc.SendMessage(ctx, service.MessageSendInput{ConversationID: conv.ID, SenderID: "u2", Content: "hey"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(snapshots), 3)
	last := snapshots[len(snapshots)-1]
	require.Len(t, last, 1)
	assert.Equal(t, "hey", last[0].LastMessage)
}
