package client_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IreinStark/marketgo/client"
	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/relay"
)

func relayHint(id, content string, at time.Time) relay.NewMessagePayload {
	return relay.NewMessagePayload{
		ConversationID: "c1",
		Message: relay.MessagePayload{
			ID:       id,
			SenderID: "u1",
			Content:  content,
			Type:     domain.MessageTypeText,
		},
		DeliveredAt: at,
	}
}

func storeMsg(id, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "u1",
		Content:        content,
		Type:           domain.MessageTypeText,
		CreatedAt:      at,
	}
}

func TestInboxDeduplicatesByID(t *testing.T) {
	inbox := client.NewInbox()
	at := time.Now()

	inbox.ApplyRelay(relayHint("m1", "hello", at))
	inbox.ApplyRelay(relayHint("m1", "hello", at.Add(time.Second)))

	assert.Equal(t, 1, inbox.Len())

	// the store snapshot carrying the same id does not duplicate either
	inbox.ApplySnapshot([]*domain.Message{storeMsg("m1", "hello", at)})
	assert.Equal(t, 1, inbox.Len())

	// nor does a late relay duplicate after the snapshot
	inbox.ApplyRelay(relayHint("m1", "hello", at))
	assert.Equal(t, 1, inbox.Len())

	msgs := inbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestInboxOrderIndependentOfArrival(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshot := []*domain.Message{
		storeMsg("m1", "first", base),
		storeMsg("m2", "second", base.Add(time.Second)),
		storeMsg("m3", "third", base.Add(2*time.Second)),
	}

	contents := func(in *client.Inbox) []string {
		var res []string
		for _, m := range in.Messages() {
			res = append(res, m.Content)
		}
		return res
	}

	// relay hints first, snapshot second
	a := client.NewInbox()
	a.ApplyRelay(relayHint("m3", "third", base.Add(2*time.Second)))
	a.ApplyRelay(relayHint("m1", "first", base))
	a.ApplySnapshot(snapshot)

	// snapshot first, relay hints second
	b := client.NewInbox()
	b.ApplySnapshot(snapshot)
	b.ApplyRelay(relayHint("m2", "second", base.Add(time.Second)))

	want := []string{"first", "second", "third"}
	assert.Equal(t, want, contents(a))
	assert.Equal(t, want, contents(b))
}

func TestInboxPendingHintsRenderAfterSnapshot(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	inbox := client.NewInbox()
	inbox.ApplySnapshot([]*domain.Message{storeMsg("m1", "persisted", base)})

	// a hint not yet visible in the store renders at the tail
	inbox.ApplyRelay(relayHint("m2", "in flight", base.Add(time.Second)))

	msgs := inbox.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "persisted", msgs[0].Content)
	assert.Equal(t, "in flight", msgs[1].Content)

	// the next snapshot absorbs the hint; the persisted copy wins
	inbox.ApplySnapshot([]*domain.Message{
		storeMsg("m1", "persisted", base),
		storeMsg("m2", "in flight", base.Add(time.Second)),
	})
	assert.Equal(t, 2, inbox.Len())
}

func TestInboxIgnoresEmptyID(t *testing.T) {
	inbox := client.NewInbox()
	inbox.ApplyRelay(relayHint("", "ghost", time.Now()))
	assert.Equal(t, 0, inbox.Len())
}

func TestInboxMultiplePendingSortedByDelivery(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	inbox := client.NewInbox()
	inbox.ApplyRelay(relayHint("m2", "later", base.Add(time.Second)))
	inbox.ApplyRelay(relayHint("m1", "earlier", base))

	msgs := inbox.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier", msgs[0].Content)
	assert.Equal(t, "later", msgs[1].Content)
}
