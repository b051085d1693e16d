package client

import (
	"sort"
	"sync"

	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/relay"
)

// Inbox reconciles the two message channels a conversation view receives:
// relay new_message hints (fast, unordered, possibly duplicated) and the
// store's live snapshot (authoritative content and order). Messages are
// de-duplicated by id; the rendered order is always the store's timestamp
// order, with not-yet-persisted relay hints appended after it.
type Inbox struct {
	mu       sync.Mutex
	snapshot []domain.Message
	inStore  map[string]struct{}
	pending  map[string]domain.Message
	order    []string
}

func NewInbox() *Inbox {
	return &Inbox{
		inStore: make(map[string]struct{}),
		pending: make(map[string]domain.Message),
	}
}

// ApplyRelay records a new_message hint. A hint whose id is already known,
// from the store or an earlier hint, is ignored.
func (i *Inbox) ApplyRelay(p relay.NewMessagePayload) {
	i.mu.Lock()
	defer i.mu.Unlock()

	id := p.Message.ID
	if id == "" {
		return
	}
	if _, ok := i.inStore[id]; ok {
		return
	}
	if _, ok := i.pending[id]; ok {
		return
	}

	i.pending[id] = domain.Message{
		ID:             id,
		ConversationID: p.ConversationID,
		SenderID:       p.Message.SenderID,
		SenderName:     p.Message.SenderName,
		Content:        p.Message.Content,
		Type:           p.Message.Type,
		PhotoURL:       p.Message.PhotoURL,
		CreatedAt:      p.DeliveredAt,
	}
	i.order = append(i.order, id)
}

// ApplySnapshot replaces the authoritative message list with the store's
// ordered snapshot. Pending relay hints now present in the store are
// discarded in favour of the persisted copy.
func (i *Inbox) ApplySnapshot(msgs []*domain.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.snapshot = make([]domain.Message, len(msgs))
	i.inStore = make(map[string]struct{}, len(msgs))
	for idx, m := range msgs {
		i.snapshot[idx] = *m
		i.inStore[m.ID] = struct{}{}
		delete(i.pending, m.ID)
	}

	kept := i.order[:0]
	for _, id := range i.order {
		if _, ok := i.pending[id]; ok {
			kept = append(kept, id)
		}
	}
	i.order = kept
}

// Messages returns the rendered list: the store snapshot in write order,
// followed by pending relay hints in delivery order.
func (i *Inbox) Messages() []domain.Message {
	i.mu.Lock()
	defer i.mu.Unlock()

	res := make([]domain.Message, 0, len(i.snapshot)+len(i.pending))
	res = append(res, i.snapshot...)

	tail := make([]domain.Message, 0, len(i.pending))
	for _, id := range i.order {
		if m, ok := i.pending[id]; ok {
			tail = append(tail, m)
		}
	}
	sort.SliceStable(tail, func(a, b int) bool {
		return tail[a].CreatedAt.Before(tail[b].CreatedAt)
	})
	return append(res, tail...)
}

// Len returns the number of distinct rendered messages.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.snapshot) + len(i.pending)
}
