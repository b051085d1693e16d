package client

import (
	"sync"
	"time"

	"github.com/IreinStark/marketgo/internal/relay"
)

// typingTracker forwards typing events and clears indicators that are never
// followed by a typing_stop: each typing_start arms a TTL timer that
// synthesizes an isTyping=false event when no renewal arrives.
type typingTracker struct {
	ttl  time.Duration
	emit func(relay.TypingPayload)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTypingTracker(ttl time.Duration, emit func(relay.TypingPayload)) *typingTracker {
	return &typingTracker{
		ttl:    ttl,
		emit:   emit,
		timers: make(map[string]*time.Timer),
	}
}

func typingKey(p relay.TypingPayload) string {
	return p.ConversationID + "\x00" + p.UserID
}

func (t *typingTracker) observe(p relay.TypingPayload) {
	key := typingKey(p)

	t.mu.Lock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	if p.IsTyping {
		stale := p
		stale.IsTyping = false
		t.timers[key] = time.AfterFunc(t.ttl, func() {
			t.mu.Lock()
			delete(t.timers, key)
			t.mu.Unlock()
			t.emit(stale)
		})
	}
	t.mu.Unlock()

	t.emit(p)
}

func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
