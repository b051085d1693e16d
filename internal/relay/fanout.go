package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Fan-out scopes.
const (
	ScopeAll  = "all"
	ScopeRoom = "room"
)

// FanoutMessage is a relay broadcast forwarded between relay processes.
// Origin identifies the publishing process so it can ignore its own traffic.
type FanoutMessage struct {
	Origin         string   `json:"origin"`
	Scope          string   `json:"scope"`
	ConversationID string   `json:"conversationId,omitempty"`
	ExceptUserID   string   `json:"exceptUserId,omitempty"`
	Envelope       Envelope `json:"envelope"`
}

// Fanout bridges relay broadcasts across processes. The single-process
// deployment uses NoopFanout; multi-process deployments plug in RedisFanout.
type Fanout interface {
	Publish(ctx context.Context, msg FanoutMessage) error
	Start(ctx context.Context, apply func(FanoutMessage)) error
	Close() error
}

// NoopFanout keeps all traffic in-process.
type NoopFanout struct{}

func (NoopFanout) Publish(context.Context, FanoutMessage) error     { return nil }
func (NoopFanout) Start(context.Context, func(FanoutMessage)) error { return nil }
func (NoopFanout) Close() error                                     { return nil }

// RedisFanout bridges broadcasts over a Redis pub/sub channel.
type RedisFanout struct {
	rdb     *redis.Client
	channel string
	pubsub  *redis.PubSub
}

func NewRedisFanout(rdb *redis.Client, channel string) *RedisFanout {
	if channel == "" {
		channel = "relay:broadcast"
	}
	return &RedisFanout{rdb: rdb, channel: channel}
}

func (f *RedisFanout) Publish(ctx context.Context, msg FanoutMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal fanout message: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", f.channel, err)
	}
	return nil
}

// Start subscribes to the channel and applies incoming messages until ctx is
// cancelled or the pub/sub connection closes.
func (f *RedisFanout) Start(ctx context.Context, apply func(FanoutMessage)) error {
	f.pubsub = f.rdb.Subscribe(ctx, f.channel)
	if _, err := f.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", f.channel, err)
	}

	go func() {
		ch := f.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg FanoutMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					log.Printf("fanout: unmarshal message: %v", err)
					continue
				}
				apply(msg)
			}
		}
	}()
	return nil
}

func (f *RedisFanout) Close() error {
	if f.pubsub != nil {
		return f.pubsub.Close()
	}
	return nil
}
