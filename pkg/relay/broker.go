package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker fans published text out to every subscriber, across relay instances when it is shared.
type Broker interface {
	Publish(ctx context.Context, text string) error
	// Subscribe delivers every message published after it returns. The channel closes when ctx ends
	// or the broker closes.
	Subscribe(ctx context.Context) (<-chan string, error)
	Close() error
}

const subscriberBuffer = 16

// MemoryBroker is a Broker for a single relay process. A subscriber that falls behind loses its
// oldest undelivered messages, never the latest one.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[chan string]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for ch := range b.subs {
		select {
		case ch <- text:
			continue
		default:
		}
		// Full: drop the oldest. Only publishers send and they hold mu, so there is room after.
		select {
		case <-ch:
		default:
		}
		ch <- text
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	ch := make(chan string, subscriberBuffer)
	b.subs[ch] = struct{}{}
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}

// RedisBroker shares the text between relay instances over a redis pub/sub channel.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBroker(ctx context.Context, addr, channel string) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("connected to redis", "addr", addr, "channel", channel)
	return &RedisBroker{rdb: rdb, channel: channel}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, text string) error {
	if err := b.rdb.Publish(ctx, b.channel, text).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan string, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so no publish after this call is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
