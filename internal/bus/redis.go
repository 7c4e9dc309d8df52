package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "liveattend:events"

// Redis fans messages out to every instance over Redis pub/sub. Delivery is
// at-most-once; instances that are disconnected miss messages.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// NewRedis builds a bus on an existing client. The client stays owned by
// the caller.
func NewRedis(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: channel, logger: logger, subs: make(map[*redis.PubSub]struct{})}
}

// Publish encodes msg and publishes it on the channel.
func (b *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Subscribe streams decoded messages until ctx is done or the bus is closed.
func (b *Redis) Subscribe(ctx context.Context) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ps := b.client.Subscribe(ctx, b.channel)
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	if _, err := ps.Receive(ctx); err != nil {
		b.release(ps)
		return nil, fmt.Errorf("bus: subscribe %s: %w", b.channel, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer b.release(ps)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg, err := Decode([]byte(m.Payload))
				if err != nil {
					b.logger.Warn("dropping undecodable bus message", "channel", b.channel, "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Redis) release(ps *redis.PubSub) {
	b.mu.Lock()
	_, ok := b.subs[ps]
	delete(b.subs, ps)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

// Close ends every subscription. The client is left open.
func (b *Redis) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redis.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	b.mu.Unlock()
	for _, ps := range subs {
		b.release(ps)
	}
	return nil
}
