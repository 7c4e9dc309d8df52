package bus

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrBusFull is returned when a subscriber could not take a message.
	ErrBusFull = errors.New("bus: subscriber buffer full")
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus: closed")
)

// Message is one encoded event frame addressed to hub rooms.
type Message struct {
	Rooms []string `cbor:"1,keyasint"`
	Event string   `cbor:"2,keyasint"`
	Frame []byte   `cbor:"3,keyasint"`
}

// Bus carries frames between every API instance. Each subscriber receives
// every message published after it subscribed.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context) (<-chan Message, error)
	Close() error
}

// InMemory is a channel-backed bus for a single process.
type InMemory struct {
	size   int
	mu     sync.RWMutex
	subs   map[chan Message]struct{}
	closed bool
}

// NewInMemory creates a bus whose subscribers buffer size messages.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 256
	}
	return &InMemory{size: size, subs: make(map[chan Message]struct{})}
}

// Publish hands msg to every subscriber without blocking. Subscribers with a
// full buffer miss the message and ErrBusFull is returned.
func (b *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	var full bool
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			full = true
		}
	}
	if full {
		return ErrBusFull
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done or the bus is closed.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch := make(chan Message, b.size)
	b.subs[ch] = struct{}{}
	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()
	return ch, nil
}

func (b *InMemory) remove(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Close ends every subscription.
func (b *InMemory) Close() error {
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
