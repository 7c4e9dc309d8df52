package testfixtures

import (
	"context"
	"sync"

	"liveattend/internal/events"
)

// Recorder is a broadcaster that keeps every event it is given.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	Err    error
}

// Broadcast records evt and returns r.Err.
func (r *Recorder) Broadcast(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]events.Name, 0, len(r.events))
	for _, evt := range r.events {
		names = append(names, evt.Name())
	}
	return names
}

// Count returns how many events named name were recorded.
func (r *Recorder) Count(name events.Name) int {
	n := 0
	for _, got := range r.Names() {
		if got == name {
			n++
		}
	}
	return n
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
