package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"liveattend/internal/bus"
	"liveattend/internal/events"
	"liveattend/internal/metrics"
)

// Principal is the identity a connection authenticated as.
type Principal struct {
	Subject string
	Role    string
}

// Roles with special room rules.
const (
	RoleAdmin     = "admin"
	RoleExtension = "extension"
)

// Authenticator verifies an access token presented at connect time.
type Authenticator func(token string) (Principal, error)

// Options tune a Hub.
type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

func (o *Options) defaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Hub publishes events to the bus and delivers bus messages to the members
// of local rooms.
type Hub struct {
	bus      bus.Bus
	registry *Registry
	opts     Options

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped hub.
func New(b bus.Bus, registry *Registry, opts Options) *Hub {
	opts.defaults()
	if registry == nil {
		registry = NewRegistry()
	}
	return &Hub{bus: b, registry: registry, opts: opts}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Running reports whether the hub is delivering messages.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Start subscribes to the bus and begins delivering to local rooms.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	msgs, err := h.bus.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("hub: subscribe: %w", err)
	}
	h.running = true
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(runCtx, msgs, h.done)
	h.opts.Logger.Info("hub started")
	return nil
}

func (h *Hub) run(ctx context.Context, msgs <-chan bus.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.deliver(msg)
		}
	}
}

// deliver hands a frame to every local member of its rooms, once per
// connection.
func (h *Hub) deliver(msg bus.Message) {
	seen := make(map[string]struct{})
	for _, room := range msg.Rooms {
		for _, c := range h.registry.Members(room) {
			if _, ok := seen[c.id]; ok {
				continue
			}
			seen[c.id] = struct{}{}
			if !c.Enqueue(msg.Frame) {
				h.opts.Metrics.FrameDropped()
				h.opts.Logger.Debug("frame dropped", "connection_id", c.id, "event", msg.Event)
			}
		}
	}
}

// Stop ends delivery, closes every connection and empties the registry.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	cancel()
	<-done
	conns := h.registry.Reset()
	for _, c := range conns {
		_ = c.Close()
		h.opts.Metrics.ConnectionClosed()
	}
	h.opts.Logger.Info("hub stopped", "closed_connections", len(conns))
	return nil
}

// Broadcast encodes evt as a frame and publishes it to its rooms on every
// instance.
func (h *Hub) Broadcast(ctx context.Context, evt events.Event) error {
	frame, err := json.Marshal(evt)
	if err != nil {
		h.opts.Metrics.PublishFailed()
		return fmt.Errorf("hub: encode %s: %w", evt.Name(), err)
	}
	msg := bus.Message{Rooms: evt.Rooms(), Event: string(evt.Name()), Frame: frame}
	if err := h.bus.Publish(ctx, msg); err != nil && !errors.Is(err, bus.ErrBusFull) {
		h.opts.Metrics.PublishFailed()
		return fmt.Errorf("hub: publish %s: %w", evt.Name(), err)
	}
	h.opts.Metrics.EventPublished(string(evt.Name()))
	return nil
}

// presence announces an extension entering or leaving a session room.
func (h *Hub) presence(c *Connection, room string, connected bool) {
	if c.principal.Role != RoleExtension {
		return
	}
	scope, sessionID, ok := events.ParseRoom(room)
	if !ok || scope != events.ScopeSession {
		return
	}
	var payload events.Payload = events.ExtensionDisconnectedData{ConnectionID: c.id}
	if connected {
		payload = events.ExtensionConnectedData{ConnectionID: c.id}
	}
	evt := events.Event{
		SessionID:    sessionID,
		InstructorID: c.principal.Subject,
		Timestamp:    h.opts.Now().UTC(),
		Payload:      payload,
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
	defer cancel()
	if err := h.Broadcast(ctx, evt); err != nil {
		h.opts.Logger.Warn("presence broadcast failed", "connection_id", c.id, "error", err)
	}
}
