package attendance

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"liveattend/internal/events"
	"liveattend/internal/logging"
	"liveattend/internal/metrics"
	"liveattend/internal/model"
)

// Roles carried by callers.
const (
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
	RoleExtension  = "extension"
)

// Caller is the authenticated principal invoking an operation. Extension
// callers act on behalf of the instructor named by ID.
type Caller struct {
	ID   string
	Role string
}

// IsAdmin reports whether the caller may act on any class.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Broadcaster delivers live events to dashboard rooms. Implementations must
// not block on slow subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, evt events.Event) error
}

// Options tune a Service.
type Options struct {
	// LateAfter marks a participant late when their first join is later than
	// this past session start. Zero disables late marking.
	LateAfter time.Duration
	Now       func() time.Time
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Service runs the session lifecycle, interval tracking, attendance
// reconciliation and participation ledger on top of a Store.
type Service struct {
	store       Store
	broadcaster Broadcaster
	lateAfter   time.Duration
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *slog.Logger
	validate    *validator.Validate

	// sessions guards lifecycle transitions (exclusive) against participant
	// mutations (shared); participants serializes one participant's writes.
	sessions     *keyedLocker
	participants *keyedLocker
}

// NewService creates a service backed by a store. A nil broadcaster disables
// live fan-out.
func NewService(store Store, broadcaster Broadcaster, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		store:        store,
		broadcaster:  broadcaster,
		lateAfter:    opts.LateAfter,
		now:          func() time.Time { return opts.Now().UTC() },
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		validate:     v,
		sessions:     newKeyedLocker(),
		participants: newKeyedLocker(),
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if l := logging.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

func authorize(caller Caller, class model.Class) error {
	if caller.IsAdmin() {
		return nil
	}
	if caller.ID == "" || caller.ID != class.InstructorID {
		return permissionDenied("caller does not own class %s", class.ID)
	}
	return nil
}

// ownedClass loads a class and checks the caller owns it.
func (s *Service) ownedClass(ctx context.Context, caller Caller, classID string) (model.Class, error) {
	if classID == "" {
		return model.Class{}, invalidArgument("class_id", "class id required")
	}
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return model.Class{}, err
	}
	if err := authorize(caller, class); err != nil {
		return model.Class{}, err
	}
	return class, nil
}

// ownedSession loads a session with its class and checks the caller owns it.
func (s *Service) ownedSession(ctx context.Context, caller Caller, sessionID string) (model.Session, model.Class, error) {
	if sessionID == "" {
		return model.Session{}, model.Class{}, invalidArgument("session_id", "session id required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, model.Class{}, err
	}
	class, err := s.store.GetClass(ctx, sess.ClassID)
	if err != nil {
		return model.Session{}, model.Class{}, internal("load session class", err)
	}
	if err := authorize(caller, class); err != nil {
		return model.Session{}, model.Class{}, err
	}
	return sess, class, nil
}

// emit pushes a payload to the session's rooms. Failures are logged and never
// reach the caller.
func (s *Service) emit(ctx context.Context, sess model.Session, class model.Class, payload events.Payload) {
	if s.broadcaster == nil {
		return
	}
	evt := events.Event{
		SessionID:    sess.ID,
		InstructorID: class.InstructorID,
		Timestamp:    s.now(),
		Payload:      payload,
	}
	if err := s.broadcaster.Broadcast(ctx, evt); err != nil {
		s.log(ctx).Warn("broadcast failed", "event", evt.Name(), "session_id", sess.ID, "error", err)
	}
}
