package attendance

import (
	"context"
	"strings"
	"time"

	"liveattend/internal/events"
	"liveattend/internal/model"
)

const titleTimeLayout = "Jan 2, 2006 3:04 PM"

// StartRequest describes a meeting the capture agent saw begin.
type StartRequest struct {
	ClassID     string
	MeetingLink string
	StartedAt   time.Time
	Title       string
}

// StartFromMeeting creates a session directly in the active state.
func (s *Service) StartFromMeeting(ctx context.Context, caller Caller, req StartRequest) (model.Session, error) {
	class, err := s.ownedClass(ctx, caller, req.ClassID)
	if err != nil {
		return model.Session{}, err
	}
	if strings.TrimSpace(req.MeetingLink) == "" {
		return model.Session{}, invalidArgument("meeting_link", "meeting link required")
	}
	startedAt := req.StartedAt.UTC()
	if req.StartedAt.IsZero() {
		startedAt = s.now()
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = class.Name + " - " + startedAt.Format(titleTimeLayout)
	}

	sess, err := s.store.InsertSession(ctx, model.Session{
		ClassID:     class.ID,
		Title:       title,
		MeetingLink: req.MeetingLink,
		Status:      model.StatusActive,
		StartedAt:   timePtr(startedAt),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return model.Session{}, internal("insert session", err)
	}
	s.metrics.SessionStarted()
	s.log(ctx).Info("session started", "session_id", sess.ID, "class_id", class.ID)
	s.emit(ctx, sess, class, events.SessionStartedData{Session: sess})
	return sess, nil
}

// Schedule creates a session in the scheduled state.
func (s *Service) Schedule(ctx context.Context, caller Caller, classID, title, meetingLink string) (model.Session, error) {
	class, err := s.ownedClass(ctx, caller, classID)
	if err != nil {
		return model.Session{}, err
	}
	if strings.TrimSpace(title) == "" {
		return model.Session{}, invalidArgument("title", "title required")
	}
	sess, err := s.store.InsertSession(ctx, model.Session{
		ClassID:     class.ID,
		Title:       strings.TrimSpace(title),
		MeetingLink: meetingLink,
		Status:      model.StatusScheduled,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return model.Session{}, internal("insert session", err)
	}
	return sess, nil
}

// Activate moves a scheduled session to active.
func (s *Service) Activate(ctx context.Context, caller Caller, sessionID string) (model.Session, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, class, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if sess.Status != model.StatusScheduled {
		return model.Session{}, invalidState("session can only be started if currently scheduled")
	}
	sess.Status = model.StatusActive
	sess.StartedAt = timePtr(s.now())
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return model.Session{}, internal("activate session", err)
	}
	s.metrics.SessionStarted()
	s.emit(ctx, sess, class, events.SessionStartedData{Session: sess})
	return sess, nil
}

// Get returns a session the caller owns.
func (s *Service) Get(ctx context.Context, caller Caller, sessionID string) (model.Session, error) {
	sess, _, err := s.ownedSession(ctx, caller, sessionID)
	return sess, err
}

// EndWithTimestamp ends an active session at endedAt: open intervals are
// closed, durations recomputed and untouched roster students marked absent.
// Ending an ended session returns it unchanged.
func (s *Service) EndWithTimestamp(ctx context.Context, caller Caller, sessionID string, endedAt time.Time) (model.Session, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, class, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	switch sess.Status {
	case model.StatusEnded:
		return sess, nil
	case model.StatusScheduled:
		return model.Session{}, invalidState("session can only be ended if currently active")
	}
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	return s.end(ctx, sess, class, endedAt.UTC())
}

// EndManual ends an active session now.
func (s *Service) EndManual(ctx context.Context, caller Caller, sessionID string) (model.Session, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, class, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if sess.Status != model.StatusActive {
		return model.Session{}, invalidState("session can only be ended if currently active")
	}
	return s.end(ctx, sess, class, s.now())
}

// end runs the reconciliation and flips the session to ended. Callers hold
// the session's exclusive lock. Each step tolerates being re-run after a
// partial failure.
func (s *Service) end(ctx context.Context, sess model.Session, class model.Class, endedAt time.Time) (model.Session, error) {
	if sess.StartedAt != nil && endedAt.Before(*sess.StartedAt) {
		return model.Session{}, invalidArgument("ended_at", "ended_at precedes the session start")
	}

	closed, err := s.closeAllOpen(ctx, sess.ID, endedAt)
	if err != nil {
		return model.Session{}, err
	}
	records, err := s.recomputeAll(ctx, sess.ID, endedAt)
	if err != nil {
		return model.Session{}, err
	}
	absent, err := s.markAbsentStudents(ctx, sess.ID, class.ID)
	if err != nil {
		return model.Session{}, err
	}

	sess.Status = model.StatusEnded
	sess.EndedAt = timePtr(endedAt)
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return model.Session{}, internal("end session", err)
	}
	s.metrics.SessionEnded()
	s.log(ctx).Info("session ended",
		"session_id", sess.ID, "closed_intervals", len(closed), "absent_marked", len(absent))

	for _, iv := range closed {
		minutes := 0
		for _, rec := range records {
			if rec.ParticipantKey == iv.ParticipantKey {
				minutes = rec.TotalDurationMinutes
				break
			}
		}
		s.emit(ctx, sess, class, events.ParticipantLeftData{Interval: iv, TotalDurationMinutes: minutes})
	}
	all := append(records, absent...)
	if len(all) > 0 {
		s.emit(ctx, sess, class, events.AttendanceUpdatedData{Records: all})
	}
	s.emit(ctx, sess, class, events.SessionEndedData{
		Session:         sess,
		ClosedIntervals: len(closed),
		AbsentMarked:    len(absent),
		Summary:         summarize(all, 0),
	})
	return sess, nil
}

// Delete removes a scheduled session and everything recorded against it.
func (s *Service) Delete(ctx context.Context, caller Caller, sessionID string) error {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, _, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != model.StatusScheduled {
		return invalidState("session can only be deleted while scheduled")
	}
	if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
		return internal("delete session", err)
	}
	return nil
}
