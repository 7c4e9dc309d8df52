package attendance

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"liveattend/internal/events"
	"liveattend/internal/model"
)

// JoinRequest is a participant appearing in the meeting.
type JoinRequest struct {
	SessionID       string
	ParticipantName string
	StudentID       string
	JoinedAt        time.Time
}

// JoinResult reports the interval opened by a join. Duplicate is set when the
// participant was already present and nothing was written.
type JoinResult struct {
	Interval  model.Interval `json:"interval"`
	Matched   bool           `json:"matched"`
	StudentID *string        `json:"student_id"`
	Duplicate bool           `json:"duplicate"`
	Record    model.Record   `json:"record"`
}

// LeaveResult reports the interval closed by a leave.
type LeaveResult struct {
	Interval             model.Interval `json:"interval"`
	TotalDurationMinutes int            `json:"total_duration_minutes"`
}

// Duration aggregates every interval of one participant.
type Duration struct {
	ParticipantName string        `json:"participant_name,omitempty"`
	Total           time.Duration `json:"-"`
	Seconds         float64       `json:"total_seconds"`
	Minutes         int           `json:"total_minutes"`
	FirstJoinedAt   *time.Time    `json:"first_joined_at"`
	LastLeftAt      *time.Time    `json:"last_left_at"`
	IntervalCount   int           `json:"interval_count"`
	Open            bool          `json:"open"`
}

// roundMinutes converts a duration to whole minutes, rounding to nearest.
func roundMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// aggregate sums intervals, counting open ones up to now.
func aggregate(intervals []model.Interval, now time.Time) Duration {
	var out Duration
	for _, iv := range intervals {
		out.Total += iv.DurationAt(now)
		out.IntervalCount++
		if out.ParticipantName == "" {
			out.ParticipantName = iv.ParticipantName
		}
		if out.FirstJoinedAt == nil || iv.JoinedAt.Before(*out.FirstJoinedAt) {
			out.FirstJoinedAt = timePtr(iv.JoinedAt)
		}
		end := now
		if iv.LeftAt != nil {
			end = *iv.LeftAt
		} else {
			out.Open = true
		}
		if out.LastLeftAt == nil || end.After(*out.LastLeftAt) {
			out.LastLeftAt = timePtr(end)
		}
	}
	out.Seconds = out.Total.Seconds()
	out.Minutes = roundMinutes(out.Total)
	return out
}

// RecordJoin opens a presence interval for a participant of an active
// session and upserts their attendance record.
func (s *Service) RecordJoin(ctx context.Context, caller Caller, req JoinRequest) (JoinResult, error) {
	name := strings.TrimSpace(req.ParticipantName)
	if name == "" {
		return JoinResult{}, invalidArgument("participant_name", "participant name required")
	}
	key := model.NormalizeName(name)

	unlockSession := s.sessions.RLock(req.SessionID)
	defer unlockSession()

	sess, class, err := s.ownedSession(ctx, caller, req.SessionID)
	if err != nil {
		return JoinResult{}, err
	}
	if sess.Status != model.StatusActive {
		return JoinResult{}, invalidState("participants can only join an active session")
	}

	unlock := s.participants.Lock(participantLockKey(sess.ID, key))
	defer unlock()

	if open, err := s.store.LatestOpenInterval(ctx, sess.ID, key); err == nil {
		return s.duplicateJoin(ctx, open)
	} else if !IsKind(err, KindNotFound) {
		return JoinResult{}, internal("find open interval", err)
	}

	studentID, err := s.resolveStudent(ctx, sess, key, req.StudentID)
	if err != nil {
		return JoinResult{}, err
	}

	joinedAt := req.JoinedAt.UTC()
	if req.JoinedAt.IsZero() {
		joinedAt = s.now()
	}
	iv, err := s.store.InsertInterval(ctx, model.Interval{
		SessionID:       sess.ID,
		StudentID:       studentID,
		ParticipantName: name,
		ParticipantKey:  key,
		JoinedAt:        joinedAt,
	})
	if errors.Is(err, ErrConflict) {
		open, lerr := s.store.LatestOpenInterval(ctx, sess.ID, key)
		if lerr != nil {
			return JoinResult{}, internal("find open interval", lerr)
		}
		return s.duplicateJoin(ctx, open)
	}
	if err != nil {
		return JoinResult{}, internal("insert interval", err)
	}

	rec, err := s.upsertFromParticipant(ctx, sess, name, key, studentID, joinedAt)
	if err != nil {
		return JoinResult{}, err
	}
	s.metrics.IntervalOpened()
	s.log(ctx).Debug("participant joined", "session_id", sess.ID, "participant", name, "matched", rec.Matched())

	s.emit(ctx, sess, class, events.ParticipantJoinedData{Interval: iv, Matched: rec.Matched()})
	s.emit(ctx, sess, class, events.AttendanceUpdatedData{Records: []model.Record{rec}})
	return JoinResult{
		Interval:  iv,
		Matched:   rec.Matched(),
		StudentID: rec.StudentID,
		Record:    rec,
	}, nil
}

func (s *Service) duplicateJoin(ctx context.Context, open model.Interval) (JoinResult, error) {
	s.metrics.DuplicateJoin()
	res := JoinResult{Interval: open, StudentID: open.StudentID, Duplicate: true}
	rec, err := s.store.GetRecord(ctx, open.SessionID, open.ParticipantKey)
	switch {
	case err == nil:
		res.Record = rec
		res.StudentID = rec.StudentID
	case !IsKind(err, KindNotFound):
		return JoinResult{}, internal("load record", err)
	}
	res.Matched = res.StudentID != nil
	return res, nil
}

// resolveStudent validates an explicit student id, or matches the name
// against the class roster and then against an earlier link in the session.
func (s *Service) resolveStudent(ctx context.Context, sess model.Session, key, studentID string) (*string, error) {
	if studentID != "" {
		st, err := s.store.GetStudent(ctx, studentID)
		if err != nil {
			return nil, err
		}
		if st.ClassID != sess.ClassID {
			return nil, invalidArgument("student_id", "student %s is not enrolled in this class", studentID)
		}
		return stringPtr(st.ID), nil
	}

	roster, err := s.store.ListStudents(ctx, sess.ClassID)
	if err != nil {
		return nil, internal("list students", err)
	}
	for _, st := range roster {
		if model.NormalizeName(st.Name) == key {
			return stringPtr(st.ID), nil
		}
	}

	rec, err := s.store.GetRecord(ctx, sess.ID, key)
	switch {
	case err == nil:
		return rec.StudentID, nil
	case IsKind(err, KindNotFound):
		return nil, nil
	default:
		return nil, internal("load record", err)
	}
}

// LeaveRequest is a participant dropping out of the meeting.
type LeaveRequest struct {
	SessionID       string
	ParticipantName string
	LeftAt          time.Time
}

// RecordLeave closes the participant's most recent open interval and
// recomputes their total duration.
func (s *Service) RecordLeave(ctx context.Context, caller Caller, req LeaveRequest) (LeaveResult, error) {
	name := strings.TrimSpace(req.ParticipantName)
	if name == "" {
		return LeaveResult{}, invalidArgument("participant_name", "participant name required")
	}
	key := model.NormalizeName(name)

	unlockSession := s.sessions.RLock(req.SessionID)
	defer unlockSession()

	sess, class, err := s.ownedSession(ctx, caller, req.SessionID)
	if err != nil {
		return LeaveResult{}, err
	}

	unlock := s.participants.Lock(participantLockKey(sess.ID, key))
	defer unlock()

	open, err := s.store.LatestOpenInterval(ctx, sess.ID, key)
	if err != nil {
		return LeaveResult{}, err
	}
	leftAt := req.LeftAt.UTC()
	if req.LeftAt.IsZero() {
		leftAt = s.now()
	}
	if leftAt.Before(open.JoinedAt) {
		leftAt = open.JoinedAt
	}
	closed, err := s.store.CloseInterval(ctx, open.ID, leftAt)
	if err != nil {
		return LeaveResult{}, internal("close interval", err)
	}
	s.metrics.IntervalsClosed(1)

	rec, err := s.refresh(ctx, sess.ID, key, s.now())
	if err != nil {
		return LeaveResult{}, err
	}
	s.emit(ctx, sess, class, events.ParticipantLeftData{Interval: closed, TotalDurationMinutes: rec.TotalDurationMinutes})
	s.emit(ctx, sess, class, events.AttendanceUpdatedData{Records: []model.Record{rec}})
	return LeaveResult{Interval: closed, TotalDurationMinutes: rec.TotalDurationMinutes}, nil
}

// closeAllOpen closes every open interval of the session at endedAt.
func (s *Service) closeAllOpen(ctx context.Context, sessionID string, endedAt time.Time) ([]model.Interval, error) {
	closed, err := s.store.CloseOpenIntervals(ctx, sessionID, endedAt)
	if err != nil {
		return nil, internal("close open intervals", err)
	}
	s.metrics.IntervalsClosed(len(closed))
	return closed, nil
}

// TotalDuration sums a participant's intervals as of now.
func (s *Service) TotalDuration(ctx context.Context, caller Caller, sessionID, participantName string) (Duration, error) {
	key := model.NormalizeName(participantName)
	if key == "" {
		return Duration{}, invalidArgument("participant_name", "participant name required")
	}
	if _, _, err := s.ownedSession(ctx, caller, sessionID); err != nil {
		return Duration{}, err
	}
	intervals, err := s.store.ListIntervals(ctx, sessionID, key)
	if err != nil {
		return Duration{}, internal("list intervals", err)
	}
	return aggregate(intervals, s.now()), nil
}

// TotalDurationForStudent sums the intervals attributed to a student.
func (s *Service) TotalDurationForStudent(ctx context.Context, caller Caller, sessionID, studentID string) (Duration, error) {
	if studentID == "" {
		return Duration{}, invalidArgument("student_id", "student id required")
	}
	if _, _, err := s.ownedSession(ctx, caller, sessionID); err != nil {
		return Duration{}, err
	}
	intervals, err := s.store.ListStudentIntervals(ctx, sessionID, studentID)
	if err != nil {
		return Duration{}, internal("list intervals", err)
	}
	return aggregate(intervals, s.now()), nil
}

// CurrentlyPresent lists the open intervals of the session.
func (s *Service) CurrentlyPresent(ctx context.Context, caller Caller, sessionID string) ([]model.Interval, error) {
	if _, _, err := s.ownedSession(ctx, caller, sessionID); err != nil {
		return nil, err
	}
	open, err := s.store.ListOpenIntervals(ctx, sessionID)
	if err != nil {
		return nil, internal("list open intervals", err)
	}
	return open, nil
}
