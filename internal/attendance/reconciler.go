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

// upsertFromParticipant creates or touches the participant's record. A known
// student id is never cleared.
func (s *Service) upsertFromParticipant(ctx context.Context, sess model.Session, name, key string, studentID *string, joinedAt time.Time) (model.Record, error) {
	status := model.AttendancePresent
	if s.lateAfter > 0 && sess.StartedAt != nil && joinedAt.Sub(*sess.StartedAt) > s.lateAfter {
		status = model.AttendanceLate
	}
	rec, err := s.store.UpsertRecord(ctx, model.Record{
		SessionID:       sess.ID,
		StudentID:       studentID,
		ParticipantName: name,
		ParticipantKey:  key,
		Status:          status,
		FirstJoinedAt:   timePtr(joinedAt),
		UpdatedAt:       s.now(),
	})
	if err != nil {
		return model.Record{}, internal("upsert record", err)
	}
	return rec, nil
}

// refresh recomputes one participant's stored duration from their intervals.
func (s *Service) refresh(ctx context.Context, sessionID, key string, now time.Time) (model.Record, error) {
	intervals, err := s.store.ListIntervals(ctx, sessionID, key)
	if err != nil {
		return model.Record{}, internal("list intervals", err)
	}
	d := aggregate(intervals, now)
	return s.updateDuration(ctx, sessionID, key, d)
}

func (s *Service) updateDuration(ctx context.Context, sessionID, key string, d Duration) (model.Record, error) {
	rec, err := s.store.UpdateRecordDuration(ctx, sessionID, key, d.Minutes, d.FirstJoinedAt, d.LastLeftAt)
	if err != nil {
		return model.Record{}, internal("update duration", err)
	}
	return rec, nil
}

// recomputeAll refreshes every record that has intervals.
func (s *Service) recomputeAll(ctx context.Context, sessionID string, now time.Time) ([]model.Record, error) {
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, internal("list records", err)
	}
	out := make([]model.Record, 0, len(records))
	for _, rec := range records {
		intervals, err := s.store.ListIntervals(ctx, sessionID, rec.ParticipantKey)
		if err != nil {
			return nil, internal("list intervals", err)
		}
		if len(intervals) == 0 {
			out = append(out, rec)
			continue
		}
		updated, err := s.updateDuration(ctx, sessionID, rec.ParticipantKey, aggregate(intervals, now))
		if err != nil {
			return nil, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// markAbsentStudents inserts an absent record for every roster student with
// no record, matching by student id or by name.
func (s *Service) markAbsentStudents(ctx context.Context, sessionID, classID string) ([]model.Record, error) {
	roster, err := s.store.ListStudents(ctx, classID)
	if err != nil {
		return nil, internal("list students", err)
	}
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, internal("list records", err)
	}
	seenIDs := make(map[string]struct{}, len(records))
	seenKeys := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.StudentID != nil {
			seenIDs[*rec.StudentID] = struct{}{}
		}
		seenKeys[rec.ParticipantKey] = struct{}{}
	}

	var absent []model.Record
	for _, st := range roster {
		key := model.NormalizeName(st.Name)
		if _, ok := seenIDs[st.ID]; ok {
			continue
		}
		if _, ok := seenKeys[key]; ok {
			continue
		}
		rec, err := s.store.InsertRecord(ctx, model.Record{
			SessionID:       sessionID,
			StudentID:       stringPtr(st.ID),
			ParticipantName: st.Name,
			ParticipantKey:  key,
			Status:          model.AttendanceAbsent,
			UpdatedAt:       s.now(),
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, internal("insert absent record", err)
		}
		seenKeys[key] = struct{}{}
		absent = append(absent, rec)
	}
	return absent, nil
}

// LinkRequest attributes a participant to a roster student. Exactly one of
// StudentID and CreateStudent must be set.
type LinkRequest struct {
	SessionID       string
	ParticipantName string
	StudentID       string
	CreateStudent   bool
}

// LinkResult is the re-keyed record and the student it now belongs to.
type LinkResult struct {
	Record   model.Record  `json:"record"`
	Student  model.Student `json:"student"`
	Relinked int           `json:"intervals_linked"`
}

// LinkParticipant attributes a participant's record and all their intervals
// to a student, optionally creating the student from the participant name.
func (s *Service) LinkParticipant(ctx context.Context, caller Caller, req LinkRequest) (LinkResult, error) {
	name := strings.TrimSpace(req.ParticipantName)
	if name == "" {
		return LinkResult{}, invalidArgument("participant_name", "participant name required")
	}
	if (req.StudentID == "") == !req.CreateStudent {
		return LinkResult{}, invalidArgument("student_id", "exactly one of student_id or create_student is required")
	}
	key := model.NormalizeName(name)

	unlockSession := s.sessions.RLock(req.SessionID)
	defer unlockSession()

	sess, class, err := s.ownedSession(ctx, caller, req.SessionID)
	if err != nil {
		return LinkResult{}, err
	}

	unlock := s.participants.Lock(participantLockKey(sess.ID, key))
	defer unlock()

	rec, err := s.store.GetRecord(ctx, sess.ID, key)
	if err != nil {
		return LinkResult{}, err
	}

	var student model.Student
	if req.CreateStudent {
		if rec.StudentID != nil {
			return LinkResult{}, invalidState("participant is already linked to student %s", *rec.StudentID)
		}
		student, err = s.store.CreateStudent(ctx, model.Student{
			ClassID:   sess.ClassID,
			Name:      rec.ParticipantName,
			CreatedAt: s.now(),
		})
		if err != nil {
			return LinkResult{}, internal("create student", err)
		}
	} else {
		student, err = s.store.GetStudent(ctx, req.StudentID)
		if err != nil {
			return LinkResult{}, err
		}
		if student.ClassID != sess.ClassID {
			return LinkResult{}, invalidArgument("student_id", "student %s is not enrolled in this class", student.ID)
		}
		if rec.StudentID != nil && *rec.StudentID != student.ID {
			return LinkResult{}, invalidState("participant is already linked to student %s", *rec.StudentID)
		}
	}

	if err := s.dropPlaceholder(ctx, sess.ID, key, student.ID); err != nil {
		return LinkResult{}, err
	}
	n, err := s.store.AssignIntervals(ctx, sess.ID, key, student.ID)
	if err != nil {
		return LinkResult{}, internal("assign intervals", err)
	}
	rec, err = s.store.AssignRecord(ctx, sess.ID, key, student.ID)
	if err != nil {
		return LinkResult{}, internal("assign record", err)
	}
	s.log(ctx).Info("participant linked",
		"session_id", sess.ID, "participant", rec.ParticipantName, "student_id", student.ID, "intervals", n)
	s.emit(ctx, sess, class, events.AttendanceUpdatedData{Records: []model.Record{rec}})
	return LinkResult{Record: rec, Student: student, Relinked: n}, nil
}

// dropPlaceholder removes the absent record synthesized for a student who is
// now being linked to a participant under another name.
func (s *Service) dropPlaceholder(ctx context.Context, sessionID, key, studentID string) error {
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return internal("list records", err)
	}
	for _, other := range records {
		if other.ParticipantKey == key || other.StudentID == nil || *other.StudentID != studentID {
			continue
		}
		if other.Status != model.AttendanceAbsent || other.TotalDurationMinutes != 0 {
			return invalidState("student %s already has attendance as %q", studentID, other.ParticipantName)
		}
		if err := s.store.DeleteRecord(ctx, other.ID); err != nil {
			return internal("delete absent record", err)
		}
	}
	return nil
}

// AttendanceReport is the reconciled attendance of one session.
type AttendanceReport struct {
	Session model.Session           `json:"session"`
	Records []model.Record          `json:"records"`
	Summary model.AttendanceSummary `json:"summary"`
}

// SessionAttendance returns every record with summary statistics. Durations
// of participants still present are evaluated as of now.
func (s *Service) SessionAttendance(ctx context.Context, caller Caller, sessionID string) (AttendanceReport, error) {
	sess, _, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return AttendanceReport{}, err
	}
	records, err := s.store.ListRecords(ctx, sess.ID)
	if err != nil {
		return AttendanceReport{}, internal("list records", err)
	}
	open, err := s.store.ListOpenIntervals(ctx, sess.ID)
	if err != nil {
		return AttendanceReport{}, internal("list open intervals", err)
	}
	live := make(map[string]struct{}, len(open))
	for _, iv := range open {
		live[iv.ParticipantKey] = struct{}{}
	}
	now := s.now()
	for i, rec := range records {
		if _, ok := live[rec.ParticipantKey]; !ok {
			continue
		}
		intervals, err := s.store.ListIntervals(ctx, sess.ID, rec.ParticipantKey)
		if err != nil {
			return AttendanceReport{}, internal("list intervals", err)
		}
		d := aggregate(intervals, now)
		records[i].TotalDurationMinutes = d.Minutes
		records[i].FirstJoinedAt = d.FirstJoinedAt
	}
	return AttendanceReport{
		Session: sess,
		Records: records,
		Summary: summarize(records, len(live)),
	}, nil
}

// summarize computes counts, the mean duration of attendees and the share of
// records that attended, as a percentage.
func summarize(records []model.Record, currentlyPresent int) model.AttendanceSummary {
	sum := model.AttendanceSummary{Total: len(records), CurrentlyPresent: currentlyPresent}
	var minutes int
	for _, rec := range records {
		switch rec.Status {
		case model.AttendancePresent:
			sum.Present++
		case model.AttendanceLate:
			sum.Late++
		case model.AttendanceAbsent:
			sum.Absent++
		}
		if !rec.Matched() {
			sum.Unmatched++
		}
		if rec.Status != model.AttendanceAbsent {
			minutes += rec.TotalDurationMinutes
		}
	}
	attended := sum.Present + sum.Late
	if attended > 0 {
		sum.AverageDurationMinutes = round2(float64(minutes) / float64(attended))
	}
	if sum.Total > 0 {
		sum.AttendanceRate = round2(float64(attended) * 100 / float64(sum.Total))
	}
	return sum
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
