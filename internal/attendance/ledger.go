package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"liveattend/internal/events"
	"liveattend/internal/model"
)

// Entry is one participation event to append.
type Entry struct {
	StudentID       string                `json:"student_id" validate:"required"`
	InteractionType model.InteractionType `json:"interaction_type" validate:"required,oneof=chat reaction mic_toggle camera_toggle manual_entry"`
	Value           string                `json:"value" validate:"max=4096"`
	AdditionalData  map[string]any        `json:"additional_data"`
	Timestamp       time.Time             `json:"timestamp"`
}

// BulkError describes one rejected item of a bulk append.
type BulkError struct {
	Index     int    `json:"index"`
	StudentID string `json:"student_id"`
	Kind      Kind   `json:"kind"`
	Error     string `json:"error"`
}

// BulkResult reports a bulk append. Items succeed or fail independently.
type BulkResult struct {
	Added   int                      `json:"added"`
	Failed  int                      `json:"failed"`
	Errors  []BulkError              `json:"errors"`
	Results []model.ParticipationLog `json:"results"`
}

// Append records one participation event for a student of an active session.
func (s *Service) Append(ctx context.Context, caller Caller, sessionID string, entry Entry) (model.ParticipationLog, error) {
	unlockSession := s.sessions.RLock(sessionID)
	defer unlockSession()

	sess, class, err := s.activeSession(ctx, caller, sessionID)
	if err != nil {
		return model.ParticipationLog{}, err
	}
	entryLog, err := s.appendOne(ctx, sess, entry)
	if err != nil {
		return model.ParticipationLog{}, err
	}
	s.emit(ctx, sess, class, events.ParticipationAddedData{Log: entryLog})
	s.emitChat(ctx, sess, class, entryLog)
	return entryLog, nil
}

// AppendBulk records a batch of participation events. Session checks run
// once; each item is validated and stored on its own.
func (s *Service) AppendBulk(ctx context.Context, caller Caller, sessionID string, entries []Entry) (BulkResult, error) {
	items := make([]bulkItem, len(entries))
	for i, entry := range entries {
		items[i] = bulkItem{entry: entry}
	}
	return s.appendBatch(ctx, caller, sessionID, items)
}

// AppendBulkJSON is AppendBulk for undecoded items. An item that does not
// decode is reported as failed without affecting the rest of the batch.
func (s *Service) AppendBulkJSON(ctx context.Context, caller Caller, sessionID string, raw []json.RawMessage) (BulkResult, error) {
	items := make([]bulkItem, len(raw))
	for i, data := range raw {
		items[i].entry, items[i].err = DecodeEntry(data)
	}
	return s.appendBatch(ctx, caller, sessionID, items)
}

type bulkItem struct {
	entry Entry
	err   error
}

// appendBatch stores each item independently and emits a single
// participation:bulk_added event carrying only the success count.
func (s *Service) appendBatch(ctx context.Context, caller Caller, sessionID string, items []bulkItem) (BulkResult, error) {
	if len(items) == 0 {
		return BulkResult{}, invalidArgument("logs", "at least one participation log required")
	}

	unlockSession := s.sessions.RLock(sessionID)
	defer unlockSession()

	sess, class, err := s.activeSession(ctx, caller, sessionID)
	if err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Errors: []BulkError{}, Results: []model.ParticipationLog{}}
	for i, item := range items {
		var entryLog model.ParticipationLog
		err := item.err
		if err == nil {
			entryLog, err = s.appendOne(ctx, sess, item.entry)
		}
		if err != nil {
			kind := KindOf(err)
			msg := err.Error()
			if kind == KindInternal {
				s.log(ctx).Error("bulk participation item failed", "session_id", sess.ID, "index", i, "error", err)
				msg = "internal error"
			}
			res.Failed++
			res.Errors = append(res.Errors, BulkError{Index: i, StudentID: item.entry.StudentID, Kind: kind, Error: msg})
			s.metrics.BulkItemFailed(string(kind))
			continue
		}
		res.Added++
		res.Results = append(res.Results, entryLog)
	}
	if res.Added > 0 {
		s.emit(ctx, sess, class, events.ParticipationBulkAddedData{Count: res.Added})
	}
	return res, nil
}

// DecodeEntry decodes one participation item. Numeric student ids are
// accepted as their decimal text. On failure the returned entry still
// carries whatever student id could be read.
func DecodeEntry(data json.RawMessage) (Entry, error) {
	var wire struct {
		Entry
		StudentID json.RawMessage `json:"student_id"`
	}
	err := json.Unmarshal(data, &wire)
	entry := wire.Entry
	id, idErr := decodeStudentID(wire.StudentID)
	entry.StudentID = id
	if err != nil {
		return entry, invalidArgument("", "invalid participation log: %v", err)
	}
	if idErr != nil {
		return entry, idErr
	}
	return entry, nil
}

func decodeStudentID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", invalidArgument("student_id", "student_id must be a string or number")
}

// ListParticipation returns the session's participation logs oldest first.
func (s *Service) ListParticipation(ctx context.Context, caller Caller, sessionID string) ([]model.ParticipationLog, error) {
	if _, _, err := s.ownedSession(ctx, caller, sessionID); err != nil {
		return nil, err
	}
	logs, err := s.store.ListLogs(ctx, sessionID)
	if err != nil {
		return nil, internal("list participation", err)
	}
	return logs, nil
}

func (s *Service) activeSession(ctx context.Context, caller Caller, sessionID string) (model.Session, model.Class, error) {
	sess, class, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return model.Session{}, model.Class{}, err
	}
	if sess.Status != model.StatusActive {
		return model.Session{}, model.Class{}, invalidState("participation can only be logged for an active session")
	}
	return sess, class, nil
}

func (s *Service) appendOne(ctx context.Context, sess model.Session, entry Entry) (model.ParticipationLog, error) {
	if err := s.validateEntry(entry); err != nil {
		return model.ParticipationLog{}, err
	}
	student, err := s.store.GetStudent(ctx, entry.StudentID)
	if IsKind(err, KindNotFound) {
		return model.ParticipationLog{}, notFound("Invalid student %s: student not found", entry.StudentID)
	}
	if err != nil {
		return model.ParticipationLog{}, internal("load student", err)
	}
	if student.ClassID != sess.ClassID {
		return model.ParticipationLog{}, invalidArgument("student_id", "Invalid student %s: not enrolled in this class", entry.StudentID)
	}

	ts := entry.Timestamp.UTC()
	if entry.Timestamp.IsZero() {
		ts = s.now()
	}
	entryLog, err := s.store.InsertLog(ctx, model.ParticipationLog{
		SessionID:       sess.ID,
		StudentID:       student.ID,
		InteractionType: entry.InteractionType,
		Value:           entry.Value,
		AdditionalData:  entry.AdditionalData,
		Timestamp:       ts,
	})
	if err != nil {
		return model.ParticipationLog{}, internal("insert participation", err)
	}
	entryLog.StudentName = student.Name
	s.metrics.ParticipationAppended(string(entry.InteractionType))
	return entryLog, nil
}

func (s *Service) validateEntry(entry Entry) error {
	err := s.validate.Struct(entry)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalidArgument("", "invalid participation entry")
	}
	fe := verrs[0]
	switch {
	case fe.Field() == "interaction_type" && fe.Tag() == "oneof":
		return invalidArgument(fe.Field(), "unknown interaction type %q", entry.InteractionType)
	case fe.Tag() == "required":
		return invalidArgument(fe.Field(), "%s required", fe.Field())
	default:
		return invalidArgument(fe.Field(), "%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func (s *Service) emitChat(ctx context.Context, sess model.Session, class model.Class, entryLog model.ParticipationLog) {
	if entryLog.InteractionType != model.InteractionChat {
		return
	}
	s.emit(ctx, sess, class, events.ChatMessageData{
		StudentID:       entryLog.StudentID,
		ParticipantName: entryLog.StudentName,
		Message:         entryLog.Value,
	})
}
