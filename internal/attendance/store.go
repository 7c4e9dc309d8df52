package attendance

import (
	"context"
	"time"

	"liveattend/internal/model"
)

// Store persists sessions, intervals, records and participation logs, and
// reads the roster owned by the class service. Lookups of missing rows return
// a KindNotFound error; uniqueness violations wrap ErrConflict.
//
// Participant keys are model.NormalizeName of the display name.
type Store interface {
	GetClass(ctx context.Context, classID string) (model.Class, error)
	GetStudent(ctx context.Context, studentID string) (model.Student, error)
	ListStudents(ctx context.Context, classID string) ([]model.Student, error)
	CreateStudent(ctx context.Context, st model.Student) (model.Student, error)

	InsertSession(ctx context.Context, s model.Session) (model.Session, error)
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	UpdateSession(ctx context.Context, s model.Session) error
	// DeleteSession removes the session with its logs, intervals and records.
	DeleteSession(ctx context.Context, sessionID string) error

	InsertInterval(ctx context.Context, iv model.Interval) (model.Interval, error)
	// LatestOpenInterval returns the most recently opened interval with no
	// left_at for the participant.
	LatestOpenInterval(ctx context.Context, sessionID, key string) (model.Interval, error)
	CloseInterval(ctx context.Context, intervalID string, leftAt time.Time) (model.Interval, error)
	// CloseOpenIntervals sets left_at on every open interval of the session
	// and returns the intervals it closed.
	CloseOpenIntervals(ctx context.Context, sessionID string, leftAt time.Time) ([]model.Interval, error)
	ListIntervals(ctx context.Context, sessionID, key string) ([]model.Interval, error)
	ListStudentIntervals(ctx context.Context, sessionID, studentID string) ([]model.Interval, error)
	ListOpenIntervals(ctx context.Context, sessionID string) ([]model.Interval, error)
	AssignIntervals(ctx context.Context, sessionID, key, studentID string) (int, error)

	GetRecord(ctx context.Context, sessionID, key string) (model.Record, error)
	// UpsertRecord creates the record or touches an existing one. An existing
	// student_id is kept when rec.StudentID is nil; status and first_joined_at
	// of an existing record are kept.
	UpsertRecord(ctx context.Context, rec model.Record) (model.Record, error)
	InsertRecord(ctx context.Context, rec model.Record) (model.Record, error)
	UpdateRecordDuration(ctx context.Context, sessionID, key string, minutes int, firstJoinedAt, lastLeftAt *time.Time) (model.Record, error)
	AssignRecord(ctx context.Context, sessionID, key, studentID string) (model.Record, error)
	DeleteRecord(ctx context.Context, recordID string) error
	ListRecords(ctx context.Context, sessionID string) ([]model.Record, error)

	InsertLog(ctx context.Context, entry model.ParticipationLog) (model.ParticipationLog, error)
	ListLogs(ctx context.Context, sessionID string) ([]model.ParticipationLog, error)
}
