package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"liveattend/internal/model"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	sessionColumns  = `id, class_id, title, meeting_link, status, started_at, ended_at, created_at`
	intervalColumns = `id, session_id, student_id, participant_name, participant_key, joined_at, left_at`
	recordColumns   = `id, session_id, student_id, participant_name, participant_key, status, total_duration_minutes, first_joined_at, last_left_at, updated_at`
	logColumns      = `l.id, l.session_id, l.student_id, COALESCE(s.name, ''), l.interaction_type, l.value, l.additional_data, l.occurred_at`
)

type scanner interface {
	Scan(dest ...any) error
}

// translate maps driver errors onto engine error kinds.
func translate(op string, err error, missing string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("%s", missing)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return conflict(op)
	}
	return internal(op, err)
}

func (r *Repository) GetClass(ctx context.Context, classID string) (model.Class, error) {
	var c model.Class
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, instructor_id FROM classes WHERE id = $1
	`, classID).Scan(&c.ID, &c.Name, &c.InstructorID)
	return c, translate("get class", err, "class "+classID+" not found")
}

func (r *Repository) GetStudent(ctx context.Context, studentID string) (model.Student, error) {
	var st model.Student
	err := r.db.QueryRowContext(ctx, `
		SELECT id, class_id, name, email, created_at FROM students WHERE id = $1
	`, studentID).Scan(&st.ID, &st.ClassID, &st.Name, &st.Email, &st.CreatedAt)
	return st, translate("get student", err, "student "+studentID+" not found")
}

func (r *Repository) ListStudents(ctx context.Context, classID string) ([]model.Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, class_id, name, email, created_at FROM students
		WHERE class_id = $1
		ORDER BY name
	`, classID)
	if err != nil {
		return nil, internal("list students", err)
	}
	defer rows.Close()
	var res []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.ClassID, &st.Name, &st.Email, &st.CreatedAt); err != nil {
			return nil, internal("scan student", err)
		}
		res = append(res, st)
	}
	return res, internal("list students", rows.Err())
}

func (r *Repository) CreateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, class_id, name, email)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, st.ID, st.ClassID, st.Name, st.Email).Scan(&st.CreatedAt)
	if err != nil {
		return model.Student{}, translate("student", err, "class "+st.ClassID+" not found")
	}
	return st, nil
}

func scanSession(row scanner) (model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.ClassID, &s.Title, &s.MeetingLink, &s.Status, &s.StartedAt, &s.EndedAt, &s.CreatedAt)
	return s, err
}

func (r *Repository) InsertSession(ctx context.Context, s model.Session) (model.Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, class_id, title, meeting_link, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+sessionColumns,
		s.ID, s.ClassID, s.Title, s.MeetingLink, s.Status, s.StartedAt, s.EndedAt)
	saved, err := scanSession(row)
	if err != nil {
		return model.Session{}, translate("session", err, "class "+s.ClassID+" not found")
	}
	return saved, nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	return s, translate("get session", err, "session "+sessionID+" not found")
}

func (r *Repository) UpdateSession(ctx context.Context, s model.Session) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET title = $2, meeting_link = $3, status = $4, started_at = $5, ended_at = $6
		WHERE id = $1
	`, s.ID, s.Title, s.MeetingLink, s.Status, s.StartedAt, s.EndedAt)
	if err != nil {
		return internal("update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("session %s not found", s.ID)
	}
	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return internal("begin delete session", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM participation_logs WHERE session_id = $1`,
		`DELETE FROM attendance_intervals WHERE session_id = $1`,
		`DELETE FROM attendance_records WHERE session_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return internal("delete session dependents", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return internal("delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("session %s not found", sessionID)
	}
	return internal("commit delete session", tx.Commit())
}

func scanInterval(row scanner) (model.Interval, error) {
	var iv model.Interval
	err := row.Scan(&iv.ID, &iv.SessionID, &iv.StudentID, &iv.ParticipantName, &iv.ParticipantKey, &iv.JoinedAt, &iv.LeftAt)
	return iv, err
}

func (r *Repository) queryIntervals(ctx context.Context, op, query string, args ...any) ([]model.Interval, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal(op, err)
	}
	defer rows.Close()
	var res []model.Interval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, internal(op, err)
		}
		res = append(res, iv)
	}
	return res, internal(op, rows.Err())
}

func (r *Repository) InsertInterval(ctx context.Context, iv model.Interval) (model.Interval, error) {
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_intervals (id, session_id, student_id, participant_name, participant_key, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+intervalColumns,
		iv.ID, iv.SessionID, iv.StudentID, iv.ParticipantName, iv.ParticipantKey, iv.JoinedAt, iv.LeftAt)
	saved, err := scanInterval(row)
	if err != nil {
		return model.Interval{}, translate("open interval", err, "session "+iv.SessionID+" not found")
	}
	return saved, nil
}

func (r *Repository) LatestOpenInterval(ctx context.Context, sessionID, key string) (model.Interval, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+intervalColumns+` FROM attendance_intervals
		WHERE session_id = $1 AND participant_key = $2 AND left_at IS NULL
		ORDER BY joined_at DESC
		LIMIT 1
	`, sessionID, key)
	iv, err := scanInterval(row)
	return iv, translate("latest open interval", err, "no open interval for this participant")
}

func (r *Repository) CloseInterval(ctx context.Context, intervalID string, leftAt time.Time) (model.Interval, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_intervals SET left_at = $2
		WHERE id = $1
		RETURNING `+intervalColumns, intervalID, leftAt)
	iv, err := scanInterval(row)
	return iv, translate("close interval", err, "interval "+intervalID+" not found")
}

func (r *Repository) CloseOpenIntervals(ctx context.Context, sessionID string, leftAt time.Time) ([]model.Interval, error) {
	return r.queryIntervals(ctx, "close open intervals", `
		UPDATE attendance_intervals SET left_at = GREATEST($2, joined_at)
		WHERE session_id = $1 AND left_at IS NULL
		RETURNING `+intervalColumns, sessionID, leftAt)
}

func (r *Repository) ListIntervals(ctx context.Context, sessionID, key string) ([]model.Interval, error) {
	return r.queryIntervals(ctx, "list intervals", `
		SELECT `+intervalColumns+` FROM attendance_intervals
		WHERE session_id = $1 AND participant_key = $2
		ORDER BY joined_at
	`, sessionID, key)
}

func (r *Repository) ListStudentIntervals(ctx context.Context, sessionID, studentID string) ([]model.Interval, error) {
	return r.queryIntervals(ctx, "list student intervals", `
		SELECT `+intervalColumns+` FROM attendance_intervals
		WHERE session_id = $1 AND student_id = $2
		ORDER BY joined_at
	`, sessionID, studentID)
}

func (r *Repository) ListOpenIntervals(ctx context.Context, sessionID string) ([]model.Interval, error) {
	return r.queryIntervals(ctx, "list open intervals", `
		SELECT `+intervalColumns+` FROM attendance_intervals
		WHERE session_id = $1 AND left_at IS NULL
		ORDER BY joined_at
	`, sessionID)
}

func (r *Repository) AssignIntervals(ctx context.Context, sessionID, key, studentID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_intervals SET student_id = $3
		WHERE session_id = $1 AND participant_key = $2
	`, sessionID, key, studentID)
	if err != nil {
		return 0, internal("assign intervals", err)
	}
	n, err := res.RowsAffected()
	return int(n), internal("assign intervals", err)
}

func scanRecord(row scanner) (model.Record, error) {
	var rec model.Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.ParticipantName, &rec.ParticipantKey,
		&rec.Status, &rec.TotalDurationMinutes, &rec.FirstJoinedAt, &rec.LastLeftAt, &rec.UpdatedAt)
	return rec, err
}

func (r *Repository) GetRecord(ctx context.Context, sessionID, key string) (model.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 AND participant_key = $2
	`, sessionID, key)
	rec, err := scanRecord(row)
	return rec, translate("get record", err, "no attendance record for this participant")
}

func (r *Repository) UpsertRecord(ctx context.Context, rec model.Record) (model.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id, participant_key) DO UPDATE SET
			student_id = COALESCE(EXCLUDED.student_id, attendance_records.student_id),
			first_joined_at = COALESCE(attendance_records.first_joined_at, EXCLUDED.first_joined_at),
			updated_at = EXCLUDED.updated_at
		RETURNING `+recordColumns,
		rec.ID, rec.SessionID, rec.StudentID, rec.ParticipantName, rec.ParticipantKey, rec.Status,
		rec.TotalDurationMinutes, rec.FirstJoinedAt, rec.LastLeftAt, rec.UpdatedAt)
	saved, err := scanRecord(row)
	if err != nil {
		return model.Record{}, translate("attendance record", err, "session "+rec.SessionID+" not found")
	}
	return saved, nil
}

func (r *Repository) InsertRecord(ctx context.Context, rec model.Record) (model.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+recordColumns,
		rec.ID, rec.SessionID, rec.StudentID, rec.ParticipantName, rec.ParticipantKey, rec.Status,
		rec.TotalDurationMinutes, rec.FirstJoinedAt, rec.LastLeftAt, rec.UpdatedAt)
	saved, err := scanRecord(row)
	if err != nil {
		return model.Record{}, translate("attendance record", err, "session "+rec.SessionID+" not found")
	}
	return saved, nil
}

func (r *Repository) UpdateRecordDuration(ctx context.Context, sessionID, key string, minutes int, firstJoinedAt, lastLeftAt *time.Time) (model.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET total_duration_minutes = $3, first_joined_at = $4, last_left_at = $5, updated_at = NOW()
		WHERE session_id = $1 AND participant_key = $2
		RETURNING `+recordColumns, sessionID, key, minutes, firstJoinedAt, lastLeftAt)
	rec, err := scanRecord(row)
	return rec, translate("update record duration", err, "no attendance record for this participant")
}

func (r *Repository) AssignRecord(ctx context.Context, sessionID, key, studentID string) (model.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records SET student_id = $3, updated_at = NOW()
		WHERE session_id = $1 AND participant_key = $2
		RETURNING `+recordColumns, sessionID, key, studentID)
	rec, err := scanRecord(row)
	return rec, translate("assign record", err, "no attendance record for this participant")
}

func (r *Repository) DeleteRecord(ctx context.Context, recordID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, recordID)
	if err != nil {
		return internal("delete record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("record %s not found", recordID)
	}
	return nil
}

func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]model.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1
		ORDER BY first_joined_at NULLS LAST, participant_name
	`, sessionID)
	if err != nil {
		return nil, internal("list records", err)
	}
	defer rows.Close()
	var res []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, internal("scan record", err)
		}
		res = append(res, rec)
	}
	return res, internal("list records", rows.Err())
}

func (r *Repository) InsertLog(ctx context.Context, entry model.ParticipationLog) (model.ParticipationLog, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var extra []byte
	if entry.AdditionalData != nil {
		encoded, err := json.Marshal(entry.AdditionalData)
		if err != nil {
			return model.ParticipationLog{}, invalidArgument("additional_data", "additional data is not serializable: %v", err)
		}
		extra = encoded
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO participation_logs (id, session_id, student_id, interaction_type, value, additional_data, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.SessionID, entry.StudentID, entry.InteractionType, entry.Value, extra, entry.Timestamp)
	if err != nil {
		return model.ParticipationLog{}, translate("participation log", err, "session "+entry.SessionID+" not found")
	}
	return entry, nil
}

func (r *Repository) ListLogs(ctx context.Context, sessionID string) ([]model.ParticipationLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+logColumns+`
		FROM participation_logs l
		LEFT JOIN students s ON s.id = l.student_id
		WHERE l.session_id = $1
		ORDER BY l.occurred_at
	`, sessionID)
	if err != nil {
		return nil, internal("list participation", err)
	}
	defer rows.Close()
	var res []model.ParticipationLog
	for rows.Next() {
		var (
			entry model.ParticipationLog
			extra []byte
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.StudentID, &entry.StudentName,
			&entry.InteractionType, &entry.Value, &extra, &entry.Timestamp); err != nil {
			return nil, internal("scan participation", err)
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &entry.AdditionalData); err != nil {
				return nil, internal("decode additional data", err)
			}
		}
		res = append(res, entry)
	}
	return res, internal("list participation", rows.Err())
}
