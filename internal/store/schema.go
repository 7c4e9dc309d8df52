package store

import (
	"context"
	"fmt"
)

// schema creates the engine tables. classes and students belong to the
// roster service; the engine reads them and adds students when linking.
const schema = `
CREATE TABLE IF NOT EXISTS classes (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	instructor_id TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS students (
	id         TEXT PRIMARY KEY,
	class_id   TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	class_id     TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	title        TEXT NOT NULL,
	meeting_link TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL CHECK (status IN ('scheduled', 'active', 'ended')),
	started_at   TIMESTAMPTZ,
	ended_at     TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_sessions_class ON sessions(class_id);

CREATE TABLE IF NOT EXISTS attendance_intervals (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	student_id       TEXT REFERENCES students(id) ON DELETE SET NULL,
	participant_name TEXT NOT NULL,
	participant_key  TEXT NOT NULL,
	joined_at        TIMESTAMPTZ NOT NULL,
	left_at          TIMESTAMPTZ,
	CHECK (left_at IS NULL OR left_at >= joined_at)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_intervals_one_open
	ON attendance_intervals(session_id, participant_key) WHERE left_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_intervals_participant
	ON attendance_intervals(session_id, participant_key, joined_at);
CREATE INDEX IF NOT EXISTS idx_intervals_student
	ON attendance_intervals(session_id, student_id);

CREATE TABLE IF NOT EXISTS attendance_records (
	id                     TEXT PRIMARY KEY,
	session_id             TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	student_id             TEXT REFERENCES students(id) ON DELETE SET NULL,
	participant_name       TEXT NOT NULL,
	participant_key        TEXT NOT NULL,
	status                 TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late')),
	total_duration_minutes INTEGER NOT NULL DEFAULT 0,
	first_joined_at        TIMESTAMPTZ,
	last_left_at           TIMESTAMPTZ,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (session_id, participant_key)
);

CREATE TABLE IF NOT EXISTS participation_logs (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	student_id       TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	interaction_type TEXT NOT NULL CHECK (interaction_type IN ('chat', 'reaction', 'mic_toggle', 'camera_toggle', 'manual_entry')),
	value            TEXT NOT NULL DEFAULT '',
	additional_data  JSONB,
	occurred_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_participation_session ON participation_logs(session_id, occurred_at);
`

// Migrate creates missing tables and indexes. It is safe to run on every
// start.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
