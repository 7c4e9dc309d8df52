package model

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a tracked meeting.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusActive    SessionStatus = "active"
	StatusEnded     SessionStatus = "ended"
)

// Class is owned by the roster service; the engine only reads it.
type Class struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	InstructorID string `json:"instructor_id"`
}

// Student represents a roster member of a class.
type Student struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"class_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one tracked occurrence of a class meeting.
type Session struct {
	ID          string        `json:"id"`
	ClassID     string        `json:"class_id"`
	Title       string        `json:"title"`
	MeetingLink string        `json:"meeting_link"`
	Status      SessionStatus `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Interval is one continuous presence span of a participant.
type Interval struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	StudentID       *string    `json:"student_id"`
	ParticipantName string     `json:"participant_name"`
	ParticipantKey  string     `json:"-"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at"`
}

// Open reports whether the participant is still present in this span.
func (i Interval) Open() bool { return i.LeftAt == nil }

// DurationAt returns the span length, counting an open interval up to now.
func (i Interval) DurationAt(now time.Time) time.Duration {
	end := now
	if i.LeftAt != nil {
		end = *i.LeftAt
	}
	d := end.Sub(i.JoinedAt)
	if d < 0 {
		return 0
	}
	return d
}

// AttendanceStatus is the reconciled presence outcome of a participant.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
)

// Record is the durable attendance summary of one participant in one session.
type Record struct {
	ID                   string           `json:"id"`
	SessionID            string           `json:"session_id"`
	StudentID            *string          `json:"student_id"`
	ParticipantName      string           `json:"participant_name"`
	ParticipantKey       string           `json:"-"`
	Status               AttendanceStatus `json:"status"`
	TotalDurationMinutes int              `json:"total_duration_minutes"`
	FirstJoinedAt        *time.Time       `json:"first_joined_at"`
	LastLeftAt           *time.Time       `json:"last_left_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Matched reports whether the record is attributed to a roster student.
func (r Record) Matched() bool { return r.StudentID != nil }

// InteractionType classifies a participation log entry.
type InteractionType string

const (
	InteractionChat         InteractionType = "chat"
	InteractionReaction     InteractionType = "reaction"
	InteractionMicToggle    InteractionType = "mic_toggle"
	InteractionCameraToggle InteractionType = "camera_toggle"
	InteractionManualEntry  InteractionType = "manual_entry"
)

// Valid reports whether t is one of the fixed interaction types.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionChat, InteractionReaction, InteractionMicToggle, InteractionCameraToggle, InteractionManualEntry:
		return true
	}
	return false
}

// ParticipationLog is an immutable discrete interaction event.
type ParticipationLog struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	StudentID       string          `json:"student_id"`
	StudentName     string          `json:"student_name,omitempty"`
	InteractionType InteractionType `json:"interaction_type"`
	Value           string          `json:"value,omitempty"`
	AdditionalData  map[string]any  `json:"additional_data,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// AttendanceSummary aggregates the records of a session.
type AttendanceSummary struct {
	Total                  int     `json:"total"`
	Present                int     `json:"present"`
	Late                   int     `json:"late"`
	Absent                 int     `json:"absent"`
	Unmatched              int     `json:"unmatched"`
	CurrentlyPresent       int     `json:"currently_present"`
	AverageDurationMinutes float64 `json:"average_duration_minutes"`
	AttendanceRate         float64 `json:"attendance_rate"`
}

// NormalizeName returns the key under which participant names are compared.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
