// Package events defines the closed set of live events pushed to dashboard
// clients and the rooms each event is delivered to.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"liveattend/internal/model"
)

// Name is the wire name of an event.
type Name string

const (
	SessionStarted               Name = "session:started"
	SessionEnded                 Name = "session:ended"
	ParticipantJoined            Name = "participant:joined"
	ParticipantLeft              Name = "participant:left"
	AttendanceUpdated            Name = "attendance:updated"
	ParticipationLogged          Name = "participation:logged"
	ParticipationAdded           Name = "participation:added"
	ParticipationBulkAdded       Name = "participation:bulk_added"
	ChatMessage                  Name = "chat:message"
	SessionExtensionConnected    Name = "session:extension_connected"
	SessionExtensionDisconnected Name = "session:extension_disconnected"
)

const (
	sessionRoomPrefix    = "session_"
	instructorRoomPrefix = "instructor_"
)

// Room scopes returned by ParseRoom.
const (
	ScopeSession    = "session"
	ScopeInstructor = "instructor"
)

// SessionRoom names the room that receives every event of one session.
func SessionRoom(sessionID string) string { return sessionRoomPrefix + sessionID }

// InstructorRoom names the room that receives events of all sessions owned
// by an instructor.
func InstructorRoom(instructorID string) string { return instructorRoomPrefix + instructorID }

// ParseRoom splits a room name into its scope and id.
func ParseRoom(room string) (scope, id string, ok bool) {
	switch {
	case strings.HasPrefix(room, sessionRoomPrefix):
		scope, id = ScopeSession, strings.TrimPrefix(room, sessionRoomPrefix)
	case strings.HasPrefix(room, instructorRoomPrefix):
		scope, id = ScopeInstructor, strings.TrimPrefix(room, instructorRoomPrefix)
	default:
		return "", "", false
	}
	return scope, id, id != ""
}

// Payload is implemented only by the types in this package.
type Payload interface {
	EventName() Name
	payload()
}

type SessionStartedData struct {
	Session model.Session `json:"session"`
}

type SessionEndedData struct {
	Session         model.Session           `json:"session"`
	ClosedIntervals int                     `json:"closed_intervals"`
	AbsentMarked    int                     `json:"absent_marked"`
	Summary         model.AttendanceSummary `json:"summary"`
}

type ParticipantJoinedData struct {
	Interval model.Interval `json:"interval"`
	Matched  bool           `json:"matched"`
}

type ParticipantLeftData struct {
	Interval             model.Interval `json:"interval"`
	TotalDurationMinutes int            `json:"total_duration_minutes"`
}

type AttendanceUpdatedData struct {
	Records []model.Record `json:"records"`
}

// ParticipationLoggedData is a live-only interaction notice relayed by the
// capture agent; it is not persisted.
type ParticipationLoggedData struct {
	StudentID       string                `json:"student_id,omitempty"`
	ParticipantName string                `json:"participant_name,omitempty"`
	InteractionType model.InteractionType `json:"interaction_type"`
	Value           string                `json:"value,omitempty"`
}

type ParticipationAddedData struct {
	Log model.ParticipationLog `json:"log"`
}

type ParticipationBulkAddedData struct {
	Count int `json:"count"`
}

type ChatMessageData struct {
	StudentID       string `json:"student_id,omitempty"`
	ParticipantName string `json:"participant_name,omitempty"`
	Message         string `json:"message"`
}

type ExtensionConnectedData struct {
	ConnectionID string `json:"connection_id"`
}

type ExtensionDisconnectedData struct {
	ConnectionID string `json:"connection_id"`
}

// Unrecognized carries an event name outside the taxonomy. It is forwarded
// verbatim to the session room only.
type Unrecognized struct {
	Name string
	Data json.RawMessage
}

func (SessionStartedData) EventName() Name         { return SessionStarted }
func (SessionEndedData) EventName() Name           { return SessionEnded }
func (ParticipantJoinedData) EventName() Name      { return ParticipantJoined }
func (ParticipantLeftData) EventName() Name        { return ParticipantLeft }
func (AttendanceUpdatedData) EventName() Name      { return AttendanceUpdated }
func (ParticipationLoggedData) EventName() Name    { return ParticipationLogged }
func (ParticipationAddedData) EventName() Name     { return ParticipationAdded }
func (ParticipationBulkAddedData) EventName() Name { return ParticipationBulkAdded }
func (ChatMessageData) EventName() Name            { return ChatMessage }
func (ExtensionConnectedData) EventName() Name     { return SessionExtensionConnected }
func (ExtensionDisconnectedData) EventName() Name  { return SessionExtensionDisconnected }
func (u Unrecognized) EventName() Name             { return Name(u.Name) }

func (SessionStartedData) payload()         {}
func (SessionEndedData) payload()           {}
func (ParticipantJoinedData) payload()      {}
func (ParticipantLeftData) payload()        {}
func (AttendanceUpdatedData) payload()      {}
func (ParticipationLoggedData) payload()    {}
func (ParticipationAddedData) payload()     {}
func (ParticipationBulkAddedData) payload() {}
func (ChatMessageData) payload()            {}
func (ExtensionConnectedData) payload()     {}
func (ExtensionDisconnectedData) payload()  {}
func (Unrecognized) payload()               {}

// Event is one broadcast occurrence scoped to a session.
type Event struct {
	SessionID    string
	InstructorID string
	Timestamp    time.Time
	Payload      Payload
}

// Name returns the wire name of the event.
func (e Event) Name() Name {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventName()
}

// Rooms lists the rooms the event is delivered to.
func (e Event) Rooms() []string {
	rooms := []string{SessionRoom(e.SessionID)}
	if _, unknown := e.Payload.(Unrecognized); unknown {
		return rooms
	}
	if e.InstructorID != "" {
		rooms = append(rooms, InstructorRoom(e.InstructorID))
	}
	return rooms
}

type frame struct {
	Event        Name            `json:"event"`
	SessionID    string          `json:"session_id"`
	InstructorID string          `json:"instructor_id,omitempty"`
	Timestamp    string          `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as the frame sent to clients.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, errors.New("events: event has no payload")
	}
	var data json.RawMessage
	if u, ok := e.Payload.(Unrecognized); ok {
		data = u.Data
	} else {
		encoded, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("events: encode %s: %w", e.Name(), err)
		}
		data = encoded
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return json.Marshal(frame{
		Event:        e.Name(),
		SessionID:    e.SessionID,
		InstructorID: e.InstructorID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:         data,
	})
}
