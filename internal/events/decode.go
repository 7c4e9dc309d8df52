package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrServerOwned is returned by DecodeRelayed for events only the engine
// itself may emit.
var ErrServerOwned = errors.New("events: event is emitted by the server")

// DecodeRelayed turns a client-supplied event name and JSON data into a
// payload. Live-only names decode into their typed payload, state events
// owned by the engine are refused, and names outside the taxonomy become
// Unrecognized.
func DecodeRelayed(name string, data json.RawMessage) (Payload, error) {
	if name == "" {
		return nil, errors.New("events: event name required")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data = json.RawMessage("{}")
	}

	var target Payload
	switch Name(name) {
	case ChatMessage:
		var p ChatMessageData
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", name, err)
		}
		target = p
	case ParticipationLogged:
		var p ParticipationLoggedData
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", name, err)
		}
		if p.InteractionType != "" && !p.InteractionType.Valid() {
			return nil, fmt.Errorf("events: unknown interaction type %q", p.InteractionType)
		}
		target = p
	case SessionStarted, SessionEnded, ParticipantJoined, ParticipantLeft, AttendanceUpdated,
		ParticipationAdded, ParticipationBulkAdded, SessionExtensionConnected, SessionExtensionDisconnected:
		return nil, fmt.Errorf("%w: %s", ErrServerOwned, name)
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("events: data for %s is not valid JSON", name)
		}
		target = Unrecognized{Name: name, Data: append(json.RawMessage(nil), data...)}
	}
	return target, nil
}
