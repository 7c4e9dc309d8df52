package attendance_test

import (
	"context"
	"encoding/json"
	"testing"

	"liveattend/internal/attendance"
	"liveattend/internal/events"
)

func TestRelayEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.start(t)
	f.recorder.Reset()

	name, err := f.svc.RelayEvent(ctx, f.owner, sess.ID, "chat:message",
		json.RawMessage(`{"participant_name":"Alice Smith","message":"hi"}`))
	if err != nil {
		t.Fatalf("RelayEvent returned error: %v", err)
	}
	if name != events.ChatMessage {
		t.Errorf("Expected chat:message, got %s", name)
	}

	_, err = f.svc.RelayEvent(ctx, f.owner, sess.ID, "session:ended", json.RawMessage(`{}`))
	expectKind(t, err, attendance.KindInvalidArgument)

	name, err = f.svc.RelayEvent(ctx, f.owner, sess.ID, "poll:opened", json.RawMessage(`{"question":"ready?"}`))
	if err != nil {
		t.Fatalf("RelayEvent returned error: %v", err)
	}
	if name != "poll:opened" {
		t.Errorf("Expected poll:opened, got %s", name)
	}

	recorded := f.recorder.Events()
	if len(recorded) != 2 {
		t.Fatalf("Expected 2 relayed events, got %d", len(recorded))
	}
	if rooms := recorded[1].Rooms(); len(rooms) != 1 || rooms[0] != events.SessionRoom(sess.ID) {
		t.Errorf("Expected unrecognized event routed to the session room only, got %v", rooms)
	}

	_, err = f.svc.RelayEvent(ctx, attendance.Caller{ID: "someone"}, sess.ID, "poll:opened", nil)
	expectKind(t, err, attendance.KindPermissionDenied)
}
