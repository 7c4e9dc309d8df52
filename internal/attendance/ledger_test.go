package attendance_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"liveattend/internal/attendance"
	"liveattend/internal/events"
	"liveattend/internal/model"
)

func TestAppendBulkCollectsItemFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.start(t)
	f.recorder.Reset()

	res, err := f.svc.AppendBulk(ctx, f.owner, sess.ID, []attendance.Entry{
		{StudentID: f.alice.ID, InteractionType: model.InteractionChat, Value: "hello"},
		{StudentID: "999", InteractionType: model.InteractionReaction},
		{StudentID: f.bob.ID, InteractionType: model.InteractionReaction, Value: "thumbs_up"},
	})
	if err != nil {
		t.Fatalf("AppendBulk returned error: %v", err)
	}
	if res.Added != 2 || res.Failed != 1 || len(res.Errors) != 1 || len(res.Results) != 2 {
		t.Fatalf("Expected 2 added and 1 failed, got %+v", res)
	}
	if e := res.Errors[0]; e.Index != 1 || e.StudentID != "999" || !strings.Contains(e.Error, "Invalid student") {
		t.Errorf("Unexpected item error %+v", e)
	}
	if res.Errors[0].Kind != attendance.KindNotFound {
		t.Errorf("Expected not_found kind, got %s", res.Errors[0].Kind)
	}

	if got := f.recorder.Count(events.ParticipationBulkAdded); got != 1 {
		t.Errorf("Expected 1 bulk_added event, got %d", got)
	}
	for _, evt := range f.recorder.Events() {
		if data, ok := evt.Payload.(events.ParticipationBulkAddedData); ok && data.Count != 2 {
			t.Errorf("Expected bulk count 2, got %d", data.Count)
		}
	}
	if got := f.recorder.Count(events.ChatMessage); got != 0 {
		t.Errorf("Expected no per-item chat:message events, got %d", got)
	}
	if names := f.recorder.Names(); len(names) != 1 {
		t.Errorf("Expected a single broadcast for the batch, got %v", names)
	}

	logs, _ := f.svc.ListParticipation(ctx, f.owner, sess.ID)
	if len(logs) != 2 {
		t.Errorf("Expected 2 stored logs, got %d", len(logs))
	}
}

func TestAppendBulkAllFailingEmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.start(t)
	f.recorder.Reset()

	res, err := f.svc.AppendBulk(ctx, f.owner, sess.ID, []attendance.Entry{
		{StudentID: f.alice.ID, InteractionType: "wave"},
		{InteractionType: model.InteractionChat},
	})
	if err != nil {
		t.Fatalf("AppendBulk returned error: %v", err)
	}
	if res.Added != 0 || res.Failed != 2 {
		t.Errorf("Expected 0 added and 2 failed, got %+v", res)
	}
	for _, e := range res.Errors {
		if e.Kind != attendance.KindInvalidArgument {
			t.Errorf("Expected invalid_argument for item %d, got %s", e.Index, e.Kind)
		}
	}
	if n := len(f.recorder.Events()); n != 0 {
		t.Errorf("Expected no events, got %d", n)
	}
}

func TestAppendBulkRejectsEmptyBatch(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)
	_, err := f.svc.AppendBulk(context.Background(), f.owner, sess.ID, nil)
	expectKind(t, err, attendance.KindInvalidArgument)
}

func TestAppendValidatesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.start(t)

	_, err := f.svc.Append(ctx, f.owner, sess.ID, attendance.Entry{StudentID: f.alice.ID, InteractionType: "wave"})
	expectKind(t, err, attendance.KindInvalidArgument)
	var e *attendance.Error
	if ae, ok := err.(*attendance.Error); ok {
		e = ae
	}
	if e == nil || e.Field != "interaction_type" {
		t.Errorf("Expected interaction_type field error, got %v", err)
	}

	other := f.store.AddClass(model.Class{ID: "class-2", Name: "Chemistry", InstructorID: "inst-1"})
	outsider := f.store.AddStudent(model.Student{ClassID: other.ID, Name: "Dana"})
	_, err = f.svc.Append(ctx, f.owner, sess.ID, attendance.Entry{StudentID: outsider.ID, InteractionType: model.InteractionChat})
	expectKind(t, err, attendance.KindInvalidArgument)

	_, err = f.svc.Append(ctx, f.owner, sess.ID, attendance.Entry{StudentID: "ghost", InteractionType: model.InteractionChat})
	expectKind(t, err, attendance.KindNotFound)
}

func TestAppendRequiresActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.start(t)
	if _, err := f.svc.EndManual(ctx, f.owner, sess.ID); err != nil {
		t.Fatalf("EndManual returned error: %v", err)
	}
	_, err := f.svc.Append(ctx, f.owner, sess.ID, attendance.Entry{StudentID: f.alice.ID, InteractionType: model.InteractionReaction})
	expectKind(t, err, attendance.KindInvalidState)
}

func TestAppendEnrichesStudentName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.start(t)
	f.recorder.Reset()

	entry, err := f.svc.Append(ctx, f.owner, sess.ID, attendance.Entry{
		StudentID:       f.alice.ID,
		InteractionType: model.InteractionMicToggle,
		Value:           "on",
		AdditionalData:  map[string]any{"source": "toolbar"},
	})
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if entry.StudentName != "Alice Smith" || !entry.Timestamp.Equal(f.clock.Now()) {
		t.Errorf("Unexpected log %+v", entry)
	}
	names := f.recorder.Names()
	if len(names) != 1 || names[0] != events.ParticipationAdded {
		t.Errorf("Expected a single participation:added event, got %v", names)
	}
	logs, _ := f.svc.ListParticipation(ctx, f.owner, sess.ID)
	if len(logs) != 1 || logs[0].StudentName != "Alice Smith" || logs[0].AdditionalData["source"] != "toolbar" {
		t.Errorf("Unexpected stored logs %+v", logs)
	}
}

func TestAppendBulkJSONIsolatesMalformedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.start(t)
	f.recorder.Reset()

	res, err := f.svc.AppendBulkJSON(ctx, f.owner, sess.ID, []json.RawMessage{
		json.RawMessage(`{"student_id":"stu-alice","interaction_type":"chat","value":"hi"}`),
		json.RawMessage(`{"student_id":999,"interaction_type":"reaction"}`),
		json.RawMessage(`{"student_id":"stu-bob","interaction_type":"reaction","timestamp":"yesterday"}`),
		json.RawMessage(`{"student_id":"stu-bob","interaction_type":"camera_toggle","value":"off"}`),
	})
	if err != nil {
		t.Fatalf("AppendBulkJSON returned error: %v", err)
	}
	if res.Added != 2 || res.Failed != 2 || len(res.Errors) != 2 {
		t.Fatalf("Expected 2 added and 2 failed, got %+v", res)
	}
	numeric := res.Errors[0]
	if numeric.Index != 1 || numeric.StudentID != "999" || numeric.Kind != attendance.KindNotFound ||
		!strings.Contains(numeric.Error, "Invalid student 999") {
		t.Errorf("Unexpected error for numeric student id: %+v", numeric)
	}
	badTime := res.Errors[1]
	if badTime.Index != 2 || badTime.StudentID != "stu-bob" || badTime.Kind != attendance.KindInvalidArgument {
		t.Errorf("Unexpected error for bad timestamp: %+v", badTime)
	}
	if got := f.recorder.Count(events.ParticipationBulkAdded); got != 1 {
		t.Errorf("Expected 1 bulk_added event, got %d", got)
	}
}

func TestDecodeEntry(t *testing.T) {
	entry, err := attendance.DecodeEntry(json.RawMessage(`{"student_id":42,"interaction_type":"chat","additional_data":{"k":"v"}}`))
	if err != nil {
		t.Fatalf("DecodeEntry returned error: %v", err)
	}
	if entry.StudentID != "42" || entry.InteractionType != model.InteractionChat || entry.AdditionalData["k"] != "v" {
		t.Errorf("Unexpected entry %+v", entry)
	}

	_, err = attendance.DecodeEntry(json.RawMessage(`{"student_id":true,"interaction_type":"chat"}`))
	expectKind(t, err, attendance.KindInvalidArgument)

	_, err = attendance.DecodeEntry(json.RawMessage(`[1,2]`))
	expectKind(t, err, attendance.KindInvalidArgument)
}
