package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveattend/internal/attendance"
	"liveattend/internal/model"
)

func TestBroadcastFailureDoesNotFailMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recorder.Err = errors.New("bus unavailable")

	sess := f.start(t)
	f.join(t, sess.ID, "Alice Smith")
	f.clock.Advance(20 * time.Minute)
	left := f.leave(t, sess.ID, "Alice Smith")
	if left.TotalDurationMinutes != 20 {
		t.Errorf("Expected 20 minutes, got %d", left.TotalDurationMinutes)
	}

	if _, err := f.svc.Append(ctx, f.owner, sess.ID, attendance.Entry{
		StudentID: f.alice.ID, InteractionType: model.InteractionChat, Value: "hi",
	}); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	res, err := f.svc.AppendBulk(ctx, f.owner, sess.ID, []attendance.Entry{
		{StudentID: f.bob.ID, InteractionType: model.InteractionReaction},
	})
	if err != nil || res.Added != 1 {
		t.Fatalf("Expected bulk append to succeed, got %+v (%v)", res, err)
	}

	ended, err := f.svc.EndWithTimestamp(ctx, f.owner, sess.ID, f.clock.Now())
	if err != nil {
		t.Fatalf("EndWithTimestamp returned error: %v", err)
	}
	if ended.Status != model.StatusEnded {
		t.Errorf("Expected ended session, got %s", ended.Status)
	}

	stored, _ := f.store.GetSession(ctx, sess.ID)
	if stored.Status != model.StatusEnded {
		t.Errorf("Expected ended session persisted, got %s", stored.Status)
	}
	records, _ := f.store.ListRecords(ctx, sess.ID)
	if got := recordFor(t, records, "Alice Smith").TotalDurationMinutes; got != 20 {
		t.Errorf("Expected alice persisted with 20 minutes, got %d", got)
	}
	if got := recordFor(t, records, "Bob Jones").Status; got != model.AttendanceAbsent {
		t.Errorf("Expected bob marked absent, got %s", got)
	}
	logs, _ := f.store.ListLogs(ctx, sess.ID)
	if len(logs) != 2 {
		t.Errorf("Expected 2 stored logs, got %d", len(logs))
	}
	if len(f.recorder.Events()) == 0 {
		t.Error("Expected broadcasts to have been attempted")
	}
}

// failingLogStore rejects participation inserts for one student.
type failingLogStore struct {
	*attendance.MemoryStore
	failFor string
}

func (s *failingLogStore) InsertLog(ctx context.Context, entry model.ParticipationLog) (model.ParticipationLog, error) {
	if entry.StudentID == s.failFor {
		return model.ParticipationLog{}, errors.New("connection reset by peer")
	}
	return s.MemoryStore.InsertLog(ctx, entry)
}

func TestAppendBulkIsolatesStoreFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	failing := &failingLogStore{MemoryStore: f.store, failFor: f.bob.ID}
	f.svc = attendance.NewService(failing, f.recorder, attendance.Options{Now: f.clock.NowFunc()})
	sess := f.start(t)

	res, err := f.svc.AppendBulk(ctx, f.owner, sess.ID, []attendance.Entry{
		{StudentID: f.alice.ID, InteractionType: model.InteractionChat, Value: "one"},
		{StudentID: f.bob.ID, InteractionType: model.InteractionReaction},
		{StudentID: f.alice.ID, InteractionType: model.InteractionMicToggle, Value: "on"},
	})
	if err != nil {
		t.Fatalf("AppendBulk returned error: %v", err)
	}
	if res.Added != 2 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Fatalf("Expected 2 added and 1 failed, got %+v", res)
	}
	e := res.Errors[0]
	if e.Index != 1 || e.Kind != attendance.KindInternal || e.Error != "internal error" {
		t.Errorf("Expected masked internal error at index 1, got %+v", e)
	}
	logs, _ := f.store.ListLogs(ctx, sess.ID)
	if len(logs) != 2 {
		t.Errorf("Expected 2 stored logs, got %d", len(logs))
	}
}
