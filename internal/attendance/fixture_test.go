package attendance_test

import (
	"context"
	"testing"
	"time"

	"liveattend/internal/attendance"
	"liveattend/internal/model"
	"liveattend/internal/testfixtures"
)

type fixture struct {
	svc      *attendance.Service
	store    *attendance.MemoryStore
	clock    *testfixtures.Clock
	recorder *testfixtures.Recorder
	class    model.Class
	alice    model.Student
	bob      model.Student
	owner    attendance.Caller
}

func newFixture(t *testing.T, opts ...func(*attendance.Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:    attendance.NewMemoryStore(),
		clock:    testfixtures.NewClock(time.Time{}),
		recorder: &testfixtures.Recorder{},
		owner:    attendance.Caller{ID: "inst-1", Role: attendance.RoleInstructor},
	}
	f.class = f.store.AddClass(model.Class{ID: "class-1", Name: "Biology 101", InstructorID: "inst-1"})
	f.alice = f.store.AddStudent(model.Student{ID: "stu-alice", ClassID: f.class.ID, Name: "Alice Smith"})
	f.bob = f.store.AddStudent(model.Student{ID: "stu-bob", ClassID: f.class.ID, Name: "Bob Jones"})

	o := attendance.Options{Now: f.clock.NowFunc()}
	for _, fn := range opts {
		fn(&o)
	}
	f.svc = attendance.NewService(f.store, f.recorder, o)
	return f
}

func (f *fixture) start(t *testing.T) model.Session {
	t.Helper()
	sess, err := f.svc.StartFromMeeting(context.Background(), f.owner, attendance.StartRequest{
		ClassID:     f.class.ID,
		MeetingLink: "https://meet.example.com/abc-defg-hij",
		StartedAt:   f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("StartFromMeeting returned error: %v", err)
	}
	return sess
}

func (f *fixture) join(t *testing.T, sessionID, name string) attendance.JoinResult {
	t.Helper()
	res, err := f.svc.RecordJoin(context.Background(), f.owner, attendance.JoinRequest{
		SessionID:       sessionID,
		ParticipantName: name,
	})
	if err != nil {
		t.Fatalf("RecordJoin(%q) returned error: %v", name, err)
	}
	return res
}

func (f *fixture) leave(t *testing.T, sessionID, name string) attendance.LeaveResult {
	t.Helper()
	res, err := f.svc.RecordLeave(context.Background(), f.owner, attendance.LeaveRequest{
		SessionID:       sessionID,
		ParticipantName: name,
	})
	if err != nil {
		t.Fatalf("RecordLeave(%q) returned error: %v", name, err)
	}
	return res
}

func recordFor(t *testing.T, records []model.Record, name string) model.Record {
	t.Helper()
	key := model.NormalizeName(name)
	for _, rec := range records {
		if rec.ParticipantKey == key {
			return rec
		}
	}
	t.Fatalf("no record for %q in %+v", name, records)
	return model.Record{}
}

func expectKind(t *testing.T, err error, want attendance.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", want)
	}
	if got := attendance.KindOf(err); got != want {
		t.Fatalf("Expected %s error, got %s (%v)", want, got, err)
	}
}
