package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"liveattend/internal/attendance"
	"liveattend/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, url)
	if err != nil {
		t.Fatalf("NewDB returned error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate returned error: %v", err)
	}
	return db
}

func TestRepositoryOneOpenIntervalPerParticipant(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := attendance.NewRepository(db.Client)

	classID := "class-" + uuid.NewString()
	if _, err := db.Client.ExecContext(ctx,
		`INSERT INTO classes (id, name, instructor_id) VALUES ($1, 'Integration', 'inst-1')`, classID); err != nil {
		t.Fatalf("insert class: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Client.ExecContext(context.Background(), `DELETE FROM classes WHERE id = $1`, classID)
	})

	now := time.Now().UTC().Truncate(time.Second)
	sess, err := repo.InsertSession(ctx, model.Session{
		ID: uuid.NewString(), ClassID: classID, Title: "Integration", Status: model.StatusActive, StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("InsertSession returned error: %v", err)
	}

	key := model.NormalizeName("Alice Smith")
	first, err := repo.InsertInterval(ctx, model.Interval{
		ID: uuid.NewString(), SessionID: sess.ID, ParticipantName: "Alice Smith", ParticipantKey: key, JoinedAt: now,
	})
	if err != nil {
		t.Fatalf("InsertInterval returned error: %v", err)
	}
	_, err = repo.InsertInterval(ctx, model.Interval{
		ID: uuid.NewString(), SessionID: sess.ID, ParticipantName: "alice smith", ParticipantKey: key, JoinedAt: now,
	})
	if !errors.Is(err, attendance.ErrConflict) {
		t.Fatalf("Expected ErrConflict for second open interval, got %v", err)
	}

	closed, err := repo.CloseOpenIntervals(ctx, sess.ID, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CloseOpenIntervals returned error: %v", err)
	}
	if len(closed) != 1 || closed[0].ID != first.ID || !closed[0].LeftAt.Equal(now) {
		t.Errorf("Expected interval clamped to join time, got %+v", closed)
	}

	if _, err := repo.LatestOpenInterval(ctx, sess.ID, key); attendance.KindOf(err) != attendance.KindNotFound {
		t.Errorf("Expected not_found after close, got %v", err)
	}

	if err := repo.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession returned error: %v", err)
	}
	intervals, err := repo.ListIntervals(ctx, sess.ID, key)
	if err != nil || len(intervals) != 0 {
		t.Errorf("Expected intervals removed with session, got %d (%v)", len(intervals), err)
	}
}

func TestRepositoryUpsertRecordKeepsStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := attendance.NewRepository(db.Client)

	classID := "class-" + uuid.NewString()
	if _, err := db.Client.ExecContext(ctx,
		`INSERT INTO classes (id, name, instructor_id) VALUES ($1, 'Integration', 'inst-1')`, classID); err != nil {
		t.Fatalf("insert class: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Client.ExecContext(context.Background(), `DELETE FROM classes WHERE id = $1`, classID)
	})
	now := time.Now().UTC().Truncate(time.Second)
	sess, err := repo.InsertSession(ctx, model.Session{
		ID: uuid.NewString(), ClassID: classID, Title: "Integration", Status: model.StatusActive, StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("InsertSession returned error: %v", err)
	}

	key := model.NormalizeName("Guest")
	rec, err := repo.UpsertRecord(ctx, model.Record{
		ID: uuid.NewString(), SessionID: sess.ID, ParticipantName: "Guest", ParticipantKey: key,
		Status: model.AttendanceLate, FirstJoinedAt: &now,
	})
	if err != nil {
		t.Fatalf("UpsertRecord returned error: %v", err)
	}
	later := now.Add(time.Hour)
	again, err := repo.UpsertRecord(ctx, model.Record{
		ID: uuid.NewString(), SessionID: sess.ID, ParticipantName: "GUEST", ParticipantKey: key,
		Status: model.AttendancePresent, FirstJoinedAt: &later,
	})
	if err != nil {
		t.Fatalf("second UpsertRecord returned error: %v", err)
	}
	if again.ID != rec.ID || again.Status != model.AttendanceLate || !again.FirstJoinedAt.Equal(now) {
		t.Errorf("Expected existing late record kept, got %+v", again)
	}
}
