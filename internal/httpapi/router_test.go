package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"liveattend/internal/attendance"
	"liveattend/internal/auth"
	"liveattend/internal/events"
	"liveattend/internal/model"
	"liveattend/internal/testfixtures"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "liveattend-test"
)

type apiFixture struct {
	router   *gin.Engine
	store    *attendance.MemoryStore
	recorder *testfixtures.Recorder
	clock    *testfixtures.Clock
	token    string
}

func newAPIFixture(t *testing.T, checks map[string]HealthCheck) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &apiFixture{
		store:    attendance.NewMemoryStore(),
		recorder: &testfixtures.Recorder{},
		clock:    testfixtures.NewClock(time.Time{}),
	}
	class := f.store.AddClass(model.Class{ID: "class-1", Name: "Biology 101", InstructorID: "inst-1"})
	f.store.AddStudent(model.Student{ID: "stu-alice", ClassID: class.ID, Name: "Alice Smith"})

	svc := attendance.NewService(f.store, f.recorder, attendance.Options{Now: f.clock.NowFunc()})
	f.router = NewRouter(Options{
		Service:    svc,
		SigningKey: testKey,
		Issuer:     testIssuer,
		Gatherer:   prometheus.NewRegistry(),
		Checks:     checks,
	})
	f.token = issue(t, "inst-1", auth.RoleInstructor)
	return f
}

func issue(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := auth.Issue(subject, role, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	return tok.AccessToken
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (f *apiFixture) startSession(t *testing.T) model.Session {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/sessions/start", f.token, gin.H{
		"class_id":     "class-1",
		"meeting_link": "https://meet.example.com/abc",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Session model.Session `json:"session"`
	}
	decode(t, w, &resp)
	return resp.Session
}

func TestRoutesRequireBearerToken(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.do(t, http.MethodGet, "/v1/sessions/x", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/v1/sessions/x", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for invalid token, got %d", w.Code)
	}
}

func TestJoinLeaveAndReport(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess := f.startSession(t)

	w := f.do(t, http.MethodPost, "/v1/attendance/join", f.token, gin.H{
		"session_id": sess.ID, "participant_name": "alice SMITH",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var joined attendance.JoinResult
	decode(t, w, &joined)
	if !joined.Matched || joined.StudentID == nil || *joined.StudentID != "stu-alice" {
		t.Errorf("Expected join matched to stu-alice, got %+v", joined)
	}

	w = f.do(t, http.MethodPost, "/v1/attendance/join", f.token, gin.H{
		"session_id": sess.ID, "participant_name": "Alice Smith",
	})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for duplicate join, got %d", w.Code)
	}

	f.clock.Advance(15 * time.Minute)
	w = f.do(t, http.MethodPost, "/v1/attendance/leave", f.token, gin.H{
		"session_id": sess.ID, "participant_name": "Alice Smith",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var left attendance.LeaveResult
	decode(t, w, &left)
	if left.TotalDurationMinutes != 15 {
		t.Errorf("Expected 15 minutes, got %d", left.TotalDurationMinutes)
	}

	w = f.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/duration?student_id=stu-alice", f.token, nil)
	var d struct {
		Minutes int `json:"total_minutes"`
	}
	decode(t, w, &d)
	if w.Code != http.StatusOK || d.Minutes != 15 {
		t.Errorf("Expected 15 minutes by student, got %d (%d)", d.Minutes, w.Code)
	}

	w = f.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/attendance", f.token, nil)
	var report attendance.AttendanceReport
	decode(t, w, &report)
	if report.Summary.Total != 1 || report.Summary.Present != 1 {
		t.Errorf("Unexpected summary %+v", report.Summary)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess := f.startSession(t)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		kind   string
	}{
		{"missing session", http.MethodGet, "/v1/sessions/nope", f.token, nil, http.StatusNotFound, "not_found"},
		{"foreign instructor", http.MethodGet, "/v1/sessions/" + sess.ID, issue(t, "inst-2", auth.RoleInstructor), nil, http.StatusForbidden, "permission_denied"},
		{"leave without join", http.MethodPost, "/v1/attendance/leave", f.token, gin.H{"session_id": sess.ID, "participant_name": "Ghost"}, http.StatusNotFound, "not_found"},
		{"delete active", http.MethodDelete, "/v1/sessions/" + sess.ID, f.token, nil, http.StatusConflict, "invalid_state"},
		{"bad json", http.MethodPost, "/v1/attendance/join", f.token, "{", http.StatusBadRequest, "invalid_argument"},
		{"missing field", http.MethodPost, "/v1/sessions/start", f.token, gin.H{"class_id": "class-1"}, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.method, tc.path, tc.token, tc.body)
			if w.Code != tc.status {
				t.Fatalf("Expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			var body struct {
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}
			decode(t, w, &body)
			if body.Kind != tc.kind || body.Error == "" {
				t.Errorf("Expected kind %s with message, got %+v", tc.kind, body)
			}
		})
	}
}

func TestFieldErrorIsReported(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess := f.startSession(t)
	w := f.do(t, http.MethodPost, "/v1/participation", f.token, gin.H{
		"session_id": sess.ID, "student_id": "stu-alice", "interaction_type": "wave",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["field"] != "interaction_type" {
		t.Errorf("Expected field interaction_type, got %v", body)
	}
}

func TestBulkParticipation(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess := f.startSession(t)
	w := f.do(t, http.MethodPost, "/v1/participation/bulk", f.token, gin.H{
		"session_id": sess.ID,
		"logs": []gin.H{
			{"student_id": "stu-alice", "interaction_type": "chat", "value": "hi"},
			{"student_id": "999", "interaction_type": "reaction"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res attendance.BulkResult
	decode(t, w, &res)
	if res.Added != 1 || res.Failed != 1 || !strings.Contains(res.Errors[0].Error, "Invalid student") {
		t.Errorf("Unexpected bulk result %+v", res)
	}

	w = f.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/participation", f.token, nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("Expected 1 stored log, got %d", list.Count)
	}
}

func TestBulkParticipationDecodesItemsIndependently(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess := f.startSession(t)
	body := `{"session_id":"` + sess.ID + `","logs":[
		{"student_id":"stu-alice","interaction_type":"chat","value":"hi"},
		{"student_id":999,"interaction_type":"reaction"},
		{"student_id":"stu-alice","interaction_type":"reaction","value":"thumbs_up"}
	]}`
	w := f.do(t, http.MethodPost, "/v1/participation/bulk", f.token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res attendance.BulkResult
	decode(t, w, &res)
	if res.Added != 2 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Fatalf("Expected 2 added and 1 failed, got %+v", res)
	}
	if e := res.Errors[0]; e.Index != 1 || !strings.Contains(e.Error, "Invalid student") {
		t.Errorf("Unexpected item error %+v", e)
	}
	if f.recorder.Count(events.ParticipationBulkAdded) != 1 || f.recorder.Count(events.ChatMessage) != 0 {
		t.Errorf("Expected only a bulk_added broadcast, got %v", f.recorder.Names())
	}
}

func TestRelayEvent(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess := f.startSession(t)
	ext := issue(t, "inst-1", auth.RoleExtension)

	w := f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/events", ext, gin.H{
		"event": "chat:message", "data": gin.H{"participant_name": "Alice Smith", "message": "hello"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if f.recorder.Count(events.ChatMessage) != 1 {
		t.Errorf("Expected relayed chat:message, got %v", f.recorder.Names())
	}

	w = f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/events", ext, gin.H{"event": "session:ended"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for server-owned event, got %d", w.Code)
	}
}

func TestEndSessionRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess := f.startSession(t)
	endedAt := f.clock.Advance(time.Hour)

	w := f.do(t, http.MethodPost, "/v1/sessions/end", f.token, gin.H{"session_id": sess.ID, "ended_at": endedAt})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/v1/sessions/end", f.token, gin.H{"session_id": sess.ID, "ended_at": endedAt.Add(time.Hour)})
	if w.Code != http.StatusOK {
		t.Errorf("Expected repeated end to succeed, got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/end", f.token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for manual end of ended session, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, map[string]HealthCheck{
		"db":    func(context.Context) bool { return true },
		"redis": func(context.Context) bool { return false },
	})
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	var body struct {
		Status string          `json:"status"`
		Checks map[string]bool `json:"checks"`
	}
	decode(t, w, &body)
	if body.Status != "degraded" || !body.Checks["db"] || body.Checks["redis"] {
		t.Errorf("Unexpected health body %+v", body)
	}
}
