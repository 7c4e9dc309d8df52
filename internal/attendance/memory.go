package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveattend/internal/model"
)

// MemoryStore is a map-backed Store for development and tests. It mirrors the
// uniqueness rules of the Postgres schema.
type MemoryStore struct {
	mu        sync.RWMutex
	classes   map[string]model.Class
	students  map[string]model.Student
	sessions  map[string]model.Session
	intervals map[string]model.Interval
	records   map[string]model.Record
	logs      map[string]model.ParticipationLog
	seq       int64
	order     map[string]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes:   make(map[string]model.Class),
		students:  make(map[string]model.Student),
		sessions:  make(map[string]model.Session),
		intervals: make(map[string]model.Interval),
		records:   make(map[string]model.Record),
		logs:      make(map[string]model.ParticipationLog),
		order:     make(map[string]int64),
	}
}

// AddClass seeds a class owned by the roster service.
func (m *MemoryStore) AddClass(c model.Class) model.Class {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.classes[c.ID] = c
	return c
}

// AddStudent seeds a roster student.
func (m *MemoryStore) AddStudent(st model.Student) model.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putStudent(st)
}

func (m *MemoryStore) putStudent(st model.Student) model.Student {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	m.students[st.ID] = st
	return st
}

// next tags an id with an insertion sequence so listings are stable.
func (m *MemoryStore) next(id string) {
	m.seq++
	m.order[id] = m.seq
}

func (m *MemoryStore) GetClass(_ context.Context, classID string) (model.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[classID]
	if !ok {
		return model.Class{}, notFound("class %s not found", classID)
	}
	return c, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, studentID string) (model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.students[studentID]
	if !ok {
		return model.Student{}, notFound("student %s not found", studentID)
	}
	return st, nil
}

func (m *MemoryStore) ListStudents(_ context.Context, classID string) ([]model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Student
	for _, st := range m.students {
		if st.ClassID == classID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateStudent(_ context.Context, st model.Student) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[st.ClassID]; !ok {
		return model.Student{}, notFound("class %s not found", st.ClassID)
	}
	return m.putStudent(st), nil
}

func (m *MemoryStore) InsertSession(_ context.Context, s model.Session) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.sessions[s.ID] = cloneSession(s)
	return s, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return model.Session{}, notFound("session %s not found", sessionID)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return notFound("session %s not found", s.ID)
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return notFound("session %s not found", sessionID)
	}
	for id, l := range m.logs {
		if l.SessionID == sessionID {
			delete(m.logs, id)
		}
	}
	for id, iv := range m.intervals {
		if iv.SessionID == sessionID {
			delete(m.intervals, id)
		}
	}
	for id, r := range m.records {
		if r.SessionID == sessionID {
			delete(m.records, id)
		}
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) InsertInterval(_ context.Context, iv model.Interval) (model.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if iv.LeftAt == nil {
		for _, existing := range m.intervals {
			if existing.SessionID == iv.SessionID && existing.ParticipantKey == iv.ParticipantKey && existing.Open() {
				return model.Interval{}, conflict("open interval")
			}
		}
	}
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	m.next(iv.ID)
	m.intervals[iv.ID] = cloneInterval(iv)
	return iv, nil
}

func (m *MemoryStore) LatestOpenInterval(_ context.Context, sessionID, key string) (model.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found  model.Interval
		hasAny bool
	)
	for _, iv := range m.sortedIntervals(func(iv model.Interval) bool {
		return iv.SessionID == sessionID && iv.ParticipantKey == key && iv.Open()
	}) {
		found, hasAny = iv, true
	}
	if !hasAny {
		return model.Interval{}, notFound("no open interval for this participant")
	}
	return found, nil
}

func (m *MemoryStore) CloseInterval(_ context.Context, intervalID string, leftAt time.Time) (model.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.intervals[intervalID]
	if !ok {
		return model.Interval{}, notFound("interval %s not found", intervalID)
	}
	iv.LeftAt = timePtr(leftAt)
	m.intervals[intervalID] = iv
	return cloneInterval(iv), nil
}

func (m *MemoryStore) CloseOpenIntervals(_ context.Context, sessionID string, leftAt time.Time) ([]model.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.sortedIntervals(func(iv model.Interval) bool { return iv.SessionID == sessionID && iv.Open() })
	for i := range open {
		at := leftAt
		if at.Before(open[i].JoinedAt) {
			at = open[i].JoinedAt
		}
		open[i].LeftAt = timePtr(at)
		m.intervals[open[i].ID] = cloneInterval(open[i])
	}
	return open, nil
}

func (m *MemoryStore) ListIntervals(_ context.Context, sessionID, key string) ([]model.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIntervals(func(iv model.Interval) bool {
		return iv.SessionID == sessionID && iv.ParticipantKey == key
	}), nil
}

func (m *MemoryStore) ListStudentIntervals(_ context.Context, sessionID, studentID string) ([]model.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIntervals(func(iv model.Interval) bool {
		return iv.SessionID == sessionID && iv.StudentID != nil && *iv.StudentID == studentID
	}), nil
}

func (m *MemoryStore) ListOpenIntervals(_ context.Context, sessionID string) ([]model.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIntervals(func(iv model.Interval) bool { return iv.SessionID == sessionID && iv.Open() }), nil
}

func (m *MemoryStore) AssignIntervals(_ context.Context, sessionID, key, studentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, iv := range m.intervals {
		if iv.SessionID == sessionID && iv.ParticipantKey == key {
			iv.StudentID = stringPtr(studentID)
			m.intervals[id] = iv
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetRecord(_ context.Context, sessionID, key string) (model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.findRecord(sessionID, key)
	if !ok {
		return model.Record{}, notFound("no attendance record for this participant")
	}
	return cloneRecord(rec), nil
}

func (m *MemoryStore) UpsertRecord(_ context.Context, rec model.Record) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.findRecord(rec.SessionID, rec.ParticipantKey); ok {
		if rec.StudentID != nil {
			existing.StudentID = stringPtr(*rec.StudentID)
		}
		if existing.FirstJoinedAt == nil {
			existing.FirstJoinedAt = rec.FirstJoinedAt
		}
		existing.UpdatedAt = rec.UpdatedAt
		m.records[existing.ID] = cloneRecord(existing)
		return cloneRecord(existing), nil
	}
	return m.insertRecord(rec), nil
}

func (m *MemoryStore) InsertRecord(_ context.Context, rec model.Record) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findRecord(rec.SessionID, rec.ParticipantKey); ok {
		return model.Record{}, conflict("attendance record")
	}
	return m.insertRecord(rec), nil
}

func (m *MemoryStore) insertRecord(rec model.Record) model.Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.next(rec.ID)
	m.records[rec.ID] = cloneRecord(rec)
	return rec
}

func (m *MemoryStore) UpdateRecordDuration(_ context.Context, sessionID, key string, minutes int, firstJoinedAt, lastLeftAt *time.Time) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.findRecord(sessionID, key)
	if !ok {
		return model.Record{}, notFound("no attendance record for this participant")
	}
	rec.TotalDurationMinutes = minutes
	rec.FirstJoinedAt = copyTime(firstJoinedAt)
	rec.LastLeftAt = copyTime(lastLeftAt)
	m.records[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

func (m *MemoryStore) AssignRecord(_ context.Context, sessionID, key, studentID string) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.findRecord(sessionID, key)
	if !ok {
		return model.Record{}, notFound("no attendance record for this participant")
	}
	rec.StudentID = stringPtr(studentID)
	m.records[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

func (m *MemoryStore) DeleteRecord(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[recordID]; !ok {
		return notFound("record %s not found", recordID)
	}
	delete(m.records, recordID)
	return nil
}

func (m *MemoryStore) ListRecords(_ context.Context, sessionID string) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Record
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) InsertLog(_ context.Context, entry model.ParticipationLog) (model.ParticipationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[entry.SessionID]; !ok {
		return model.ParticipationLog{}, notFound("session %s not found", entry.SessionID)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.next(entry.ID)
	m.logs[entry.ID] = entry
	return entry, nil
}

func (m *MemoryStore) ListLogs(_ context.Context, sessionID string) ([]model.ParticipationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ParticipationLog
	for _, l := range m.logs {
		if l.SessionID == sessionID {
			if st, ok := m.students[l.StudentID]; ok {
				l.StudentName = st.Name
			}
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) findRecord(sessionID, key string) (model.Record, bool) {
	for _, r := range m.records {
		if r.SessionID == sessionID && r.ParticipantKey == key {
			return r, true
		}
	}
	return model.Record{}, false
}

// sortedIntervals returns matching intervals ordered by joined_at, then by
// insertion.
func (m *MemoryStore) sortedIntervals(match func(model.Interval) bool) []model.Interval {
	var out []model.Interval
	for _, iv := range m.intervals {
		if match(iv) {
			out = append(out, cloneInterval(iv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out
}

func cloneSession(s model.Session) model.Session {
	s.StartedAt = copyTime(s.StartedAt)
	s.EndedAt = copyTime(s.EndedAt)
	return s
}

func cloneInterval(iv model.Interval) model.Interval {
	iv.LeftAt = copyTime(iv.LeftAt)
	if iv.StudentID != nil {
		iv.StudentID = stringPtr(*iv.StudentID)
	}
	return iv
}

func cloneRecord(r model.Record) model.Record {
	r.FirstJoinedAt = copyTime(r.FirstJoinedAt)
	r.LastLeftAt = copyTime(r.LastLeftAt)
	if r.StudentID != nil {
		r.StudentID = stringPtr(*r.StudentID)
	}
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}

func timePtr(t time.Time) *time.Time { return &t }

func stringPtr(s string) *string { return &s }
