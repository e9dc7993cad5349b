package session

import (
	"sync"
	"time"
)

// Specimen is one accepted capture kept for quality comparison
type Specimen struct {
	Template       []byte
	QualityScore   float64
	SpecimenNumber int
	AttemptNumber  int
	CapturedAt     time.Time
}

// Session is the in-memory progress record of one enrollment.
// It lives only for the duration of the enrollment plus a short
// retention window, a process restart drops all of them.
type Session struct {
	EnrollmentID    string
	UserID          int
	FingerID        int
	UserName        string
	Status          string
	CurrentSpecimen int
	TotalSpecimens  int
	QualityScores   []float64
	Specimens       []Specimen
	TemplateBase64  string
	TemplateSize    int
	DetectedFinger  *int
	RequestedFinger int
	Error           string
	StartTime       time.Time
	LastUpdate      time.Time
}

// Store keeps enrollment sessions for progress polling
type Store interface {
	Get(id string) *Session
	Set(s *Session)
	Delete(id string)
	DeleteAfter(id string, d time.Duration)
}

// MemStore is a process-local Store. Single instance deployments only,
// sessions are not shared between processes.
type MemStore struct {
	lock     sync.RWMutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
}

// NewMemStore creates a session store
func NewMemStore() *MemStore {
	return &MemStore{sessions: map[string]*Session{}, timers: map[string]*time.Timer{}}
}

// Get returns a snapshot of the session or nil when unknown
func (st *MemStore) Get(id string) *Session {
	st.lock.RLock()
	defer st.lock.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil
	}
	res := *s
	res.QualityScores = append([]float64(nil), s.QualityScores...)
	res.Specimens = append([]Specimen(nil), s.Specimens...)
	return &res
}

// Set stores the session state
func (st *MemStore) Set(s *Session) {
	st.lock.Lock()
	defer st.lock.Unlock()
	st.sessions[s.EnrollmentID] = s
}

// Delete removes the session immediately
func (st *MemStore) Delete(id string) {
	st.lock.Lock()
	defer st.lock.Unlock()
	st.drop(id)
}

// DeleteAfter schedules removal of the session.
// A repeated call resets the previous schedule.
func (st *MemStore) DeleteAfter(id string, d time.Duration) {
	st.lock.Lock()
	defer st.lock.Unlock()
	if tm, ok := st.timers[id]; ok {
		tm.Stop()
	}
	st.timers[id] = time.AfterFunc(d, func() { st.Delete(id) })
}

func (st *MemStore) drop(id string) {
	if tm, ok := st.timers[id]; ok {
		tm.Stop()
		delete(st.timers, id)
	}
	delete(st.sessions, id)
}
