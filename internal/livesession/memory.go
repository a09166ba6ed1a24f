package livesession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.LiveSession
	// course -> active session id
	active map[uuid.UUID]uuid.UUID
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*models.LiveSession),
		active:   make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MemoryStore) CreateActive(_ context.Context, s *models.LiveSession) (*models.LiveSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.active[s.CourseID]; ok {
		return copySession(m.sessions[id]), false, nil
	}
	cp := copySession(s)
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.State = models.StateActive
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if cp.LastHeartbeat.IsZero() {
		cp.LastHeartbeat = cp.StartTime
	}
	m.sessions[cp.ID] = cp
	m.active[cp.CourseID] = cp.ID
	return copySession(cp), true, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (m *MemoryStore) GetActiveByCourse(_ context.Context, courseID uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[courseID]
	if !ok {
		return nil, nil
	}
	return copySession(m.sessions[id]), nil
}

func (m *MemoryStore) EndActive(_ context.Context, id uuid.UUID, reason models.EndReason, at time.Time) (*models.LiveSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.State != models.StateActive {
		if ok {
			return copySession(s), false, nil
		}
		return nil, false, nil
	}
	end := at
	s.State = models.StateEnded
	s.EndTime = &end
	s.EndReason = reason
	s.UpdatedAt = time.Now().UTC()
	delete(m.active, s.CourseID)
	return copySession(s), true, nil
}

func (m *MemoryStore) AdvanceState(_ context.Context, id uuid.UUID, from, to models.SessionState) (*models.LiveSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	if s.State != from || !from.CanTransitionTo(to) {
		return copySession(s), false, nil
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	return copySession(s), true, nil
}

func (m *MemoryStore) Heartbeat(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.State == models.StateActive {
		s.LastHeartbeat = at
	}
	return nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LiveSession, 0, len(m.active))
	for _, id := range m.active {
		out = append(out, *copySession(m.sessions[id]))
	}
	return out, nil
}

func copySession(s *models.LiveSession) *models.LiveSession {
	if s == nil {
		return nil
	}
	cp := *s
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	if s.AudienceSnapshot != nil {
		cp.AudienceSnapshot = append([]uuid.UUID(nil), s.AudienceSnapshot...)
	}
	return &cp
}
