package completion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	rec    Record
	served map[string]struct{}
}

// Memory is an in-process completion cache with lazy TTL expiry. It backs
// single-instance deployments and tests; clustered deployments use Redis.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[uuid.UUID]*memoryEntry
}

// NewMemory creates an in-memory completion cache.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]*memoryEntry),
	}
}

// SetClock overrides the time source, for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// MarkCompleted records an ended session, replacing any prior record.
func (m *Memory) MarkCompleted(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = m.now()
	}
	m.entries[rec.CourseID] = &memoryEntry{rec: rec, served: make(map[string]struct{})}
	return nil
}

// Lookup returns the unexpired record for a course, purging it if stale.
func (m *Memory) Lookup(_ context.Context, courseID uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(courseID)
	if e == nil {
		return nil, nil
	}
	rec := e.rec
	return &rec, nil
}

// MarkServed returns true the first time a tab is served the ended status.
func (m *Memory) MarkServed(_ context.Context, courseID uuid.UUID, tabID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(courseID)
	if e == nil {
		return false, nil
	}
	if _, ok := e.served[tabID]; ok {
		return false, nil
	}
	e.served[tabID] = struct{}{}
	return true, nil
}

// live returns the entry for a course, dropping it when past TTL.
// Caller must hold the mutex.
func (m *Memory) live(courseID uuid.UUID) *memoryEntry {
	e, ok := m.entries[courseID]
	if !ok {
		return nil
	}
	if m.now().Sub(e.rec.ObservedAt) >= m.ttl {
		delete(m.entries, courseID)
		return nil
	}
	return e
}
