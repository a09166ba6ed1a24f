// Package client is the Go client for the live-session backend: a
// tab-scoped state store, a push-channel connection, a polling loop and the
// reducer both feed into. One Store/Reconciler pair corresponds to one
// browser tab, so two instances with different credentials never share
// state even when they run in the same process.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CompletionTTL bounds how long a locally recorded session completion keeps
// the "completed" rendering alive before the next poll decides.
const CompletionTTL = 5 * time.Minute

// CompletionRecord remembers that a session for a course was observed to
// end, so a reload inside the TTL renders "completed" immediately instead
// of flashing "waiting" until the first poll answers.
type CompletionRecord struct {
	CourseID   uuid.UUID `json:"course_id"`
	SessionID  uuid.UUID `json:"session_id"`
	ObservedAt time.Time `json:"observed_at"`
}

// Credential is the identity a tab holds.
type Credential struct {
	Token  string    `json:"token,omitempty"`
	UserID uuid.UUID `json:"user_id,omitempty"`
	Role   string    `json:"role,omitempty"`
}

type storeData struct {
	Credential  Credential                  `json:"credential"`
	Completions map[string]CompletionRecord `json:"completions,omitempty"`
	Cursor      string                      `json:"cursor,omitempty"`
}

// Store persists one tab's state as a JSON file named after the tab ID.
// Different tab IDs map to different files, so nothing leaks between tabs;
// the same tab ID reloads its previous state.
type Store struct {
	mu    sync.Mutex
	tabID string
	path  string
	data  storeData
	now   func() time.Time
}

// NewTabID mints a fresh tab identifier.
func NewTabID() string { return uuid.New().String() }

// OpenStore loads (or initializes) the store for tabID under baseDir.
func OpenStore(baseDir, tabID string) (*Store, error) {
	if tabID == "" {
		return nil, errors.New("tab id required")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		tabID: tabID,
		path:  filepath.Join(baseDir, "tab-"+tabID+".json"),
		data:  storeData{Completions: make(map[string]CompletionRecord)},
		now:   time.Now,
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read tab store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decode tab store: %w", err)
	}
	if s.data.Completions == nil {
		s.data.Completions = make(map[string]CompletionRecord)
	}
	return s, nil
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// TabID returns the identifier this store is namespaced under.
func (s *Store) TabID() string { return s.tabID }

func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write tab store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// SetCredential stores the tab's identity.
func (s *Store) SetCredential(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Credential = cred
	return s.flushLocked()
}

// Credential returns the tab's stored identity.
func (s *Store) Credential() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Credential
}

// ClearCredential logs the tab out without touching other tabs' files.
func (s *Store) ClearCredential() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Credential = Credential{}
	return s.flushLocked()
}

// MarkCompleted records a locally observed session completion.
func (s *Store) MarkCompleted(rec CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = s.now().UTC()
	}
	s.data.Completions[rec.CourseID.String()] = rec
	return s.flushLocked()
}

// RecentCompletion returns the completion record for a course if it is
// still within the TTL. Expired entries are purged on access.
func (s *Store) RecentCompletion(courseID uuid.UUID) *CompletionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Completions[courseID.String()]
	if !ok {
		return nil
	}
	if s.now().Sub(rec.ObservedAt) >= CompletionTTL {
		delete(s.data.Completions, courseID.String())
		_ = s.flushLocked()
		return nil
	}
	out := rec
	return &out
}

// SetCursor remembers the last applied event ID across reloads.
func (s *Store) SetCursor(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Cursor = eventID
	return s.flushLocked()
}

// Cursor returns the last applied event ID, if any.
func (s *Store) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Cursor
}
