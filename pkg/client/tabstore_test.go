package client

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestStoreTabIsolation(t *testing.T) {
	dir := t.TempDir()

	tabA, err := OpenStore(dir, "tab-a")
	if err != nil {
		t.Fatalf("open tab-a: %v", err)
	}
	tabB, err := OpenStore(dir, "tab-b")
	if err != nil {
		t.Fatalf("open tab-b: %v", err)
	}

	tutor := Credential{Token: "tutor-token", UserID: uuid.New(), Role: "tutor"}
	learner := Credential{Token: "learner-token", UserID: uuid.New(), Role: "learner"}
	if err := tabA.SetCredential(tutor); err != nil {
		t.Fatalf("set tutor credential: %v", err)
	}
	if err := tabB.SetCredential(learner); err != nil {
		t.Fatalf("set learner credential: %v", err)
	}

	// Two identities in the same directory, zero interference.
	if got := tabA.Credential(); got.Role != "tutor" || got.Token != "tutor-token" {
		t.Fatalf("tab-a credential: %+v", got)
	}
	if got := tabB.Credential(); got.Role != "learner" {
		t.Fatalf("tab-b credential: %+v", got)
	}

	// Logout in one tab leaves the other logged in.
	if err := tabA.ClearCredential(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := tabB.Credential(); got.Token != "learner-token" {
		t.Fatalf("tab-b credential after tab-a logout: %+v", got)
	}
}

func TestStoreSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	courseID, sessionID := uuid.New(), uuid.New()

	s, err := OpenStore(dir, "tab-a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cred := Credential{Token: "tok", UserID: uuid.New(), Role: "learner"}
	if err := s.SetCredential(cred); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	if err := s.MarkCompleted(CompletionRecord{CourseID: courseID, SessionID: sessionID}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := s.SetCursor("event-1"); err != nil {
		t.Fatalf("set cursor: %v", err)
	}

	// Same tab ID, fresh process: everything is back.
	reloaded, err := OpenStore(dir, "tab-a")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reloaded.Credential(); got.Token != "tok" || got.UserID != cred.UserID {
		t.Fatalf("credential after reload: %+v", got)
	}
	if rec := reloaded.RecentCompletion(courseID); rec == nil || rec.SessionID != sessionID {
		t.Fatalf("completion after reload: %+v", rec)
	}
	if reloaded.Cursor() != "event-1" {
		t.Fatalf("cursor after reload: %q", reloaded.Cursor())
	}
}

func TestStoreCompletionTTL(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	s, err := OpenStore(dir, "tab-a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.SetClock(clock.Now)

	courseID := uuid.New()
	if err := s.MarkCompleted(CompletionRecord{CourseID: courseID, SessionID: uuid.New()}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	clock.Advance(CompletionTTL - time.Second)
	if s.RecentCompletion(courseID) == nil {
		t.Fatal("record expired before TTL")
	}

	clock.Advance(time.Second)
	if s.RecentCompletion(courseID) != nil {
		t.Fatal("record survived past TTL")
	}
	// Purge is sticky: the entry is gone from disk too.
	reloaded, err := OpenStore(dir, "tab-a")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reloaded.SetClock(clock.Now)
	if reloaded.RecentCompletion(courseID) != nil {
		t.Fatal("expired record resurrected on reload")
	}
}
