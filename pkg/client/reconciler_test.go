package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

type fakeAPI struct {
	mu         sync.Mutex
	cur        Current
	polls      int
	heartbeats int
	hbErr      error
}

func (a *fakeAPI) GetCurrent(_ context.Context, _ uuid.UUID) (*Current, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	cur := a.cur
	return &cur, nil
}

func (a *fakeAPI) Heartbeat(_ context.Context, _ uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeats++
	return a.hbErr
}

func (a *fakeAPI) set(cur Current) {
	a.mu.Lock()
	a.cur = cur
	a.mu.Unlock()
}

func (a *fakeAPI) heartbeatCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heartbeats
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestReconciler(t *testing.T, api API) (*Reconciler, *Store, uuid.UUID) {
	t.Helper()
	store, err := OpenStore(t.TempDir(), NewTabID())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	courseID := uuid.New()
	r := NewReconciler(api, nil, store, courseID, nil)
	r.SetPollInterval(10 * time.Millisecond)
	return r, store, courseID
}

func TestReconcilerConvergesViaPolling(t *testing.T) {
	api := &fakeAPI{cur: Current{Status: StatusNoSession}}
	r, store, courseID := newTestReconciler(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	sessionID := uuid.New()
	api.set(Current{Status: StatusActive, Session: &models.LiveSession{
		ID:          sessionID,
		CourseID:    courseID,
		State:       models.StateActive,
		MeetingLink: "https://meet.test/x",
	}})
	waitFor(t, func() bool { return r.View().State == models.StateActive }, "view never became active")

	api.set(Current{Status: StatusEnded, RecentlyCompleted: true, Session: &models.LiveSession{
		ID:        sessionID,
		CourseID:  courseID,
		State:     models.StateEnded,
		EndReason: models.EndReasonHost,
	}})
	waitFor(t, func() bool { return r.View().State == models.StateEnded }, "view never became ended")

	// The ended observation landed in the tab store for the next reload.
	waitFor(t, func() bool { return store.RecentCompletion(courseID) != nil }, "completion record not persisted")
}

func TestReconcilerPushSupersedesStalePoll(t *testing.T) {
	api := &fakeAPI{}
	r, _, courseID := newTestReconciler(t, api)

	sessionID := uuid.New()
	activeCur := Current{Status: StatusActive, Session: &models.LiveSession{
		ID:       sessionID,
		CourseID: courseID,
		State:    models.StateActive,
	}}
	api.set(activeCur)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	waitFor(t, func() bool { return r.View().State == models.StateActive }, "view never became active")

	// Push delivers the end while the poll endpoint still answers with a
	// stale active status; the view must not flap back.
	r.applyEvent(ended(courseID, sessionID, models.EndReasonHost))
	if r.View().State != models.StateEnded {
		t.Fatalf("push event not applied: %+v", r.View())
	}
	time.Sleep(50 * time.Millisecond)
	if r.View().State != models.StateEnded {
		t.Fatalf("stale poll regressed the view: %+v", r.View())
	}
}

func TestReconcilerSeedsFromCompletionRecord(t *testing.T) {
	api := &fakeAPI{cur: Current{Status: StatusNoSession, RecentlyCompleted: true}}
	r, store, courseID := newTestReconciler(t, api)

	sessionID := uuid.New()
	if err := store.MarkCompleted(CompletionRecord{CourseID: courseID, SessionID: sessionID}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// The persisted record renders "completed" immediately; the polls that
	// follow confirm rather than reset it.
	waitFor(t, func() bool {
		v := r.View()
		return v.State == models.StateEnded && v.SessionID == sessionID
	}, "view not seeded from completion record")
	time.Sleep(50 * time.Millisecond)
	if v := r.View(); v.State != models.StateEnded {
		t.Fatalf("seeded view overwritten: %+v", v)
	}
}

func TestReconcilerCatchUpPoll(t *testing.T) {
	api := &fakeAPI{cur: Current{Status: StatusNoSession}}
	r, _, courseID := newTestReconciler(t, api)
	// Interval long enough that only a catch-up poll can explain progress.
	r.SetPollInterval(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	api.set(Current{Status: StatusActive, Session: &models.LiveSession{
		ID:       uuid.New(),
		CourseID: courseID,
		State:    models.StateActive,
	}})
	r.requestPoll()
	waitFor(t, func() bool { return r.View().State == models.StateActive }, "catch-up poll did not run")
}

func TestRunHostHeartbeat(t *testing.T) {
	api := &fakeAPI{}
	errs := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		errs <- RunHostHeartbeat(ctx, api, uuid.New(), 5*time.Millisecond, nil)
	}()

	waitFor(t, func() bool { return api.heartbeatCount() >= 2 }, "no heartbeats sent")

	rejected := errors.New("session not active")
	api.mu.Lock()
	api.hbErr = rejected
	api.mu.Unlock()

	select {
	case err := <-errs:
		if !errors.Is(err, rejected) {
			t.Fatalf("want rejection error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not stop on rejection")
	}
}
