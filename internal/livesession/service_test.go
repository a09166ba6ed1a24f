package livesession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/config"
	"github.com/tutorhall/backend/internal/completion"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/provider"
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

type fakePublisher struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (p *fakePublisher) Publish(_ context.Context, ev models.NotificationEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *fakePublisher) countByType(t models.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeAudience struct {
	tutorID  uuid.UUID
	audience []uuid.UUID
}

func (f *fakeAudience) IsTutor(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return userID == f.tutorID, nil
}

func (f *fakeAudience) AudienceSnapshot(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return f.audience, nil
}

type fakeProvider struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeProvider) CreateMeeting(_ context.Context, _, _ uuid.UUID) (*provider.Meeting, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, provider.ErrUnavailable
	}
	return &provider.Meeting{JoinURL: "https://meet.test/room", ProviderRef: "room"}, nil
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxDuration:          4 * time.Hour,
		HeartbeatInterval:    30 * time.Second,
		MissedHeartbeatLimit: 4,
		WatchdogInterval:     15 * time.Second,
		PollInterval:         3 * time.Second,
		CompletionTTL:        5 * time.Minute,
	}
}

type testEnv struct {
	svc     *Service
	store   *MemoryStore
	pub     *fakePublisher
	cache   *completion.Memory
	clock   *fakeClock
	meet    *fakeProvider
	tutorID uuid.UUID
	course  uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore()
	pub := &fakePublisher{}
	cache := completion.NewMemory(testConfig().CompletionTTL)
	cache.SetClock(clock.Now)
	meet := &fakeProvider{}
	tutorID := uuid.New()
	audience := &fakeAudience{tutorID: tutorID, audience: []uuid.UUID{tutorID, uuid.New(), uuid.New()}}
	svc := NewService(store, pub, cache, meet, audience, testConfig(), nil)
	svc.SetClock(clock.Now)
	return &testEnv{
		svc:     svc,
		store:   store,
		pub:     pub,
		cache:   cache,
		clock:   clock,
		meet:    meet,
		tutorID: tutorID,
		course:  uuid.New(),
	}
}

func TestStartIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, already, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if already {
		t.Fatal("first start reported already active")
	}
	if first.MeetingLink == "" {
		t.Fatal("no meeting link assigned")
	}

	second, already, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !already {
		t.Fatal("second start did not report already active")
	}
	if second.ID != first.ID {
		t.Fatalf("second start returned a different session: %s vs %s", second.ID, first.ID)
	}
	if got := env.pub.countByType(models.EventSessionStarted); got != 1 {
		t.Fatalf("want 1 started event, got %d", got)
	}
	if env.meet.calls != 1 {
		t.Fatalf("want 1 provider call, got %d", env.meet.calls)
	}
}

func TestStartConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	created := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, already, err := env.svc.Start(ctx, env.course, env.tutorID, "")
			if err != nil {
				t.Errorf("start %d: %v", i, err)
				return
			}
			ids[i] = s.ID
			created[i] = !already
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("divergent session ids: %s vs %s", ids[i], ids[0])
		}
		if created[i] {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("want exactly 1 winning start, got %d", winners)
	}
	if got := env.pub.countByType(models.EventSessionStarted); got != 1 {
		t.Fatalf("want 1 started event, got %d", got)
	}
}

func TestStartRejectsNonTutor(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.svc.Start(context.Background(), env.course, uuid.New(), "")
	if !errors.Is(err, ErrNotTutor) {
		t.Fatalf("want ErrNotTutor, got %v", err)
	}
}

func TestStartProviderFailureCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.meet.fail = true

	_, _, err := env.svc.Start(context.Background(), env.course, env.tutorID, "")
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	active, err := env.store.GetActiveByCourse(context.Background(), env.course)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Fatal("session record created despite provider failure")
	}
	if len(env.pub.events) != 0 {
		t.Fatalf("unexpected events published: %d", len(env.pub.events))
	}
}

func TestEndByHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ended, err := env.svc.End(ctx, session.ID, env.tutorID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.State != models.StateEnded {
		t.Fatalf("state = %s, want ended", ended.State)
	}
	if ended.EndReason != models.EndReasonHost {
		t.Fatalf("reason = %s, want host", ended.EndReason)
	}
	if ended.EndTime == nil {
		t.Fatal("end time not stamped")
	}
	if got := env.pub.countByType(models.EventSessionEnded); got != 1 {
		t.Fatalf("want 1 ended event, got %d", got)
	}

	rec, err := env.cache.Lookup(ctx, env.course)
	if err != nil {
		t.Fatalf("cache lookup: %v", err)
	}
	if rec == nil || rec.SessionID != session.ID {
		t.Fatalf("completion record missing or wrong: %+v", rec)
	}
}

func TestEndRejectsNonHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.svc.End(ctx, session.ID, uuid.New()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	active, _ := env.store.GetActiveByCourse(ctx, env.course)
	if active == nil {
		t.Fatal("session was ended by a non-host")
	}
}

func TestEndUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.End(context.Background(), uuid.New(), env.tutorID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestProviderEndedIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.End(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("end: %v", err)
	}

	// A late provider end signal for an already-ended session is a no-op.
	if err := env.svc.HandleProviderEnded(ctx, session.ID); err != nil {
		t.Fatalf("provider ended: %v", err)
	}
	if got := env.pub.countByType(models.EventSessionEnded); got != 1 {
		t.Fatalf("want 1 ended event after duplicate end, got %d", got)
	}
}

func TestHeartbeatHostOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := env.svc.Heartbeat(ctx, session.ID, uuid.New()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	env.clock.Advance(time.Minute)
	if err := env.svc.Heartbeat(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	got, _ := env.store.GetByID(ctx, session.ID)
	if !got.LastHeartbeat.Equal(env.clock.Now()) {
		t.Fatalf("heartbeat not stamped: %s", got.LastHeartbeat)
	}

	if _, err := env.svc.End(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := env.svc.Heartbeat(ctx, session.ID, env.tutorID); !errors.Is(err, ErrNotActive) {
		t.Fatalf("want ErrNotActive after end, got %v", err)
	}
}

func TestAttachRecordingDuplicateSilent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Too early: the session is still active.
	if s, err := env.svc.AttachRecording(ctx, session.ID); err != nil || s != nil {
		t.Fatalf("attach on active session: session=%v err=%v", s, err)
	}

	if _, err := env.svc.End(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("end: %v", err)
	}
	first, err := env.svc.AttachRecording(ctx, session.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if first == nil || first.State != models.StateReplayProcessing {
		t.Fatalf("attach did not advance state: %+v", first)
	}

	// Duplicate webhook: absorbed, same session handed back, no error.
	second, err := env.svc.AttachRecording(ctx, session.ID)
	if err != nil {
		t.Fatalf("duplicate attach: %v", err)
	}
	if second == nil || second.State != models.StateReplayProcessing {
		t.Fatalf("duplicate attach: %+v", second)
	}
}

func TestMarkReplayReadyPublishesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.End(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := env.svc.AttachRecording(ctx, session.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}

	replayID := uuid.New()
	if err := env.svc.MarkReplayReady(ctx, session.ID, replayID, "https://cdn.test/replay.mp4"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if err := env.svc.MarkReplayReady(ctx, session.ID, replayID, "https://cdn.test/replay.mp4"); err != nil {
		t.Fatalf("duplicate mark ready: %v", err)
	}
	if got := env.pub.countByType(models.EventReplayReady); got != 1 {
		t.Fatalf("want 1 replay_ready event, got %d", got)
	}
	s, _ := env.store.GetByID(ctx, session.ID)
	if s.State != models.StateReplayReady {
		t.Fatalf("state = %s, want replay_ready", s.State)
	}
}

func TestGetCurrentEndedOncePerTab(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cur, err := env.svc.GetCurrent(ctx, env.course, "tab-a")
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if cur.Status != StatusActive || cur.Session == nil {
		t.Fatalf("want active, got %+v", cur)
	}

	if _, err := env.svc.End(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("end: %v", err)
	}

	cur, _ = env.svc.GetCurrent(ctx, env.course, "tab-a")
	if cur.Status != StatusEnded || cur.Session == nil || !cur.RecentlyCompleted {
		t.Fatalf("first poll after end: %+v", cur)
	}
	cur, _ = env.svc.GetCurrent(ctx, env.course, "tab-a")
	if cur.Status != StatusNoSession || !cur.RecentlyCompleted {
		t.Fatalf("second poll from same tab: %+v", cur)
	}

	// A different tab still gets its one ended answer.
	cur, _ = env.svc.GetCurrent(ctx, env.course, "tab-b")
	if cur.Status != StatusEnded {
		t.Fatalf("first poll from other tab: %+v", cur)
	}
}

func TestGetCurrentTablessGraceWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.End(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("end: %v", err)
	}

	cur, _ := env.svc.GetCurrent(ctx, env.course, "")
	if cur.Status != StatusEnded {
		t.Fatalf("within grace window: %+v", cur)
	}

	env.clock.Advance(testConfig().PollInterval)
	cur, _ = env.svc.GetCurrent(ctx, env.course, "")
	if cur.Status != StatusNoSession || !cur.RecentlyCompleted {
		t.Fatalf("after grace window: %+v", cur)
	}
}

func TestGetCurrentAfterCompletionTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.End(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("end: %v", err)
	}

	env.clock.Advance(testConfig().CompletionTTL)
	cur, _ := env.svc.GetCurrent(ctx, env.course, "tab-a")
	if cur.Status != StatusNoSession || cur.RecentlyCompleted {
		t.Fatalf("after TTL: %+v", cur)
	}
}
