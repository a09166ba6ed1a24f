package livesession

import (
	"context"
	"testing"
	"time"

	"github.com/tutorhall/backend/internal/models"
)

func newTestWatchdog(env *testEnv) *Watchdog {
	w := NewWatchdog(env.store, env.svc, testConfig(), nil)
	w.SetClock(env.clock.Now)
	return w
}

func TestWatchdogLeavesHealthySessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	w := newTestWatchdog(env)
	w.Sweep(ctx)

	got, _ := env.store.GetByID(ctx, session.ID)
	if got.State != models.StateActive {
		t.Fatalf("healthy session swept: %s", got.State)
	}
}

func TestWatchdogEndsStaleHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cfg := testConfig()
	staleAfter := time.Duration(cfg.MissedHeartbeatLimit) * cfg.HeartbeatInterval

	// Heartbeat just before the stale threshold keeps the session alive.
	env.clock.Advance(staleAfter - time.Second)
	if err := env.svc.Heartbeat(ctx, session.ID, env.tutorID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	w := newTestWatchdog(env)
	env.clock.Advance(staleAfter - time.Second)
	w.Sweep(ctx)
	got, _ := env.store.GetByID(ctx, session.ID)
	if got.State != models.StateActive {
		t.Fatal("session ended despite fresh heartbeat")
	}

	// Silence past the threshold force-ends it.
	env.clock.Advance(2 * time.Second)
	w.Sweep(ctx)
	got, _ = env.store.GetByID(ctx, session.ID)
	if got.State != models.StateEnded {
		t.Fatalf("state = %s, want ended", got.State)
	}
	if got.EndReason != models.EndReasonWatchdog {
		t.Fatalf("reason = %s, want watchdog", got.EndReason)
	}
	if n := env.pub.countByType(models.EventSessionEnded); n != 1 {
		t.Fatalf("want 1 ended event, got %d", n)
	}
}

func TestWatchdogEndsOverMaxDuration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session, _, err := env.svc.Start(ctx, env.course, env.tutorID, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cfg := testConfig()
	w := newTestWatchdog(env)

	// Heartbeats cannot keep a session alive past the absolute cap.
	step := cfg.MaxDuration / 4
	for i := 0; i < 3; i++ {
		env.clock.Advance(step)
		if err := env.svc.Heartbeat(ctx, session.ID, env.tutorID); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
		w.Sweep(ctx)
	}
	got, _ := env.store.GetByID(ctx, session.ID)
	if got.State != models.StateActive {
		t.Fatal("session ended before max duration")
	}

	env.clock.Advance(step)
	w.Sweep(ctx)
	got, _ = env.store.GetByID(ctx, session.ID)
	if got.State != models.StateEnded || got.EndReason != models.EndReasonWatchdog {
		t.Fatalf("state=%s reason=%s, want ended/watchdog", got.State, got.EndReason)
	}

	// The forced end behaves like any other: completion recorded, pollers
	// see the ended status once.
	cur, err := env.svc.GetCurrent(ctx, env.course, "tab-x")
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if cur.Status != StatusEnded {
		t.Fatalf("poll after watchdog end: %+v", cur)
	}
}

func TestWatchdogIgnoresReplayStates(t *testing.T) {
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

	w := newTestWatchdog(env)
	env.clock.Advance(2 * testConfig().MaxDuration)
	w.Sweep(ctx)

	got, _ := env.store.GetByID(ctx, session.ID)
	if got.State != models.StateReplayProcessing {
		t.Fatalf("watchdog touched a non-active session: %s", got.State)
	}
	if n := env.pub.countByType(models.EventSessionEnded); n != 1 {
		t.Fatalf("want 1 ended event, got %d", n)
	}
}
