package client

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

func started(courseID, sessionID uuid.UUID, link string) models.NotificationEvent {
	return models.NewSessionStarted(&models.LiveSession{
		ID:          sessionID,
		CourseID:    courseID,
		HostID:      uuid.New(),
		MeetingLink: link,
		StartTime:   time.Now().UTC(),
	})
}

func ended(courseID, sessionID uuid.UUID, reason models.EndReason) models.NotificationEvent {
	now := time.Now().UTC()
	return models.NewSessionEnded(&models.LiveSession{
		ID:        sessionID,
		CourseID:  courseID,
		EndTime:   &now,
		EndReason: reason,
	})
}

func TestReducerAppliesLifecycle(t *testing.T) {
	courseID, sessionID := uuid.New(), uuid.New()
	r := NewReducer(courseID, nil)

	if !r.ApplyEvent(started(courseID, sessionID, "https://meet.test/x")) {
		t.Fatal("started event rejected")
	}
	v := r.View()
	if v.State != models.StateActive || v.SessionID != sessionID || v.MeetingLink != "https://meet.test/x" {
		t.Fatalf("view after start: %+v", v)
	}

	if !r.ApplyEvent(ended(courseID, sessionID, models.EndReasonHost)) {
		t.Fatal("ended event rejected")
	}
	v = r.View()
	if v.State != models.StateEnded || v.EndReason != models.EndReasonHost {
		t.Fatalf("view after end: %+v", v)
	}

	replay := models.NewReplayReady(courseID, sessionID, uuid.New(), "https://cdn.test/r.mp4")
	if !r.ApplyEvent(replay) {
		t.Fatal("replay event rejected")
	}
	v = r.View()
	if v.State != models.StateReplayReady || v.ReplayURL != "https://cdn.test/r.mp4" {
		t.Fatalf("view after replay: %+v", v)
	}
}

func TestReducerDropsDuplicateEvents(t *testing.T) {
	courseID, sessionID := uuid.New(), uuid.New()
	r := NewReducer(courseID, nil)

	ev := started(courseID, sessionID, "")
	if !r.ApplyEvent(ev) {
		t.Fatal("first delivery rejected")
	}
	if r.ApplyEvent(ev) {
		t.Fatal("duplicate delivery accepted")
	}
}

func TestReducerDropsStaleSignals(t *testing.T) {
	courseID, sessionID := uuid.New(), uuid.New()
	r := NewReducer(courseID, nil)

	r.ApplyEvent(started(courseID, sessionID, ""))
	r.ApplyEvent(ended(courseID, sessionID, models.EndReasonWatchdog))

	// A late-delivered started event for the same session must not resurrect
	// it, regardless of arrival order.
	if r.ApplyEvent(started(courseID, sessionID, "")) {
		t.Fatal("stale started event accepted after ended")
	}
	if v := r.View(); v.State != models.StateEnded {
		t.Fatalf("view regressed: %+v", v)
	}
}

func TestReducerAcceptsNewSessionAfterTerminal(t *testing.T) {
	courseID := uuid.New()
	oldSession, newSession := uuid.New(), uuid.New()
	r := NewReducer(courseID, nil)

	r.ApplyEvent(started(courseID, oldSession, ""))
	r.ApplyEvent(ended(courseID, oldSession, models.EndReasonHost))

	if !r.ApplyEvent(started(courseID, newSession, "https://meet.test/next")) {
		t.Fatal("new session start rejected")
	}
	v := r.View()
	if v.SessionID != newSession || v.State != models.StateActive {
		t.Fatalf("view after new session: %+v", v)
	}
	// The old lifecycle's leftovers are gone.
	if v.EndReason != "" || v.ReplayURL != "" {
		t.Fatalf("stale fields survived session change: %+v", v)
	}
}

func TestReducerIgnoresOtherCourses(t *testing.T) {
	courseID := uuid.New()
	r := NewReducer(courseID, nil)
	if r.ApplyEvent(started(uuid.New(), uuid.New(), "")) {
		t.Fatal("event for another course accepted")
	}
}

func TestReducerPollAndPushConverge(t *testing.T) {
	courseID, sessionID := uuid.New(), uuid.New()
	r := NewReducer(courseID, nil)

	session := &models.LiveSession{
		ID:          sessionID,
		CourseID:    courseID,
		State:       models.StateActive,
		MeetingLink: "https://meet.test/x",
	}
	if !r.ApplyPoll(&Current{Status: StatusActive, Session: session}) {
		t.Fatal("active poll rejected")
	}

	// Push and poll announcing the same transition: whichever lands second
	// is a no-op, not a regression.
	if !r.ApplyEvent(ended(courseID, sessionID, models.EndReasonHost)) {
		t.Fatal("ended push rejected")
	}
	endedSession := &models.LiveSession{ID: sessionID, CourseID: courseID, State: models.StateEnded, EndReason: models.EndReasonHost}
	r.ApplyPoll(&Current{Status: StatusEnded, Session: endedSession, RecentlyCompleted: true})
	if v := r.View(); v.State != models.StateEnded {
		t.Fatalf("view after converging signals: %+v", v)
	}
}

func TestReducerRendersEachTransitionOnce(t *testing.T) {
	courseID, sessionID := uuid.New(), uuid.New()
	r := NewReducer(courseID, nil)

	var activeRenders, endedRenders int
	r.OnChange(func(v CourseView) {
		switch v.State {
		case models.StateActive:
			activeRenders++
		case models.StateEnded:
			endedRenders++
		}
	})

	r.ApplyEvent(started(courseID, sessionID, "https://meet.test/x"))
	activeCur := &Current{Status: StatusActive, Session: &models.LiveSession{
		ID:          sessionID,
		CourseID:    courseID,
		State:       models.StateActive,
		MeetingLink: "https://meet.test/x",
	}}
	// Steady-state polls of an unchanged active session re-announce it.
	r.ApplyPoll(activeCur)
	r.ApplyPoll(activeCur)
	if activeRenders != 1 {
		t.Fatalf("active rendered %d times, want exactly 1", activeRenders)
	}

	// The end lands over push, then again on the next poll.
	r.ApplyEvent(ended(courseID, sessionID, models.EndReasonHost))
	r.ApplyPoll(&Current{Status: StatusEnded, RecentlyCompleted: true, Session: &models.LiveSession{
		ID:        sessionID,
		CourseID:  courseID,
		State:     models.StateEnded,
		EndReason: models.EndReasonHost,
	}})
	if endedRenders != 1 {
		t.Fatalf("ended rendered %d times, want exactly 1", endedRenders)
	}
}

func TestReducerPollNoSessionEndsActiveView(t *testing.T) {
	courseID, sessionID := uuid.New(), uuid.New()
	r := NewReducer(courseID, nil)

	r.ApplyEvent(started(courseID, sessionID, ""))
	if !r.ApplyPoll(&Current{Status: StatusNoSession, RecentlyCompleted: true}) {
		t.Fatal("no_session poll rejected while view was active")
	}
	if v := r.View(); v.State != models.StateEnded {
		t.Fatalf("view after no_session poll: %+v", v)
	}

	// Terminal views are left alone by further no_session polls.
	if r.ApplyPoll(&Current{Status: StatusNoSession}) {
		t.Fatal("no_session poll mutated a terminal view")
	}
}
