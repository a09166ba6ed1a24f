package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/models"
)

// CourseView is the single authoritative local view of one course's session.
// Push events and poll responses both resolve into it through the same
// reducer, so the rendered state is identical regardless of delivery path.
type CourseView struct {
	CourseID    uuid.UUID           `json:"course_id"`
	SessionID   uuid.UUID           `json:"session_id,omitempty"`
	State       models.SessionState `json:"state"`
	MeetingLink string              `json:"meeting_link,omitempty"`
	ReplayURL   string              `json:"replay_url,omitempty"`
	EndReason   models.EndReason    `json:"end_reason,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Reducer folds incoming signals into the course view. A signal is accepted
// only if its state sits at or after the current view's position in the
// lifecycle ordering; anything earlier is stale and dropped. Duplicate
// events are dropped by ID before ordering is even consulted.
type Reducer struct {
	mu       sync.Mutex
	view     CourseView
	seen     map[uuid.UUID]struct{}
	onChange func(CourseView)
	logger   *zap.Logger
}

// NewReducer creates a reducer for one course, starting from no_session.
func NewReducer(courseID uuid.UUID, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{
		view:   CourseView{CourseID: courseID, State: models.StateNoSession},
		seen:   make(map[uuid.UUID]struct{}),
		logger: logger,
	}
}

// OnChange registers a callback invoked (under the reducer lock) whenever a
// signal is accepted.
func (r *Reducer) OnChange(fn func(CourseView)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// View returns a copy of the current course view.
func (r *Reducer) View() CourseView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Seed primes the view from persisted state (e.g. a completion record found
// in the tab store on reload) without triggering the change callback.
func (r *Reducer) Seed(sessionID uuid.UUID, state models.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.SessionID = sessionID
	r.view.State = state
}

// accepts decides whether a signal about (sessionID, state) may be applied.
// Caller holds the lock.
func (r *Reducer) accepts(sessionID uuid.UUID, state models.SessionState) bool {
	if r.view.SessionID == uuid.Nil {
		return true
	}
	if sessionID == r.view.SessionID || sessionID == uuid.Nil {
		return state.Ordinal() >= r.view.State.Ordinal()
	}
	// A different session is only ever relevant when it is starting; a stale
	// signal about an older session can never displace the current one.
	return state == models.StateActive
}

func (r *Reducer) apply(sessionID uuid.UUID, state models.SessionState, mutate func(*CourseView)) bool {
	if !r.accepts(sessionID, state) {
		r.logger.Debug("stale signal dropped",
			zap.String("session_id", sessionID.String()),
			zap.String("state", string(state)),
			zap.String("view_state", string(r.view.State)))
		return false
	}
	next := r.view
	if sessionID != uuid.Nil && sessionID != r.view.SessionID {
		// New session: the previous lifecycle is history.
		next = CourseView{CourseID: r.view.CourseID, SessionID: sessionID}
	}
	next.State = state
	if mutate != nil {
		mutate(&next)
	}
	// The same transition routinely arrives twice (push, then the next
	// poll). A re-announcement of what is already rendered is accepted but
	// must not re-render.
	next.UpdatedAt = r.view.UpdatedAt
	if next == r.view {
		return false
	}
	next.UpdatedAt = time.Now().UTC()
	r.view = next
	if r.onChange != nil {
		r.onChange(r.view)
	}
	return true
}

// ApplyEvent folds a push-channel event into the view. Returns true when the
// event changed the view, false when it was a duplicate, stale, or a
// re-announcement of the state already rendered.
func (r *Reducer) ApplyEvent(ev models.NotificationEvent) bool {
	if ev.CourseID != r.view.CourseID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[ev.ID]; dup {
		return false
	}
	r.seen[ev.ID] = struct{}{}

	return r.apply(ev.SessionID, ev.Type.StateAfter(), func(v *CourseView) {
		switch ev.Type {
		case models.EventSessionStarted:
			if p, err := ev.StartedPayload(); err == nil {
				v.MeetingLink = p.MeetingLink
			}
		case models.EventSessionEnded:
			if p, err := ev.EndedPayload(); err == nil {
				v.EndReason = p.Reason
			}
		case models.EventReplayReady:
			if p, err := ev.ReplayPayload(); err == nil {
				v.ReplayURL = p.URL
			}
		}
	})
}

// ApplyPoll folds a GetCurrent answer into the view through the same
// acceptance rule events go through.
func (r *Reducer) ApplyPoll(cur *Current) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch cur.Status {
	case StatusActive:
		if cur.Session == nil {
			return false
		}
		return r.apply(cur.Session.ID, models.StateActive, func(v *CourseView) {
			v.MeetingLink = cur.Session.MeetingLink
		})
	case StatusEnded:
		if cur.Session == nil {
			return false
		}
		return r.apply(cur.Session.ID, cur.Session.State, func(v *CourseView) {
			v.EndReason = cur.Session.EndReason
		})
	default:
		// no_session: meaningful only while the view still believes a
		// session is live; terminal views are left alone.
		if r.view.State == models.StateActive {
			return r.apply(r.view.SessionID, models.StateEnded, nil)
		}
		return false
	}
}
