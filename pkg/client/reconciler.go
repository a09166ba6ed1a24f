package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/models"
)

// DefaultPollInterval is the reconciler's polling cadence.
const DefaultPollInterval = 3 * time.Second

// Reconciler keeps one course's view converged with the server. It polls
// GetCurrent on a fixed cadence, feeds push events through the same
// reducer, and issues an immediate catch-up poll whenever the push channel
// (re)connects so a disconnect gap never exceeds one poll round trip.
type Reconciler struct {
	api      API
	push     *PushConn
	reducer  *Reducer
	store    *Store
	courseID uuid.UUID
	interval time.Duration
	logger   *zap.Logger

	pollNow chan struct{}
}

// NewReconciler creates a reconciler for one course. push may be nil, in
// which case the poll loop alone drives convergence.
func NewReconciler(api API, push *PushConn, store *Store, courseID uuid.UUID, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		api:      api,
		push:     push,
		reducer:  NewReducer(courseID, logger),
		store:    store,
		courseID: courseID,
		interval: DefaultPollInterval,
		logger:   logger,
		pollNow:  make(chan struct{}, 1),
	}
	r.reducer.OnChange(r.persistView)
	return r
}

// SetPollInterval overrides the polling cadence.
func (r *Reconciler) SetPollInterval(d time.Duration) { r.interval = d }

// View returns the current local course view.
func (r *Reconciler) View() CourseView { return r.reducer.View() }

// OnChange registers a render callback fired on every accepted transition.
func (r *Reconciler) OnChange(fn func(CourseView)) {
	r.reducer.OnChange(func(v CourseView) {
		r.persistView(v)
		fn(v)
	})
}

// persistView writes terminal observations into the tab store so a reload
// renders "completed" immediately instead of flashing "waiting" first.
func (r *Reconciler) persistView(v CourseView) {
	if v.State.Ordinal() < models.StateEnded.Ordinal() || v.SessionID == uuid.Nil {
		return
	}
	if err := r.store.MarkCompleted(CompletionRecord{
		CourseID:  v.CourseID,
		SessionID: v.SessionID,
	}); err != nil {
		r.logger.Warn("persist completion failed", zap.Error(err))
	}
}

// Run drives the reconciler until ctx is cancelled. On startup the tab
// store's completion record seeds the view; the first poll then confirms or
// supersedes it.
func (r *Reconciler) Run(ctx context.Context) {
	if rec := r.store.RecentCompletion(r.courseID); rec != nil {
		r.reducer.Seed(rec.SessionID, models.StateEnded)
		r.logger.Debug("seeded view from completion record",
			zap.String("session_id", rec.SessionID.String()))
	}

	if r.push != nil {
		r.push.OnEvent(r.applyEvent)
		r.push.OnConnect(r.requestPoll)
		go r.push.Run(ctx)
	}

	r.poll(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		case <-r.pollNow:
			r.poll(ctx)
		}
	}
}

func (r *Reconciler) requestPoll() {
	select {
	case r.pollNow <- struct{}{}:
	default:
	}
}

func (r *Reconciler) applyEvent(ev models.NotificationEvent) {
	if r.reducer.ApplyEvent(ev) {
		if err := r.store.SetCursor(ev.ID.String()); err != nil {
			r.logger.Warn("persist cursor failed", zap.Error(err))
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) {
	cur, err := r.api.GetCurrent(ctx, r.courseID)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("poll failed", zap.Error(err))
		}
		return
	}
	r.reducer.ApplyPoll(cur)
}

// RunHostHeartbeat keeps an active session's liveness stamp fresh from the
// host's client. It returns when ctx is cancelled or the heartbeat is
// rejected (session ended or taken over).
func RunHostHeartbeat(ctx context.Context, api API, sessionID uuid.UUID, interval time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := api.Heartbeat(ctx, sessionID); err != nil {
				logger.Warn("heartbeat rejected", zap.Error(err))
				return err
			}
		}
	}
}
