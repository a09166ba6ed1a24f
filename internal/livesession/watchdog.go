package livesession

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tutorhall/backend/config"
	"github.com/tutorhall/backend/internal/models"
)

// Watchdog sweeps active sessions and force-ends any whose host went silent.
// The external provider may never send a positive end signal (the host can
// just close the meeting tab), so this is the only bound on session lifetime.
type Watchdog struct {
	store   Store
	service *Service
	cfg     config.SessionConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewWatchdog creates the session liveness sweeper.
func NewWatchdog(store Store, service *Service, cfg config.SessionConfig, logger *zap.Logger) *Watchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{store: store, service: service, cfg: cfg, logger: logger, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (w *Watchdog) SetClock(now func() time.Time) { w.now = now }

// Run sweeps on the configured interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep force-ends every active session past its deadline. A session is
// overdue when it exceeded the absolute maximum duration or missed too many
// consecutive heartbeats.
func (w *Watchdog) Sweep(ctx context.Context) {
	sessions, err := w.store.ListActive(ctx)
	if err != nil {
		w.logger.Warn("watchdog list failed", zap.Error(err))
		return
	}
	now := w.now()
	staleAfter := time.Duration(w.cfg.MissedHeartbeatLimit) * w.cfg.HeartbeatInterval
	for i := range sessions {
		s := &sessions[i]
		overdue := now.Sub(s.StartTime) >= w.cfg.MaxDuration
		stale := staleAfter > 0 && now.Sub(s.LastHeartbeat) >= staleAfter
		if !overdue && !stale {
			continue
		}
		w.logger.Info("watchdog ending session",
			zap.String("session_id", s.ID.String()),
			zap.String("course_id", s.CourseID.String()),
			zap.Bool("max_duration_exceeded", overdue),
			zap.Bool("heartbeat_stale", stale))
		if _, err := w.service.end(ctx, s, models.EndReasonWatchdog); err != nil {
			w.logger.Warn("watchdog end failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	}
}
