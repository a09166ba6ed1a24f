package livesession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/config"
	"github.com/tutorhall/backend/internal/completion"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/provider"
)

// Publisher emits notification events on accepted transitions. Delivery is
// at-least-once toward connected clients; pollers discover the same
// transitions through GetCurrent.
type Publisher interface {
	Publish(ctx context.Context, event models.NotificationEvent)
}

// AudienceSource resolves course membership for audience snapshots and
// host authorization.
type AudienceSource interface {
	IsTutor(ctx context.Context, courseID, userID uuid.UUID) (bool, error)
	AudienceSnapshot(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error)
}

// Current is the GetCurrent answer: the authoritative session status a
// poller merges into its local view.
type Current struct {
	Status            string              `json:"status"` // active | ended | no_session
	Session           *models.LiveSession `json:"session,omitempty"`
	RecentlyCompleted bool                `json:"recently_completed,omitempty"`
}

const (
	StatusActive    = "active"
	StatusEnded     = "ended"
	StatusNoSession = "no_session"
)

// Service is the session state machine. All start/end/watchdog transitions
// for a course run under that course's lock, so near-simultaneous commands
// resolve to a single winning transition.
type Service struct {
	store      Store
	publisher  Publisher
	completion completion.Cache
	meetings   provider.MeetingProvider
	audience   AudienceSource
	cfg        config.SessionConfig
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewService creates the session state machine.
func NewService(store Store, pub Publisher, cache completion.Cache, meetings provider.MeetingProvider, audience AudienceSource, cfg config.SessionConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		publisher:  pub,
		completion: cache,
		meetings:   meetings,
		audience:   audience,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) courseLock(courseID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[courseID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[courseID] = l
	}
	return l
}

// Start begins a live session for a course. Idempotent: if a session is
// already active for the course the existing record is returned with
// alreadyActive=true, regardless of which tab or click raced in first.
// Provider failure is a blocking error; no record is created.
func (s *Service) Start(ctx context.Context, courseID, hostID uuid.UUID, meetingLink string) (*models.LiveSession, bool, error) {
	ok, err := s.audience.IsTutor(ctx, courseID, hostID)
	if err != nil {
		return nil, false, fmt.Errorf("check tutor: %w", err)
	}
	if !ok {
		return nil, false, ErrNotTutor
	}

	lock := s.courseLock(courseID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := s.store.GetActiveByCourse(ctx, courseID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	if meetingLink == "" {
		meeting, err := s.meetings.CreateMeeting(ctx, courseID, hostID)
		if err != nil {
			return nil, false, err
		}
		meetingLink = meeting.JoinURL
	}

	snapshot, err := s.audience.AudienceSnapshot(ctx, courseID)
	if err != nil {
		return nil, false, fmt.Errorf("audience snapshot: %w", err)
	}

	now := s.now().UTC()
	session, created, err := s.store.CreateActive(ctx, &models.LiveSession{
		CourseID:         courseID,
		HostID:           hostID,
		StartTime:        now,
		MeetingLink:      meetingLink,
		AudienceSnapshot: snapshot,
		LastHeartbeat:    now,
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Lost an insert race across instances; the winner's record stands.
		return session, true, nil
	}

	s.publisher.Publish(ctx, models.NewSessionStarted(session))
	s.logger.Info("session started",
		zap.String("session_id", session.ID.String()),
		zap.String("course_id", courseID.String()),
		zap.String("host_id", hostID.String()))
	return session, false, nil
}

// End terminates a session on behalf of its host.
func (s *Service) End(ctx context.Context, sessionID, callerID uuid.UUID) (*models.LiveSession, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}
	if session.HostID != callerID {
		return nil, ErrUnauthorized
	}
	ended, err := s.end(ctx, session, models.EndReasonHost)
	if err != nil {
		return nil, err
	}
	return ended, nil
}

// HandleProviderEnded applies a provider-observed session end. Idempotent:
// a session already past Active is left alone.
func (s *Service) HandleProviderEnded(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil || session.State != models.StateActive {
		return nil
	}
	_, err = s.end(ctx, session, models.EndReasonProvider)
	return err
}

// end applies the Active -> Ended transition under the course lock, records
// the completion and emits the ended event. If the CAS lost (e.g. an end
// racing the watchdog), the already-applied state is returned as a no-op.
func (s *Service) end(ctx context.Context, session *models.LiveSession, reason models.EndReason) (*models.LiveSession, error) {
	lock := s.courseLock(session.CourseID)
	lock.Lock()
	defer lock.Unlock()

	ended, applied, err := s.store.EndActive(ctx, session.ID, reason, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		if ended == nil {
			return nil, ErrNotFound
		}
		if ended.State == models.StateActive {
			return nil, fmt.Errorf("end session %s: transition not applied", session.ID)
		}
		return ended, nil
	}

	rec := completion.Record{
		CourseID:   ended.CourseID,
		SessionID:  ended.ID,
		Reason:     reason,
		ObservedAt: s.now().UTC(),
	}
	if err := s.completion.MarkCompleted(ctx, rec); err != nil {
		s.logger.Warn("completion cache write failed", zap.Error(err))
	}

	s.publisher.Publish(ctx, models.NewSessionEnded(ended))
	s.logger.Info("session ended",
		zap.String("session_id", ended.ID.String()),
		zap.String("course_id", ended.CourseID.String()),
		zap.String("reason", string(reason)))
	return ended, nil
}

// Heartbeat refreshes host liveness on an active session.
func (s *Service) Heartbeat(ctx context.Context, sessionID, callerID uuid.UUID) error {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNotFound
	}
	if session.HostID != callerID {
		return ErrUnauthorized
	}
	if session.State != models.StateActive {
		return ErrNotActive
	}
	return s.store.Heartbeat(ctx, sessionID, s.now().UTC())
}

// AttachRecording moves an ended session into replay processing when the
// provider reports an artifact. Duplicate or out-of-place callbacks are
// absorbed silently: logged, nil session, no error surfaced.
func (s *Service) AttachRecording(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	session, applied, err := s.store.AdvanceState(ctx, sessionID, models.StateEnded, models.StateReplayProcessing)
	if err != nil {
		return nil, err
	}
	if !applied {
		state := models.StateNoSession
		if session != nil {
			state = session.State
		}
		s.logger.Info("recording attach ignored",
			zap.String("session_id", sessionID.String()),
			zap.String("state", string(state)))
		if session != nil && session.State == models.StateReplayProcessing {
			// Duplicate provider callback; the pipeline is already running.
			return session, nil
		}
		return nil, nil
	}
	return session, nil
}

// MarkReplayReady completes the replay pipeline and notifies the audience.
func (s *Service) MarkReplayReady(ctx context.Context, sessionID, replayID uuid.UUID, url string) error {
	session, applied, err := s.store.AdvanceState(ctx, sessionID, models.StateReplayProcessing, models.StateReplayReady)
	if err != nil {
		return err
	}
	if !applied {
		state := models.StateNoSession
		if session != nil {
			state = session.State
		}
		s.logger.Info("replay ready ignored", zap.String("session_id", sessionID.String()), zap.String("state", string(state)))
		return nil
	}
	s.publisher.Publish(ctx, models.NewReplayReady(session.CourseID, session.ID, replayID, url))
	s.logger.Info("replay ready",
		zap.String("session_id", session.ID.String()),
		zap.String("replay_id", replayID.String()))
	return nil
}

// GetCurrent answers a poll for the course's session status. The ended
// status is served once per tab; later polls from the same tab see
// no_session with recentlyCompleted=true until the completion TTL expires.
// Pollers without a tab identity get a one-poll-interval ended grace window.
func (s *Service) GetCurrent(ctx context.Context, courseID uuid.UUID, tabID string) (*Current, error) {
	active, err := s.store.GetActiveByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return &Current{Status: StatusActive, Session: active}, nil
	}

	rec, err := s.completion.Lookup(ctx, courseID)
	if err != nil {
		s.logger.Warn("completion cache lookup failed", zap.Error(err))
		return &Current{Status: StatusNoSession}, nil
	}
	if rec == nil {
		return &Current{Status: StatusNoSession}, nil
	}

	serveEnded := false
	if tabID != "" {
		first, err := s.completion.MarkServed(ctx, courseID, tabID)
		if err != nil {
			s.logger.Warn("completion cache serve failed", zap.Error(err))
		}
		serveEnded = first
	} else {
		serveEnded = s.now().Sub(rec.ObservedAt) < s.cfg.PollInterval
	}

	if serveEnded {
		session, err := s.store.GetByID(ctx, rec.SessionID)
		if err != nil {
			return nil, err
		}
		return &Current{Status: StatusEnded, Session: session, RecentlyCompleted: true}, nil
	}
	return &Current{Status: StatusNoSession, RecentlyCompleted: true}, nil
}
