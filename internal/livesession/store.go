// Package livesession owns the live-session registry and state machine:
// one active session per course, monotonic transitions, and the watchdog
// that ends sessions whose host silently disappeared.
package livesession

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

var (
	// ErrNotFound means the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive means the session exists but is past Active.
	ErrNotActive = errors.New("session not active")
	// ErrUnauthorized means the caller is not the host of the session.
	ErrUnauthorized = errors.New("caller is not the session host")
	// ErrNotTutor means the caller does not tutor the course.
	ErrNotTutor = errors.New("caller does not tutor this course")
)

// Store persists live sessions. Mutations are compare-and-set shaped: a
// transition applies only if the stored state still matches, and the loser
// of a race observes the winning state instead of erroring.
type Store interface {
	// CreateActive inserts s as the course's active session. If another
	// active session already exists for the course, it returns that session
	// and created=false without inserting.
	CreateActive(ctx context.Context, s *models.LiveSession) (session *models.LiveSession, created bool, err error)
	// GetByID returns a session by ID, or nil if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	// GetActiveByCourse returns the course's active session, or nil.
	GetActiveByCourse(ctx context.Context, courseID uuid.UUID) (*models.LiveSession, error)
	// EndActive transitions id from active to ended, stamping end time and
	// reason. Returns applied=false if the session was not active anymore.
	EndActive(ctx context.Context, id uuid.UUID, reason models.EndReason, at time.Time) (session *models.LiveSession, applied bool, err error)
	// AdvanceState moves id from exactly `from` to `to` (replay pipeline
	// steps). Returns applied=false when the stored state does not match.
	AdvanceState(ctx context.Context, id uuid.UUID, from, to models.SessionState) (session *models.LiveSession, applied bool, err error)
	// Heartbeat stamps host liveness on an active session.
	Heartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListActive returns all active sessions, for the watchdog sweep.
	ListActive(ctx context.Context) ([]models.LiveSession, error)
}
