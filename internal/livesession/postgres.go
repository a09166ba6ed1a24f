package livesession

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorhall/backend/internal/models"
)

const sessionColumns = `id, course_id, host_id, state, start_time, end_time,
	COALESCE(meeting_link,''), COALESCE(audience_snapshot,'[]'::jsonb), COALESCE(end_reason,''), last_heartbeat, created_at, updated_at`

// PostgresStore persists live sessions in PostgreSQL. The partial unique
// index on (course_id) WHERE state = 'active' is the single-active guarantee;
// every transition is a guarded UPDATE so races resolve to one winner.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) CreateActive(ctx context.Context, s *models.LiveSession) (*models.LiveSession, bool, error) {
	snapshot, err := json.Marshal(s.AudienceSnapshot)
	if err != nil {
		return nil, false, err
	}
	const q = `INSERT INTO live_sessions (id, course_id, host_id, state, start_time, meeting_link, audience_snapshot, last_heartbeat)
		VALUES (gen_random_uuid(), $1, $2, 'active', $3, $4, $5, $3)
		ON CONFLICT (course_id) WHERE state = 'active' DO NOTHING
		RETURNING ` + sessionColumns
	row := r.pool.QueryRow(ctx, q, s.CourseID, s.HostID, s.StartTime, s.MeetingLink, snapshot)
	created, err := scanSession(row)
	if err == nil {
		return created, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}
	// Insert lost to an existing active session; return the winner.
	existing, err := r.GetActiveByCourse(ctx, s.CourseID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *PostgresStore) GetActiveByCourse(ctx context.Context, courseID uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions
		WHERE course_id = $1 AND state = 'active' ORDER BY start_time DESC LIMIT 1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, courseID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *PostgresStore) EndActive(ctx context.Context, id uuid.UUID, reason models.EndReason, at time.Time) (*models.LiveSession, bool, error) {
	const q = `UPDATE live_sessions
		SET state = 'ended', end_time = $2, end_reason = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'active'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, at, string(reason)))
	if err == nil {
		return s, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *PostgresStore) AdvanceState(ctx context.Context, id uuid.UUID, from, to models.SessionState) (*models.LiveSession, bool, error) {
	if !from.CanTransitionTo(to) {
		current, err := r.GetByID(ctx, id)
		return current, false, err
	}
	const q = `UPDATE live_sessions SET state = $3, updated_at = NOW()
		WHERE id = $1 AND state = $2
		RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, string(from), string(to)))
	if err == nil {
		return s, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *PostgresStore) Heartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE live_sessions SET last_heartbeat = $2 WHERE id = $1 AND state = 'active'`
	_, err := r.pool.Exec(ctx, q, id, at)
	return err
}

func (r *PostgresStore) ListActive(ctx context.Context) ([]models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE state = 'active'`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var s models.LiveSession
	var state, reason string
	var snapshot []byte
	err := row.Scan(&s.ID, &s.CourseID, &s.HostID, &state, &s.StartTime, &s.EndTime,
		&s.MeetingLink, &snapshot, &reason, &s.LastHeartbeat, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.State = models.SessionState(state)
	s.EndReason = models.EndReason(reason)
	if len(snapshot) > 0 {
		_ = json.Unmarshal(snapshot, &s.AudienceSnapshot)
	}
	return &s, nil
}
