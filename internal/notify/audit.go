package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorhall/backend/internal/models"
)

// PostgresEventLog persists published events to notification_events.
// Events are immutable and append-only; the table exists for dedup forensics
// and audit, not for replay delivery.
type PostgresEventLog struct {
	pool *pgxpool.Pool
}

// NewPostgresEventLog creates the audit log.
func NewPostgresEventLog(pool *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{pool: pool}
}

// Append inserts the event. Duplicate IDs (re-published events) are absorbed.
func (l *PostgresEventLog) Append(ctx context.Context, event models.NotificationEvent) error {
	const q = `INSERT INTO notification_events (id, type, course_id, session_id, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	_, err := l.pool.Exec(ctx, q, event.ID, string(event.Type), event.CourseID, event.SessionID, []byte(event.Payload), event.EmittedAt)
	return err
}
