package replays

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorhall/backend/internal/models"
)

const replayColumns = `id, course_id, session_id, COALESCE(provider_artifact_id,''), COALESCE(original_url,''),
	COALESCE(s3_url,''), COALESCE(s3_key,''), duration, file_size, status, created_at, updated_at`

// Repository handles replay persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a replays repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new replay (status = processing).
func (r *Repository) Create(ctx context.Context, rep *models.Replay) error {
	const q = `INSERT INTO replays (id, course_id, session_id, provider_artifact_id, original_url, duration, file_size, status)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, rep.CourseID, rep.SessionID, rep.ProviderArtifactID, rep.OriginalURL, rep.Duration, rep.FileSize, rep.Status).
		Scan(&rep.ID, &rep.CreatedAt, &rep.UpdatedAt)
}

// GetByID returns a replay by ID, or nil if absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Replay, error) {
	const q = `SELECT ` + replayColumns + ` FROM replays WHERE id = $1`
	rep, err := scanReplay(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rep, err
}

// GetByProviderArtifact returns a replay by the provider's artifact ID.
func (r *Repository) GetByProviderArtifact(ctx context.Context, artifactID string) (*models.Replay, error) {
	const q = `SELECT ` + replayColumns + ` FROM replays WHERE provider_artifact_id = $1`
	rep, err := scanReplay(r.pool.QueryRow(ctx, q, artifactID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rep, err
}

// ListReadyByCourse returns the course's ready replays, newest first.
func (r *Repository) ListReadyByCourse(ctx context.Context, courseID uuid.UUID) ([]models.Replay, error) {
	const q = `SELECT ` + replayColumns + ` FROM replays
		WHERE course_id = $1 AND status = $2 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, courseID, models.ReplayStatusReady)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Replay
	for rows.Next() {
		rep, err := scanReplay(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rep)
	}
	return list, rows.Err()
}

// MarkReady stores the S3 result and flips status to ready.
func (r *Repository) MarkReady(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64) error {
	const q = `UPDATE replays SET s3_url = $2, s3_key = $3, file_size = $4, status = $5, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, s3URL, s3Key, fileSize, models.ReplayStatusReady)
	return err
}

// MarkFailed flips status to failed after the upload pipeline gave up.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE replays SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, models.ReplayStatusFailed)
	return err
}

func scanReplay(row pgx.Row) (*models.Replay, error) {
	var rep models.Replay
	err := row.Scan(&rep.ID, &rep.CourseID, &rep.SessionID, &rep.ProviderArtifactID, &rep.OriginalURL,
		&rep.S3URL, &rep.S3Key, &rep.Duration, &rep.FileSize, &rep.Status, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
