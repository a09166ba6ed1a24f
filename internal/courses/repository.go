package courses

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorhall/backend/internal/models"
)

// Repository handles course and enrollment persistence. It also answers the
// membership questions the session layer needs: who tutors a course, who its
// notification audience is, and which courses a user should be subscribed to.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a courses repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new course.
func (r *Repository) Create(ctx context.Context, course *models.Course) error {
	const q = `INSERT INTO courses (id, title, description, tutor_id)
		VALUES (gen_random_uuid(), $1, NULLIF($2,''), $3)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, course.Title, course.Description, course.TutorID).
		Scan(&course.ID, &course.CreatedAt, &course.UpdatedAt)
}

// GetByID returns a course by ID, or nil if absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	const q = `SELECT id, title, COALESCE(description,''), tutor_id, created_at, updated_at
		FROM courses WHERE id = $1`
	var course models.Course
	err := r.pool.QueryRow(ctx, q, id).Scan(&course.ID, &course.Title, &course.Description, &course.TutorID, &course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}

// List returns all courses.
func (r *Repository) List(ctx context.Context) ([]models.Course, error) {
	const q = `SELECT id, title, COALESCE(description,''), tutor_id, created_at, updated_at
		FROM courses ORDER BY title`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Course
	for rows.Next() {
		var course models.Course
		if err := rows.Scan(&course.ID, &course.Title, &course.Description, &course.TutorID, &course.CreatedAt, &course.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, course)
	}
	return list, rows.Err()
}

// Enroll adds a learner to a course. Repeated enrollments are absorbed.
func (r *Repository) Enroll(ctx context.Context, courseID, userID uuid.UUID) error {
	const q = `INSERT INTO enrollments (course_id, user_id) VALUES ($1, $2)
		ON CONFLICT (course_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, courseID, userID)
	return err
}

// IsTutor reports whether userID tutors the course.
func (r *Repository) IsTutor(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1 AND tutor_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, courseID, userID).Scan(&ok)
	return ok, err
}

// IsEnrolled reports whether userID is enrolled in the course.
func (r *Repository) IsEnrolled(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1 AND user_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, courseID, userID).Scan(&ok)
	return ok, err
}

// AudienceSnapshot returns the learner IDs entitled to notifications for a
// session started now on the course.
func (r *Repository) AudienceSnapshot(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT user_id FROM enrollments WHERE course_id = $1`
	rows, err := r.pool.Query(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CoursesForUser returns the courses a user tutors plus those they are
// enrolled in; connected clients subscribe to all of them implicitly.
func (r *Repository) CoursesForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT id FROM courses WHERE tutor_id = $1
		UNION
		SELECT course_id FROM enrollments WHERE user_id = $1`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
