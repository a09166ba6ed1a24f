package models

import (
	"time"

	"github.com/google/uuid"
)

// Course is a tutored course; its tutor hosts live sessions for it.
type Course struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	TutorID     uuid.UUID `json:"tutor_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Enrollment links a learner to a course; enrolled learners form the
// notification audience of the course's live sessions.
type Enrollment struct {
	CourseID  uuid.UUID `json:"course_id"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
