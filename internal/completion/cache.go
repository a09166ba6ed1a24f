// Package completion is the short-TTL dedup memory for observed session
// endings. GetCurrent consults it to answer "recently completed" after the
// session record itself is no longer reported, and to serve the ended status
// exactly once per polling tab.
package completion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

// DefaultTTL is the retention window for completion records.
const DefaultTTL = 5 * time.Minute

// Record notes that a course's session was observed to end.
type Record struct {
	CourseID   uuid.UUID        `json:"course_id"`
	SessionID  uuid.UUID        `json:"session_id"`
	Reason     models.EndReason `json:"reason"`
	ObservedAt time.Time        `json:"observed_at"`
}

// Cache is the server-side completion memory. Implementations expire records
// after their TTL; lookups past expiry behave as if the record never existed.
type Cache interface {
	// MarkCompleted records that the course's session ended. Overwrites any
	// previous record for the course and resets the served-tab set.
	MarkCompleted(ctx context.Context, rec Record) error
	// Lookup returns the unexpired completion record for a course, if any.
	Lookup(ctx context.Context, courseID uuid.UUID) (*Record, error)
	// MarkServed registers that a tab has been served the ended status for
	// the course. Returns true the first time for each tab.
	MarkServed(ctx context.Context, courseID uuid.UUID, tabID string) (bool, error)
}
