package models

import (
	"time"

	"github.com/google/uuid"
)

// Replay status values (provider artifact → S3 pipeline).
const (
	ReplayStatusProcessing = "processing"
	ReplayStatusReady      = "ready"
	ReplayStatusFailed     = "failed"
)

// Replay is a recording artifact of an ended live session.
type Replay struct {
	ID                 uuid.UUID `json:"id"`
	CourseID           uuid.UUID `json:"course_id"`
	SessionID          uuid.UUID `json:"session_id"`
	ProviderArtifactID string    `json:"provider_artifact_id,omitempty"`
	OriginalURL        string    `json:"original_url,omitempty"`
	S3URL              string    `json:"s3_url,omitempty"`
	S3Key              string    `json:"s3_key,omitempty"`
	Duration           int       `json:"duration"`
	FileSize           int64     `json:"file_size"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
