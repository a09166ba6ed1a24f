package replays

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/livesession"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/pkg/queue"
	"github.com/tutorhall/backend/pkg/response"
)

// RecordingReadyPayload is the body the meeting provider posts when a
// session's recording artifact becomes downloadable.
type RecordingReadyPayload struct {
	SessionID          string `json:"session_id"`
	ProviderArtifactID string `json:"provider_artifact_id"`
	FileURL            string `json:"file_url"`
	Duration           int    `json:"duration"`
	FileSize           int64  `json:"file_size"`
}

// WebhookHandler consumes provider recording callbacks. The provider is
// unreliable: callbacks may arrive late, twice, or for sessions the watchdog
// already closed, so everything here is duplicate-tolerant.
type WebhookHandler struct {
	repo     *Repository
	sessions *livesession.Service
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewWebhookHandler creates a recording webhook handler.
func NewWebhookHandler(repo *Repository, sessions *livesession.Service, q *queue.Queue, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{repo: repo, sessions: sessions, queue: q, logger: logger}
}

// RecordingReady handles POST /webhooks/recording-ready: attaches the
// recording to the session (Ended -> ReplayProcessing) and enqueues the
// artifact upload. Duplicate callbacks are absorbed silently.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	var body RecordingReadyPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.FileURL == "" {
		response.BadRequest(c, "file_url required")
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}

	if body.ProviderArtifactID != "" {
		if existing, _ := h.repo.GetByProviderArtifact(c.Request.Context(), body.ProviderArtifactID); existing != nil {
			h.logger.Info("duplicate recording callback",
				zap.String("session_id", body.SessionID),
				zap.String("artifact_id", body.ProviderArtifactID))
			response.OK(c, gin.H{"replay_id": existing.ID, "status": existing.Status})
			return
		}
	}

	session, err := h.sessions.AttachRecording(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("attach recording failed", zap.Error(err))
		response.Internal(c, "failed to attach recording")
		return
	}
	if session == nil {
		// Session missing or not past Ended; acknowledged so the provider
		// stops retrying, logged by the service.
		response.OK(c, gin.H{"ignored": true})
		return
	}

	rep := &models.Replay{
		CourseID:           session.CourseID,
		SessionID:          session.ID,
		ProviderArtifactID: body.ProviderArtifactID,
		OriginalURL:        body.FileURL,
		Duration:           body.Duration,
		FileSize:           body.FileSize,
		Status:             models.ReplayStatusProcessing,
	}
	if err := h.repo.Create(c.Request.Context(), rep); err != nil {
		h.logger.Error("create replay failed", zap.Error(err))
		response.Internal(c, "failed to create replay")
		return
	}

	if err := h.queue.EnqueueReplayUpload(c.Request.Context(), queue.ReplayUploadPayload{
		ReplayID:    rep.ID,
		CourseID:    rep.CourseID,
		SessionID:   rep.SessionID,
		OriginalURL: body.FileURL,
	}); err != nil {
		h.logger.Error("enqueue replay upload failed", zap.Error(err), zap.String("replay_id", rep.ID.String()))
		response.Internal(c, "failed to enqueue upload")
		return
	}

	h.logger.Info("recording callback accepted",
		zap.String("session_id", session.ID.String()),
		zap.String("replay_id", rep.ID.String()))
	response.OK(c, gin.H{"replay_id": rep.ID, "status": rep.Status})
}
