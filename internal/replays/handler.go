package replays

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/pkg/response"
	"github.com/tutorhall/backend/pkg/storage"
)

// Handler exposes replay listing and downloads.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates a replays handler. s3 may be nil when object storage is
// not configured; download URLs are unavailable then.
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// ListByCourse handles GET /courses/:id/replays.
func (h *Handler) ListByCourse(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	list, err := h.repo.ListReadyByCourse(c.Request.Context(), courseID)
	if err != nil {
		h.logger.Error("list replays failed", zap.Error(err))
		response.Internal(c, "failed to list replays")
		return
	}
	response.OK(c, gin.H{"replays": list})
}

// DownloadURL handles GET /replays/:id/download-url.
func (h *Handler) DownloadURL(c *gin.Context) {
	replayID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid replay id")
		return
	}
	rep, err := h.repo.GetByID(c.Request.Context(), replayID)
	if err != nil {
		h.logger.Error("load replay failed", zap.Error(err))
		response.Internal(c, "failed to load replay")
		return
	}
	if rep == nil || rep.S3Key == "" {
		response.NotFound(c, "replay not available")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "object storage not configured")
		return
	}
	url, err := h.s3.PresignDownload(c.Request.Context(), h.s3.ReplaysBucket(), rep.S3Key)
	if err != nil {
		h.logger.Error("presign failed", zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url})
}
