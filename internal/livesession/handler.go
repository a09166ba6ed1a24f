package livesession

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorhall/backend/internal/middleware"
	"github.com/tutorhall/backend/internal/provider"
	"github.com/tutorhall/backend/pkg/response"
)

// Handler exposes the session registry over HTTP.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// StartRequest is the body for POST /courses/:id/session/start.
type StartRequest struct {
	MeetingLink string `json:"meeting_link"`
}

// StartResponse wraps the started (or already running) session.
type StartResponse struct {
	Session       interface{} `json:"session"`
	AlreadyActive bool        `json:"already_active"`
}

// Start handles POST /courses/:id/session/start. Idempotent: a second call
// while active returns the existing session with already_active=true.
func (h *Handler) Start(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	callerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req StartRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	session, alreadyActive, err := h.service.Start(c.Request.Context(), courseID, callerID, req.MeetingLink)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotTutor):
			response.Forbidden(c, "only the course tutor may start a session")
		case errors.Is(err, provider.ErrUnavailable):
			response.ServiceUnavailable(c, "meeting provider unavailable")
		default:
			h.logger.Error("start session failed", zap.Error(err))
			response.Internal(c, "failed to start session")
		}
		return
	}
	response.OK(c, StartResponse{Session: session, AlreadyActive: alreadyActive})
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	callerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	session, err := h.service.End(c.Request.Context(), sessionID, callerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			response.Forbidden(c, "only the host may end this session")
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "no active session with this id")
		default:
			h.logger.Error("end session failed", zap.Error(err))
			response.Internal(c, "failed to end session")
		}
		return
	}
	response.OK(c, gin.H{"session": session})
}

// Heartbeat handles POST /sessions/:id/heartbeat (host liveness probe).
func (h *Handler) Heartbeat(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	callerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if err := h.service.Heartbeat(c.Request.Context(), sessionID, callerID); err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			response.Forbidden(c, "only the host may heartbeat this session")
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotActive):
			response.NotFound(c, "no active session with this id")
		default:
			h.logger.Error("heartbeat failed", zap.Error(err))
			response.Internal(c, "failed to record heartbeat")
		}
		return
	}
	response.OK(c, gin.H{"ok": true})
}

// ProviderEndedPayload is the body the meeting provider posts when it
// observes a meeting ending (everyone left, room closed).
type ProviderEndedPayload struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ProviderEnded handles POST /webhooks/session-ended. Idempotent: late or
// duplicate callbacks for sessions already past active are acknowledged and
// ignored.
func (h *Handler) ProviderEnded(c *gin.Context) {
	var body ProviderEndedPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}
	if err := h.service.HandleProviderEnded(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("provider ended failed", zap.Error(err))
		response.Internal(c, "failed to apply session end")
		return
	}
	response.OK(c, gin.H{"ok": true})
}

// Current handles GET /courses/:id/session/current. The optional ?tab= query
// identifies the polling tab so the ended status is served exactly once.
func (h *Handler) Current(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	current, err := h.service.GetCurrent(c.Request.Context(), courseID, c.Query("tab"))
	if err != nil {
		h.logger.Error("get current failed", zap.Error(err))
		response.Internal(c, "failed to read session status")
		return
	}
	response.OK(c, current)
}
