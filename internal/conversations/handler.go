package conversations

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"contract-backend/internal/shared/server/middleware"
	"contract-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/contracts/:id/conversation", h.fetch)
	rg.POST("/contracts/:id/conversation", h.post)
}

func (h *Handler) fetch(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	accountID := middleware.AccountIDFromContext(c)
	msgs, err := h.Svc.Fetch(c.Request.Context(), accountID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.Data(c, toMessageResponses(msgs))
}

func (h *Handler) post(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid JSON body", nil)
		return
	}
	c.Set("jobId", jobID)
	accountID := middleware.AccountIDFromContext(c)
	if _, err := h.Svc.PostMessage(c.Request.Context(), accountID, jobID, req.Message); err != nil {
		writeError(c, err)
		return
	}
	respond.Accepted(c, gin.H{"status": "processing"})
}

func jobIDParam(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid contract id", []map[string]string{
			{"field": "id", "issue": "invalid"},
		})
		return "", false
	}
	return id.String(), true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		respond.Error(c, http.StatusBadRequest, "validation_error", "message is required", gin.H{"field": "message"})
	case errors.Is(err, ErrMessageTooLong):
		respond.Error(c, http.StatusBadRequest, "validation_error", "message is too long", gin.H{"field": "message", "maxLength": MaxMessageRunes})
	case errors.Is(err, ErrJobNotAvailable), errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "contract not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
	}
}
