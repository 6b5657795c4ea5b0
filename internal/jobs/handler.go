package jobs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"contract-backend/internal/shared/server/middleware"
	"contract-backend/internal/shared/server/respond"
)

// multipartOverhead is headroom for boundaries and part headers on top of the file limit.
const multipartOverhead = 1 << 20

type Handler struct {
	Svc      *Service
	MaxBytes int64
}

func NewHandler(svc *Service, maxBytes int64) *Handler {
	return &Handler{Svc: svc, MaxBytes: maxBytes}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/contracts", h.submit)
	rg.GET("/contracts", h.list)
	rg.GET("/contracts/:id", h.get)
	rg.DELETE("/contracts/:id", h.delete)
}

func (h *Handler) submit(c *gin.Context) {
	if h.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes+multipartOverhead)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			h.tooLarge(c)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", gin.H{"field": "file"})
		return
	}
	if header.Size == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is empty", gin.H{"field": "file"})
		return
	}
	if h.MaxBytes > 0 && header.Size > h.MaxBytes {
		h.tooLarge(c)
		return
	}
	f, err := header.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable file", nil)
		return
	}
	defer f.Close()

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.Submit(ctx, SubmitInput{
		AccountID:   middleware.AccountIDFromContext(c),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("jobId", job.ID)
	respond.Accepted(c, submitResponse{JobID: job.ID, Status: job.Status})
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	items, err := h.Svc.List(c.Request.Context(), middleware.AccountIDFromContext(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.Data(c, items)
}

func (h *Handler) get(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	d, err := h.Svc.Get(c.Request.Context(), middleware.AccountIDFromContext(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toDetailResponse(d))
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	if err := h.Svc.Delete(c.Request.Context(), middleware.AccountIDFromContext(c), id); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

// jobIDParam reads the :id path segment in canonical form and answers 400 when it
// is not a UUID.
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

func (h *Handler) tooLarge(c *gin.Context) {
	respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit", gin.H{"maxBytes": h.MaxBytes})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmptyFile):
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is empty", gin.H{"field": "file"})
	case errors.Is(err, ErrAccountNotFound):
		respond.Error(c, http.StatusNotFound, "account_not_found", "account not found", nil)
	case errors.Is(err, ErrQuotaExceeded):
		respond.Error(c, http.StatusForbidden, "quota_exhausted", "upload quota exhausted, upgrade your plan", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "contract not found", nil)
	case errors.Is(err, ErrNotTerminal):
		respond.Error(c, http.StatusConflict, "conflict", "contract is still being analyzed", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
	}
}
