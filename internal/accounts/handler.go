package accounts

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

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
	rg.POST("/auth/register", h.register)
	rg.POST("/auth/login", h.login)
	rg.GET("/auth/me", h.me)
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid JSON body", nil)
		return
	}
	in := RegisterInput{Email: req.Email, Password: req.Password, FullName: req.FullName, Phone: req.Phone}
	if req.DOB != "" {
		dob, err := time.Parse("2006-01-02", req.DOB)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "dob must be YYYY-MM-DD", gin.H{"field": "dob"})
			return
		}
		in.DOB = &dob
	}

	account, err := h.Svc.Register(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "email and password are required", nil)
		return
	}
	token, account, err := h.Svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"token": token, "account": toAccountResponse(account)})
}

func (h *Handler) me(c *gin.Context) {
	accountID := middleware.AccountIDFromContext(c)
	if accountID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	account, err := h.Svc.Get(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toAccountResponse(account))
}

func writeError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(c, http.StatusBadRequest, "validation_error", verr.Message, gin.H{"field": verr.Field})
	case errors.Is(err, ErrEmailTaken):
		respond.Error(c, http.StatusConflict, "conflict", "email already registered", nil)
	case errors.Is(err, ErrInvalidCredentials):
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "invalid email or password", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "account_not_found", "account not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
	}
}
