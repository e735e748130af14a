package register

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hotelhub/slidegate/internal/token"
)

// Handler exposes the signup endpoint.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a registration Handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the signup route on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/register", h.Signup)
}

// Signup handles POST /register.
//
// Request body: {"email", "password", "captchaToken"}. A missing or
// failed captcha token rejects the whole request; it is never silently
// ignored.
func (h *Handler) Signup(c *gin.Context) {
	var req struct {
		Email        string `json:"email" binding:"required"`
		Password     string `json:"password" binding:"required"`
		CaptchaToken string `json:"captchaToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.svc.Signup(c.Request.Context(), req.Email, req.Password, req.CaptchaToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrCaptchaRejected):
			msg := "captcha verification failed"
			if errors.Is(err, token.ErrAlreadyUsed) {
				msg = "captcha token already used"
			}
			c.JSON(http.StatusForbidden, gin.H{"error": msg})
		case errors.Is(err, ErrDuplicateEmail):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("signup", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    u.ID,
		"email": u.Email,
	})
}
