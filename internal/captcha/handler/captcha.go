package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hotelhub/slidegate/internal/captcha/service"
	"github.com/hotelhub/slidegate/internal/risk"
)

// CaptchaHandler handles HTTP requests for the slider captcha flow.
type CaptchaHandler struct {
	svc    *service.CaptchaService
	logger *zap.Logger
}

// NewCaptchaHandler creates a new CaptchaHandler.
func NewCaptchaHandler(svc *service.CaptchaService, logger *zap.Logger) *CaptchaHandler {
	return &CaptchaHandler{svc: svc, logger: logger}
}

// Register mounts the captcha routes on the given router group.
func (h *CaptchaHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/generate", h.Generate)
	rg.POST("/verify", h.Verify)
}

// verifyRequest is the POST /verify body. X is a pointer so that a
// submitted offset of 0 binds while an absent field is a 400.
type verifyRequest struct {
	CaptchaID string     `json:"captchaId" binding:"required"`
	X         *int       `json:"x" binding:"required"`
	Trace     risk.Trace `json:"trace"`
}

// Generate handles GET /generate.
//
// Response: 200 {captchaId, bgImage, pieceImage, y}. Images are
// data:image/png URLs; the target X never appears in the response.
func (h *CaptchaHandler) Generate(c *gin.Context) {
	issued, err := h.svc.Generate(c.Request.Context(), c.ClientIP())
	if err != nil {
		h.logger.Error("generate challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "challenge generation failed"})
		return
	}

	RecordChallengeGenerated()
	c.JSON(http.StatusOK, gin.H{
		"captchaId":  issued.ID,
		"bgImage":    issued.BgImage,
		"pieceImage": issued.PieceImage,
		"y":          issued.PieceY,
	})
}

// Verify handles POST /verify.
//
// Expected outcomes — wrong position, expired challenge, exhausted
// budget — are 200 responses with success=false and an opaque reason;
// only malformed input is a 400 and only storage trouble a 500. The
// response never discloses coordinates, tolerance or attempts left.
func (h *CaptchaHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := uuid.Parse(req.CaptchaID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captchaId"})
		return
	}

	tok, err := h.svc.Verify(c.Request.Context(), id, *req.X, req.Trace, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOrExpired),
			errors.Is(err, service.ErrTooManyAttempts),
			errors.Is(err, service.ErrPositionMismatch):
			RecordVerification(err.Error())
			c.JSON(http.StatusOK, gin.H{"success": false, "msg": err.Error()})
		default:
			h.logger.Error("verify challenge", zap.Error(err))
			RecordVerification("error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification error"})
		}
		return
	}

	RecordVerification("success")
	RecordTokenMinted()
	c.JSON(http.StatusOK, gin.H{"success": true, "captchaToken": tok})
}
