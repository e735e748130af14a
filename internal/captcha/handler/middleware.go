package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hotelhub/slidegate/internal/token"
)

// RequireCaptchaToken returns a Gin middleware that gates a protected
// operation on a valid captcha token. The token is read from the
// X-Captcha-Token header or the captchaToken body field; the request
// body is restored for the downstream handler. The token is spent as
// part of a successful check, so a request that passes this middleware
// has consumed it.
func RequireCaptchaToken(issuer *token.Issuer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := extractCaptchaToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "captcha token required",
			})
			return
		}

		if _, err := issuer.Validate(c.Request.Context(), tok, scope); err != nil {
			status := http.StatusForbidden
			msg := "captcha verification failed"
			switch {
			case errors.Is(err, token.ErrAlreadyUsed):
				msg = "captcha token already used"
			case errors.Is(err, token.ErrExpired):
				msg = "captcha token expired"
			case errors.Is(err, token.ErrScopeMismatch), errors.Is(err, token.ErrBadSignature):
				// generic message; do not hint at which check failed
			default:
				status = http.StatusInternalServerError
				msg = "captcha validation error"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Next()
	}
}

// extractCaptchaToken pulls the token from the header or a JSON body
// field, restoring the body either way.
func extractCaptchaToken(c *gin.Context) string {
	if t := c.GetHeader("X-Captcha-Token"); t != "" {
		return t
	}
	if c.Request.Body == nil {
		return ""
	}
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(b))
	var body struct {
		CaptchaToken string `json:"captchaToken"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return ""
	}
	return body.CaptchaToken
}
