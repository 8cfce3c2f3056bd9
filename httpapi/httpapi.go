// Package httpapi exposes the otpkit engine over HTTP+JSON with gin.
//
// The transport owns the concerns the engine deliberately does not: default
// purpose, request timeouts, delivery of issued codes through a configured
// sender, and redaction of the code from responses unless the explicit
// development flag is set.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/otpkit/otpkit"
)

// Config tunes the transport layer.
type Config struct {
	// DefaultPurpose is applied when a request omits purpose.
	DefaultPurpose string
	// ExposeCode includes the generated code in issue responses. It exists
	// for development against environments without a delivery channel and
	// must stay off in production; it is never inferred from the
	// environment.
	ExposeCode bool
	// RequestTimeout bounds each store-touching request.
	RequestTimeout time.Duration
	// Clock supplies the current time for response fields derived from
	// record timestamps. Wire the same clock as the engine so expiry math
	// stays consistent; nil means the system clock.
	Clock otpkit.Clock
}

// API binds an engine and an optional delivery sender into gin handlers.
type API struct {
	engine *otpkit.Engine
	sender otpkit.Sender
	cfg    Config
	logger *zap.Logger
}

// New returns an API. sender may be nil when no delivery channel is wired
// (development with ExposeCode, or delivery handled elsewhere).
func New(engine *otpkit.Engine, sender otpkit.Sender, cfg Config, logger *zap.Logger) *API {
	if cfg.DefaultPurpose == "" {
		cfg.DefaultPurpose = otpkit.DefaultPurpose
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = otpkit.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		engine: engine,
		sender: sender,
		cfg:    cfg,
		logger: logger,
	}
}

// Register mounts the issue and verify routes on r.
func (a *API) Register(r gin.IRouter) {
	r.POST("/otp/issue", a.issue)
	r.POST("/otp/verify", a.verify)
}

type issueRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Purpose    string `json:"purpose"`
}

type verifyRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required"`
	Purpose    string `json:"purpose"`
}

func (a *API) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx := otpkit.WithClientIP(c.Request.Context(), c.ClientIP())
	ctx = otpkit.WithUserAgent(ctx, c.Request.UserAgent())
	return context.WithTimeout(ctx, a.cfg.RequestTimeout)
}

func (a *API) issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Purpose == "" {
		req.Purpose = a.cfg.DefaultPurpose
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	res, err := a.engine.Issue(ctx, req.Identifier, req.Purpose)
	if err != nil {
		a.issueError(c, res, err)
		return
	}

	if a.sender != nil {
		// Delivery failure does not invalidate the issued code; the caller
		// can re-request. Surface it to operations, not the user.
		if err := a.sender.Send(ctx, req.Identifier, res.Code); err != nil {
			a.logger.Error("otp delivery failed", zap.Error(err))
		}
	}

	body := gin.H{
		"success":            true,
		"message":            "OTP generated successfully",
		"expires_in_minutes": int(res.ExpiresAt.Sub(a.cfg.Clock.Now()).Round(time.Minute).Minutes()),
	}
	if a.cfg.ExposeCode {
		body["code"] = res.Code
	}
	c.JSON(http.StatusOK, body)
}

func (a *API) issueError(c *gin.Context, res otpkit.IssueResult, err error) {
	switch {
	case errors.Is(err, otpkit.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":       false,
			"error":         "Too many OTP requests",
			"blocked_until": res.BlockedUntil.UTC().Format(time.RFC3339),
		})
	case otpkit.Kind(err) == otpkit.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		a.logger.Error("otp issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Service unavailable"})
	}
}

func (a *API) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Purpose == "" {
		req.Purpose = a.cfg.DefaultPurpose
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()

	res, err := a.engine.Verify(ctx, req.Identifier, req.Purpose, req.Code)
	if err != nil {
		a.verifyError(c, res, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "OTP verified successfully",
	})
}

func (a *API) verifyError(c *gin.Context, res otpkit.VerifyResult, err error) {
	switch {
	case errors.Is(err, otpkit.ErrCodeExpired):
		// Expiry is not sensitive; the message may be specific.
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "OTP expired"})
	case errors.Is(err, otpkit.ErrTooManyAttempts):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Max attempts exceeded"})
	case errors.Is(err, otpkit.ErrCodeInvalid):
		body := gin.H{"success": false, "error": "Invalid or expired OTP"}
		if res.RemainingAttempts > 0 {
			body["remaining_attempts"] = res.RemainingAttempts
		}
		c.JSON(http.StatusBadRequest, body)
	case otpkit.Kind(err) == otpkit.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		a.logger.Error("otp verify failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Service unavailable"})
	}
}
