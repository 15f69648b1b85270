package statusapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"github.com/kbukum/tradeguard/component"
	apperrors "github.com/kbukum/tradeguard/errors"
	"github.com/kbukum/tradeguard/health"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/orchestrator"
	"github.com/kbukum/tradeguard/version"
)

// Target is what the status API exposes. *orchestrator.Orchestrator
// satisfies it.
type Target interface {
	Name() string
	Status() orchestrator.Status
	HealthReport() health.Report
	EmergencyReset() orchestrator.ResetResult
	Health(ctx context.Context) component.Health
}

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// Handlers serves the status routes for one Target.
type Handlers struct {
	target     Target
	resetToken string
	clock      clock.Clock
	log        *logger.Logger
}

// NewHandlers creates handlers for target. An empty resetToken leaves
// POST /reset unauthenticated.
func NewHandlers(target Target, resetToken string, clk clock.Clock, log *logger.Logger) *Handlers {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Handlers{target: target, resetToken: resetToken, clock: clk, log: log}
}

// Register mounts the routes on group.
func (h *Handlers) Register(group gin.IRoutes) {
	group.GET("/status", h.Status)
	group.GET("/health", h.Health)
	group.GET("/health/report", h.Report)
	group.GET("/version", h.Version)
	group.POST("/reset", h.requireResetToken, h.Reset)
}

// Status returns the orchestrator snapshot.
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, DataResponse{Data: h.target.Status()})
}

// Health reports the orchestrator health. An unhealthy orchestrator
// answers 503 so load balancers and probes can act on the status code.
func (h *Handlers) Health(c *gin.Context) {
	hc := h.target.Health(c.Request.Context())

	status := http.StatusOK
	if hc.Status == component.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    hc.Status,
		"service":   h.target.Name(),
		"message":   hc.Message,
		"details":   hc.Details,
		"timestamp": h.clock.Now().UTC(),
	})
}

// Report returns the monitor report with alerts and healing suggestions.
func (h *Handlers) Report(c *gin.Context) {
	c.JSON(http.StatusOK, DataResponse{Data: h.target.HealthReport()})
}

// Version reports the running build.
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, DataResponse{Data: version.Get()})
}

// Reset performs an emergency reset.
func (h *Handlers) Reset(c *gin.Context) {
	res := h.target.EmergencyReset()
	h.log.Warn("emergency reset requested", logger.Fields(
		"client_ip", c.ClientIP(),
		"cancelled", res.Cancelled,
		"retries_cancelled", res.RetriesCancelled,
	))
	c.JSON(http.StatusOK, DataResponse{Data: res})
}

func (h *Handlers) requireResetToken(c *gin.Context) {
	if h.resetToken == "" {
		c.Next()
		return
	}
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.resetToken)) != 1 {
		respondWithError(c, apperrors.Authentication("reset requires a valid bearer token"))
		return
	}
	c.Next()
}

// respondWithError writes err as a structured error body and aborts.
func respondWithError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Unknown(err)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
}
