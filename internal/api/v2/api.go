// Package api implements the HTTP API for the proctoring service.
package api

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/datastore"
	"github.com/procwatch/proctor-go/internal/errors"
	"github.com/procwatch/proctor-go/internal/logging"
	"github.com/procwatch/proctor-go/internal/observability"
	"github.com/procwatch/proctor-go/internal/session"
	"github.com/procwatch/proctor-go/internal/vision"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings

	// Registry holds the live session managers; Backend runs CV inference
	// for new sessions.
	Registry *session.Registry
	Backend  vision.Backend

	// Evidence and Violations are handed to each started session.
	Evidence   session.EvidenceSink
	Violations session.ViolationSink

	metrics   *observability.Metrics
	apiLogger *slog.Logger
	startTime time.Time
}

// New creates the API controller and registers its routes under /api/v2.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	registry *session.Registry, backend vision.Backend,
	evidence session.EvidenceSink, violations session.ViolationSink,
	metrics *observability.Metrics) *Controller {

	c := &Controller{
		Echo:       e,
		Group:      e.Group("/api/v2"),
		DS:         ds,
		Settings:   settings,
		Registry:   registry,
		Backend:    backend,
		Evidence:   evidence,
		Violations: violations,
		metrics:    metrics,
		apiLogger:  logging.ForService("api"),
		startTime:  time.Now(),
	}

	c.Group.Use(c.LoggingMiddleware())
	c.initRoutes()
	return c
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initSessionRoutes()
	c.initViolationRoutes()
	c.initSettingsRoutes()
	c.initDashboardRoutes()
}

// LoggingMiddleware logs API requests with structured fields.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.String("ip", ctx.RealIP()),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			c.apiLogger.LogAttrs(req.Context(), slog.LevelInfo, "API request", attrs...)
			return err
		}
	}
}

// HealthCheck reports service and database health.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":          "healthy",
		"version":         c.Settings.Version,
		"build_date":      c.Settings.BuildDate,
		"timestamp":       time.Now().Format(time.RFC3339),
		"uptime_seconds":  int(time.Since(c.startTime).Seconds()),
		"active_sessions": c.Registry.Count(),
	}

	dbStatus := "connected"
	if c.DS != nil {
		if _, err := c.DS.Dashboard(); err != nil {
			dbStatus = "disconnected"
			response["status"] = "degraded"
			response["database_error"] = err.Error()
		}
	} else {
		dbStatus = "disabled"
	}
	response["database_status"] = dbStatus

	return ctx.JSON(http.StatusOK, response)
}

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
}

// HandleError logs the error and returns the JSON error response. Storage
// not-found errors map to 404 regardless of the suggested code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	if errors.HasCategory(err, errors.CategoryNotFound) {
		code = http.StatusNotFound
	}

	resp := ErrorResponse{
		Message:       message,
		Code:          code,
		CorrelationID: correlationID(8),
		Timestamp:     time.Now().Format(time.RFC3339),
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Error = message
	}

	c.apiLogger.Error("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", resp.Error,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())

	return ctx.JSON(code, resp)
}

const correlationCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// correlationID generates a short random ID tying a client error response to
// its log entries.
func correlationID(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = correlationCharset[int(b[i])%len(correlationCharset)]
	}
	return string(b)
}
