// internal/api/v1/api.go
package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ikancheck/ikancheck/internal/history"
	"github.com/ikancheck/ikancheck/internal/labels"
	"github.com/ikancheck/ikancheck/internal/logger"
	"github.com/ikancheck/ikancheck/internal/pipeline"
)

// Prefix is the path prefix of every v1 route.
const Prefix = "/api/v1"

// Detector classifies an uploaded image and records accepted detections.
type Detector interface {
	ClassifyAndRecord(ctx context.Context, image []byte) (pipeline.Result, error)
}

// HistoryStore is the read and delete side of the detection history.
type HistoryStore interface {
	List(ctx context.Context) ([]history.Metadata, error)
	Get(ctx context.Context, id string) (history.StoredRecord, error)
	Delete(ctx context.Context, id string) error
	Backend() string
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	detector  Detector
	history   HistoryStore
	labels    *labels.Table
	content   *labels.Content
	threshold float64

	maxUploadBytes int64
	uploadLimiter  echo.MiddlewareFunc
	startTime      time.Time
	name           string
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithUploadLimiter guards the detection endpoint.
func WithUploadLimiter(mw echo.MiddlewareFunc) Option {
	return func(c *Controller) { c.uploadLimiter = mw }
}

// WithMaxUploadBytes sets the largest accepted image.
func WithMaxUploadBytes(n int64) Option {
	return func(c *Controller) { c.maxUploadBytes = n }
}

// WithInstanceName sets the name reported by the health check.
func WithInstanceName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// Deps are the components the API serves.
type Deps struct {
	Detector  Detector
	History   HistoryStore
	Labels    *labels.Table
	Content   *labels.Content
	Threshold float64
}

// defaultMaxUploadBytes matches the default webserver.maxuploadmb.
const defaultMaxUploadBytes = 10 << 20

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		Echo:           e,
		detector:       deps.Detector,
		history:        deps.History,
		labels:         deps.Labels,
		content:        deps.Content,
		threshold:      deps.Threshold,
		maxUploadBytes: defaultMaxUploadBytes,
		startTime:      time.Now(),
		name:           "IkanCheck",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group = c.Echo.Group(Prefix)

	c.Group.GET("/health", c.HealthCheck)

	var detectMW []echo.MiddlewareFunc
	if c.uploadLimiter != nil {
		detectMW = append(detectMW, c.uploadLimiter)
	}
	c.Group.POST("/detections", c.CreateDetection, detectMW...)

	c.Group.GET("/history", c.ListHistory)
	c.Group.GET("/history/:id/image", c.GetHistoryImage)
	c.Group.DELETE("/history/:id", c.DeleteHistory)

	c.Group.GET("/labels", c.ListLabels)
	c.Group.GET("/labels/:name", c.GetLabel)
}

// HealthCheck reports liveness and the active history backend.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":          "healthy",
		"name":            c.name,
		"history_backend": c.history.Backend(),
		"uptime":          uptime.Round(time.Second).String(),
		"uptime_seconds":  uptime.Seconds(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // request id, for matching logs
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int, correlationID string) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	}
}

// HandleError logs err and replies with an ErrorResponse.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	requestID := ctx.Response().Header().Get(echo.HeaderXRequestID)
	resp := NewErrorResponse(err, message, code, requestID)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := GetLogger().WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Debug("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// pathParam returns the named path parameter, unescaped when it was
// delivered escaped.
func pathParam(ctx echo.Context, name string) string {
	raw := ctx.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
