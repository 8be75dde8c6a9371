package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chunk"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/provider"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/relay"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/sanitize"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/validator"
)

const (
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeNotFound           = "NOT_FOUND"

	// ModelHeader names the backend model that served the request
	ModelHeader = "X-Model"

	healthTimeout = 5 * time.Second
)

// Options configures a Handler
type Options struct {
	Routes            models.RouteTable
	SystemInstruction string
	Timeout           time.Duration // default for non-streaming calls
	PriorityFields    []string
}

// Handler handles HTTP requests for the gateway
type Handler struct {
	backend provider.Backend
	opts    Options
	interp  *chunk.Interpreter
}

// NewHandler creates a new Handler
func NewHandler(backend provider.Backend, opts Options) *Handler {
	return &Handler{
		backend: backend,
		opts:    opts,
		interp:  chunk.NewInterpreter(opts.PriorityFields...),
	}
}

// StreamGenerate handles POST /ai-service/:route/stream
func (h *Handler) StreamGenerate(c *gin.Context) {
	requestID := c.GetString(RequestIDKey)
	start := time.Now()

	// Parse and validate route + body
	key, req, ok := h.bind(c)
	if !ok {
		return
	}
	prompt := req.PromptText()
	model := h.selectModel(key, prompt)

	// Open upstream stream; cancel aborts it when the client goes away
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	upstream, err := h.backend.Stream(ctx, model, h.modelPrompt(prompt))
	if err != nil {
		h.backendUnavailable(c, requestID, model, err)
		return
	}

	// Commit headers before the first fragment
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header(ModelHeader, model)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	entry := log.WithFields(log.Fields{
		"request_id": requestID,
		"model":      model,
	})
	// Relay until upstream EOF, upstream error or client disconnect
	res := relay.New(h.interp, entry).Run(upstream, cancel, relay.NewHTTPSink(c.Writer, c.Request))

	fields := log.Fields{
		"request_id": requestID,
		"model":      model,
		"outcome":    res.Outcome.String(),
		"fragments":  res.Fragments,
		"bytes":      res.Bytes,
		"latency_ms": time.Since(start).Milliseconds(),
		"event":      "stream_complete",
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
		entry.WithFields(fields).Warn("Streaming ended with upstream error")
		return
	}
	log.WithFields(fields).Info("Streaming complete")
}

// Generate handles POST /ai-service/:route
func (h *Handler) Generate(c *gin.Context) {
	requestID := c.GetString(RequestIDKey)
	start := time.Now()

	key, req, ok := h.bind(c)
	if !ok {
		return
	}
	prompt := req.PromptText()
	model := h.selectModel(key, prompt)

	// Per-request timeout override
	timeout := h.opts.Timeout
	if req.TimeoutMS != nil {
		timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}

	// Call provider
	output, err := h.backend.Generate(c.Request.Context(), model, h.modelPrompt(prompt), timeout)
	if err != nil {
		h.backendUnavailable(c, requestID, model, err)
		return
	}

	// Build response
	result := models.GenerateResponse{
		Route:     key,
		Model:     model,
		Output:    sanitize.ModelOutput(output),
		LatencyMS: time.Since(start).Milliseconds(),
	}

	log.WithFields(log.Fields{
		"request_id": requestID,
		"model":      model,
		"latency_ms": result.LatencyMS,
		"event":      "success",
	}).Info("Request successful")

	c.Header(ModelHeader, model)
	c.JSON(http.StatusOK, result)
}

// Models handles GET /config/models
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Routes.Config())
}

// Health handles GET /healthz
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	list, err := h.backend.ListModels(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"request_id": c.GetString(RequestIDKey),
			"error":      err.Error(),
			"event":      "health_failed",
		}).Warn("Backend health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "models": list})
}

// NotFound is the fallback for unknown paths
func (h *Handler) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error: "Route not found",
		Code:  CodeNotFound,
		Path:  c.Request.URL.Path,
	})
}

// bind parses and validates the route parameter and body. On failure it
// writes the 400 response and returns false.
func (h *Handler) bind(c *gin.Context) (string, models.GenerateRequest, bool) {
	requestID := c.GetString(RequestIDKey)
	var req models.GenerateRequest

	key := c.Param("route")
	if _, err := validator.ValidateRoute(key, h.opts.Routes); err != nil {
		h.rejectInvalid(c, requestID, err)
		return "", req, false
	}

	// Parse request body; an empty body falls through to MISSING_PROMPT
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
			"event":      "parse_error",
		}).Warn("Failed to parse request body")

		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Failed to parse request body: " + err.Error(),
			Code:  CodeInvalidJSON,
		})
		return "", req, false
	}

	// Validate request
	if err := validator.ValidateRequest(&req); err != nil {
		h.rejectInvalid(c, requestID, err)
		return "", req, false
	}

	log.WithFields(log.Fields{
		"request_id": requestID,
		"route":      key,
		"event":      "validated",
	}).Debug("Request validated")

	return normalizeKey(key), req, true
}

func (h *Handler) rejectInvalid(c *gin.Context, requestID string, err error) {
	ve, ok := validator.AsValidationError(err)
	if !ok {
		ve = &validator.ValidationError{Code: CodeInvalidJSON, Message: err.Error()}
	}
	log.WithFields(log.Fields{
		"request_id": requestID,
		"code":       ve.Code,
		"error":      ve.Message,
		"event":      "validation_failed",
	}).Warn("Request validation failed")

	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: ve.Message, Code: ve.Code})
}

func (h *Handler) backendUnavailable(c *gin.Context, requestID, model string, err error) {
	log.WithFields(log.Fields{
		"request_id": requestID,
		"model":      model,
		"error":      err.Error(),
		"event":      "provider_error",
	}).Error("Provider call failed")

	c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
		Error: err.Error(),
		Code:  CodeBackendUnavailable,
	})
}

func (h *Handler) modelPrompt(prompt string) string {
	if h.opts.SystemInstruction == "" {
		return prompt
	}
	return h.opts.SystemInstruction + "\n\n" + prompt
}

func (h *Handler) selectModel(key, prompt string) string {
	route, err := h.opts.Routes.Parse(key)
	if err != nil {
		route = models.RouteAuto
	}
	return SelectModel(route, prompt, h.opts.Routes)
}
