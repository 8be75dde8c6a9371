// Package provider talks to the upstream text-generation backend.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

// ErrorType categorizes client errors
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeStatus
	ErrTypeInvalidResponse
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeStatus:
		return "status"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// ClientError is returned for every failure to reach or use the backend
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// IsUnavailable reports whether err means the backend could not serve the request
func IsUnavailable(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// ModelSummary is one entry of the backend's model list
type ModelSummary struct {
	Name       string    `json:"name"`
	Model      string    `json:"model,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
	Size       int64     `json:"size,omitempty"`
}

//go:generate mockgen -destination=providermock/backend.go -package=providermock . Backend

// Backend is the surface the gateway needs from a generation backend
type Backend interface {
	Generate(ctx context.Context, model, prompt string, timeout time.Duration) (string, error)
	Stream(ctx context.Context, model, prompt string) (io.ReadCloser, error)
	ListModels(ctx context.Context) ([]ModelSummary, error)
}

// Client calls an Ollama-compatible /api/generate endpoint
type Client struct {
	baseURL        string
	defaultTimeout time.Duration
	httpClient     *http.Client
}

var _ Backend = (*Client)(nil)

// NewClient creates a client. Streaming requests are bounded only by their
// context, so the underlying http.Client carries no global timeout.
func NewClient(baseURL string, defaultTimeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 120 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		defaultTimeout: defaultTimeout,
		httpClient:     httpClient,
	}
}

// Generate performs a blocking generation and returns the response text
func (c *Client) Generate(ctx context.Context, model, prompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.post(ctx, models.UpstreamRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out models.UpstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", timeoutError(ctx.Err())
		}
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return out.Response, nil
}

// Stream opens a streaming generation. The caller owns the returned body
// and must close it; cancelling ctx aborts the upstream request.
func (c *Client) Stream(ctx context.Context, model, prompt string) (io.ReadCloser, error) {
	resp, err := c.post(ctx, models.UpstreamRequest{Model: model, Prompt: prompt, Stream: true})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ListModels returns the models the backend has available
func (c *Client) ListModels(ctx context.Context) ([]ModelSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Models []ModelSummary `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode model list", Cause: err}
	}
	if result.Models == nil {
		return []ModelSummary{}, nil
	}
	return result.Models, nil
}

func (c *Client) post(ctx context.Context, body models.UpstreamRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	log.WithFields(log.Fields{
		"model":  body.Model,
		"stream": body.Stream,
		"event":  "upstream_request",
	}).Debug("Calling backend")

	return c.do(req)
}

// do sends req and turns transport failures and non-2xx replies into ClientErrors
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, timeoutError(req.Context().Err())
		}
		return nil, &ClientError{Type: ErrTypeConnection, Message: "backend unreachable", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ClientError{
			Type:       ErrTypeStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text))),
		}
	}
	return resp, nil
}

func timeoutError(cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "backend request timed out", Cause: cause}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "backend request cancelled", Cause: cause}
}
