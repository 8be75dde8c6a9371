package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

// ModelHeader carries the model the gateway resolved for a request
const ModelHeader = "X-Model"

// RequestIDHeader tags gateway requests with the turn that issued them
const RequestIDHeader = "X-Request-ID"

type turnIDKey struct{}

// WithTurnID attaches a turn identifier to ctx for the transport to forward
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnIDFrom returns the turn identifier carried by ctx, if any
func TurnIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}

// Stream is one open streamed response
type Stream interface {
	// Recv returns the next text fragment, or io.EOF at the end
	Recv() (string, error)
	// Model is the backend model name reported by the server, if any
	Model() string
	Close() error
}

// Transport opens streamed generations for a concrete route. Cancelling
// ctx must abort the request and unblock Recv.
type Transport interface {
	OpenStream(ctx context.Context, route models.Route, prompt string) (Stream, error)
}

// HTTPTransport talks to the relay gateway
type HTTPTransport struct {
	baseURL string
	routes  models.RouteTable
	client  *http.Client
}

// NewHTTPTransport creates a transport for the gateway at baseURL
func NewHTTPTransport(baseURL string, routes models.RouteTable, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		routes:  routes,
		client:  client,
	}
}

// OpenStream posts the prompt to the route's streaming endpoint
func (t *HTTPTransport) OpenStream(ctx context.Context, route models.Route, prompt string) (Stream, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := fmt.Sprintf("%s/ai-service/%s/stream", t.baseURL, t.routes.WireKey(route))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := TurnIDFrom(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	return &httpStream{
		body:  resp.Body,
		model: resp.Header.Get(ModelHeader),
		buf:   make([]byte, 4096),
	}, nil
}

type httpStream struct {
	body  io.ReadCloser
	model string
	buf   []byte
	carry []byte // incomplete UTF-8 sequence from the previous read
}

func (s *httpStream) Recv() (string, error) {
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			data := append(s.carry, s.buf[:n]...)
			cut := completePrefix(data)
			s.carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				return string(data[:cut]), nil
			}
		}
		if err != nil {
			if err == io.EOF && len(s.carry) > 0 {
				rest := string(s.carry)
				s.carry = nil
				return rest, nil
			}
			return "", err
		}
	}
}

func (s *httpStream) Model() string { return s.model }

func (s *httpStream) Close() error { return s.body.Close() }

// completePrefix returns the length of b without a trailing partial rune
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

// FetchModelsConfig loads the route table the gateway serves
func FetchModelsConfig(ctx context.Context, baseURL string, client *http.Client) (models.RouteTable, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/config/models", nil)
	if err != nil {
		return models.RouteTable{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.RouteTable{}, fmt.Errorf("fetch models config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.RouteTable{}, fmt.Errorf("fetch models config: status %d", resp.StatusCode)
	}

	var cfg models.ModelsConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return models.RouteTable{}, fmt.Errorf("decode models config: %w", err)
	}
	if cfg.Fast.Route == "" || cfg.Slow.Route == "" {
		return models.RouteTable{}, fmt.Errorf("models config is missing a route key")
	}
	return models.NewRouteTable(cfg), nil
}
