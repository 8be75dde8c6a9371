package models

// GenerateRequest represents an incoming prompt for either ai-service endpoint
type GenerateRequest struct {
	Prompt    any  `json:"prompt"` // validated as a string later
	TimeoutMS *int `json:"timeout_ms,omitempty"` // non-streaming only
}

// PromptText returns the prompt, or an empty string when it is missing or not a string
func (r GenerateRequest) PromptText() string {
	s, _ := r.Prompt.(string)
	return s
}

// GenerateResponse represents the JSON body of a non-streaming generation
type GenerateResponse struct {
	Route     string `json:"route"`
	Model     string `json:"model"`
	Output    string `json:"output"` // b, i, p and br tags only
	LatencyMS int64  `json:"latency_ms"`
}

// ModelInfo describes one concrete backend as exposed to clients
type ModelInfo struct {
	Route string `json:"route"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// ModelsConfig is the body of GET /config/models
type ModelsConfig struct {
	DefaultRoute string    `json:"defaultRoute"`
	Fast         ModelInfo `json:"fast"`
	Slow         ModelInfo `json:"slow"`
}

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Path  string `json:"path,omitempty"`
}

// UpstreamRequest is the body sent to the generation backend
type UpstreamRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// UpstreamResponse is the non-streaming backend reply
type UpstreamResponse struct {
	Model    string `json:"model,omitempty"`
	Response string `json:"response"`
	Done     bool   `json:"done,omitempty"`
}
