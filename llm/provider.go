// Package llm provides the language-model capability consumed by the
// delegation worker: a single prompt in, generated text and usage out.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Usage accounts for one or more LLM calls.
type Usage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.Requests += other.Requests
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Request is a single-turn generation request.
type Request struct {
	// System is the system prompt; empty means provider default behavior.
	System string `json:"system,omitempty"`

	// Prompt is the user prompt.
	Prompt string `json:"prompt"`

	// MaxTokens overrides the provider's configured limit when > 0.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Response is the outcome of a generation request.
type Response struct {
	// Text is the generated output.
	Text string `json:"text"`

	// Usage is the token accounting for this call.
	Usage Usage `json:"usage"`

	// Model is the model that produced the response.
	Model string `json:"model,omitempty"`

	// StopReason is the provider's finish reason, verbatim.
	StopReason string `json:"stop_reason,omitempty"`
}

// Provider is the interface for LLM backends.
type Provider interface {
	// Generate sends one prompt and returns the generated text.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Config selects and configures a provider implementation.
type Config struct {
	Provider  string      `json:"provider"` // anthropic, openai, google
	Model     string      `json:"model"`
	APIKey    string      `json:"api_key"`
	BaseURL   string      `json:"base_url,omitempty"` // custom endpoint where supported
	MaxTokens int         `json:"max_tokens"`
	Retry     RetryConfig `json:"retry"`
}

// RetryConfig holds retry settings for LLM calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries"`  // max retry attempts (default 5)
	InitBackoff time.Duration `json:"init_backoff"` // initial backoff (default 1s)
	MaxBackoff  time.Duration `json:"max_backoff"`  // max backoff (default 60s)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens == 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

// NewProvider creates a provider based on the configuration.
// If Provider is empty, it is inferred from the model name.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "google":
		return NewGoogleProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// --- Mock Provider for Testing ---

// MockProvider is a mock LLM provider for testing.
type MockProvider struct {
	response    string
	usage       Usage
	err         error
	callCount   int
	lastRequest *Request

	// GenerateFunc can be overridden for custom behavior.
	GenerateFunc func(ctx context.Context, req Request) (*Response, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{usage: Usage{Requests: 1}}
}

// SetResponse sets the response text.
func (p *MockProvider) SetResponse(text string) {
	p.response = text
}

// SetUsage sets the usage returned with each response.
func (p *MockProvider) SetUsage(u Usage) {
	p.usage = u
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.err = err
}

// LastRequest returns the last request.
func (p *MockProvider) LastRequest() *Request {
	return p.lastRequest
}

// CallCount returns the number of Generate calls made.
func (p *MockProvider) CallCount() int {
	return p.callCount
}

// Generate implements the Provider interface.
func (p *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	p.callCount++
	p.lastRequest = &req

	if p.GenerateFunc != nil {
		return p.GenerateFunc(ctx, req)
	}

	if p.err != nil {
		return nil, p.err
	}

	return &Response{
		Text:       p.response,
		Usage:      p.usage,
		StopReason: "end_turn",
	}, nil
}
