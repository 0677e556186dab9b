// Package llm provides streaming chat-completion providers for the character chat
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Role is the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of the ordered message list sent to a provider
type Message struct {
	Role    Role
	Content string
}

// ChatRequest is one completion request.
//
// SessionID identifies the conversation the messages belong to. Providers use
// it for logging and metrics only; the full history is always in Messages.
type ChatRequest struct {
	SessionID string
	Messages  []Message
}

// FragmentStream delivers a reply incrementally.
//
// Recv returns the next text fragment, io.EOF once the reply is complete, or
// the transport error that ended the stream. Close releases the underlying
// connection and may be called at any point.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// ChatProvider is implemented by every chat backend
type ChatProvider interface {
	// Name returns the provider name used in logs and metrics
	Name() string

	// StreamChat starts a streaming completion for the request
	StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error)

	// Close releases provider resources
	Close() error
}

// ProviderConfig holds configuration for a chat provider
type ProviderConfig struct {
	Name        string        // openai, zai, custom, minimax, ollama, bedrock, mock
	APIKey      string        // provider API key
	BaseURL     string        // provider API base URL
	Model       string        // model identifier
	Region      string        // AWS region, bedrock only
	MaxTokens   int           // completion token limit
	Temperature float64       // sampling temperature
	TopP        float64       // nucleus sampling
	Timeout     time.Duration // per-request HTTP timeout
}

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.01
	DefaultTopP        = 0.01
)

// WithDefaults fills empty fields with the defaults of the named provider
func (c ProviderConfig) WithDefaults() ProviderConfig {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.Name == "" {
		c.Name = "openai"
	}

	var baseURL, model string
	switch c.Name {
	case "zai", "z.ai":
		baseURL, model = "https://api.z.ai/v1", "claude-3-5-sonnet-20240620"
	case "minimax":
		baseURL, model = "https://api.minimax.chat/v1", "abab6.5s-chat"
	case "ollama":
		baseURL, model = "http://localhost:11434", "llama3.1"
	case "bedrock":
		model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	case "mock":
		model = "mock"
	default:
		baseURL, model = "https://api.openai.com/v1", "gpt-4o"
	}

	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.TopP <= 0 {
		c.TopP = DefaultTopP
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// NewProviderFromConfig creates a ChatProvider from ProviderConfig
func NewProviderFromConfig(cfg ProviderConfig, logger *zap.Logger) (ChatProvider, error) {
	cfg = cfg.WithDefaults()

	switch cfg.Name {
	case "openai", "custom", "zai", "z.ai":
		return NewOpenAIProvider(cfg, logger)
	case "minimax":
		return NewMinimaxProvider(cfg, logger)
	case "ollama":
		return NewOllamaProvider(cfg, logger)
	case "bedrock":
		return NewBedrockProvider(cfg, logger)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Name)
	}
}
