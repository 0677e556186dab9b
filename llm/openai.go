package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider implements ChatProvider for OpenAI-compatible APIs
// (OpenAI itself, z.ai and any custom base URL)
type OpenAIProvider struct {
	client *openai.Client
	config ProviderConfig
	tokens *tokenCounter
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible provider instance
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for %s provider", cfg.Name)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		tokens: newTokenCounter(cfg.Model),
		logger: logger.Named("llm").With(zap.String("provider", cfg.Name), zap.String("model", cfg.Model)),
	}, nil
}

// Name returns the configured provider name
func (p *OpenAIProvider) Name() string {
	return p.config.Name
}

// StreamChat sends a streaming chat completion request
func (p *OpenAIProvider) StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	request := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   p.config.MaxTokens,
		Temperature: float32(p.config.Temperature),
		TopP:        float32(p.config.TopP),
		Stream:      true,
	}
	// usage in the final chunk is an OpenAI extension
	if p.config.Name == "openai" {
		request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	p.logger.Debug("Starting chat stream",
		zap.String("session_id", req.SessionID),
		zap.Int("messages", len(req.Messages)),
	)

	meter := newStreamMeter(p.config.Name, p.config.Model, p.tokens)
	stream, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		meter.finish("error_stream_init")
		p.logger.Error("Failed to create chat stream", zap.String("session_id", req.SessionID), zap.Error(err))
		return nil, fmt.Errorf("%s stream failed: %w", p.config.Name, err)
	}

	return &openAIStream{stream: stream, meter: meter, name: p.config.Name}, nil
}

// Close closes the OpenAI provider connection
func (p *OpenAIProvider) Close() error {
	// No persistent connection to close
	return nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	meter  *streamMeter
	name   string
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.meter.finish("success")
			return "", io.EOF
		}
		if err != nil {
			s.meter.finish("error_stream_read")
			return "", fmt.Errorf("%s stream error: %w", s.name, err)
		}

		if resp.Usage != nil {
			s.meter.usage(resp.Usage.CompletionTokens)
		}

		var b strings.Builder
		for _, choice := range resp.Choices {
			b.WriteString(choice.Delta.Content)
		}
		if b.Len() == 0 {
			continue
		}

		text := b.String()
		s.meter.fragment(text)
		return text, nil
	}
}

func (s *openAIStream) Close() error {
	s.meter.finish("abandoned")
	return s.stream.Close()
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
