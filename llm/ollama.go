package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// OllamaProvider implements ChatProvider on top of the native Ollama API
type OllamaProvider struct {
	client *api.Client
	config ProviderConfig
	logger *zap.Logger
}

// NewOllamaProvider creates a new Ollama provider instance
func NewOllamaProvider(cfg ProviderConfig, logger *zap.Logger) (*OllamaProvider, error) {
	// api.NewClient expects the server root, without /v1
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", baseURL, err)
	}

	return &OllamaProvider{
		client: api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		config: cfg,
		logger: logger.Named("llm").With(zap.String("provider", cfg.Name), zap.String("model", cfg.Model)),
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return p.config.Name
}

// StreamChat starts a streaming chat. The Ollama client pushes chunks to a
// callback; a goroutine forwards them so the caller can pull with Recv.
func (p *OllamaProvider) StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    p.config.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": p.config.Temperature,
			"top_p":       p.config.TopP,
			"num_predict": p.config.MaxTokens,
		},
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &ollamaStream{
		ctx:       streamCtx,
		fragments: make(chan string),
		errc:      make(chan error, 1),
		cancel:    cancel,
		meter:     newStreamMeter(p.config.Name, p.config.Model, nil),
	}

	p.logger.Debug("Starting chat stream", zap.String("session_id", req.SessionID))

	go func() {
		defer close(s.fragments)
		err := p.client.Chat(streamCtx, chatReq, func(resp api.ChatResponse) error {
			if resp.Done {
				s.meter.usage(resp.EvalCount)
				if resp.DoneReason != "" && resp.DoneReason != "stop" {
					p.logger.Warn("Ollama stream finished early",
						zap.String("reason", resp.DoneReason),
						zap.String("session_id", req.SessionID),
					)
				}
			}
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case s.fragments <- resp.Message.Content:
				return nil
			case <-streamCtx.Done():
				return streamCtx.Err()
			}
		})
		s.errc <- err
	}()

	return s, nil
}

// Close closes the Ollama provider connection
func (p *OllamaProvider) Close() error {
	return nil
}

type ollamaStream struct {
	ctx       context.Context
	fragments chan string
	errc      chan error
	cancel    context.CancelFunc
	meter     *streamMeter
}

func (s *ollamaStream) Recv() (string, error) {
	text, ok := <-s.fragments
	if ok {
		return text, nil
	}

	if err := <-s.errc; err != nil {
		s.errc <- err
		s.meter.finish("error_stream")
		return "", fmt.Errorf("ollama stream error: %w", err)
	}
	s.errc <- nil
	// a cancelled chat may end without a transport error
	if err := s.ctx.Err(); err != nil {
		s.meter.finish("abandoned")
		return "", fmt.Errorf("ollama stream error: %w", err)
	}
	s.meter.finish("success")
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	s.cancel()
	s.meter.finish("abandoned")
	return nil
}
