package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// MinimaxProvider implements ChatProvider for minimax
type MinimaxProvider struct {
	client *http.Client
	config ProviderConfig
	apiURL string
	tokens *tokenCounter
	logger *zap.Logger
}

// NewMinimaxProvider creates a new minimax provider instance
func NewMinimaxProvider(cfg ProviderConfig, logger *zap.Logger) (*MinimaxProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("MINIMAX_API_KEY is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.minimax.chat/v1"
	}

	return &MinimaxProvider{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		apiURL: baseURL + "/chat/completions",
		tokens: newTokenCounter(cfg.Model),
		logger: logger.Named("llm").With(zap.String("provider", cfg.Name), zap.String("model", cfg.Model)),
	}, nil
}

// Name returns the provider name
func (p *MinimaxProvider) Name() string {
	return p.config.Name
}

// StreamChat sends a streaming request to minimax provider
func (p *MinimaxProvider) StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	meter := newStreamMeter(p.config.Name, p.config.Model, p.tokens)

	reqBody := minimaxRequest{
		Model:       p.config.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		TopP:        p.config.TopP,
		Stream:      true,
	}
	for _, m := range req.Messages {
		reqBody.Messages = append(reqBody.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		meter.finish("error_marshal")
		return nil, fmt.Errorf("failed to marshal minimax request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		meter.finish("error_request")
		return nil, fmt.Errorf("failed to create minimax request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	p.logger.Debug("Starting chat stream", zap.String("session_id", req.SessionID))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		meter.finish("error_stream_init")
		return nil, fmt.Errorf("minimax stream failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		meter.finish("error_status")
		p.logger.Error("Minimax API error",
			zap.Int("status", resp.StatusCode),
			zap.String("session_id", req.SessionID),
		)
		return nil, fmt.Errorf("minimax API error: %d - %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &minimaxStream{body: resp.Body, scanner: scanner, meter: meter}, nil
}

// Close closes the minimax provider connection
func (p *MinimaxProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// minimaxStream reads server-sent events of the form "data: {json}"
type minimaxStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	meter   *streamMeter
}

func (s *minimaxStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.meter.finish("success")
			return "", io.EOF
		}

		var chunk minimaxStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.meter.finish("error_decode")
			return "", fmt.Errorf("minimax stream decode error: %w", err)
		}
		if chunk.BaseResp != nil && chunk.BaseResp.StatusCode != 0 {
			s.meter.finish("error_api")
			return "", fmt.Errorf("minimax API error: %d - %s", chunk.BaseResp.StatusCode, chunk.BaseResp.StatusMsg)
		}
		if chunk.Usage != nil {
			s.meter.usage(chunk.Usage.CompletionTokens)
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			text := chunk.Choices[0].Delta.Content
			s.meter.fragment(text)
			return text, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.meter.finish("error_stream_read")
		return "", fmt.Errorf("minimax stream error: %w", err)
	}
	// the body ended without [DONE]; treat as a complete reply
	s.meter.finish("success")
	return "", io.EOF
}

func (s *minimaxStream) Close() error {
	s.meter.finish("abandoned")
	return s.body.Close()
}

// minimaxRequest represents the request payload for minimax API
type minimaxRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// message represents a chat message
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// minimaxStreamChunk represents a streaming chunk from minimax API
type minimaxStreamChunk struct {
	Choices  []streamChoice `json:"choices"`
	Usage    *usage         `json:"usage,omitempty"`
	BaseResp *baseResp      `json:"base_resp,omitempty"`
}

// streamChoice represents a streaming choice
type streamChoice struct {
	Delta delta `json:"delta"`
}

// delta represents content in response
type delta struct {
	Content string `json:"content"`
}

type usage struct {
	CompletionTokens int `json:"completion_tokens"`
}

type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}
