package llm

import (
	"context"
	"fmt"
	"io"
)

// MockProvider streams a canned reply without network access. It is selected
// with CHAT_PROVIDER=mock for local runs.
type MockProvider struct {
	chunkSize int
}

// Ensure MockProvider implements ChatProvider.
var _ ChatProvider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{chunkSize: 10}
}

// Name returns "mock"
func (m *MockProvider) Name() string {
	return "mock"
}

// StreamChat replies to the last user message in chunks of a few runes
func (m *MockProvider) StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	return &sliceStream{ctx: ctx, chunks: splitIntoChunks(MockReply(req.Messages), m.chunkSize)}, nil
}

// Close does nothing
func (m *MockProvider) Close() error {
	return nil
}

// MockReply is the reply MockProvider produces for messages
func MockReply(messages []Message) string {
	var lastUserMessage string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			lastUserMessage = messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

type sliceStream struct {
	ctx    context.Context
	chunks []string
	pos    int
}

func (s *sliceStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.chunks)
	return nil
}

// splitIntoChunks splits text into pieces of at most size runes
func splitIntoChunks(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
