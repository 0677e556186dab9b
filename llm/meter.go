package llm

import (
	"strings"
	"time"

	"idealtype-bot/metrics"
)

// streamMeter accumulates per-stream accounting and reports it once
type streamMeter struct {
	provider string
	model    string
	started  time.Time
	tokens   *tokenCounter
	text     strings.Builder
	reported int
	done     bool
}

func newStreamMeter(provider, model string, tokens *tokenCounter) *streamMeter {
	return &streamMeter{
		provider: provider,
		model:    model,
		started:  time.Now(),
		tokens:   tokens,
	}
}

func (m *streamMeter) fragment(text string) {
	if m.tokens != nil {
		m.text.WriteString(text)
	}
}

// usage records the exact completion token count reported by the provider
func (m *streamMeter) usage(completionTokens int) {
	if completionTokens > 0 {
		m.reported = completionTokens
	}
}

// completionTokens prefers the reported count and estimates the whole reply
// only when the provider sent none
func (m *streamMeter) completionTokens() int {
	if m.reported > 0 || m.tokens == nil {
		return m.reported
	}
	return m.tokens.count(m.text.String())
}

func (m *streamMeter) finish(status string) {
	if m.done {
		return
	}
	m.done = true

	metrics.ObserveChat(m.provider, status, time.Since(m.started))
	metrics.AddCompletionTokens(m.provider, m.model, m.completionTokens())
}
