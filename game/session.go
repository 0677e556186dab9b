package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"idealtype-bot/llm"
	"idealtype-bot/logger"
)

// Speaker is the author of a turn
type Speaker string

const (
	SpeakerHuman     Speaker = "human"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one committed entry of a conversation
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

const systemInstruction = "Assume the character has a personality of %s. " +
	"Create dialogue and actions for this character in a flirty interaction with the protagonist. " +
	"Respond as if you are completely embodying this personality. your name is %s"

// SystemInstruction returns the system message for a character
func SystemInstruction(record CharacterRecord) string {
	return fmt.Sprintf(systemInstruction, record.PersonalityLabel, record.Name)
}

// ConversationSession is the conversation with one character. History is
// append-only and only grows by complete human/assistant exchanges.
type ConversationSession struct {
	ID           string
	Character    CharacterRecord
	StartTime    time.Time
	LastActivity time.Time

	mu       sync.RWMutex
	provider llm.ChatProvider
	history  []Turn
	active   *ReplyStream
	closed   bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewConversationSession creates a session with empty history
func NewConversationSession(id string, record CharacterRecord, provider llm.ChatProvider, log *zap.Logger) *ConversationSession {
	now := time.Now()
	return &ConversationSession{
		ID:           id,
		Character:    record,
		StartTime:    now,
		LastActivity: now,
		provider:     provider,
		logger:       log.With(logger.SessionID(id), zap.String("character", record.Name)),
		now:          time.Now,
	}
}

// History returns a copy of the committed turns
func (s *ConversationSession) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// IsClosed reports whether the session has been closed
func (s *ConversationSession) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Send starts a reply to utterance. The exchange is committed to history
// only when the returned stream reaches io.EOF.
func (s *ConversationSession) Send(ctx context.Context, utterance string) (*ReplyStream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrStreamInProgress
	}

	messages := make([]llm.Message, 0, len(s.history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemInstruction(s.Character)})
	for _, turn := range s.history {
		role := llm.RoleUser
		if turn.Speaker == SpeakerAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: utterance})

	streamCtx, cancel := context.WithCancel(ctx)
	reply := &ReplyStream{session: s, utterance: utterance, cancel: cancel}
	s.active = reply
	s.LastActivity = s.now()
	s.mu.Unlock()

	s.logger.Debug("Sending utterance", zap.Int("history_turns", len(messages)-2))

	upstream, err := s.provider.StreamChat(streamCtx, llm.ChatRequest{SessionID: s.ID, Messages: messages})
	if err != nil {
		cancel()
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		s.logger.Error("Failed to start completion", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}
	reply.upstream = upstream
	if reply.done {
		// closed while the request was starting
		_ = upstream.Close()
	}
	return reply, nil
}

// Close ends the session and abandons any unfinished reply
func (s *ConversationSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	active := s.active
	s.mu.Unlock()

	if active != nil {
		_ = active.Close()
	}
	s.logger.Info("Session closed", zap.Int("turns", len(s.History())))
}

// endStream clears the active stream and commits the exchange if requested
func (s *ConversationSession) endStream(r *ReplyStream, commit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == r {
		s.active = nil
	}
	if !commit || s.closed {
		return
	}

	at := s.now()
	s.history = append(s.history,
		Turn{Speaker: SpeakerHuman, Text: r.utterance, At: at},
		Turn{Speaker: SpeakerAssistant, Text: r.reply.String(), At: at},
	)
	s.LastActivity = at
}

// ReplyStream delivers one assistant reply fragment by fragment. It is finite
// and cannot be restarted.
type ReplyStream struct {
	session   *ConversationSession
	upstream  llm.FragmentStream
	cancel    context.CancelFunc
	utterance string
	reply     strings.Builder
	done      bool
	err       error
}

// errAbandoned is reported by Recv after Close on an unfinished reply
var errAbandoned = errors.New("reply abandoned")

// Recv returns the next fragment, io.EOF once the reply is complete and
// committed, or an error wrapping ErrCompletionFailed
func (r *ReplyStream) Recv() (string, error) {
	if r.done {
		if r.err != nil {
			return "", r.err
		}
		return "", io.EOF
	}

	text, err := r.upstream.Recv()
	if errors.Is(err, io.EOF) {
		r.finish(true)
		return "", io.EOF
	}
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrCompletionFailed, err)
		r.session.logger.Warn("Completion failed mid-stream",
			zap.Int("partial_bytes", r.reply.Len()),
			zap.Error(err),
		)
		r.finish(false)
		return "", r.err
	}

	r.reply.WriteString(text)
	return text, nil
}

// Reply returns the text received so far
func (r *ReplyStream) Reply() string {
	return r.reply.String()
}

// Close abandons an unfinished reply without committing anything. After a
// completed reply it does nothing.
func (r *ReplyStream) Close() error {
	if r.done {
		return nil
	}
	r.err = fmt.Errorf("%w: %w", ErrCompletionFailed, errAbandoned)
	r.finish(false)
	return nil
}

func (r *ReplyStream) finish(commit bool) {
	r.done = true
	if r.upstream != nil {
		_ = r.upstream.Close()
	}
	r.cancel()
	r.session.endStream(r, commit)
}
