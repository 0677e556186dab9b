package game

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"idealtype-bot/imagegen"
	"idealtype-bot/llm"
	"idealtype-bot/logger"
	"idealtype-bot/metrics"
)

// Page is the screen the user is on
type Page string

const (
	PageInput Page = "INPUT"
	PageChat  Page = "CHAT"
)

// SessionState is everything the controller carries between pages.
// In CHAT, Character and SessionID are set; in INPUT all of them are empty.
type SessionState struct {
	Page      Page
	Character *CharacterRecord
	Image     *imagegen.ImageReference
	SessionID string
}

// ImageGenerator produces the portrait for a character
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*imagegen.ImageReference, error)
}

// ImageEditor creates a variation of an existing portrait
type ImageEditor interface {
	EditFromReference(ctx context.Context, path, prompt string) (*imagegen.ImageReference, error)
}

// Controller is the INPUT/CHAT state machine of one user
type Controller struct {
	state    SessionState
	sessions *SessionManager
	images   ImageGenerator
	provider llm.ChatProvider
	logger   *zap.Logger
}

// NewController creates a controller on the INPUT page
func NewController(sessions *SessionManager, images ImageGenerator, provider llm.ChatProvider, logger *zap.Logger) *Controller {
	return &Controller{
		state:    SessionState{Page: PageInput},
		sessions: sessions,
		images:   images,
		provider: provider,
		logger:   logger.Named("controller"),
	}
}

// State returns a copy of the current state
func (c *Controller) State() SessionState {
	state := c.state
	if c.state.Character != nil {
		record := *c.state.Character
		state.Character = &record
	}
	if c.state.Image != nil {
		image := *c.state.Image
		state.Image = &image
	}
	return state
}

// Session returns the live conversation, or nil on the INPUT page
func (c *Controller) Session() *ConversationSession {
	if c.state.Page != PageChat {
		return nil
	}
	session, ok := c.sessions.Get(c.state.SessionID)
	if !ok {
		return nil
	}
	return session
}

// Submit builds the character and its portrait and enters CHAT. On any
// failure the controller stays on INPUT.
func (c *Controller) Submit(ctx context.Context, sel Selections) (SessionState, error) {
	if c.state.Page != PageInput {
		return c.State(), fmt.Errorf("%w: submit on %s page", ErrInvalidTransition, c.state.Page)
	}

	record, err := Build(sel)
	if err != nil {
		c.logger.Info("Selections rejected", zap.Error(err))
		return c.State(), err
	}

	image, err := c.images.Generate(ctx, record.AppearanceDescription)
	if err != nil {
		c.logger.Error("Portrait generation failed", zap.String("character", record.Name), zap.Error(err))
		return c.State(), err
	}

	session := c.sessions.Create(record, c.provider)
	c.transition(SessionState{
		Page:      PageChat,
		Character: &record,
		Image:     image,
		SessionID: session.ID,
	})
	return c.State(), nil
}

// Say sends an utterance to the current character
func (c *Controller) Say(ctx context.Context, utterance string) (*ReplyStream, error) {
	if c.state.Page != PageChat {
		return nil, fmt.Errorf("%w: chat on %s page", ErrInvalidTransition, c.state.Page)
	}
	if strings.TrimSpace(utterance) == "" {
		return nil, ErrEmptyUtterance
	}

	session := c.Session()
	if session == nil {
		return nil, ErrSessionClosed
	}
	return session.Send(ctx, utterance)
}

// Redraw replaces the portrait with a variation of it. hint is appended to
// the appearance prompt. The conversation is not touched.
func (c *Controller) Redraw(ctx context.Context, hint string) (SessionState, error) {
	if c.state.Page != PageChat {
		return c.State(), fmt.Errorf("%w: redraw on %s page", ErrInvalidTransition, c.state.Page)
	}
	editor, ok := c.images.(ImageEditor)
	if !ok {
		return c.State(), fmt.Errorf("%w: image variations are not supported", imagegen.ErrGenerationFailed)
	}

	prompt := c.state.Character.AppearanceDescription
	if hint = strings.TrimSpace(hint); hint != "" {
		prompt += " " + hint
	}

	image, err := editor.EditFromReference(ctx, c.state.Image.Path, prompt)
	if err != nil {
		c.logger.Error("Portrait redraw failed", logger.SessionID(c.state.SessionID), zap.Error(err))
		return c.State(), err
	}
	c.state.Image = image
	c.logger.Info("Portrait redrawn", logger.SessionID(c.state.SessionID), zap.String("path", image.Path))
	return c.State(), nil
}

// Reset discards the conversation and portrait and returns to INPUT. On the
// INPUT page it does nothing.
func (c *Controller) Reset() SessionState {
	if c.state.Page == PageInput {
		return c.State()
	}

	c.sessions.Remove(c.state.SessionID)
	c.transition(SessionState{Page: PageInput})
	return c.State()
}

func (c *Controller) transition(next SessionState) {
	from := c.state.Page
	c.state = next

	fields := []zap.Field{
		zap.String("from", string(from)),
		zap.String("to", string(next.Page)),
	}
	if next.SessionID != "" {
		fields = append(fields, logger.SessionID(next.SessionID))
	}
	c.logger.Info("Page transition", fields...)
	metrics.IncTransition(string(from), string(next.Page))
}
