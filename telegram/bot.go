// Package telegram provides the Telegram Bot API surface of the ideal type bot
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// CommandHandler handles bot commands
type CommandHandler func(ctx context.Context, update *tgbotapi.Update, args string) error

// UpdateHandler handles callback queries and plain text messages
type UpdateHandler func(ctx context.Context, update *tgbotapi.Update) error

// Middleware processes updates before handlers. Returning false drops the update.
type Middleware func(update *tgbotapi.Update) (bool, error)

// Messenger is the part of the Bot API the handlers need
type Messenger interface {
	SendText(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error)
	EditText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error
	SendPhoto(chatID int64, path, caption string, markup *tgbotapi.InlineKeyboardMarkup) (int, error)
	AnswerCallback(callbackID, text string) error
	SendChatAction(chatID int64, action string) error
}

// Bot represents a Telegram bot instance
type Bot struct {
	api        *tgbotapi.BotAPI
	handlers   map[string]CommandHandler
	onCallback UpdateHandler
	onMessage  UpdateHandler
	middleware []Middleware
	logger     *zap.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// NewBot creates a new Telegram bot instance
func NewBot(token string, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize bot: %w", err)
	}
	bot := newBot(api, logger)
	bot.logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return bot, nil
}

func newBot(api *tgbotapi.BotAPI, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		handlers:   make(map[string]CommandHandler),
		middleware: make([]Middleware, 0),
		logger:     logger.Named("telegram"),
		stopChan:   make(chan struct{}),
	}
}

// AddCommand registers a command handler
func (b *Bot) AddCommand(name string, handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = handler
	b.logger.Debug("Registered command", zap.String("command", name))
}

// OnCallback registers the callback query handler
func (b *Bot) OnCallback(handler UpdateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCallback = handler
}

// OnMessage registers the handler for non-command text messages
func (b *Bot) OnMessage(handler UpdateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = handler
}

// AddMiddleware adds middleware to the bot
func (b *Bot) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Start begins long polling. Updates are handled one at a time by a single
// goroutine until ctx is cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context, pollingTimeout int) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollingTimeout

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started polling for updates", zap.Int("timeout", pollingTimeout))

	b.wg.Add(1)
	go b.processUpdates(ctx, updates)
}

// Stop gracefully stops the bot
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.api.StopReceivingUpdates()
		close(b.stopChan)
	})
	b.wg.Wait()
	b.logger.Info("Bot stopped")
}

func (b *Bot) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.HandleUpdate(ctx, &update); err != nil {
				b.logger.Error("Failed to handle update", zap.Int("update_id", update.UpdateID), zap.Error(err))
			}
		}
	}
}

// HandleUpdate runs the middleware chain and routes the update to its handler
func (b *Bot) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	b.mu.RLock()
	middleware := b.middleware
	onCallback, onMessage := b.onCallback, b.onMessage
	b.mu.RUnlock()

	for _, mw := range middleware {
		cont, err := mw(update)
		if err != nil {
			return fmt.Errorf("middleware: %w", err)
		}
		if !cont {
			return nil
		}
	}

	switch {
	case update.Message != nil && update.Message.IsCommand():
		return b.handleCommand(ctx, update)
	case update.CallbackQuery != nil:
		return dispatch(ctx, update, onCallback)
	case update.Message != nil && update.Message.Text != "":
		return dispatch(ctx, update, onMessage)
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, update *tgbotapi.Update) error {
	command := update.Message.Command()

	b.mu.RLock()
	handler, exists := b.handlers[command]
	b.mu.RUnlock()

	if !exists {
		b.logger.Debug("Unknown command", zap.String("command", command))
		return nil
	}

	if err := handler(ctx, update, update.Message.CommandArguments()); err != nil {
		return fmt.Errorf("/%s: %w", command, err)
	}
	return nil
}

func dispatch(ctx context.Context, update *tgbotapi.Update, handler UpdateHandler) error {
	if handler == nil {
		return nil
	}
	return handler(ctx, update)
}

// SendText sends a message and returns its ID
func (b *Bot) SendText(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// EditText replaces the text and keyboard of a sent message
func (b *Bot) EditText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ReplyMarkup = markup
	if _, err := b.api.Request(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// SendPhoto uploads the image at path
func (b *Bot) SendPhoto(chatID int64, path, caption string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	if markup != nil {
		photo.ReplyMarkup = *markup
	}
	sent, err := b.api.Send(photo)
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", err)
	}
	return sent.MessageID, nil
}

// AnswerCallback acknowledges a button press, optionally with a notice
func (b *Bot) AnswerCallback(callbackID, text string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// SendChatAction shows an activity such as typing in the chat
func (b *Bot) SendChatAction(chatID int64, action string) error {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		return fmt.Errorf("chat action: %w", err)
	}
	return nil
}
