package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// LoggingMiddleware logs all incoming updates
func LoggingMiddleware(logger *zap.Logger) Middleware {
	logger = logger.Named("updates")
	return func(update *tgbotapi.Update) (bool, error) {
		switch {
		case update.Message != nil:
			fields := []zap.Field{
				zap.Int64("chat_id", update.Message.Chat.ID),
				zap.Int("text_len", len(update.Message.Text)),
			}
			if update.Message.From != nil {
				fields = append(fields, zap.Int64("user_id", update.Message.From.ID))
			}
			if update.Message.IsCommand() {
				fields = append(fields, zap.String("command", update.Message.Command()))
			}
			logger.Debug("Message received", fields...)
		case update.CallbackQuery != nil:
			logger.Debug("Callback received",
				zap.Int64("user_id", update.CallbackQuery.From.ID),
				zap.String("data", update.CallbackQuery.Data),
			)
		}
		return true, nil
	}
}

// AllowedChatMiddleware restricts the bot to a single chat. A chatID of 0
// allows every chat.
func AllowedChatMiddleware(chatID int64, logger *zap.Logger) Middleware {
	return func(update *tgbotapi.Update) (bool, error) {
		if chatID == 0 {
			return true, nil
		}

		if update.CallbackQuery != nil && update.CallbackQuery.Message == nil {
			return false, nil
		}
		chat := update.FromChat()
		if chat == nil {
			return false, nil
		}
		if chat.ID != chatID {
			logger.Warn("Update from unexpected chat dropped", zap.Int64("chat_id", chat.ID))
			return false, nil
		}
		return true, nil
	}
}
