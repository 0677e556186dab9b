// Package logger builds the zap logger shared by the bot components
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by every component
const (
	KeyService   = "service"
	KeyChatID    = "chat_id"
	KeySessionID = "session_id"
)

// Config holds logger settings
type Config struct {
	Level      string `env:"LOG_LEVEL" env-default:"info"`            // debug, info, warn, error
	Encoding   string `env:"LOG_ENCODING" env-default:"console"`      // json or console
	OutputPath string `env:"LOG_OUTPUT"`                              // stdout when empty
	Service    string `env:"LOG_SERVICE" env-default:"idealtype-bot"` // service field on every entry
}

// ChatID is the field identifying a Telegram chat
func ChatID(id int64) zap.Field {
	return zap.Int64(KeyChatID, id)
}

// SessionID is the field identifying a conversation session
func SessionID(id string) zap.Field {
	return zap.String(KeySessionID, id)
}

// ForChat returns l scoped to one chat under the given component name
func ForChat(l *zap.Logger, component string, chatID int64) *zap.Logger {
	return l.Named(component).With(ChatID(chatID))
}

// New creates a zap.Logger from the configuration
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	logLevel := strings.ToLower(cfg.Level)
	if logLevel == "" {
		logLevel = "info"
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		// the logger does not exist yet
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "json"
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	var initialFields map[string]interface{}
	if cfg.Service != "" {
		initialFields = map[string]interface{}{KeyService: cfg.Service}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       false,
		DisableCaller:     true,
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     initialFields,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
