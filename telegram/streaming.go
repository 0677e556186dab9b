package telegram

import (
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxMessageLength is the Telegram message limit
const MaxMessageLength = 4096

const interruptedNote = "\n\n⚠️ 답장이 중간에 끊겼어요. 다시 말을 걸어 주세요."

// FragmentSource is a finite stream of text fragments
type FragmentSource interface {
	Recv() (string, error)
	Close() error
}

// StreamWriter drains a reply stream into chat messages, editing the
// current message at most once per interval and starting a new one when the
// text outgrows the Telegram limit
type StreamWriter struct {
	messenger Messenger
	chatID    int64
	interval  time.Duration
	maxLength int
	now       func() time.Time
	logger    *zap.Logger

	messageID int
	sent      string
	current   string
	lastEdit  time.Time
}

// NewStreamWriter creates a writer for chatID
func NewStreamWriter(messenger Messenger, chatID int64, interval time.Duration, logger *zap.Logger) *StreamWriter {
	return &StreamWriter{
		messenger: messenger,
		chatID:    chatID,
		interval:  interval,
		maxLength: MaxMessageLength,
		now:       time.Now,
		logger:    logger,
	}
}

// Write consumes stream until it ends. It returns the full reply text and the
// stream error, if any; on error the note is appended to the last message.
func (w *StreamWriter) Write(stream FragmentSource) (string, error) {
	defer stream.Close()

	var reply strings.Builder
	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if reply.Len() == 0 {
				w.current = "…"
			}
			return reply.String(), w.flush()
		}
		if err != nil {
			w.append(interruptedNote)
			if ferr := w.flush(); ferr != nil {
				w.logger.Warn("Failed to deliver error note", zap.Error(ferr))
			}
			return reply.String(), err
		}

		reply.WriteString(text)
		w.append(text)
		if w.now().Sub(w.lastEdit) >= w.interval {
			if err := w.flush(); err != nil {
				return reply.String(), err
			}
		}
	}
}

// append adds text to the current message, closing off full messages
func (w *StreamWriter) append(text string) {
	w.current += text
	for len(w.current) > w.maxLength {
		cut := findBestSplitPoint(w.current, w.maxLength)
		rest := w.current[cut:]
		w.current = w.current[:cut]
		if err := w.flush(); err != nil {
			w.logger.Warn("Failed to deliver message part", zap.Error(err))
		}
		w.current = rest
		w.messageID = 0
		w.sent = ""
	}
}

// flush sends or edits the current message if its text changed
func (w *StreamWriter) flush() error {
	if w.current == "" || w.current == w.sent {
		return nil
	}

	w.lastEdit = w.now()
	if w.messageID == 0 {
		id, err := w.messenger.SendText(w.chatID, w.current, nil)
		if err != nil {
			return err
		}
		w.messageID = id
	} else if err := w.messenger.EditText(w.chatID, w.messageID, w.current, nil); err != nil {
		return err
	}
	w.sent = w.current
	return nil
}

// findBestSplitPoint finds where to cut text so the head fits in limit bytes.
// text must be longer than limit.
func findBestSplitPoint(text string, limit int) int {
	head := text[:limit]
	// Priority order: newline, sentence end, space
	for _, sep := range []string{"\n", ".", "?", "!", " "} {
		pos := strings.LastIndex(head, sep)
		if pos > 0 && pos < len(head)-1 {
			return pos + 1
		}
	}

	// No good split point, cut at a rune boundary
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
