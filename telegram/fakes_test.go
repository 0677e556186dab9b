package telegram

import (
	"errors"
	"io"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sentMessage is a message as the fake chat currently shows it
type sentMessage struct {
	id     int
	chatID int64
	text   string
	photo  string
	markup *tgbotapi.InlineKeyboardMarkup
}

// buttonData returns the callback data of every button, row by row
func (m *sentMessage) buttonData() []string {
	if m.markup == nil {
		return nil
	}
	var data []string
	for _, row := range m.markup.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				data = append(data, *b.CallbackData)
			}
		}
	}
	return data
}

// fakeMessenger records what the handlers send
type fakeMessenger struct {
	mu       sync.Mutex
	messages []*sentMessage
	edits    int
	answers  []string
	actions  []string
	editErr  error
}

func (f *fakeMessenger) SendText(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.messages) + 1
	f.messages = append(f.messages, &sentMessage{id: id, chatID: chatID, text: text, markup: markup})
	return id, nil
}

func (f *fakeMessenger) EditText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	if messageID < 1 || messageID > len(f.messages) {
		return errors.New("message not found")
	}
	msg := f.messages[messageID-1]
	msg.text = text
	msg.markup = markup
	f.edits++
	return nil
}

func (f *fakeMessenger) SendPhoto(chatID int64, path, caption string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.messages) + 1
	f.messages = append(f.messages, &sentMessage{id: id, chatID: chatID, text: caption, photo: path, markup: markup})
	return id, nil
}

func (f *fakeMessenger) AnswerCallback(callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeMessenger) SendChatAction(chatID int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeMessenger) last() *sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeMessenger) lastAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1]
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, len(f.messages))
	for i, m := range f.messages {
		texts[i] = m.text
	}
	return texts
}

// scriptedStream yields fragments and then err, or io.EOF when err is nil
type scriptedStream struct {
	fragments []string
	err       error
	pos       int
	closed    bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos < len(s.fragments) {
		s.pos++
		return s.fragments[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

func commandUpdate(chatID int64, text string) *tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: chatID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func textUpdate(chatID int64, text string) *tgbotapi.Update {
	return &tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: chatID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}}
}

func callbackUpdate(chatID int64, data string) *tgbotapi.Update {
	return &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}
