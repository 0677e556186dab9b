package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"idealtype-bot/game"
	"idealtype-bot/imagegen"
	"idealtype-bot/llm"
	"idealtype-bot/logger"
)

// Callback data
const (
	dataTraitDone = "trait:done"
	dataSubmit    = "submit"
	dataReset     = "reset"
	dataBack      = "back"
)

// HandlerConfig holds the optional knobs of Handlers
type HandlerConfig struct {
	// EditInterval throttles streaming edits
	EditInterval time.Duration
	// Reload re-reads the configuration and swaps the chat provider
	Reload func() error
}

// chatState is the per-chat form and page controller
type chatState struct {
	controller *game.Controller
	creator    *game.CharacterCreator
	formID     int
}

// Handlers implements the bot commands, buttons and text messages
type Handlers struct {
	messenger Messenger
	sessions  *game.SessionManager
	images    game.ImageGenerator
	provider  llm.ChatProvider
	cfg       HandlerConfig
	logger    *zap.Logger

	mu    sync.Mutex
	chats map[int64]*chatState
}

// NewHandlers creates the handlers. provider is shared by every chat.
func NewHandlers(messenger Messenger, sessions *game.SessionManager, images game.ImageGenerator, provider llm.ChatProvider, cfg HandlerConfig, logger *zap.Logger) *Handlers {
	return &Handlers{
		messenger: messenger,
		sessions:  sessions,
		images:    images,
		provider:  provider,
		cfg:       cfg,
		logger:    logger.Named("handlers"),
		chats:     make(map[int64]*chatState),
	}
}

// RegisterAll wires every handler into bot
func (h *Handlers) RegisterAll(bot *Bot) {
	bot.AddCommand("start", h.StartCommand)
	bot.AddCommand("reset", h.ResetCommand)
	bot.AddCommand("redraw", h.RedrawCommand)
	bot.AddCommand("status", h.StatusCommand)
	bot.AddCommand("reload", h.ReloadCommand)
	bot.AddCommand("help", h.HelpCommand)
	bot.OnCallback(h.HandleCallback)
	bot.OnMessage(h.HandleMessage)
}

func (h *Handlers) chat(chatID int64) *chatState {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.chats[chatID]
	if !ok {
		st = &chatState{
			controller: game.NewController(h.sessions, h.images, h.provider, logger.ForChat(h.logger, "chat", chatID)),
			creator:    game.NewCharacterCreator(),
		}
		h.chats[chatID] = st
	}
	return st
}

// StartCommand resets the chat and opens a new character form
func (h *Handlers) StartCommand(ctx context.Context, update *tgbotapi.Update, args string) error {
	chatID := update.Message.Chat.ID
	if _, err := h.messenger.SendText(chatID, welcomeText, nil); err != nil {
		return err
	}
	return h.restart(chatID)
}

// ResetCommand leaves the current conversation to find someone new
func (h *Handlers) ResetCommand(ctx context.Context, update *tgbotapi.Update, args string) error {
	return h.restart(update.Message.Chat.ID)
}

// RedrawCommand draws a variation of the current portrait
func (h *Handlers) RedrawCommand(ctx context.Context, update *tgbotapi.Update, args string) error {
	chatID := update.Message.Chat.ID
	st := h.chat(chatID)

	if err := h.messenger.SendChatAction(chatID, tgbotapi.ChatUploadPhoto); err != nil {
		h.logger.Debug("Chat action failed", zap.Error(err))
	}

	state, err := st.controller.Redraw(ctx, args)
	if err != nil {
		_, serr := h.messenger.SendText(chatID, errorText(err), nil)
		return serr
	}

	_, err = h.messenger.SendPhoto(chatID, state.Image.Path, fmt.Sprintf("%s: 대화 상대의 이미지", state.Character.Name), nil)
	return err
}

// StatusCommand displays the current page of the chat
func (h *Handlers) StatusCommand(ctx context.Context, update *tgbotapi.Update, args string) error {
	chatID := update.Message.Chat.ID
	st := h.chat(chatID)
	state := st.controller.State()

	var b strings.Builder
	fmt.Fprintf(&b, "📍 현재 화면: %s\n", state.Page)
	fmt.Fprintf(&b, "🤖 대화 모델: %s\n", h.provider.Name())
	if state.Page == game.PageInput {
		fmt.Fprintf(&b, "📝 입력 단계: %s\n\n%s", st.creator.Step, st.creator.Summary())
	} else if session := st.controller.Session(); session != nil {
		fmt.Fprintf(&b, "💬 대화 상대: %s\n", state.Character.Name)
		fmt.Fprintf(&b, "🔁 주고받은 메시지: %d\n", len(session.History()))
		fmt.Fprintf(&b, "⏱️ 시작: %s\n", session.StartTime.Format("15:04:05"))
		fmt.Fprintf(&b, "⏰ 마지막 대화: %s 전", time.Since(session.LastActivity).Round(time.Second))
	}

	_, err := h.messenger.SendText(chatID, b.String(), nil)
	return err
}

// ReloadCommand re-reads the configuration and swaps the chat provider
func (h *Handlers) ReloadCommand(ctx context.Context, update *tgbotapi.Update, args string) error {
	chatID := update.Message.Chat.ID
	if h.cfg.Reload == nil {
		_, err := h.messenger.SendText(chatID, "설정 다시 불러오기를 지원하지 않습니다.", nil)
		return err
	}

	if err := h.cfg.Reload(); err != nil {
		h.logger.Error("Reload failed", zap.Error(err))
		_, serr := h.messenger.SendText(chatID, fmt.Sprintf("❌ 설정을 다시 불러오지 못했습니다: %v", err), nil)
		return serr
	}

	_, err := h.messenger.SendText(chatID, fmt.Sprintf("✅ 설정을 다시 불러왔습니다. 대화 모델: %s", h.provider.Name()), nil)
	return err
}

// HelpCommand displays help information
func (h *Handlers) HelpCommand(ctx context.Context, update *tgbotapi.Update, args string) error {
	_, err := h.messenger.SendText(update.Message.Chat.ID, helpText, nil)
	return err
}

// HandleCallback handles the form and conversation buttons
func (h *Handlers) HandleCallback(ctx context.Context, update *tgbotapi.Update) error {
	query := update.CallbackQuery
	if query.Message == nil {
		return h.messenger.AnswerCallback(query.ID, "")
	}
	chatID := query.Message.Chat.ID
	st := h.chat(chatID)

	switch query.Data {
	case dataReset:
		if err := h.messenger.AnswerCallback(query.ID, ""); err != nil {
			return err
		}
		return h.restart(chatID)
	case dataSubmit:
		if err := h.messenger.AnswerCallback(query.ID, ""); err != nil {
			return err
		}
		return h.submit(ctx, chatID, st)
	}

	if st.controller.State().Page != game.PageInput {
		return h.messenger.AnswerCallback(query.ID, "대화 중에는 선택을 바꿀 수 없어요.")
	}

	err := h.applyChoice(st, query.Data)
	if err != nil {
		h.logger.Debug("Choice rejected", logger.ChatID(chatID), zap.String("data", query.Data), zap.Error(err))
		return h.messenger.AnswerCallback(query.ID, errorText(err))
	}
	if err := h.messenger.AnswerCallback(query.ID, ""); err != nil {
		return err
	}
	return h.showForm(chatID, st, true)
}

// applyChoice applies one form button to the creator
func (h *Handlers) applyChoice(st *chatState, data string) error {
	if data == dataBack {
		return st.creator.Revisit(st.creator.Step - 1)
	}
	if data == dataTraitDone {
		return st.creator.FinishTraits()
	}

	key, arg, ok := strings.Cut(data, ":")
	if !ok {
		return fmt.Errorf("%w: %q", game.ErrUnknownOption, data)
	}
	index, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: %q", game.ErrUnknownOption, data)
	}

	if key == "trait" {
		return st.creator.ToggleTrait(index)
	}
	if key != st.creator.Step.String() {
		return fmt.Errorf("%w: %s button on %s step", game.ErrInvalidTransition, key, st.creator.Step)
	}
	return st.creator.Choose(index)
}

// HandleMessage treats text as the character name on the form and as an
// utterance in a conversation
func (h *Handlers) HandleMessage(ctx context.Context, update *tgbotapi.Update) error {
	chatID := update.Message.Chat.ID
	text := update.Message.Text
	st := h.chat(chatID)

	if st.controller.State().Page == game.PageChat {
		return h.converse(ctx, chatID, st, text)
	}

	switch st.creator.Step {
	case game.StepName, game.StepReview:
		if err := st.creator.SetName(text); err != nil {
			if _, serr := h.messenger.SendText(chatID, errorText(err), nil); serr != nil {
				return serr
			}
		}
	default:
		if _, err := h.messenger.SendText(chatID, "아래 버튼으로 선택해 주세요.", nil); err != nil {
			return err
		}
	}
	return h.showForm(chatID, st, false)
}

// restart returns the chat to a fresh form, ending any conversation
func (h *Handlers) restart(chatID int64) error {
	st := h.chat(chatID)
	st.controller.Reset()
	st.creator = game.NewCharacterCreator()
	st.formID = 0
	return h.showForm(chatID, st, false)
}

// showForm renders the form, editing the last form message when edit is set
func (h *Handlers) showForm(chatID int64, st *chatState, edit bool) error {
	text := st.creator.Summary() + "\n\n" + st.creator.Prompt()
	markup := formKeyboard(st.creator)

	if edit && st.formID != 0 {
		err := h.messenger.EditText(chatID, st.formID, text, markup)
		if err == nil {
			return nil
		}
		h.logger.Debug("Form edit failed, sending a new one", zap.Error(err))
	}

	id, err := h.messenger.SendText(chatID, text, markup)
	if err != nil {
		return err
	}
	st.formID = id
	return nil
}

// submit builds the character, generates the portrait and opens the chat
func (h *Handlers) submit(ctx context.Context, chatID int64, st *chatState) error {
	if st.controller.State().Page != game.PageInput {
		_, err := h.messenger.SendText(chatID, errorText(game.ErrInvalidTransition), nil)
		return err
	}

	if err := h.messenger.SendChatAction(chatID, tgbotapi.ChatUploadPhoto); err != nil {
		h.logger.Debug("Chat action failed", zap.Error(err))
	}

	state, err := st.controller.Submit(ctx, st.creator.Selections())
	if err != nil {
		h.logger.Info("Submit failed", logger.ChatID(chatID), zap.Error(err))
		_, serr := h.messenger.SendText(chatID, errorText(err), nil)
		return serr
	}

	name := state.Character.Name
	caption := fmt.Sprintf("이상형이 생성되었습니다!\n\n%s", st.creator.Summary())
	if _, err := h.messenger.SendPhoto(chatID, state.Image.Path, caption, nil); err != nil {
		h.logger.Warn("Failed to send portrait", zap.String("path", state.Image.Path), zap.Error(err))
		if _, err := h.messenger.SendText(chatID, caption, nil); err != nil {
			return err
		}
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("새로운 상대 찾기", dataReset)),
	)
	text := fmt.Sprintf("💬 %s와(과) 대화하기\n메시지를 보내면 %s이(가) 답장해요.", name, name)
	_, err = h.messenger.SendText(chatID, text, &markup)
	return err
}

// converse sends text to the character and streams the reply back
func (h *Handlers) converse(ctx context.Context, chatID int64, st *chatState, text string) error {
	stream, err := st.controller.Say(ctx, text)
	if err != nil {
		h.logger.Info("Utterance rejected", logger.ChatID(chatID), zap.Error(err))
		_, serr := h.messenger.SendText(chatID, errorText(err), nil)
		return serr
	}

	if err := h.messenger.SendChatAction(chatID, tgbotapi.ChatTyping); err != nil {
		h.logger.Debug("Chat action failed", zap.Error(err))
	}

	writer := NewStreamWriter(h.messenger, chatID, h.cfg.EditInterval, h.logger)
	if _, err := writer.Write(stream); err != nil {
		h.logger.Warn("Reply stream failed", logger.ChatID(chatID), zap.Error(err))
	}
	return nil
}

// formKeyboard builds the buttons of the current form step
func formKeyboard(cc *game.CharacterCreator) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	switch cc.Step {
	case game.StepPersonality:
		rows = optionRows(cc.Options(), func(i int, o game.Option) (string, string) {
			label := o.Label
			if cc.HasTrait(i) {
				label = "✅ " + label
			}
			return label, "trait:" + strconv.Itoa(i)
		})
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("선택 완료", dataTraitDone)))
	case game.StepName:
	case game.StepReview:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("이상형 생성", dataSubmit),
			tgbotapi.NewInlineKeyboardButtonData("처음부터", dataReset),
		))
	default:
		step := cc.Step.String()
		rows = optionRows(cc.Options(), func(i int, o game.Option) (string, string) {
			return o.Label, step + ":" + strconv.Itoa(i)
		})
	}

	if cc.Step > game.StepHairStyle {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("◀ 이전", dataBack)))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// optionRows lays options out two per row
func optionRows(options []game.Option, button func(int, game.Option) (string, string)) [][]tgbotapi.InlineKeyboardButton {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, o := range options {
		text, data := button(i, o)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(text, data))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// errorText maps an error to the message shown to the user
func errorText(err error) string {
	switch {
	case errors.Is(err, game.ErrNameTooLong):
		return fmt.Sprintf("이름은 %d자 이하로 입력해 주세요.", game.MaxNameLength)
	case errors.Is(err, game.ErrTooManyTraits):
		return fmt.Sprintf("성격은 %d개까지만 선택할 수 있어요.", game.MaxTraits)
	case errors.Is(err, game.ErrIncompleteSelection), errors.Is(err, game.ErrUnknownOption):
		return "모든 입력 필드를 작성해주세요."
	case errors.Is(err, imagegen.ErrGenerationFailed):
		return "이미지를 만들지 못했어요. 잠시 후 다시 시도해 주세요."
	case errors.Is(err, game.ErrStreamInProgress):
		return "아직 답장을 쓰는 중이에요. 잠시만 기다려 주세요."
	case errors.Is(err, game.ErrCompletionFailed):
		return "답장을 받지 못했어요. 다시 말을 걸어 주세요."
	case errors.Is(err, game.ErrSessionClosed):
		return "대화가 끝났어요. /start 로 새로 시작해 주세요."
	case errors.Is(err, game.ErrEmptyUtterance):
		return "메시지를 입력해 주세요."
	case errors.Is(err, game.ErrInvalidTransition):
		return "지금은 할 수 없는 동작이에요."
	default:
		return "알 수 없는 오류가 발생했어요."
	}
}

const welcomeText = `💘 이상형 만들기에 오신 것을 환영합니다!

버튼으로 이상형의 외모와 성격을 고르고 이름을 입력하면 초상화를 그려 드려요.
완성된 이상형과는 바로 대화할 수 있어요.`

const helpText = `💘 이상형 봇 도움말

/start - 새 이상형 만들기
/reset - 새로운 상대 찾기
/redraw [설명] - 대화 상대의 이미지 다시 그리기
/status - 현재 상태 보기
/reload - 설정 다시 불러오기
/help - 도움말

이상형을 만든 뒤에는 메시지를 보내 대화할 수 있어요.`
