package game

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idealtype-bot/imagegen"
	"idealtype-bot/storage"
)

func newTestController(t *testing.T) (*Controller, *fakeImages, *fakeProvider, *SessionManager) {
	t.Helper()
	images := &fakeImages{store: storage.NewImageStore(t.TempDir())}
	provider := &fakeProvider{}
	sessions := NewSessionManager(zap.NewNop())
	return NewController(sessions, images, provider, zap.NewNop()), images, provider, sessions
}

func TestControllerStartsOnInput(t *testing.T) {
	c, _, _, _ := newTestController(t)

	state := c.State()
	assert.Equal(t, PageInput, state.Page)
	assert.Nil(t, state.Character)
	assert.Nil(t, state.Image)
	assert.Empty(t, state.SessionID)
	assert.Nil(t, c.Session())
}

func TestControllerSubmitEntersChat(t *testing.T) {
	c, images, _, sessions := newTestController(t)

	state, err := c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)

	assert.Equal(t, PageChat, state.Page)
	require.NotNil(t, state.Character)
	assert.Equal(t, "Aria", state.Character.Name)
	require.NotNil(t, state.Image)
	assert.Equal(t, []string{state.Character.AppearanceDescription}, images.prompts)
	assert.Equal(t, storage.FileName(state.Character.AppearanceDescription), fileBase(state.Image.Path))
	assert.True(t, fileExists(state.Image.Path))

	require.NotNil(t, c.Session())
	assert.Equal(t, state.SessionID, c.Session().ID)
	assert.Equal(t, 1, sessions.Len())
	assert.Empty(t, c.Session().History())
}

func TestControllerSubmitValidationKeepsInput(t *testing.T) {
	tests := []struct {
		name string
		sel  func() Selections
		err  error
	}{
		{"name too long", func() Selections { s := ariaSelections(); s.Name = "Abcdefghijk"; return s }, ErrNameTooLong},
		{"no traits", func() Selections { s := ariaSelections(); s.Personalities = nil; return s }, ErrIncompleteSelection},
		{"no name", func() Selections { s := ariaSelections(); s.Name = ""; return s }, ErrIncompleteSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, images, _, sessions := newTestController(t)

			state, err := c.Submit(context.Background(), tt.sel())
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, PageInput, state.Page)
			assert.Equal(t, PageInput, c.State().Page)
			assert.Empty(t, images.prompts, "no image is generated for invalid selections")
			assert.Equal(t, 0, sessions.Len())
		})
	}
}

func TestControllerSubmitGenerationFailureKeepsInput(t *testing.T) {
	c, images, _, sessions := newTestController(t)
	images.err = errors.New("throttled")

	state, err := c.Submit(context.Background(), ariaSelections())
	assert.ErrorIs(t, err, imagegen.ErrGenerationFailed)
	assert.Equal(t, PageInput, state.Page)
	assert.Nil(t, state.Character)
	assert.Equal(t, 0, sessions.Len())
}

func TestControllerSubmitFromChatIsInvalid(t *testing.T) {
	c, _, _, _ := newTestController(t)
	_, err := c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)

	state, err := c.Submit(context.Background(), ariaSelections())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PageChat, state.Page)
}

func TestControllerSay(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.Say(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrInvalidTransition, "no chat on the input page")

	_, err = c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)

	_, err = c.Say(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyUtterance)

	r, err := c.Say(context.Background(), "hi")
	require.NoError(t, err)
	reply, err := drain(t, r)
	require.NoError(t, err)
	assert.Equal(t, "reply-1", reply)
	assert.Len(t, c.Session().History(), 2)
	assert.Equal(t, PageChat, c.State().Page)
}

func TestControllerRedraw(t *testing.T) {
	editor := &fakeEditor{fakeImages: fakeImages{store: storage.NewImageStore(t.TempDir())}}
	c := NewController(NewSessionManager(zap.NewNop()), editor, &fakeProvider{}, zap.NewNop())

	_, err := c.Redraw(context.Background(), "smiling")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	before, err := c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)

	after, err := c.Redraw(context.Background(), " smiling ")
	require.NoError(t, err)

	assert.Equal(t, []string{before.Image.Path}, editor.sources)
	assert.Equal(t, before.Character.AppearanceDescription+" smiling", after.Image.Prompt)
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, PageChat, after.Page)
}

func TestControllerRedrawUnsupported(t *testing.T) {
	c, _, _, _ := newTestController(t)
	before, err := c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)

	state, err := c.Redraw(context.Background(), "")
	assert.ErrorIs(t, err, imagegen.ErrGenerationFailed)
	assert.Equal(t, before.Image.Path, state.Image.Path)
}

func TestControllerReset(t *testing.T) {
	c, _, _, sessions := newTestController(t)
	_, err := c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)
	session := c.Session()

	state := c.Reset()
	assert.Equal(t, SessionState{Page: PageInput}, state)
	assert.Nil(t, c.Session())
	assert.True(t, session.IsClosed())
	assert.Equal(t, 0, sessions.Len())
}

func TestControllerResetOnInputIsNoop(t *testing.T) {
	c, _, _, _ := newTestController(t)

	before := c.State()
	assert.Equal(t, before, c.Reset())
	assert.Equal(t, before, c.Reset())
}

func TestControllerNoBleedOverBetweenCharacters(t *testing.T) {
	c, _, provider, _ := newTestController(t)

	_, err := c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)
	r, err := c.Say(context.Background(), "hello Aria")
	require.NoError(t, err)
	_, err = drain(t, r)
	require.NoError(t, err)
	first := c.State().SessionID

	c.Reset()
	sel := ariaSelections()
	sel.Name = "Bella"
	sel.Personalities = []string{"shy"}
	state, err := c.Submit(context.Background(), sel)
	require.NoError(t, err)

	assert.NotEqual(t, first, state.SessionID)
	assert.Empty(t, c.Session().History())

	r, err = c.Say(context.Background(), "hello Bella")
	require.NoError(t, err)
	_, err = drain(t, r)
	require.NoError(t, err)

	req := provider.lastRequest()
	require.Len(t, req.Messages, 2, "only the system instruction and the new utterance")
	assert.Contains(t, req.Messages[0].Content, "your name is Bella")
	assert.Contains(t, req.Messages[0].Content, "personality of shy")
	assert.Equal(t, "hello Bella", req.Messages[1].Content)
	assert.Equal(t, state.SessionID, req.SessionID)
}

func TestControllerStateIsACopy(t *testing.T) {
	c, _, _, _ := newTestController(t)
	_, err := c.Submit(context.Background(), ariaSelections())
	require.NoError(t, err)

	state := c.State()
	state.Character.Name = "Mallory"
	state.Image.Path = "elsewhere"
	assert.Equal(t, "Aria", c.State().Character.Name)
	assert.NotEqual(t, "elsewhere", c.State().Image.Path)
}
