package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingProvider struct{ closed bool }

func (f *failingProvider) Name() string { return "failing" }
func (f *failingProvider) StreamChat(context.Context, ChatRequest) (FragmentStream, error) {
	return nil, errors.New("connection refused")
}
func (f *failingProvider) Close() error {
	f.closed = true
	return nil
}

func TestProviderManagerDelegates(t *testing.T) {
	pm, err := NewProviderManager(ProviderConfig{Name: "mock"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "mock", pm.Name())
	assert.Equal(t, "mock", pm.GetCurrentConfig().Model)

	messages := []Message{{Role: RoleUser, Content: "hello"}}
	stream, err := pm.StreamChat(context.Background(), ChatRequest{Messages: messages})
	require.NoError(t, err)
	fragments, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, MockReply(messages), strings.Join(fragments, ""))
}

func TestProviderManagerWrapsStartError(t *testing.T) {
	pm := newProviderManagerWith(&failingProvider{}, ProviderConfig{Name: "failing"}, zap.NewNop())

	_, err := pm.StreamChat(context.Background(), ChatRequest{})
	assert.EqualError(t, err, "provider failing failed: connection refused")
}

func TestProviderManagerReload(t *testing.T) {
	old := &failingProvider{}
	pm := newProviderManagerWith(old, ProviderConfig{Name: "failing"}, zap.NewNop())

	err := pm.ReloadProvider(ProviderConfig{Name: "bogus"})
	require.Error(t, err)
	assert.Same(t, old, pm.GetCurrentProvider(), "failed reload keeps the previous provider")
	assert.False(t, old.closed)

	require.NoError(t, pm.ReloadProvider(ProviderConfig{Name: "mock"}))
	assert.Equal(t, "mock", pm.Name())
	assert.True(t, old.closed)
}

func TestProviderManagerMonitorConfigReload(t *testing.T) {
	pm := newProviderManagerWith(NewMockProvider(), ProviderConfig{Name: "mock"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 4)
	pm.MonitorConfigReload(ctx, func() error {
		called <- struct{}{}
		return nil
	})

	pm.TriggerReload()
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback was not called")
	}

	// TriggerReload never blocks even when nobody is listening
	cancel()
	pm.TriggerReload()
	pm.TriggerReload()
}
