package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ProviderManager manages chat providers with hot-reload capability.
// It is itself a ChatProvider that delegates to the current provider.
type ProviderManager struct {
	currentProvider  ChatProvider
	config           ProviderConfig
	configReloadChan chan struct{}
	logger           *zap.Logger
	mu               sync.RWMutex
}

// Ensure ProviderManager implements ChatProvider.
var _ ChatProvider = (*ProviderManager)(nil)

// NewProviderManager creates a new provider manager
func NewProviderManager(cfg ProviderConfig, logger *zap.Logger) (*ProviderManager, error) {
	provider, err := NewProviderFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return &ProviderManager{
		currentProvider:  provider,
		config:           cfg.WithDefaults(),
		configReloadChan: make(chan struct{}, 1),
		logger:           logger.Named("llm"),
	}, nil
}

// newProviderManagerWith wraps an already built provider
func newProviderManagerWith(provider ChatProvider, cfg ProviderConfig, logger *zap.Logger) *ProviderManager {
	return &ProviderManager{
		currentProvider:  provider,
		config:           cfg,
		configReloadChan: make(chan struct{}, 1),
		logger:           logger,
	}
}

// GetCurrentProvider returns the current provider
func (pm *ProviderManager) GetCurrentProvider() ChatProvider {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.currentProvider
}

// GetCurrentConfig returns the current provider config
func (pm *ProviderManager) GetCurrentConfig() ProviderConfig {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.config
}

// Name returns the name of the current provider
func (pm *ProviderManager) Name() string {
	return pm.GetCurrentProvider().Name()
}

// StreamChat starts a stream on the current provider. A reload does not
// affect streams already started.
func (pm *ProviderManager) StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	provider := pm.GetCurrentProvider()
	stream, err := provider.StreamChat(ctx, req)
	if err != nil {
		pm.logger.Error("Failed to start chat stream",
			zap.String("provider", provider.Name()),
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("provider %s failed: %w", provider.Name(), err)
	}
	return stream, nil
}

// Close closes the current provider
func (pm *ProviderManager) Close() error {
	return pm.GetCurrentProvider().Close()
}

// ReloadProvider swaps the provider without restarting the bot. On error the
// previous provider stays active.
func (pm *ProviderManager) ReloadProvider(newConfig ProviderConfig) error {
	provider, err := NewProviderFromConfig(newConfig, pm.logger)
	if err != nil {
		pm.logger.Error("Failed to create new provider", zap.Error(err))
		return fmt.Errorf("failed to create new provider: %w", err)
	}

	pm.mu.Lock()
	old := pm.currentProvider
	pm.currentProvider = provider
	pm.config = newConfig.WithDefaults()
	pm.mu.Unlock()

	if err := old.Close(); err != nil {
		pm.logger.Warn("Failed to close previous provider", zap.Error(err))
	}

	pm.logger.Info("Provider successfully reloaded",
		zap.String("provider", provider.Name()),
		zap.String("model", pm.GetCurrentConfig().Model),
	)
	return nil
}

// GetReloadChannel returns a channel that receives reload signals
func (pm *ProviderManager) GetReloadChannel() <-chan struct{} {
	return pm.configReloadChan
}

// TriggerReload signals that a config reload is needed
func (pm *ProviderManager) TriggerReload() {
	select {
	case pm.configReloadChan <- struct{}{}:
	default:
	}
}

// MonitorConfigReload runs callback for every reload signal until ctx is done
func (pm *ProviderManager) MonitorConfigReload(ctx context.Context, callback func() error) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pm.configReloadChan:
				pm.logger.Info("Config reload signal received")
				if err := callback(); err != nil {
					pm.logger.Error("Failed to reload config", zap.Error(err))
				}
			}
		}
	}()
}
