package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"idealtype-bot/config"
	"idealtype-bot/game"
	"idealtype-bot/imagegen"
	"idealtype-bot/llm"
	"idealtype-bot/logger"
	"idealtype-bot/metrics"
	"idealtype-bot/storage"
	"idealtype-bot/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "idealtype-bot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Ideal type bot starting",
		zap.String("env", cfg.AppEnv),
		zap.String("provider", cfg.Chat.Provider),
		zap.String("image_backend", cfg.Image.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := llm.NewProviderManager(cfg.ProviderConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to create chat provider: %w", err)
	}
	defer providers.Close()

	reload := func() error {
		next, err := config.Load()
		if err != nil {
			return err
		}
		return providers.ReloadProvider(next.ProviderConfig())
	}
	providers.MonitorConfigReload(ctx, reload)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info("SIGHUP received, reloading chat provider")
				providers.TriggerReload()
			}
		}
	}()

	imageCfg := cfg.ImageGenConfig()
	backend, err := imagegen.NewBackend(ctx, imageCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create image backend: %w", err)
	}
	gateway := imagegen.NewGateway(backend, storage.NewImageStore(imageCfg.OutputDir), imageCfg, log)

	sessions := game.NewSessionManager(log)
	defer sessions.CloseAll()

	if cfg.Metrics.PushGatewayURL != "" {
		pusher, err := metrics.NewPusher(cfg.Metrics.PushGatewayURL, cfg.Metrics.JobName, log)
		if err != nil {
			return fmt.Errorf("failed to create metrics pusher: %w", err)
		}
		pushed := make(chan struct{})
		go func() {
			defer close(pushed)
			pusher.Run(ctx, cfg.Metrics.PushInterval)
		}()
		// wait for the Pushgateway cleanup
		defer func() {
			stop()
			<-pushed
		}()
	}

	bot, err := telegram.NewBot(cfg.Telegram.Token, log)
	if err != nil {
		return err
	}
	bot.AddMiddleware(telegram.LoggingMiddleware(log))
	bot.AddMiddleware(telegram.AllowedChatMiddleware(cfg.Telegram.ChatID, log))

	handlers := telegram.NewHandlers(bot, sessions, gateway, providers, telegram.HandlerConfig{
		EditInterval: cfg.Telegram.StreamEditInterval,
		Reload:       reload,
	}, log)
	handlers.RegisterAll(bot)

	bot.Start(ctx, cfg.Telegram.PollingTimeout)
	<-ctx.Done()

	log.Info("Shutting down")
	bot.Stop()
	return nil
}
