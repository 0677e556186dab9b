// Package imagegen turns text prompts into stored portrait images
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"idealtype-bot/metrics"
	"idealtype-bot/storage"
)

var (
	// ErrGenerationFailed wraps every failure of Generate and EditFromReference
	ErrGenerationFailed = errors.New("image generation failed")
	// ErrEmptyPrompt is returned for a blank prompt
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrSourceUnreadable is returned when the reference image cannot be read
	ErrSourceUnreadable = errors.New("source image is unreadable")
)

// Mode selects the kind of generation
type Mode string

const (
	ModeTextImage      Mode = "TEXT_IMAGE"
	ModeImageVariation Mode = "IMAGE_VARIATION"
)

// MaxSeed is the largest seed sent to a backend
const MaxSeed = 2147483647

// Request is one call to an image backend
type Request struct {
	Mode        Mode
	Prompt      string
	SourceImage string // base64, IMAGE_VARIATION only
	SourcePath  string // file SourceImage was read from
	Width       int
	Height      int
	Quality     string
	CFGScale    float64
	Seed        int64
}

// ImageReference points at a generated image on disk
type ImageReference struct {
	Path      string
	Prompt    string
	Seed      int64
	CreatedAt time.Time
}

// Backend performs a single generation and returns the image as base64
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Config holds gateway and backend settings
type Config struct {
	Backend   string
	APIKey    string
	BaseURL   string
	Model     string
	Region    string // titan only
	OutputDir string
	Width     int
	Height    int
	Quality   string
	CFGScale  float64
	Timeout   time.Duration
}

// Gateway generates images through a Backend and persists them
type Gateway struct {
	backend Backend
	store   *storage.ImageStore
	cfg     Config
	seed    func() int64
	now     func() time.Time
	logger  *zap.Logger
}

// NewGateway creates a gateway writing into store
func NewGateway(backend Backend, store *storage.ImageStore, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 512
	}
	if cfg.Quality == "" {
		cfg.Quality = "standard"
	}
	if cfg.CFGScale <= 0 {
		cfg.CFGScale = 7.5
	}

	return &Gateway{
		backend: backend,
		store:   store,
		cfg:     cfg,
		seed:    func() int64 { return rand.Int64N(MaxSeed + 1) },
		now:     time.Now,
		logger:  logger.Named("imagegen").With(zap.String("backend", backend.Name())),
	}
}

// Generate creates an image from prompt
func (g *Gateway) Generate(ctx context.Context, prompt string) (*ImageReference, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrEmptyPrompt)
	}
	return g.run(ctx, g.newRequest(ModeTextImage, prompt))
}

// EditFromReference creates a variation of the image at path guided by prompt
func (g *Gateway) EditFromReference(ctx context.Context, path, prompt string) (*ImageReference, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrEmptyPrompt)
	}

	data, err := g.store.Read(path)
	if err != nil {
		g.logger.Error("Failed to read reference image", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %w: %w", ErrGenerationFailed, ErrSourceUnreadable, err)
	}

	req := g.newRequest(ModeImageVariation, prompt)
	req.SourceImage = base64.StdEncoding.EncodeToString(data)
	req.SourcePath = path
	return g.run(ctx, req)
}

func (g *Gateway) newRequest(mode Mode, prompt string) Request {
	return Request{
		Mode:     mode,
		Prompt:   prompt,
		Width:    g.cfg.Width,
		Height:   g.cfg.Height,
		Quality:  g.cfg.Quality,
		CFGScale: g.cfg.CFGScale,
		Seed:     g.seed(),
	}
}

func (g *Gateway) run(ctx context.Context, req Request) (*ImageReference, error) {
	log := g.logger.With(
		zap.String("mode", string(req.Mode)),
		zap.String("prompt_hash", storage.PromptHash(req.Prompt)),
		zap.Int64("seed", req.Seed),
	)
	log.Info("Generating image")

	start := time.Now()
	ref, status, err := g.generate(ctx, req)
	metrics.ObserveImage(g.backend.Name(), string(req.Mode), status, time.Since(start))
	if err != nil {
		log.Error("Image generation failed", zap.String("status", status), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	log.Info("Image saved", zap.String("path", ref.Path), zap.Duration("duration", time.Since(start)))
	return ref, nil
}

func (g *Gateway) generate(ctx context.Context, req Request) (*ImageReference, string, error) {
	encoded, err := g.backend.Generate(ctx, req)
	if err != nil {
		return nil, "error_backend", err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "error_decode", fmt.Errorf("invalid base64 image payload: %w", err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, "error_decode", fmt.Errorf("payload is not a decodable image: %w", err)
	}

	path, err := g.store.Save(req.Prompt, data)
	if err != nil {
		return nil, "error_save", err
	}

	return &ImageReference{
		Path:      path,
		Prompt:    req.Prompt,
		Seed:      req.Seed,
		CreatedAt: g.now(),
	}, "success", nil
}

// NewBackend creates the backend named by cfg.Backend
func NewBackend(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "openai":
		return NewOpenAIBackend(cfg)
	case "titan":
		return NewTitanBackend(ctx, cfg, logger)
	case "mock":
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unknown image backend: %s", cfg.Backend)
	}
}
