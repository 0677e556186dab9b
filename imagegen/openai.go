package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend generates images with the OpenAI images API
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAI image backend
func NewOpenAIBackend(cfg Config) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("IMAGE_API_KEY is required for openai image backend")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE2
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Name returns "openai"
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// gptImageModel accepts a prompt on the edits endpoint without a mask
const gptImageModel = "gpt-image-1"

// Generate calls CreateImage for TEXT_IMAGE. IMAGE_VARIATION uses
// CreateEditImage with the prompt on gpt-image-1 and CreateVariImage
// otherwise; the dall-e variations endpoint takes no prompt.
func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	size := fmt.Sprintf("%dx%d", req.Width, req.Height)

	var (
		resp openai.ImageResponse
		err  error
	)
	switch req.Mode {
	case ModeImageVariation:
		var src *os.File
		src, err = os.Open(req.SourcePath)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		}
		defer src.Close()

		if b.model == gptImageModel {
			resp, err = b.client.CreateEditImage(ctx, openai.ImageEditRequest{
				Image:  src,
				Prompt: req.Prompt,
				Model:  b.model,
				N:      1,
				Size:   size,
			})
		} else {
			resp, err = b.client.CreateVariImage(ctx, openai.ImageVariRequest{
				Image:          src,
				Model:          b.model,
				N:              1,
				Size:           size,
				ResponseFormat: openai.CreateImageResponseFormatB64JSON,
			})
		}
	default:
		imageReq := openai.ImageRequest{
			Prompt:         req.Prompt,
			Model:          b.model,
			N:              1,
			Size:           size,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		}
		// quality is a dall-e-3 parameter
		if b.model == openai.CreateImageModelDallE3 {
			imageReq.Quality = req.Quality
		}
		resp, err = b.client.CreateImage(ctx, imageReq)
	}
	if err != nil {
		return "", fmt.Errorf("openai image request failed: %w", err)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", errors.New("openai returned no image")
	}
	return resp.Data[0].B64JSON, nil
}
