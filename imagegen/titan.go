package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"
)

const (
	// DefaultTitanModel is the Bedrock model used when IMAGE_MODEL is empty
	DefaultTitanModel = "amazon.titan-image-generator-v1"
	// DefaultRegion is the Bedrock region used when IMAGE_REGION is empty
	DefaultRegion = "us-east-1"
)

// modelInvoker is the part of the Bedrock runtime client the backend uses
type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// TitanBackend invokes a Titan image model on Amazon Bedrock
type TitanBackend struct {
	client  modelInvoker
	modelID string
	logger  *zap.Logger
}

// NewTitanBackend creates a Titan backend. Credentials come from the default
// AWS chain; cfg.BaseURL overrides the Bedrock runtime endpoint.
func NewTitanBackend(ctx context.Context, cfg Config, logger *zap.Logger) (*TitanBackend, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
		if cfg.Timeout > 0 {
			o.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		}
	})

	return newTitanBackend(client, cfg.Model, logger), nil
}

func newTitanBackend(client modelInvoker, modelID string, logger *zap.Logger) *TitanBackend {
	if modelID == "" {
		modelID = DefaultTitanModel
	}
	return &TitanBackend{
		client:  client,
		modelID: modelID,
		logger:  logger.Named("imagegen.titan").With(zap.String("model", modelID)),
	}
}

// Name returns "titan"
func (b *TitanBackend) Name() string {
	return "titan"
}

type titanRequest struct {
	TaskType              string                `json:"taskType"`
	TextToImageParams     *titanTextParams      `json:"textToImageParams,omitempty"`
	ImageVariationParams  *titanVariationParams `json:"imageVariationParams,omitempty"`
	ImageGenerationConfig titanGenerationConfig `json:"imageGenerationConfig"`
}

type titanTextParams struct {
	Text string `json:"text"`
}

type titanVariationParams struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

type titanGenerationConfig struct {
	NumberOfImages int     `json:"numberOfImages"`
	Quality        string  `json:"quality"`
	CFGScale       float64 `json:"cfgScale"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	Seed           int64   `json:"seed"`
}

type titanResponse struct {
	Images []string `json:"images"`
	Error  *string  `json:"error"`
}

// Generate invokes the model with req and returns the first image
func (b *TitanBackend) Generate(ctx context.Context, req Request) (string, error) {
	payload := titanRequest{
		TaskType: string(req.Mode),
		ImageGenerationConfig: titanGenerationConfig{
			NumberOfImages: 1,
			Quality:        req.Quality,
			CFGScale:       req.CFGScale,
			Height:         req.Height,
			Width:          req.Width,
			Seed:           req.Seed,
		},
	}
	switch req.Mode {
	case ModeImageVariation:
		payload.ImageVariationParams = &titanVariationParams{Text: req.Prompt, Images: []string{req.SourceImage}}
	default:
		payload.TextToImageParams = &titanTextParams{Text: req.Prompt}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b.logger.Debug("Invoking image model", zap.String("task_type", payload.TaskType))
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var result titanResponse
	if err := json.Unmarshal(out.Body, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != nil && *result.Error != "" {
		return "", fmt.Errorf("model error: %s", *result.Error)
	}
	if len(result.Images) == 0 {
		return "", errors.New("model returned no images")
	}
	return result.Images[0], nil
}
