package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"
)

// converseEvents is the event stream returned by ConverseStream
type converseEvents interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// BedrockProvider implements ChatProvider with the Bedrock Converse API
type BedrockProvider struct {
	open   func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (converseEvents, error)
	config ProviderConfig
	logger *zap.Logger
}

// NewBedrockProvider creates a Bedrock provider. Credentials come from the
// default AWS chain; BaseURL overrides the runtime endpoint.
func NewBedrockProvider(cfg ProviderConfig, logger *zap.Logger) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
		o.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	})

	open := func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (converseEvents, error) {
		out, err := client.ConverseStream(ctx, in)
		if err != nil {
			return nil, err
		}
		return out.GetStream(), nil
	}
	return newBedrockProvider(open, cfg, logger), nil
}

func newBedrockProvider(open func(context.Context, *bedrockruntime.ConverseStreamInput) (converseEvents, error), cfg ProviderConfig, logger *zap.Logger) *BedrockProvider {
	return &BedrockProvider{
		open:   open,
		config: cfg,
		logger: logger.Named("llm").With(zap.String("provider", cfg.Name), zap.String("model", cfg.Model)),
	}
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return p.config.Name
}

// StreamChat starts a ConverseStream call. System messages go to the system
// prompt; the rest keep their order.
func (p *BedrockProvider) StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	in := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(p.config.Model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(p.config.MaxTokens)),
			Temperature: aws.Float32(float32(p.config.Temperature)),
			TopP:        aws.Float32(float32(p.config.TopP)),
		},
	}
	for _, m := range req.Messages {
		text := &types.ContentBlockMemberText{Value: m.Content}
		switch m.Role {
		case RoleSystem:
			in.System = append(in.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case RoleAssistant:
			in.Messages = append(in.Messages, types.Message{Role: types.ConversationRoleAssistant, Content: []types.ContentBlock{text}})
		default:
			in.Messages = append(in.Messages, types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{text}})
		}
	}

	p.logger.Debug("Starting chat stream",
		zap.String("session_id", req.SessionID),
		zap.Int("messages", len(req.Messages)),
	)

	meter := newStreamMeter(p.config.Name, p.config.Model, nil)
	events, err := p.open(ctx, in)
	if err != nil {
		meter.finish("error_stream_init")
		p.logger.Error("Failed to create chat stream", zap.String("session_id", req.SessionID), zap.Error(err))
		return nil, fmt.Errorf("%s stream failed: %w", p.config.Name, err)
	}

	return &bedrockStream{events: events, meter: meter, logger: p.logger}, nil
}

// Close closes the Bedrock provider
func (p *BedrockProvider) Close() error {
	return nil
}

type bedrockStream struct {
	events converseEvents
	meter  *streamMeter
	logger *zap.Logger
}

func (s *bedrockStream) Recv() (string, error) {
	for event := range s.events.Events() {
		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			delta, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText)
			if !ok || delta.Value == "" {
				continue
			}
			s.meter.fragment(delta.Value)
			return delta.Value, nil
		case *types.ConverseStreamOutputMemberMessageStop:
			if reason := v.Value.StopReason; reason != types.StopReasonEndTurn {
				s.logger.Warn("Bedrock stream finished early", zap.String("reason", string(reason)))
			}
		case *types.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil && v.Value.Usage.OutputTokens != nil {
				s.meter.usage(int(*v.Value.Usage.OutputTokens))
			}
		}
	}

	if err := s.events.Err(); err != nil {
		s.meter.finish("error_stream_read")
		return "", fmt.Errorf("bedrock stream error: %w", err)
	}
	s.meter.finish("success")
	return "", io.EOF
}

func (s *bedrockStream) Close() error {
	s.meter.finish("abandoned")
	return s.events.Close()
}
