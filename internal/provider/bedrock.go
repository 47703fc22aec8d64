package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

// converseStreamer is the slice of the Bedrock runtime client we use.
type converseStreamer interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Bedrock streams completions through the Bedrock Converse API.
type Bedrock struct {
	client    converseStreamer
	modelName string
}

var _ stream.Provider = (*Bedrock)(nil)

// NewBedrock loads AWS credentials from the default chain.
func NewBedrock(ctx context.Context, cfg config.Config) (*Bedrock, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(awsCfg), modelName: cfg.Model}, nil
}

func (p *Bedrock) Name() string {
	return config.ProviderBedrock + "/" + p.modelName
}

func (p *Bedrock) Stream(ctx context.Context, req stream.Request, emit func(stream.Event) error) error {
	system, user := BuildPrompt(req)

	out, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(p.modelName),
		System:  []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: user}},
		}},
		InferenceConfig: &types.InferenceConfiguration{Temperature: aws.Float32(temperature)},
	})
	if err != nil {
		return wrapFatalError(fmt.Errorf("bedrock converse stream: %w", err))
	}

	es := out.GetStream()
	defer es.Close()

	if err := emit(stream.Event{Type: stream.EventStart}); err != nil {
		return err
	}
	if err := consumeConverseEvents(ctx, es.Events(), emit); err != nil {
		return err
	}
	if err := es.Err(); err != nil {
		return wrapFatalError(fmt.Errorf("bedrock stream: %w", err))
	}
	return nil
}

// consumeConverseEvents forwards text deltas as chunks and emits complete
// once the event channel closes, since usage metadata arrives last.
func consumeConverseEvents(ctx context.Context, events <-chan types.ConverseStreamOutput, emit func(stream.Event) error) error {
	var (
		buf     strings.Builder
		usage   models.Usage
		stopped bool
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if !stopped {
					return fmt.Errorf("%w: bedrock stream closed before message stop", stream.ErrProvider)
				}
				return emit(stream.Event{Type: stream.EventComplete, Content: buf.String(), Usage: &usage})
			}

			switch v := ev.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				text, isText := v.Value.Delta.(*types.ContentBlockDeltaMemberText)
				if !isText || text.Value == "" {
					continue
				}
				buf.WriteString(text.Value)
				if err := emit(stream.Event{Type: stream.EventChunk, Content: text.Value}); err != nil {
					return err
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				stopped = true
				if v.Value.StopReason == types.StopReasonMaxTokens {
					if err := emit(stream.Event{Type: stream.EventWarning, Message: "response truncated at max tokens"}); err != nil {
						return err
					}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if u := v.Value.Usage; u != nil {
					usage.InputTokens = int64(aws.ToInt32(u.InputTokens))
					usage.OutputTokens = int64(aws.ToInt32(u.OutputTokens))
				}
			}
		}
	}
}
