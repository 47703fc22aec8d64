package provider

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/lingostream/internal/stream"
)

func textDelta(s string) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{Delta: &types.ContentBlockDeltaMemberText{Value: s}},
	}
}

func feed(events ...types.ConverseStreamOutput) <-chan types.ConverseStreamOutput {
	ch := make(chan types.ConverseStreamOutput, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestConsumeConverseEvents(t *testing.T) {
	var got []stream.Event
	emit := func(ev stream.Event) error {
		got = append(got, ev)
		return nil
	}

	err := consumeConverseEvents(context.Background(), feed(
		textDelta(`{"translation": "hi",`),
		textDelta(` "explanation": "greeting"}`),
		&types.ConverseStreamOutputMemberMessageStop{Value: types.MessageStopEvent{StopReason: types.StopReasonEndTurn}},
		&types.ConverseStreamOutputMemberMetadata{Value: types.ConverseStreamMetadataEvent{
			Usage: &types.TokenUsage{InputTokens: aws.Int32(30), OutputTokens: aws.Int32(12)},
		}},
	), emit)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, stream.EventChunk, got[0].Type)
	assert.Equal(t, stream.EventChunk, got[1].Type)
	last := got[2]
	assert.Equal(t, stream.EventComplete, last.Type)
	assert.Equal(t, `{"translation": "hi", "explanation": "greeting"}`, last.Content)
	require.NotNil(t, last.Usage)
	assert.Equal(t, int64(30), last.Usage.InputTokens)
	assert.Equal(t, int64(12), last.Usage.OutputTokens)
}

func TestConsumeConverseEventsTruncated(t *testing.T) {
	var got []stream.Event
	err := consumeConverseEvents(context.Background(), feed(
		textDelta(`{"translation": "hi"`),
		&types.ConverseStreamOutputMemberMessageStop{Value: types.MessageStopEvent{StopReason: types.StopReasonMaxTokens}},
	), func(ev stream.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, stream.EventWarning, got[1].Type)
	assert.Equal(t, stream.EventComplete, got[2].Type)
}

func TestConsumeConverseEventsWithoutStop(t *testing.T) {
	err := consumeConverseEvents(context.Background(), feed(textDelta("{")), func(stream.Event) error { return nil })
	assert.ErrorIs(t, err, stream.ErrProvider)
}

func TestConsumeConverseEventsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan types.ConverseStreamOutput)

	err := consumeConverseEvents(ctx, block, func(stream.Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
