// Package provider adapts model backends to the stream.Provider interface.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/metrics"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.Config) (stream.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama:
		return NewLangChain(cfg)
	case config.ProviderBedrock:
		return NewBedrock(ctx, cfg)
	case config.ProviderSSE:
		return NewSSE(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// instrumented records stream latency, token usage and in-flight streams.
type instrumented struct {
	stream.Provider
	metrics *metrics.Collector
	logger  *slog.Logger
}

// WithMetrics wraps p so every stream is reported to mc.
func WithMetrics(p stream.Provider, mc *metrics.Collector, logger *slog.Logger) stream.Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumented{Provider: p, metrics: mc, logger: logger}
}

func (p *instrumented) Stream(ctx context.Context, req stream.Request, emit func(stream.Event) error) error {
	start := time.Now()
	p.metrics.StreamStarted()
	defer p.metrics.StreamFinished()

	var in, out int64
	var chunks int
	err := p.Provider.Stream(ctx, req, func(ev stream.Event) error {
		switch ev.Type {
		case stream.EventChunk:
			chunks++
		case stream.EventComplete:
			if ev.Usage != nil {
				in, out = ev.Usage.InputTokens, ev.Usage.OutputTokens
			}
		}
		return emit(ev)
	})

	elapsed := time.Since(start)
	p.metrics.RecordLLMUsage(metrics.OpLLMStream, elapsed, in, out)
	p.logger.Debug("provider stream finished",
		"provider", p.Name(),
		"segment_id", req.SegmentID,
		"chunks", chunks,
		"input_tokens", in,
		"output_tokens", out,
		"duration_ms", elapsed.Milliseconds(),
		"error", err)
	return err
}
