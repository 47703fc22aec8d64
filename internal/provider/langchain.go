package provider

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/lingostream/internal/config"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

const temperature = 0.3

// LangChain streams completions from any langchaingo chat model.
type LangChain struct {
	llm       llms.Model
	name      string
	modelName string
}

var _ stream.Provider = (*LangChain)(nil)

// NewLangChain creates a streaming provider for openai, anthropic or ollama.
func NewLangChain(cfg config.Config) (*LangChain, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", cfg.Provider)
	}

	return NewLangChainFromModel(model, cfg.Provider, cfg.Model), nil
}

// NewLangChainFromModel wraps an existing llms.Model.
func NewLangChainFromModel(model llms.Model, name, modelName string) *LangChain {
	return &LangChain{llm: model, name: name, modelName: modelName}
}

func (p *LangChain) Name() string {
	return p.name + "/" + p.modelName
}

// Stream emits start, one chunk per streamed fragment, then complete with
// the full response and reported usage.
func (p *LangChain) Stream(ctx context.Context, req stream.Request, emit func(stream.Event) error) error {
	system, user := BuildPrompt(req)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	if err := emit(stream.Event{Type: stream.EventStart}); err != nil {
		return err
	}

	resp, err := p.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return emit(stream.Event{Type: stream.EventChunk, Content: string(chunk)})
		}),
	)
	if err != nil {
		return wrapFatalError(fmt.Errorf("%s generate: %w", p.name, err))
	}
	if len(resp.Choices) == 0 {
		return emit(stream.Event{Type: stream.EventError, Message: "no response choices"})
	}

	choice := resp.Choices[0]
	usage := usageFromGenerationInfo(choice.GenerationInfo)
	return emit(stream.Event{Type: stream.EventComplete, Content: choice.Content, Usage: &usage})
}

// usageFromGenerationInfo reads token counts from the provider-specific
// generation info keys.
func usageFromGenerationInfo(info map[string]any) models.Usage {
	var u models.Usage
	u.InputTokens = firstInt(info, "PromptTokens", "InputTokens", "prompt_eval_count")
	u.OutputTokens = firstInt(info, "CompletionTokens", "OutputTokens", "eval_count")
	return u
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
