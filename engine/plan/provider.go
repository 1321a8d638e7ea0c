package plan

import (
	"fmt"

	"github.com/compozy/agentrix/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel builds the langchaingo model selected by cfg. Hosted providers
// without an API key report ErrServiceUnavailable.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai", "":
		return createOpenAI(cfg)
	case "anthropic":
		return createAnthropic(cfg)
	case "ollama":
		return createOllama(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func createOpenAI(cfg config.LLMConfig) (llms.Model, error) {
	if cfg.APIKey.Value() == "" {
		return nil, fmt.Errorf("%w: openai api key is not set", ErrServiceUnavailable)
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

func createAnthropic(cfg config.LLMConfig) (llms.Model, error) {
	if cfg.APIKey.Value() == "" {
		return nil, fmt.Errorf("%w: anthropic api key is not set", ErrServiceUnavailable)
	}
	opts := []anthropic.Option{
		anthropic.WithModel(cfg.Model),
		anthropic.WithToken(cfg.APIKey.Value()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return anthropic.New(opts...)
}

func createOllama(cfg config.LLMConfig) (llms.Model, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	return ollama.New(opts...)
}
