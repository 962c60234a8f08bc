// ABOUTME: Builds the configured generative model backend
// ABOUTME: Requires an API key and maps provider names to SDK adapters

// Package providers selects a model.Model implementation from configuration.
package providers

import (
	"fmt"

	"github.com/2389/coven-writer/internal/config"
	"github.com/2389/coven-writer/internal/model"
	"github.com/2389/coven-writer/internal/model/anthropic"
	"github.com/2389/coven-writer/internal/model/openai"
)

// New returns the model described by cfg. A missing API key is reported as
// a *config.ConfigurationError.
func New(cfg config.ModelConfig) (model.Model, error) {
	apiKey, err := cfg.RequireAPIKey()
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = config.DefaultModelName(cfg.Provider)
	}

	apply := func(o *model.Options) {
		o.Model = name
		o.Temperature = cfg.TemperatureOrDefault()
		o.APIKey = apiKey
		if cfg.MaxTokens > 0 {
			o.MaxTokens = cfg.MaxTokens
		}
		if cfg.BaseURL != "" {
			o.BaseURL = cfg.BaseURL
		}
	}

	switch cfg.Provider {
	case config.ProviderGemini, "":
		return openai.NewGeminiModel(apply), nil
	case config.ProviderOpenAI:
		return openai.NewModel(apply), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(apply), nil
	default:
		return nil, &config.ConfigurationError{
			Field:  "model.provider",
			Reason: fmt.Sprintf("unknown provider %q", cfg.Provider),
		}
	}
}
