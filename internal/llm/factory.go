package llm

import (
	"log/slog"
	"time"

	"github.com/rendis/diagrammer/pkg/schema"
)

// Providers accepted by New.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and tunes a backend.
type Config struct {
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	MockDelay     time.Duration
	RatePerSecond float64
	Breaker       BreakerConfig
}

// New builds the configured backend wrapped in a Guard.
func New(cfg Config, logger *slog.Logger, onBreaker func(from, to CircuitState)) (*Guard, error) {
	var backend Generator
	switch cfg.Provider {
	case "", ProviderMock:
		backend = NewMockGenerator(cfg.MockDelay)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "llm: openai provider requires an api key")
		}
		backend = NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "llm: gemini provider requires an api key")
		}
		backend = NewGeminiGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, nil)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "llm: unknown provider %q", cfg.Provider)
	}
	return NewGuard(backend, GuardConfig{RatePerSecond: cfg.RatePerSecond, Breaker: cfg.Breaker}, logger, onBreaker), nil
}
