package llm

import (
	"fmt"
	"time"

	"alert_worker/config"
	"alert_worker/core/port/out"
)

// NewGenerator builds the extractor backend selected by LLM_PROVIDER.
func NewGenerator(cfg *config.Config) (out.Generator, error) {
	timeout := time.Duration(cfg.LLMTimeoutSec) * time.Second

	switch cfg.LLMProvider {
	case "generate":
		if cfg.LLMEndpoint == "" {
			return nil, fmt.Errorf("LLM_ENDPOINT is required for the generate provider")
		}
		return NewGenerateClient(cfg.LLMEndpoint, timeout), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMModel), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}
