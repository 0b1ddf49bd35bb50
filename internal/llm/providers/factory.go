// Package providers selects and constructs an llm.Provider from
// config.LLMConfig, grounded on the teacher's
// internal/llm/providers/factory.go Build switch.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"hcme/internal/config"
	"hcme/internal/llm"
	"hcme/internal/llm/anthropic"
	"hcme/internal/llm/google"
	"hcme/internal/llm/openai"
)

// Build constructs the configured provider. httpClient is accepted for
// symmetry with the teacher's factory signature and future backends that
// need a custom transport; the current SDKs manage their own clients.
func Build(ctx context.Context, cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropic.New(cfg.LLM.Anthropic.APIKey, cfg.LLM.Model), nil
	case "openai":
		return openai.New(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.BaseURL, cfg.LLM.Model), nil
	case "google":
		return google.New(ctx, cfg.LLM.Google.APIKey, cfg.LLM.Model)
	default:
		return nil, fmt.Errorf("providers: unknown llm provider %q", cfg.LLM.Provider)
	}
}
