package llm

import (
	"context"
	"fmt"

	"github.com/edusql/edusql/internal/config"
)

// FromConfig builds the configured provider. Callers should close the result
// when it implements io.Closer.
func FromConfig(ctx context.Context, cfg config.AIConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
