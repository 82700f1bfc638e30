package llm

import (
	"context"
	"fmt"

	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/resilience"
)

// Open builds the configured chat provider wrapped with instrumentation.
func Open(ctx context.Context, cfg config.ChatConfig) (Client, error) {
	var c Client
	switch cfg.Provider {
	case "gemini", "":
		g, err := NewGemini(ctx, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		c = g
	case "openai":
		c = NewOpenAI(cfg.APIKey, cfg.BaseURL)
	case "anthropic":
		c = NewAnthropic(cfg.APIKey, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
	breaker := resilience.NewCircuitBreaker("chat:"+c.Provider(), resilience.DefaultCircuitBreakerConfig())
	return Instrument(c, breaker), nil
}
