package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"supportloop/internal/config"
	"supportloop/internal/domain"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const defaultGeminiModel = "gemini-2.5-flash"

// Request is one blocking call to the completion capability. An empty Model
// uses the client's configured default.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Clients are two views of one provider client. Batch calls from the
// generator and judge share the fixed inter-call throttle; Live calls serving
// customers only carry the timeout, so they never queue behind a batch.
type Clients struct {
	Batch Completer
	Live  Completer
}

// New builds the configured provider and wraps it for both call paths.
func New(ctx context.Context, cfg config.Config) (Clients, error) {
	var c Completer
	switch cfg.LLMProvider {
	case "openai":
		c = NewOpenAI(cfg.OpenAIAPIKey, modelOr(cfg.LLMModel, defaultOpenAIModel))
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, modelOr(cfg.LLMModel, defaultGeminiModel))
		if err != nil {
			return Clients{}, err
		}
		c = g
	default:
		c = NewAnthropic(cfg.AnthropicAPIKey, modelOr(cfg.LLMModel, defaultAnthropicModel))
	}
	return wrap(c, cfg.LLMTimeout(), cfg.LLMCallDelay()), nil
}

// wrap puts the throttle inside the timeout so waiting for a slot counts
// against the per-call budget.
func wrap(c Completer, timeout, delay time.Duration) Clients {
	return Clients{
		Batch: WithTimeout(Throttled(c, delay), timeout),
		Live:  WithTimeout(c, timeout),
	}
}

// DefaultModel is the model New uses for provider when none is configured.
func DefaultModel(provider, configured string) string {
	switch provider {
	case "openai":
		return modelOr(configured, defaultOpenAIModel)
	case "gemini":
		return modelOr(configured, defaultGeminiModel)
	default:
		return modelOr(configured, defaultAnthropicModel)
	}
}

func modelOr(model, fallback string) string {
	if strings.TrimSpace(model) == "" {
		return fallback
	}
	return model
}

// WithTimeout bounds every call; a timeout surfaces as ErrProviderUnavailable.
func WithTimeout(c Completer, timeout time.Duration) Completer {
	if timeout <= 0 {
		return c
	}
	return CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.Complete(ctx, req)
	})
}

func providerErr(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, domain.ErrProviderUnavailable, err)
}

// StripFences removes a markdown code fence around a model response.
func StripFences(responseText string) string {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	return strings.TrimSpace(responseText)
}
