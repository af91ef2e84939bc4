package llm

import (
	"context"
	"fmt"

	"supportloop/internal/logger"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(apiKey, model string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *AnthropicCompleter) Complete(ctx context.Context, req Request) (string, error) {
	model := modelOr(req.Model, a.model)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		logger.Log.Errorf("llm anthropic error model=%s: %v", model, err)
		return "", providerErr("anthropic", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			logger.Log.Debugf("llm anthropic response model=%s size=%d tokens_in=%d tokens_out=%d cache_read=%d",
				model, len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens, message.Usage.CacheReadInputTokens)
			return block.Text, nil
		}
	}
	return "", providerErr("anthropic", fmt.Errorf("no text content in response"))
}
