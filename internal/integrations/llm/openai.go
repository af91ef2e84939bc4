package llm

import (
	"context"
	"fmt"

	"supportloop/internal/logger"

	"github.com/sashabaranov/go-openai"
)

type OpenAICompleter struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAICompleter {
	return &OpenAICompleter{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIWithClient is used when the caller already holds a configured client,
// e.g. one pointed at a compatible gateway.
func NewOpenAIWithClient(client *openai.Client, model string) *OpenAICompleter {
	return &OpenAICompleter{client: client, model: model}
}

func (o *OpenAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	model := modelOr(req.Model, o.model)
	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		logger.Log.Errorf("llm openai error model=%s: %v", model, err)
		return "", providerErr("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", providerErr("openai", fmt.Errorf("no choices in response"))
	}

	logger.Log.Debugf("llm openai response model=%s size=%d tokens_in=%d tokens_out=%d finish=%s",
		model, len(resp.Choices[0].Message.Content), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
