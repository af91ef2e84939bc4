package llm

import (
	"context"
	"fmt"
	"strings"

	"supportloop/internal/logger"

	"google.golang.org/genai"
)

type GeminiCompleter struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (g *GeminiCompleter) Complete(ctx context.Context, req Request) (string, error) {
	model := modelOr(req.Model, g.model)
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.System}}},
		Temperature:       genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	result, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		logger.Log.Errorf("llm gemini error model=%s: %v", model, err)
		return "", providerErr("gemini", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", providerErr("gemini", fmt.Errorf("empty response"))
	}
	logger.Log.Debugf("llm gemini response model=%s size=%d", model, len(text))
	return text, nil
}
