package correction

import (
	"context"
	"fmt"
	"strings"

	"supportloop/internal/integrations/llm"
	"supportloop/internal/logger"
)

// UnableToGenerate is returned instead of an error when the provider fails,
// so a batch degrades record by record instead of aborting.
const UnableToGenerate = "Unable to generate improved response"

const systemInstruction = `You improve customer support replies.
You are given a customer message, the assistant reply that a reviewer flagged as inadequate, the reviewer's explanation, and sometimes a reference reply written by a human.

Write a new reply that:
- fixes the defect named in the explanation
- matches the reference reply's tone, accuracy and completeness
- does NOT copy the reference reply; paraphrase it in your own words
- addresses the customer directly

Respond with the improved reply text only (no preamble, no quotes, no markdown).`

type Request struct {
	Prompt      string
	BadReply    string
	GoodReply   string
	Explanation string
}

type Generator struct {
	llm         llm.Completer
	temperature float64
	maxTokens   int
}

func NewGenerator(c llm.Completer) *Generator {
	return &Generator{llm: c, temperature: 0.7, maxTokens: 1024}
}

// Generate returns the corrected reply, or UnableToGenerate when the provider
// errors, returns nothing, or echoes the reference verbatim.
func (g *Generator) Generate(ctx context.Context, req Request) string {
	text, err := g.llm.Complete(ctx, llm.Request{
		System:      systemInstruction,
		Prompt:      buildPrompt(req),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		logger.Log.Warnf("correction generate error: %v", err)
		return UnableToGenerate
	}

	text = cleanReply(text)
	if text == "" {
		logger.Log.Warnf("correction generate empty response")
		return UnableToGenerate
	}
	if req.GoodReply != "" && normalize(text) == normalize(req.GoodReply) {
		logger.Log.Warnf("correction generate copied the reference reply verbatim size=%d", len(text))
		return UnableToGenerate
	}
	return text
}

func IsUnavailable(text string) bool {
	return strings.TrimSpace(text) == UnableToGenerate
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Customer message:\n%s\n\n", strings.TrimSpace(req.Prompt)))
	b.WriteString(fmt.Sprintf("Flagged assistant reply:\n%s\n\n", strings.TrimSpace(req.BadReply)))

	explanation := strings.TrimSpace(req.Explanation)
	if explanation == "" {
		explanation = "not specified"
	}
	b.WriteString(fmt.Sprintf("Why it was flagged:\n%s\n\n", explanation))

	if good := strings.TrimSpace(req.GoodReply); good != "" {
		b.WriteString(fmt.Sprintf("Reference reply (match its qualities, do not copy it):\n%s\n", good))
	} else {
		b.WriteString("No reference reply was supplied. Fix the flagged defect on your own.\n")
	}
	return b.String()
}

func cleanReply(text string) string {
	text = llm.StripFences(text)
	text = strings.Trim(text, "\"")
	return strings.TrimSpace(text)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
