package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"
)

const rateSystemPrompt = `You are a strict quality judge for customer support replies.
Rate each reply from 1 (useless) to 10 (excellent) for helpfulness, accuracy, empathy and completeness.

Respond with JSON only (no markdown):
{"original_score": 4, "corrected_score": 8}`

const classifySystemPrompt = `You categorize why a customer support reply was judged inadequate.
Choose exactly one category from: empathy, specificity, accuracy, tone, completeness, context, general.
Respond with the category word only.`

// LLMJudge asks the completion capability for both judgments.
type LLMJudge struct {
	llm llm.Completer
}

func NewLLMJudge(c llm.Completer) *LLMJudge {
	return &LLMJudge{llm: c}
}

type ratingResponse struct {
	OriginalScore  *float64 `json:"original_score"`
	CorrectedScore *float64 `json:"corrected_score"`
}

func (j *LLMJudge) Rate(ctx context.Context, original, corrected string) (Ratings, error) {
	prompt := fmt.Sprintf("Original reply:\n%s\n\nCorrected reply:\n%s\n",
		strings.TrimSpace(original), strings.TrimSpace(corrected))
	text, err := j.llm.Complete(ctx, llm.Request{
		System:      rateSystemPrompt,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		return Ratings{}, err
	}
	return parseRatings(text)
}

func parseRatings(text string) (Ratings, error) {
	body := llm.StripFences(text)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var resp ratingResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return Ratings{}, fmt.Errorf("%w: %v (response: %s)", domain.ErrMalformedJudgeOutput, err, truncate(text, 200))
	}
	if resp.OriginalScore == nil || resp.CorrectedScore == nil {
		return Ratings{}, fmt.Errorf("%w: missing score (response: %s)", domain.ErrMalformedJudgeOutput, truncate(text, 200))
	}
	return Ratings{Original: *resp.OriginalScore, Corrected: *resp.CorrectedScore}, nil
}

func (j *LLMJudge) Classify(ctx context.Context, explanation string) (string, error) {
	text, err := j.llm.Complete(ctx, llm.Request{
		System:      classifySystemPrompt,
		Prompt:      "Explanation: " + strings.TrimSpace(explanation),
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return "", err
	}
	return normalizeLabel(text), nil
}

func normalizeLabel(text string) string {
	text = strings.ToLower(llm.StripFences(text))
	if fields := strings.Fields(text); len(fields) > 0 {
		text = fields[0]
	}
	return strings.Trim(text, "\"'`.,;:!*")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
}
