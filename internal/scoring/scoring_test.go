package scoring

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedJudge struct {
	ratings  Ratings
	rateErr  error
	label    string
	labelErr error
}

func (f fixedJudge) Rate(context.Context, string, string) (Ratings, error) { return f.ratings, f.rateErr }
func (f fixedJudge) Classify(context.Context, string) (string, error)     { return f.label, f.labelErr }

func TestEstimateScoreGain(t *testing.T) {
	tests := []struct {
		name  string
		judge fixedJudge
		want  float64
	}{
		{"improvement", fixedJudge{ratings: Ratings{Original: 3, Corrected: 8}}, 5},
		{"regression clamps to zero", fixedJudge{ratings: Ratings{Original: 8, Corrected: 3}}, 0},
		{"out of range clamps to scale", fixedJudge{ratings: Ratings{Original: -5, Corrected: 40}}, 9},
		{"missing score defaults", fixedJudge{ratings: Ratings{Original: 4}}, DefaultGain},
		{"judge error defaults", fixedJudge{rateErr: domain.ErrProviderUnavailable}, DefaultGain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewScorer(tt.judge).EstimateScoreGain(context.Background(), "a", "b")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimateScoreGainNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		j := fixedJudge{ratings: Ratings{Original: rng.Float64()*30 - 10, Corrected: rng.Float64()*30 - 10}}
		got := NewScorer(j).EstimateScoreGain(context.Background(), "o", "c")
		require.GreaterOrEqual(t, got, 0.0, "ratings=%+v", j.ratings)
	}
}

func TestCategorizeFailureFallsBackToGeneral(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, domain.CategoryTone, NewScorer(fixedJudge{label: "Tone."}).CategorizeFailure(ctx, "x"))
	assert.Equal(t, domain.CategoryGeneral, NewScorer(fixedJudge{label: "grammar"}).CategorizeFailure(ctx, "x"))
	assert.Equal(t, domain.CategoryGeneral, NewScorer(fixedJudge{labelErr: errors.New("boom")}).CategorizeFailure(ctx, "x"))
}

func TestLLMJudgeParsesRatings(t *testing.T) {
	judge := NewLLMJudge(llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "```json\n{\"original_score\": 3, \"corrected_score\": 9}\n```", nil
	}))
	r, err := judge.Rate(context.Background(), "bad", "good")
	require.NoError(t, err)
	assert.Equal(t, Ratings{Original: 3, Corrected: 9}, r)

	gain := NewScorer(judge).EstimateScoreGain(context.Background(), "bad", "good")
	assert.Equal(t, 6.0, gain)
}

func TestLLMJudgeMalformedOutput(t *testing.T) {
	for _, resp := range []string{"I would rate them 3 and 9", `{"original_score": 3}`, ""} {
		judge := NewLLMJudge(llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
			return resp, nil
		}))
		_, err := judge.Rate(context.Background(), "bad", "good")
		assert.ErrorIs(t, err, domain.ErrMalformedJudgeOutput, "response=%q", resp)
		assert.Equal(t, DefaultGain, NewScorer(judge).EstimateScoreGain(context.Background(), "bad", "good"))
	}
}

func TestLLMJudgeClassify(t *testing.T) {
	judge := NewLLMJudge(llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "Empathy - the reply ignored the customer's frustration", nil
	}))
	assert.Equal(t, domain.CategoryEmpathy, NewScorer(judge).CategorizeFailure(context.Background(), "cold reply"))
}

func TestKeywordCategory(t *testing.T) {
	tests := map[string]domain.Category{
		"reply was too generic and lacked empathy":  domain.CategoryEmpathy,
		"the refund amount quoted was wrong":        domain.CategoryAccuracy,
		"sounded robotic":                           domain.CategoryTone,
		"too vague, no steps":                       domain.CategorySpecificity,
		"ignored the previous message":              domain.CategoryContext,
		"only answered half of the question":        domain.CategoryCompleteness,
		"just bad":                                  domain.CategoryGeneral,
	}
	for explanation, want := range tests {
		assert.Equal(t, want, KeywordCategory(explanation), explanation)
	}
}

func TestHeuristicJudgeRewardsBetterReplies(t *testing.T) {
	r, err := HeuristicJudge{}.Rate(context.Background(),
		"Try again later.",
		"I'm sorry for the trouble. I've reset your account; you can log in again in 5 minutes using the link we emailed you.",
	)
	require.NoError(t, err)
	assert.Greater(t, r.Corrected, r.Original)
	assert.GreaterOrEqual(t, r.Original, minScore)
	assert.LessOrEqual(t, r.Corrected, maxScore)
}

func TestHeuristicConfidence(t *testing.T) {
	c := HeuristicConfidence{}
	strong := c.Estimate("I'm sorry about that! I've issued the refund and you can expect it within 3 days.")
	weak := c.Estimate("maybe")
	assert.Greater(t, strong, weak)
	assert.LessOrEqual(t, strong, 1.0)
	assert.GreaterOrEqual(t, weak, 0.0)
	assert.Equal(t, 0.0, c.Estimate("   "))
}
