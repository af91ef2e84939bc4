// Package scoring estimates how much a corrected reply improves on the
// original and sorts failure explanations into the fixed taxonomy.
//
// The judge is a strategy: generative scoring is not reproducible across
// provider versions, so tests and offline runs use HeuristicJudge.
package scoring

import (
	"context"
	"math"

	"supportloop/internal/domain"
	"supportloop/internal/logger"
)

const (
	minScore = 1.0
	maxScore = 10.0

	// DefaultGain applies when the judge output is missing or malformed: a
	// small positive nudge rather than zero.
	DefaultGain = 1.0
)

// Ratings are the judge's 1–10 scores for both replies.
type Ratings struct {
	Original  float64
	Corrected float64
}

type Judge interface {
	Rate(ctx context.Context, original, corrected string) (Ratings, error)
	Classify(ctx context.Context, explanation string) (string, error)
}

type Scorer struct {
	judge Judge
}

func NewScorer(j Judge) *Scorer {
	return &Scorer{judge: j}
}

// EstimateScoreGain is max(0, corrected - original). It never returns a
// negative value.
func (s *Scorer) EstimateScoreGain(ctx context.Context, original, corrected string) float64 {
	r, err := s.judge.Rate(ctx, original, corrected)
	if err != nil {
		logger.Log.Warnf("scoring rate fallback gain=%.0f: %v", DefaultGain, err)
		return DefaultGain
	}
	if !validScore(r.Original) || !validScore(r.Corrected) {
		logger.Log.Warnf("scoring rate fallback gain=%.0f: %v (original=%v corrected=%v)",
			DefaultGain, domain.ErrMalformedJudgeOutput, r.Original, r.Corrected)
		return DefaultGain
	}
	gain := clampScore(r.Corrected) - clampScore(r.Original)
	return math.Max(0, gain)
}

// CategorizeFailure maps the explanation onto the taxonomy; anything the
// judge returns outside it falls back to general.
func (s *Scorer) CategorizeFailure(ctx context.Context, explanation string) domain.Category {
	raw, err := s.judge.Classify(ctx, explanation)
	if err != nil {
		logger.Log.Warnf("scoring classify fallback category=general: %v", err)
		return domain.CategoryGeneral
	}
	if !domain.IsCategory(normalizeLabel(raw)) {
		logger.Log.Debugf("scoring classify unrecognized label=%q", raw)
	}
	return domain.ParseCategory(raw)
}

// validScore rejects values a judge cannot have meant. Zero is off the 1–10
// scale and means the field was missing; other out-of-range values are clamped.
func validScore(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0
}

func clampScore(v float64) float64 {
	return math.Min(maxScore, math.Max(minScore, v))
}
