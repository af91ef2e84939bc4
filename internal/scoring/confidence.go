package scoring

import (
	"math"
	"regexp"
	"strings"
)

// ConfidenceEstimator assigns a 0–1 confidence to a served reply. The drift
// monitor averages these per day.
type ConfidenceEstimator interface {
	Estimate(reply string) float64
}

var (
	apologyPattern = regexp.MustCompile(`(?i)\b(sorry|apologi[sz]e|understand|thanks?|appreciate)\b`)
	actionPattern  = regexp.MustCompile(`(?i)\b(i've|i have|i will|i'll|you can|please|click|go to|follow|here's|here is)\b`)
	hedgePattern   = regexp.MustCompile(`(?i)\b(maybe|perhaps|not sure|i think|might|possibly)\b`)
	endPunctuation = regexp.MustCompile(`[.!?]\s*$`)
)

// HeuristicConfidence is a placeholder proxy, not a calibrated model: it
// rewards apology and action phrasing and closing punctuation, and penalizes
// hedging and very short replies.
type HeuristicConfidence struct{}

func (HeuristicConfidence) Estimate(reply string) float64 {
	text := strings.TrimSpace(reply)
	if text == "" {
		return 0
	}
	score := 0.5
	if apologyPattern.MatchString(text) {
		score += 0.15
	}
	if actionPattern.MatchString(text) {
		score += 0.15
	}
	if endPunctuation.MatchString(text) {
		score += 0.1
	}
	if hedgePattern.MatchString(text) {
		score -= 0.1
	}
	if len(text) < 20 {
		score -= 0.2
	}
	return math.Round(math.Min(1, math.Max(0, score))*100) / 100
}
