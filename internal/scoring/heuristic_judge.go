package scoring

import (
	"context"
	"strings"
	"unicode"

	"supportloop/internal/domain"
)

// categoryKeywords is checked in order; the first hit wins. Empathy is
// checked first so "generic and lacked empathy" lands on empathy.
var categoryKeywords = []struct {
	category domain.Category
	keywords []string
}{
	{domain.CategoryEmpathy, []string{"empath", "uncaring", "apolog", "sympath", "cold", "dismissive", "frustrat"}},
	{domain.CategoryTone, []string{"tone", "rude", "robotic", "curt", "sarcas", "condescend", "too formal"}},
	{domain.CategoryAccuracy, []string{"wrong", "incorrect", "inaccurate", "false", "mistake", "outdated"}},
	{domain.CategoryContext, []string{"context", "history", "previous", "ignored", "earlier"}},
	{domain.CategoryCompleteness, []string{"incomplete", "missing", "partial", "didn't answer", "did not answer", "only answered"}},
	{domain.CategorySpecificity, []string{"specific", "vague", "detail", "concrete"}},
}

var empathyMarkers = []string{"sorry", "apolog", "understand", "thank", "appreciate"}
var actionMarkers = []string{"i've", "i have", "i will", "i'll", "here's", "here is", "step", "click", "go to", "you can"}

// HeuristicJudge is a deterministic judge for tests and offline runs.
type HeuristicJudge struct{}

func (HeuristicJudge) Rate(_ context.Context, original, corrected string) (Ratings, error) {
	return Ratings{Original: heuristicScore(original), Corrected: heuristicScore(corrected)}, nil
}

func (HeuristicJudge) Classify(_ context.Context, explanation string) (string, error) {
	return string(KeywordCategory(explanation)), nil
}

// KeywordCategory maps an explanation to a category by keyword, general when
// nothing matches.
func KeywordCategory(explanation string) domain.Category {
	text := strings.ToLower(explanation)
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.category
			}
		}
	}
	return domain.CategoryGeneral
}

func heuristicScore(reply string) float64 {
	text := strings.ToLower(strings.TrimSpace(reply))
	if text == "" {
		return minScore
	}
	score := 2.0

	words := len(strings.Fields(text))
	switch {
	case words >= 40:
		score += 3
	case words >= 15:
		score += 2
	case words >= 6:
		score += 1
	}
	if containsAny(text, empathyMarkers) {
		score += 2
	}
	if containsAny(text, actionMarkers) {
		score += 2
	}
	if strings.IndexFunc(text, unicode.IsDigit) >= 0 {
		score++
	}
	return clampScore(score)
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
