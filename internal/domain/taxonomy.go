package domain

import "strings"

type Category string

const (
	CategoryEmpathy      Category = "empathy"
	CategorySpecificity  Category = "specificity"
	CategoryAccuracy     Category = "accuracy"
	CategoryTone         Category = "tone"
	CategoryCompleteness Category = "completeness"
	CategoryContext      Category = "context"
	CategoryGeneral      Category = "general"
)

var categories = []Category{
	CategoryEmpathy,
	CategorySpecificity,
	CategoryAccuracy,
	CategoryTone,
	CategoryCompleteness,
	CategoryContext,
	CategoryGeneral,
}

func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory maps judge output onto the closed taxonomy. Anything it does
// not recognize becomes general.
func ParseCategory(raw string) Category {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'`.,;:!* \n\t")
	for _, c := range categories {
		if s == string(c) {
			return c
		}
	}
	return CategoryGeneral
}

func IsCategory(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range categories {
		if s == string(c) {
			return true
		}
	}
	return false
}
