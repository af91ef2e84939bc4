package correction

import (
	"context"
	"testing"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"

	"github.com/stretchr/testify/assert"
)

func TestGenerateReturnsCleanedCorrection(t *testing.T) {
	var seen llm.Request
	g := NewGenerator(llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		seen = req
		return "```\nSorry about the delay! Your refund was issued today.\n```", nil
	}))

	out := g.Generate(context.Background(), Request{
		Prompt:      "Where is my refund?",
		BadReply:    "Refunds take time.",
		GoodReply:   "I'm sorry for the wait. I've issued your refund today.",
		Explanation: "lacked empathy",
	})

	assert.Equal(t, "Sorry about the delay! Your refund was issued today.", out)
	assert.False(t, IsUnavailable(out))
	assert.Contains(t, seen.Prompt, "Where is my refund?")
	assert.Contains(t, seen.Prompt, "lacked empathy")
	assert.Contains(t, seen.Prompt, "do not copy it")
	assert.Contains(t, seen.System, "does NOT copy the reference reply")
	assert.Equal(t, 0.7, seen.Temperature)
}

func TestGenerateWithoutReferenceReply(t *testing.T) {
	var seen llm.Request
	g := NewGenerator(llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		seen = req
		return "Here are the exact steps to reset your password: ...", nil
	}))

	out := g.Generate(context.Background(), Request{Prompt: "reset password?", BadReply: "Try again.", Explanation: "too generic"})
	assert.False(t, IsUnavailable(out))
	assert.Contains(t, seen.Prompt, "No reference reply was supplied")
}

func TestGenerateFallsBackToSentinel(t *testing.T) {
	tests := map[string]llm.CompleterFunc{
		"provider error": func(ctx context.Context, req llm.Request) (string, error) {
			return "", domain.ErrProviderUnavailable
		},
		"empty response": func(ctx context.Context, req llm.Request) (string, error) {
			return "   ", nil
		},
		"verbatim copy": func(ctx context.Context, req llm.Request) (string, error) {
			return "  I'm SORRY for the wait.  ", nil
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			out := NewGenerator(fn).Generate(context.Background(), Request{
				Prompt: "p", BadReply: "bad", GoodReply: "I'm sorry for the wait.",
			})
			assert.Equal(t, UnableToGenerate, out)
			assert.True(t, IsUnavailable(out))
		})
	}
}
