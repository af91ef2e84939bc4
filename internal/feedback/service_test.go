package feedback

import (
	"context"
	"path/filepath"
	"testing"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"
	"supportloop/internal/router"
	"supportloop/internal/scoring"
	"supportloop/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "feedback-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r, err := router.New(domain.VariantConfig{Base: domain.ModelVariant{Key: "base-model"}},
		llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
			return "  I'm sorry about that! You can reset it from the settings page.  ", nil
		}))
	require.NoError(t, err)
	return NewService(store, r, scoring.HeuristicConfidence{}, "persona"), store
}

func TestReplyRecordsInteraction(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	in, err := svc.Reply(ctx, "user-1", "how do I reset my password?")
	require.NoError(t, err)
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, "base-model", in.VariantKey)
	assert.Equal(t, "I'm sorry about that! You can reset it from the settings page.", in.AssistantReply)
	assert.Greater(t, in.Confidence, 0.5)

	stored, err := store.GetInteraction(ctx, in.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Useful)
	assert.Equal(t, in.Confidence, stored.Confidence)
}

func TestReplyRequiresInput(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Reply(context.Background(), "", "hello")
	assert.Error(t, err)
}

func TestRateNotUsefulCapturesFailure(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	in, err := svc.Record(ctx, domain.Interaction{UserID: "u", CustomerMessage: "where is my refund?", AssistantReply: "Soon.", Confidence: 0.4})
	require.NoError(t, err)
	assert.Equal(t, "base-model", in.VariantKey)
	assert.Equal(t, 0.4, in.Confidence)

	failureID, err := svc.Rate(ctx, in.ID, Rating{Useful: false, Explanation: "too vague", Correction: "Your refund was issued on Monday."})
	require.NoError(t, err)
	require.NotEmpty(t, failureID)

	f, err := store.GetFailure(ctx, failureID)
	require.NoError(t, err)
	assert.Equal(t, "where is my refund?", f.CustomerMessage)
	assert.Equal(t, "Soon.", f.AssistantReply)
	assert.Equal(t, "too vague", f.FailureExplanation)
	assert.Equal(t, "Your refund was issued on Monday.", f.HumanCorrection)

	rated, err := store.GetInteraction(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, rated.Useful)
	assert.False(t, *rated.Useful)
}

func TestRateUsefulRecordsNoFailure(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	in, err := svc.Record(ctx, domain.Interaction{UserID: "u", CustomerMessage: "m", AssistantReply: "Done! I've updated it."})
	require.NoError(t, err)

	failureID, err := svc.Rate(ctx, in.ID, Rating{Useful: true})
	require.NoError(t, err)
	assert.Empty(t, failureID)

	n, err := store.CountFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRateUnknownInteraction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Rate(context.Background(), "missing", Rating{Useful: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
