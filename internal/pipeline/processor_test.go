package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"supportloop/internal/correction"
	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"
	"supportloop/internal/ledger"
	"supportloop/internal/scoring"
	"supportloop/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const improvedReply = "I'm sorry for the trouble. I've reset your password; you can log in with the link we just emailed you."

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "pipeline-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestProcessor(store *sqlite.Store, completer llm.Completer, guard Guard) *Processor {
	return NewProcessor(Deps{
		Failures:  store,
		Ledger:    ledger.New(store),
		Generator: correction.NewGenerator(completer),
		Scorer:    scoring.NewScorer(scoring.HeuristicJudge{}),
		Guard:     guard,
		BatchSize: 10,
	})
}

func fixedCompleter() llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "FAIL") {
			return "", domain.ErrProviderUnavailable
		}
		return improvedReply, nil
	})
}

func recordFailures(t *testing.T, store *sqlite.Store, inputs ...domain.FailureInput) []string {
	t.Helper()
	var ids []string
	for _, in := range inputs {
		id, err := store.RecordFailure(context.Background(), in)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recordFailures(t, store,
		domain.FailureInput{CustomerMessage: "I can't log in", AssistantReply: "Try again later.", Explanation: "too vague"},
		domain.FailureInput{CustomerMessage: "Where is my order?", AssistantReply: "It is shipping.", Explanation: "wrong tracking info"},
		domain.FailureInput{CustomerMessage: "Cancel please", AssistantReply: "No.", Explanation: "sounded rude", HumanCorrection: "Of course, I've cancelled it."},
	)
	p := newTestProcessor(store, fixedCompleter(), &MemoryGuard{})

	first, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)
	before, err := store.ListImprovements(ctx)
	require.NoError(t, err)

	second, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Listed)
	assert.Equal(t, 0, second.Processed)
	after, err := store.ListImprovements(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, improvementKeys(before), improvementKeys(after))
}

func improvementKeys(records []domain.ImprovementRecord) []string {
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.ID+"|"+r.SourceFailureID+"|"+r.OriginalReply)
	}
	return keys
}

func TestRunDedupsRepliesWithinBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recordFailures(t, store,
		domain.FailureInput{CustomerMessage: "a", AssistantReply: "same reply", Explanation: "x"},
		domain.FailureInput{CustomerMessage: "b", AssistantReply: "same reply", Explanation: "y"},
	)
	p := newTestProcessor(store, fixedCompleter(), nil)

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Duplicates)

	stats, err := ledger.New(store).Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestRunToleratesProviderFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recordFailures(t, store,
		domain.FailureInput{CustomerMessage: "FAIL please", AssistantReply: "r1", Explanation: "x"},
		domain.FailureInput{CustomerMessage: "fine", AssistantReply: "r2", Explanation: "y"},
	)
	p := newTestProcessor(store, fixedCompleter(), nil)

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Listed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)

	pending, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "failed record stays pending for the next run")
	assert.Equal(t, "r1", pending[0].AssistantReply)
}

func TestRepeatedGenerationFailuresDoNotStarveOlderRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	healthy := recordFailures(t, store,
		domain.FailureInput{CustomerMessage: "my invoice is wrong", AssistantReply: "Invoices are correct.", Explanation: "dismissive"})[0]
	var failing []domain.FailureInput
	for i := 0; i < 10; i++ {
		failing = append(failing, domain.FailureInput{
			CustomerMessage: fmt.Sprintf("FAIL %d", i), AssistantReply: fmt.Sprintf("bad reply %d", i), Explanation: "x",
		})
	}
	failingIDs := recordFailures(t, store, failing...)
	p := newTestProcessor(store, fixedCompleter(), nil)

	first, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Listed)
	assert.Equal(t, 10, first.Failed)
	assert.Equal(t, 0, first.Processed)

	f, err := store.GetFailure(ctx, failingIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, f.Attempts)

	second, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 9, second.Failed)

	done, err := ledger.New(store).Contains(ctx, "Invoices are correct.")
	require.NoError(t, err)
	assert.True(t, done, "older record %s reached once newer ones had failed", healthy)
}

func TestRunAbortsOnStorageError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recordFailures(t, store, domain.FailureInput{CustomerMessage: "m", AssistantReply: "r", Explanation: "e"})
	p := newTestProcessor(store, fixedCompleter(), nil)
	require.NoError(t, store.Close())

	_, err := p.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestConcurrentRunIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recordFailures(t, store, domain.FailureInput{CustomerMessage: "m", AssistantReply: "r", Explanation: "e"})

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	blocking := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		once.Do(func() { close(entered) })
		<-unblock
		return improvedReply, nil
	})
	p := newTestProcessor(store, blocking, &MemoryGuard{})

	done := make(chan BatchResult, 1)
	go func() {
		r, err := p.Run(ctx)
		assert.NoError(t, err)
		done <- r
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first batch never reached the completer")
	}

	second, err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	close(unblock)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Processed)
}

func TestSharedLeaseSkipsSecondInstance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recordFailures(t, store, domain.FailureInput{CustomerMessage: "m", AssistantReply: "r", Explanation: "e"})

	other := store.NewLease("failure-batch", "instance-b", time.Minute)
	ok, err := other.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	p := newTestProcessor(store, fixedCompleter(), store.NewLease("failure-batch", "instance-a", time.Minute))
	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	require.NoError(t, other.Release(ctx))
	result, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
}

func TestEndToEndEmpathyFailureRanksOnLeaderboard(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	l := ledger.New(store)

	_, err := l.Append(ctx, domain.ImprovementRecord{
		SourceFailureID: "older", OriginalPrompt: "p", OriginalReply: "old reply",
		CorrectedReply: "c", ScoreGainEstimate: 0, FailureCategory: domain.CategoryTone,
	})
	require.NoError(t, err)

	recordFailures(t, store, domain.FailureInput{
		CustomerMessage: "My package arrived broken and I'm really upset.",
		AssistantReply:  "Please contact support.",
		Explanation:     "reply was too generic and lacked empathy",
	})
	p := newTestProcessor(store, fixedCompleter(), nil)
	result, err := p.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)

	board, err := l.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)

	idx := -1
	for i, r := range board {
		if r.OriginalReply == "Please contact support." {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx)
	got := board[idx]
	assert.Contains(t, []domain.Category{domain.CategoryEmpathy, domain.CategoryGeneral}, got.FailureCategory)
	assert.NotEqual(t, domain.CategoryAccuracy, got.FailureCategory)
	assert.GreaterOrEqual(t, got.ScoreGainEstimate, 0.0)
	assert.Equal(t, improvedReply, got.CorrectedReply)
	for i, r := range board {
		if r.ScoreGainEstimate < got.ScoreGainEstimate {
			assert.Less(t, idx, i)
		}
	}
}

func TestForceResetRegeneratesFromScratch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	recordFailures(t, store,
		domain.FailureInput{CustomerMessage: "a", AssistantReply: "r1", Explanation: "x"},
		domain.FailureInput{CustomerMessage: "b", AssistantReply: "r2", Explanation: "y"},
	)
	p := newTestProcessor(store, fixedCompleter(), nil)
	_, err := p.Run(ctx)
	require.NoError(t, err)
	before, err := store.ListImprovements(ctx)
	require.NoError(t, err)

	result, err := p.ForceReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	after, err := store.ListImprovements(ctx)
	require.NoError(t, err)
	require.Len(t, after, 2)
	oldIDs := map[string]bool{}
	for _, r := range before {
		oldIDs[r.ID] = true
	}
	for _, r := range after {
		assert.False(t, oldIDs[r.ID], "records are regenerated, not kept")
	}
}

func TestFormatSummary(t *testing.T) {
	assert.Equal(t, "no unprocessed failures", FormatSummary(BatchResult{}))
	assert.Equal(t, "3 failures: 1 processed, 1 duplicate, 1 failed (0s)",
		FormatSummary(BatchResult{Listed: 3, Processed: 1, Duplicates: 1, Failed: 1}))
}
