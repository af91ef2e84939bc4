package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(percent int) domain.VariantConfig {
	return domain.VariantConfig{
		Base:      domain.ModelVariant{Key: "base-model"},
		Candidate: domain.ModelVariant{Key: "candidate-model", TrafficWeightPercent: percent},
	}
}

func TestBucketV1KnownValues(t *testing.T) {
	tests := map[string]int{
		"":                  0,
		"a":                 97,
		"user-42":           56,
		"alice@example.com": 61,
		"héllo":             34,
		"😀":                 99,
		"customer-12345":    40,
	}
	for userID, want := range tests {
		assert.Equal(t, want, Bucket(userID), "user %q", userID)
	}
}

func TestAssignIsDeterministic(t *testing.T) {
	cfg := testConfig(30)
	first := Assign("user-42", cfg)
	for i := 0; i < 1000; i++ {
		require.Equal(t, first, Assign("user-42", cfg))
	}
}

func TestBucketDistributionIsRoughlyUniform(t *testing.T) {
	counts := make([]int, BucketCount)
	const users = 10000
	for i := 0; i < users; i++ {
		b := Bucket(fmt.Sprintf("user-%d", i))
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, BucketCount)
		counts[b]++
	}
	for b, n := range counts {
		// Expected 100 per bucket.
		assert.Greater(t, n, 40, "bucket %d underfilled", b)
		assert.Less(t, n, 160, "bucket %d overfilled", b)
	}
}

func TestAssignHonorsTrafficPercent(t *testing.T) {
	cfg := testConfig(25)
	candidates := 0
	for i := 0; i < 10000; i++ {
		a := Assign(fmt.Sprintf("user-%d", i), cfg)
		if a.IsCandidate {
			candidates++
			assert.Less(t, a.Bucket, 25)
			assert.Equal(t, "candidate-model", a.VariantKey)
		} else {
			assert.GreaterOrEqual(t, a.Bucket, 25)
			assert.Equal(t, "base-model", a.VariantKey)
		}
	}
	assert.InDelta(t, 2500, candidates, 400)

	none := Assign("user-1", testConfig(0))
	assert.False(t, none.IsCandidate)
	all := Assign("user-1", testConfig(100))
	assert.True(t, all.IsCandidate)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(testConfig(10)))
	assert.NoError(t, Validate(domain.VariantConfig{Base: domain.ModelVariant{Key: "b"}}))
	assert.Error(t, Validate(domain.VariantConfig{}))
	assert.Error(t, Validate(testConfig(101)))
	assert.Error(t, Validate(testConfig(-1)))
	assert.Error(t, Validate(domain.VariantConfig{
		Base:      domain.ModelVariant{Key: "b"},
		Candidate: domain.ModelVariant{TrafficWeightPercent: 5},
	}))
}

func userInBucketRange(t *testing.T, lo, hi int) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("user-%d", i)
		if b := Bucket(id); b >= lo && b < hi {
			return id
		}
	}
	t.Fatalf("no user in buckets [%d,%d)", lo, hi)
	return ""
}

func TestCompleteFallsBackToBaseOnCandidateFailure(t *testing.T) {
	var mu sync.Mutex
	var models []string
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		mu.Lock()
		models = append(models, req.Model)
		mu.Unlock()
		if req.Model == "candidate-model" {
			return "", domain.ErrProviderUnavailable
		}
		return "reply from " + req.Model, nil
	})
	r, err := New(testConfig(50), completer)
	require.NoError(t, err)

	user := userInBucketRange(t, 0, 50)
	reply, err := r.Complete(context.Background(), user, llm.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.True(t, reply.Assignment.IsCandidate)
	assert.True(t, reply.FellBack)
	assert.Equal(t, "base-model", reply.ServedBy)
	assert.Equal(t, "reply from base-model", reply.Text)
	assert.Equal(t, []string{"candidate-model", "base-model"}, models)
}

func TestCompleteBaseFailureIsReturned(t *testing.T) {
	calls := 0
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		calls++
		return "", domain.ErrProviderUnavailable
	})
	r, err := New(testConfig(50), completer)
	require.NoError(t, err)

	_, err = r.Complete(context.Background(), userInBucketRange(t, 50, 100), llm.Request{Prompt: "hi"})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 1, calls, "base calls are not retried")
}

func writeVariants(t *testing.T, path string, percent int) {
	t.Helper()
	body := fmt.Sprintf("base:\n  key: base-model\ncandidate:\n  key: candidate-model\n  traffic_percent: %d\n", percent)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestLoadVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variants.yaml")
	writeVariants(t, path, 15)
	cfg, err := LoadVariants(path)
	require.NoError(t, err)
	assert.Equal(t, "base-model", cfg.Base.Key)
	assert.Equal(t, 15, cfg.Candidate.TrafficWeightPercent)

	writeVariants(t, path, 150)
	_, err = LoadVariants(path)
	assert.Error(t, err)
}

func TestWatchHotReloadsVariants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "variants.yaml")
	writeVariants(t, path, 10)
	initial, err := LoadVariants(path)
	require.NoError(t, err)

	r, err := New(initial, llm.CompleterFunc(func(context.Context, llm.Request) (string, error) { return "", nil }))
	require.NoError(t, err)
	require.NoError(t, r.Watch(ctx, path))

	writeVariants(t, path, 60)
	assert.Eventually(t, func() bool {
		return r.Config().Candidate.TrafficWeightPercent == 60
	}, 5*time.Second, 20*time.Millisecond)

	// Invalid edits keep the last good config.
	require.NoError(t, os.WriteFile(path, []byte("base: ["), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 60, r.Config().Candidate.TrafficWeightPercent)
	assert.Equal(t, domain.RoleCandidate, r.Config().Candidate.Role)
}
