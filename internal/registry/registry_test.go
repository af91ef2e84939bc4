package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/finetune"
	"supportloop/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	uploads []string
	// polls holds the job states GetJob returns, one per call.
	polls   []finetune.Job
	pollErr error
}

func (f *fakeProvider) UploadTrainingFile(ctx context.Context, path string) (string, error) {
	f.uploads = append(f.uploads, path)
	return "file-1", nil
}

func (f *fakeProvider) CreateJob(ctx context.Context, fileID, baseModel, suffix string) (finetune.Job, error) {
	return finetune.Job{ID: "ftjob-1", Status: domain.JobValidating, RawStatus: "validating_files"}, nil
}

func (f *fakeProvider) GetJob(ctx context.Context, jobID string) (finetune.Job, error) {
	if f.pollErr != nil {
		return finetune.Job{}, f.pollErr
	}
	next := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return next, nil
}

func newTestRegistry(t *testing.T, p finetune.Provider) (*Registry, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "registry-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, p, "gpt-4o-mini-2024-07-18", nil), store
}

func seedBatch(t *testing.T, store *sqlite.Store) domain.ExportBatch {
	t.Helper()
	batch := domain.ExportBatch{BatchID: "batch-1", Path: "/exports/batch-1.jsonl", ExampleCount: 12, SizeBytes: 2048, CreatedAt: time.Now()}
	require.NoError(t, store.MarkBatchExported(context.Background(), batch))
	return batch
}

func TestSubmitAndPollRegistersOneVersion(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{polls: []finetune.Job{
		{ID: "ftjob-1", Status: domain.JobRunning, RawStatus: "running"},
		{ID: "ftjob-1", Status: domain.JobSucceeded, RawStatus: "succeeded", FineTunedModel: "ft:gpt-4o-mini:acme::v1"},
	}}
	reg, store := newTestRegistry(t, p)
	batch := seedBatch(t, store)

	job, err := reg.SubmitFineTune(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "ftjob-1", job.ID)
	assert.Equal(t, domain.JobValidating, job.Status)
	assert.Equal(t, []string{batch.Path}, p.uploads)

	res, err := reg.PollJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Registered)

	res, err = reg.PollJobs(ctx)
	require.NoError(t, err)
	require.Len(t, res.Registered, 1)
	v := res.Registered[0]
	assert.Equal(t, "ft:gpt-4o-mini:acme::v1", v.FineTuneArtifactID)
	assert.Equal(t, 12, v.TrainingExampleCount)
	assert.False(t, v.IsActive, "new versions are never promoted automatically")

	stored, err := reg.Job(ctx, "ftjob-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, stored.Status)

	res, err = reg.PollJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked, "terminal jobs are not polled again")

	versions, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	active, err := reg.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestPollKeepsJobOpenOnProviderError(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	reg, store := newTestRegistry(t, p)
	batch := seedBatch(t, store)
	_, err := reg.SubmitFineTune(ctx, batch.BatchID)
	require.NoError(t, err)

	p.pollErr = errors.New("gateway timeout")
	res, err := reg.PollJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1)

	open, err := store.ListOpenFineTuneJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestPollRecordsFailedJob(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{polls: []finetune.Job{{ID: "ftjob-1", Status: domain.JobFailed, RawStatus: "failed"}}}
	reg, store := newTestRegistry(t, p)
	batch := seedBatch(t, store)
	_, err := reg.SubmitFineTune(ctx, batch.BatchID)
	require.NoError(t, err)

	res, err := reg.PollJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Registered)

	job, err := reg.Job(ctx, "ftjob-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.Error, "failed")
}

func TestRegisterIgnoresDuplicateArtifact(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, nil)

	_, ok, err := reg.Register(ctx, RegisterInput{ArtifactID: "ft:a", BaseModel: "base"})
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = reg.Register(ctx, RegisterInput{ArtifactID: "ft:a", BaseModel: "base"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = reg.Register(ctx, RegisterInput{})
	assert.Error(t, err)
}

func TestPromoteKeepsOneActiveAndRollback(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, nil)

	a, _, err := reg.Register(ctx, RegisterInput{ArtifactID: "ft:a", BaseModel: "base", VersionTag: "v1"})
	require.NoError(t, err)
	b, _, err := reg.Register(ctx, RegisterInput{ArtifactID: "ft:b", BaseModel: "base", VersionTag: "v2"})
	require.NoError(t, err)

	promoted, err := reg.Promote(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, promoted.ID)
	assert.True(t, promoted.IsActive)
	assert.NotNil(t, promoted.PromotedAt)

	_, err = reg.Promote(ctx, b.ID)
	require.NoError(t, err)
	versions, err := reg.List(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
			assert.Equal(t, b.ID, v.ID)
		}
	}
	assert.Equal(t, 1, activeCount)

	_, err = reg.Promote(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, reg.Rollback(ctx))
	active, err := reg.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSubmitWithoutProvider(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	_, err := reg.SubmitFineTune(context.Background(), "batch-1")
	assert.Error(t, err)
	res, err := reg.PollJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{}, res)
}
