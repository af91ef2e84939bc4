package finetune

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"supportloop/internal/domain"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.Handler) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewOpenAIWithClient(openai.NewClientWithConfig(cfg))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestOpenAIProviderLifecycle(t *testing.T) {
	var gotPurpose, gotModel, gotTrainingFile string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			gotPurpose = r.FormValue("purpose")
		}
		writeJSON(w, map[string]any{"id": "file-123", "object": "file", "bytes": 42, "purpose": "fine-tune"})
	})
	mux.HandleFunc("/v1/fine_tuning/jobs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		gotTrainingFile, _ = body["training_file"].(string)
		writeJSON(w, map[string]any{"id": "ftjob-1", "object": "fine_tuning.job", "status": "validating_files"})
	})
	mux.HandleFunc("/v1/fine_tuning/jobs/ftjob-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": "ftjob-1", "object": "fine_tuning.job", "status": "succeeded",
			"fine_tuned_model": "ft:gpt-4o-mini:acme::abc123",
		})
	})
	p := newTestProvider(t, mux)

	path := filepath.Join(t.TempDir(), "batch.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"messages":[]}`+"\n"), 0644))

	ctx := context.Background()
	fileID, err := p.UploadTrainingFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "file-123", fileID)
	assert.Equal(t, "fine-tune", gotPurpose)

	job, err := p.CreateJob(ctx, fileID, "gpt-4o-mini-2024-07-18", "supportloop")
	require.NoError(t, err)
	assert.Equal(t, "ftjob-1", job.ID)
	assert.Equal(t, domain.JobValidating, job.Status)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", gotModel)
	assert.Equal(t, "file-123", gotTrainingFile)

	job, err = p.GetJob(ctx, "ftjob-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.Status)
	assert.Equal(t, "ft:gpt-4o-mini:acme::abc123", job.FineTunedModel)
}

func TestOpenAIProviderErrorsAreProviderUnavailable(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	_, err := p.GetJob(context.Background(), "ftjob-x")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]domain.JobStatus{
		"validating_files": domain.JobValidating,
		"queued":           domain.JobQueued,
		"running":          domain.JobRunning,
		" Succeeded ":      domain.JobSucceeded,
		"failed":           domain.JobFailed,
		"canceled":         domain.JobCancelled,
		"something_new":    domain.JobQueued,
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeStatus(raw), raw)
	}
}
