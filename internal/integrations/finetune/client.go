package finetune

import (
	"context"
	"fmt"
	"path/filepath"

	"supportloop/internal/domain"
	"supportloop/internal/httpx"
	"supportloop/internal/logger"

	"github.com/sashabaranov/go-openai"
)

const purposeFineTune = "fine-tune"

// Job is the provider's view of a fine-tuning job.
type Job struct {
	ID             string
	Status         domain.JobStatus
	RawStatus      string
	FineTunedModel string
}

// Provider is the external fine-tuning service. The loop only prepares data
// and tracks the resulting artifact.
type Provider interface {
	UploadTrainingFile(ctx context.Context, path string) (string, error)
	CreateJob(ctx context.Context, trainingFileID, baseModel, suffix string) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
}

type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAI uses the shared external HTTP client so uploads honor its timeout.
func NewOpenAI(apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = httpx.Client()
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func NewOpenAIWithClient(client *openai.Client) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) UploadTrainingFile(ctx context.Context, path string) (string, error) {
	file, err := p.client.CreateFile(ctx, openai.FileRequest{
		FileName: filepath.Base(path),
		FilePath: path,
		Purpose:  purposeFineTune,
	})
	if err != nil {
		return "", fmt.Errorf("upload training file: %w: %w", domain.ErrProviderUnavailable, err)
	}
	logger.Log.Infof("finetune uploaded file=%s id=%s bytes=%d", filepath.Base(path), file.ID, file.Bytes)
	return file.ID, nil
}

func (p *OpenAIProvider) CreateJob(ctx context.Context, trainingFileID, baseModel, suffix string) (Job, error) {
	job, err := p.client.CreateFineTuningJob(ctx, openai.FineTuningJobRequest{
		TrainingFile: trainingFileID,
		Model:        baseModel,
		Suffix:       suffix,
	})
	if err != nil {
		return Job{}, fmt.Errorf("create fine-tuning job: %w: %w", domain.ErrProviderUnavailable, err)
	}
	return toJob(job), nil
}

func (p *OpenAIProvider) GetJob(ctx context.Context, jobID string) (Job, error) {
	job, err := p.client.RetrieveFineTuningJob(ctx, jobID)
	if err != nil {
		return Job{}, fmt.Errorf("retrieve fine-tuning job %s: %w: %w", jobID, domain.ErrProviderUnavailable, err)
	}
	return toJob(job), nil
}

func toJob(j openai.FineTuningJob) Job {
	return Job{
		ID:             j.ID,
		Status:         NormalizeStatus(j.Status),
		RawStatus:      j.Status,
		FineTunedModel: j.FineTunedModel,
	}
}
