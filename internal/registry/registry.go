// Package registry tracks fine-tuning jobs and the model versions they
// produce. Promotion is always an explicit operator action.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/finetune"
	slackbot "supportloop/internal/integrations/slack"
	"supportloop/internal/logger"

	"github.com/google/uuid"
)

const jobSuffix = "supportloop"

type Store interface {
	GetExportBatch(ctx context.Context, batchID string) (domain.ExportBatch, error)

	InsertFineTuneJob(ctx context.Context, job domain.FineTuneJob) error
	UpdateFineTuneJob(ctx context.Context, id string, status domain.JobStatus, fineTunedModel, errMsg string) error
	GetFineTuneJob(ctx context.Context, id string) (domain.FineTuneJob, error)
	ListOpenFineTuneJobs(ctx context.Context) ([]domain.FineTuneJob, error)

	InsertModelVersion(ctx context.Context, v domain.ModelVersion) (bool, error)
	GetModelVersion(ctx context.Context, id string) (domain.ModelVersion, error)
	ListModelVersions(ctx context.Context) ([]domain.ModelVersion, error)
	ActiveModelVersion(ctx context.Context) (*domain.ModelVersion, error)
	PromoteModelVersion(ctx context.Context, id string) error
	DeactivateModelVersions(ctx context.Context) error
}

type Registry struct {
	store     Store
	provider  finetune.Provider
	baseModel string
	notifier  slackbot.Notifier
	now       func() time.Time
}

func New(store Store, provider finetune.Provider, baseModel string, notifier slackbot.Notifier) *Registry {
	if notifier == nil {
		notifier = slackbot.Nop{}
	}
	return &Registry{store: store, provider: provider, baseModel: baseModel, notifier: notifier, now: time.Now}
}

// SubmitFineTune uploads an export batch's artifact and starts a job on it.
func (r *Registry) SubmitFineTune(ctx context.Context, batchID string) (domain.FineTuneJob, error) {
	if r.provider == nil {
		return domain.FineTuneJob{}, fmt.Errorf("fine-tuning provider not configured")
	}
	batch, err := r.store.GetExportBatch(ctx, batchID)
	if err != nil {
		return domain.FineTuneJob{}, err
	}

	fileID, err := r.provider.UploadTrainingFile(ctx, batch.Path)
	if err != nil {
		return domain.FineTuneJob{}, err
	}
	remote, err := r.provider.CreateJob(ctx, fileID, r.baseModel, jobSuffix)
	if err != nil {
		return domain.FineTuneJob{}, err
	}

	job := domain.FineTuneJob{
		ID:             remote.ID,
		BatchID:        batchID,
		TrainingFileID: fileID,
		BaseModel:      r.baseModel,
		Status:         remote.Status,
		FineTunedModel: remote.FineTunedModel,
	}
	if err := r.store.InsertFineTuneJob(ctx, job); err != nil {
		return domain.FineTuneJob{}, err
	}
	logger.Log.Infof("registry fine-tune submitted job=%s batch=%s examples=%d base=%s",
		job.ID, batchID, batch.ExampleCount, r.baseModel)
	return job, nil
}

type PollResult struct {
	Checked    int
	Updated    int
	Registered []domain.ModelVersion
	Errors     []string
}

// PollJobs refreshes every non-terminal job. A succeeded job with an artifact
// registers a new, inactive model version. Provider errors leave the job open
// for the next poll.
func (r *Registry) PollJobs(ctx context.Context) (PollResult, error) {
	var result PollResult
	if r.provider == nil {
		return result, nil
	}
	jobs, err := r.store.ListOpenFineTuneJobs(ctx)
	if err != nil {
		return result, err
	}

	for _, job := range jobs {
		result.Checked++
		remote, err := r.provider.GetJob(ctx, job.ID)
		if err != nil {
			logger.Log.Warnf("registry poll job=%s: %v", job.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", job.ID, err))
			continue
		}

		status := remote.Status
		var errMsg string
		if status == domain.JobSucceeded && remote.FineTunedModel == "" {
			// Nothing to register yet; keep polling.
			status = domain.JobRunning
		}
		if status == domain.JobFailed {
			errMsg = "provider reported " + remote.RawStatus
		}
		if status != job.Status || remote.FineTunedModel != job.FineTunedModel {
			if err := r.store.UpdateFineTuneJob(ctx, job.ID, status, remote.FineTunedModel, errMsg); err != nil {
				return result, err
			}
			result.Updated++
			logger.Log.Infof("registry job=%s status %s -> %s", job.ID, job.Status, status)
		}
		if status != domain.JobSucceeded {
			continue
		}

		batch, err := r.store.GetExportBatch(ctx, job.BatchID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return result, err
		}
		v, inserted, err := r.Register(ctx, RegisterInput{
			ArtifactID:           remote.FineTunedModel,
			BaseModel:            job.BaseModel,
			TrainingExampleCount: batch.ExampleCount,
		})
		if err != nil {
			return result, err
		}
		if inserted {
			result.Registered = append(result.Registered, v)
		}
	}
	return result, nil
}

type RegisterInput struct {
	ArtifactID           string
	BaseModel            string
	TrainingExampleCount int
	VersionTag           string
}

// Register records an inactive version. Registering an artifact twice is a
// no-op that reports false.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (domain.ModelVersion, bool, error) {
	if strings.TrimSpace(in.ArtifactID) == "" {
		return domain.ModelVersion{}, false, fmt.Errorf("artifact id is required")
	}
	now := r.now().UTC()
	id := uuid.NewString()
	tag := strings.TrimSpace(in.VersionTag)
	if tag == "" {
		tag = "v" + now.Format("20060102") + "-" + id[:8]
	}
	v := domain.ModelVersion{
		ID:                   id,
		VersionTag:           tag,
		FineTuneArtifactID:   in.ArtifactID,
		BaseModel:            in.BaseModel,
		TrainingExampleCount: in.TrainingExampleCount,
		CreatedAt:            now,
	}
	inserted, err := r.store.InsertModelVersion(ctx, v)
	if err != nil {
		return domain.ModelVersion{}, false, err
	}
	if !inserted {
		logger.Log.Infof("registry artifact already registered artifact=%s", in.ArtifactID)
		return v, false, nil
	}
	logger.Log.Infof("registry version registered tag=%s artifact=%s examples=%d", tag, in.ArtifactID, in.TrainingExampleCount)
	slackbot.Broadcast(r.notifier, fmt.Sprintf(
		"New model version %s registered (artifact %s, %d training examples). Promote it explicitly once the A/B test agrees.",
		tag, in.ArtifactID, in.TrainingExampleCount))
	return v, true, nil
}

func (r *Registry) Job(ctx context.Context, id string) (domain.FineTuneJob, error) {
	return r.store.GetFineTuneJob(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]domain.ModelVersion, error) {
	return r.store.ListModelVersions(ctx)
}

// Active returns nil when no version is active.
func (r *Registry) Active(ctx context.Context) (*domain.ModelVersion, error) {
	return r.store.ActiveModelVersion(ctx)
}

// Promote makes the version (by id or tag) the only active one.
func (r *Registry) Promote(ctx context.Context, idOrTag string) (domain.ModelVersion, error) {
	v, err := r.store.GetModelVersion(ctx, idOrTag)
	if err != nil {
		return domain.ModelVersion{}, err
	}
	if err := r.store.PromoteModelVersion(ctx, v.ID); err != nil {
		return domain.ModelVersion{}, err
	}
	logger.Log.Warnf("registry promoted version=%s artifact=%s", v.VersionTag, v.FineTuneArtifactID)
	slackbot.Broadcast(r.notifier, fmt.Sprintf("Model version %s promoted to active.", v.VersionTag))
	return r.store.GetModelVersion(ctx, v.ID)
}

// Rollback deactivates every version, returning traffic to the base model.
func (r *Registry) Rollback(ctx context.Context) error {
	if err := r.store.DeactivateModelVersions(ctx); err != nil {
		return err
	}
	logger.Log.Warnf("registry rollback: no active version")
	slackbot.Broadcast(r.notifier, "Model versions rolled back; serving the base model.")
	return nil
}
