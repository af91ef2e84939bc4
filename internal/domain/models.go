package domain

import "time"

type VariantRole string

const (
	RoleBase      VariantRole = "base"
	RoleCandidate VariantRole = "candidate"
)

// ModelVariant is configuration, not recorded state.
type ModelVariant struct {
	Key                  string      `yaml:"key" json:"key"`
	TrafficWeightPercent int         `yaml:"traffic_percent" json:"traffic_percent"`
	Role                 VariantRole `yaml:"-" json:"role"`
}

// VariantConfig is the two arms of the live experiment. Only the candidate's
// weight is consulted; the base receives the remainder.
type VariantConfig struct {
	Base      ModelVariant `yaml:"base" json:"base"`
	Candidate ModelVariant `yaml:"candidate" json:"candidate"`
}

func (c VariantConfig) HasCandidate() bool {
	return c.Candidate.Key != "" && c.Candidate.TrafficWeightPercent > 0
}

func (c VariantConfig) RoleOf(key string) (VariantRole, bool) {
	switch {
	case key == "":
		return "", false
	case key == c.Candidate.Key:
		return RoleCandidate, true
	case key == c.Base.Key:
		return RoleBase, true
	}
	return "", false
}

type Assignment struct {
	Bucket      int    `json:"bucket"`
	VariantKey  string `json:"variant_key"`
	IsCandidate bool   `json:"is_candidate_group"`
}

// ModelVersion is a fine-tuned artifact. At most one is active.
type ModelVersion struct {
	ID                   string     `json:"id"`
	VersionTag           string     `json:"version_tag"`
	FineTuneArtifactID   string     `json:"fine_tune_artifact_id"`
	BaseModel            string     `json:"base_model"`
	TrainingExampleCount int        `json:"training_example_count"`
	IsActive             bool       `json:"is_active"`
	CreatedAt            time.Time  `json:"created_at"`
	PromotedAt           *time.Time `json:"promoted_at,omitempty"`
}

type JobStatus string

const (
	JobValidating JobStatus = "validating"
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

type FineTuneJob struct {
	ID             string
	BatchID        string
	TrainingFileID string
	BaseModel      string
	Status         JobStatus
	FineTunedModel string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
