package finetune

import (
	"strings"

	"supportloop/internal/domain"
)

// NormalizeStatus maps provider job states onto the fine-tune state machine.
// Unknown states count as queued so the job keeps being polled.
func NormalizeStatus(status string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "validating", "validating_files", "pending":
		return domain.JobValidating
	case "queued", "created":
		return domain.JobQueued
	case "running", "in_progress", "training":
		return domain.JobRunning
	case "succeeded", "success", "completed":
		return domain.JobSucceeded
	case "failed", "error":
		return domain.JobFailed
	case "cancelled", "canceled", "cancelling":
		return domain.JobCancelled
	default:
		return domain.JobQueued
	}
}
