package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"supportloop/internal/domain"
)

func (s *Store) InsertFineTuneJob(ctx context.Context, job domain.FineTuneJob) error {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO finetune_jobs (id, batch_id, training_file_id, base_model, status, fine_tuned_model, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.BatchID, job.TrainingFileID, job.BaseModel, string(job.Status),
		job.FineTunedModel, job.Error, job.CreatedAt.UTC(), now,
	)
	return storageErr("insert finetune job", err)
}

func (s *Store) UpdateFineTuneJob(ctx context.Context, id string, status domain.JobStatus, fineTunedModel, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE finetune_jobs SET status = ?, fine_tuned_model = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), fineTunedModel, errMsg, s.now(), id,
	)
	return storageErr("update finetune job", err)
}

func (s *Store) GetFineTuneJob(ctx context.Context, id string) (domain.FineTuneJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, training_file_id, base_model, status, fine_tuned_model, error, created_at, updated_at
		 FROM finetune_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	return job, storageErr("get finetune job", err)
}

// ListOpenFineTuneJobs returns jobs not yet in a terminal state.
func (s *Store) ListOpenFineTuneJobs(ctx context.Context) ([]domain.FineTuneJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, training_file_id, base_model, status, fine_tuned_model, error, created_at, updated_at
		 FROM finetune_jobs WHERE status NOT IN ('succeeded', 'failed', 'cancelled')
		 ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("list open jobs", err)
	}
	defer rows.Close()

	var out []domain.FineTuneJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storageErr("scan job", err)
		}
		out = append(out, job)
	}
	return out, storageErr("list open jobs", rows.Err())
}

func scanJob(row interface{ Scan(...any) error }) (domain.FineTuneJob, error) {
	var job domain.FineTuneJob
	var status string
	err := row.Scan(&job.ID, &job.BatchID, &job.TrainingFileID, &job.BaseModel, &status,
		&job.FineTunedModel, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	job.Status = domain.JobStatus(status)
	return job, err
}

// InsertModelVersion registers an inactive version. A second registration of
// the same artifact is ignored and reported as false.
func (s *Store) InsertModelVersion(ctx context.Context, v domain.ModelVersion) (bool, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO model_versions (id, version_tag, artifact_id, base_model, training_example_count, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT DO NOTHING`,
		v.ID, v.VersionTag, v.FineTuneArtifactID, v.BaseModel, v.TrainingExampleCount, v.CreatedAt.UTC(),
	)
	if err != nil {
		return false, storageErr("insert model version", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("insert model version", err)
	}
	return n == 1, nil
}

const versionColumns = `id, version_tag, artifact_id, base_model, training_example_count, is_active, created_at, promoted_at`

func scanVersion(row interface{ Scan(...any) error }) (domain.ModelVersion, error) {
	var v domain.ModelVersion
	var promotedAt sql.NullTime
	err := row.Scan(&v.ID, &v.VersionTag, &v.FineTuneArtifactID, &v.BaseModel,
		&v.TrainingExampleCount, &v.IsActive, &v.CreatedAt, &promotedAt)
	if promotedAt.Valid {
		t := promotedAt.Time
		v.PromotedAt = &t
	}
	return v, err
}

func (s *Store) GetModelVersion(ctx context.Context, id string) (domain.ModelVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM model_versions WHERE id = ? OR version_tag = ?`, id, id))
	return v, storageErr("get model version", err)
}

func (s *Store) ListModelVersions(ctx context.Context) ([]domain.ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM model_versions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, storageErr("list model versions", err)
	}
	defer rows.Close()

	var out []domain.ModelVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storageErr("scan model version", err)
		}
		out = append(out, v)
	}
	return out, storageErr("list model versions", rows.Err())
}

// ActiveModelVersion returns nil when no version is active.
func (s *Store) ActiveModelVersion(ctx context.Context) (*domain.ModelVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM model_versions WHERE is_active = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("active model version", err)
	}
	return &v, nil
}

// PromoteModelVersion makes id the only active version in one transaction.
func (s *Store) PromoteModelVersion(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin promote", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE model_versions SET is_active = 0 WHERE is_active = 1`); err != nil {
		return storageErr("deactivate versions", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET is_active = 1, promoted_at = ? WHERE id = ?`, s.now(), id)
	if err != nil {
		return storageErr("activate version", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("activate version", err)
	}
	if n == 0 {
		return storageErr("activate version", sql.ErrNoRows)
	}
	return storageErr("commit promote", tx.Commit())
}

func (s *Store) DeactivateModelVersions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE model_versions SET is_active = 0 WHERE is_active = 1`)
	return storageErr("deactivate versions", err)
}
