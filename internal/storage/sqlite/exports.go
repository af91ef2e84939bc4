package sqlite

import (
	"context"

	"supportloop/internal/domain"
)

// InsertPendingExamples stores a batch's examples with exported = false.
func (s *Store) InsertPendingExamples(ctx context.Context, examples []domain.TrainingExample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin pending examples", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO training_examples (improvement_id, batch_id, prompt_text, completion_text, exported)
		 VALUES (?, ?, ?, ?, 0)`,
	)
	if err != nil {
		return storageErr("prepare pending examples", err)
	}
	defer stmt.Close()

	for _, ex := range examples {
		if _, err := stmt.ExecContext(ctx, ex.ImprovementID, ex.BatchID, ex.PromptText, ex.CompletionText); err != nil {
			return storageErr("insert pending example", err)
		}
	}
	return storageErr("commit pending examples", tx.Commit())
}

// MarkBatchExported flips every example of the batch to exported and records
// the artifact, atomically.
func (s *Store) MarkBatchExported(ctx context.Context, batch domain.ExportBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin mark exported", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE training_examples SET exported = 1 WHERE batch_id = ? AND exported = 0`,
		batch.BatchID,
	); err != nil {
		return storageErr("mark exported", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO export_batches (batch_id, path, example_count, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		batch.BatchID, batch.Path, batch.ExampleCount, batch.SizeBytes, batch.CreatedAt.UTC(),
	); err != nil {
		return storageErr("record export batch", err)
	}
	return storageErr("commit mark exported", tx.Commit())
}

// DiscardPendingBatch drops examples of a batch whose artifact never landed.
func (s *Store) DiscardPendingBatch(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM training_examples WHERE batch_id = ? AND exported = 0`, batchID)
	return storageErr("discard pending batch", err)
}

func (s *Store) ListTrainingExamples(ctx context.Context, batchID string) ([]domain.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, improvement_id, batch_id, prompt_text, completion_text, exported
		 FROM training_examples WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, storageErr("list training examples", err)
	}
	defer rows.Close()

	var out []domain.TrainingExample
	for rows.Next() {
		var ex domain.TrainingExample
		if err := rows.Scan(&ex.ID, &ex.ImprovementID, &ex.BatchID, &ex.PromptText, &ex.CompletionText, &ex.Exported); err != nil {
			return nil, storageErr("scan training example", err)
		}
		out = append(out, ex)
	}
	return out, storageErr("list training examples", rows.Err())
}

// ExportedImprovementIDs returns the ids of improvements that appear in at
// least one durably written batch.
func (s *Store) ExportedImprovementIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT improvement_id FROM training_examples WHERE exported = 1`)
	if err != nil {
		return nil, storageErr("exported ids", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan exported id", err)
		}
		out[id] = true
	}
	return out, storageErr("exported ids", rows.Err())
}

func (s *Store) GetExportBatch(ctx context.Context, batchID string) (domain.ExportBatch, error) {
	var b domain.ExportBatch
	err := s.db.QueryRowContext(ctx,
		`SELECT batch_id, path, example_count, size_bytes, created_at FROM export_batches WHERE batch_id = ?`,
		batchID,
	).Scan(&b.BatchID, &b.Path, &b.ExampleCount, &b.SizeBytes, &b.CreatedAt)
	return b, storageErr("get export batch", err)
}

func (s *Store) ListExportBatches(ctx context.Context) ([]domain.ExportBatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, path, example_count, size_bytes, created_at FROM export_batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, storageErr("list export batches", err)
	}
	defer rows.Close()

	var out []domain.ExportBatch
	for rows.Next() {
		var b domain.ExportBatch
		if err := rows.Scan(&b.BatchID, &b.Path, &b.ExampleCount, &b.SizeBytes, &b.CreatedAt); err != nil {
			return nil, storageErr("scan export batch", err)
		}
		out = append(out, b)
	}
	return out, storageErr("list export batches", rows.Err())
}
