package sqlite

import (
	"context"

	"supportloop/internal/domain"

	"github.com/google/uuid"
)

func (s *Store) RecordFailure(ctx context.Context, in domain.FailureInput) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures (id, customer_message, assistant_reply, human_correction, failure_explanation, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, in.CustomerMessage, in.AssistantReply, in.HumanCorrection, in.Explanation, s.now(),
	)
	if err != nil {
		return "", storageErr("record failure", err)
	}
	return id, nil
}

func (s *Store) GetFailure(ctx context.Context, id string) (domain.FailureRecord, error) {
	var f domain.FailureRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_message, assistant_reply, human_correction, failure_explanation, captured_at, attempts
		 FROM failures WHERE id = ?`,
		id,
	).Scan(&f.ID, &f.CustomerMessage, &f.AssistantReply, &f.HumanCorrection, &f.FailureExplanation, &f.CapturedAt, &f.Attempts)
	if err != nil {
		return f, storageErr("get failure", err)
	}
	return f, nil
}

// ListUnprocessed returns failures that no improvement references, either by
// id or by identical reply text. Records with fewer failed attempts come first,
// newest first within the same count, so a run of records that keep failing
// cannot starve older ones.
func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]domain.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.customer_message, f.assistant_reply, f.human_correction, f.failure_explanation, f.captured_at, f.attempts
		 FROM failures f
		 WHERE NOT EXISTS (
			SELECT 1 FROM improvements i
			WHERE i.source_failure_id = f.id OR i.original_reply = f.assistant_reply
		 )
		 ORDER BY f.attempts ASC, f.captured_at DESC, f.rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, storageErr("list unprocessed", err)
	}
	defer rows.Close()

	var out []domain.FailureRecord
	for rows.Next() {
		var f domain.FailureRecord
		if err := rows.Scan(&f.ID, &f.CustomerMessage, &f.AssistantReply, &f.HumanCorrection, &f.FailureExplanation, &f.CapturedAt, &f.Attempts); err != nil {
			return nil, storageErr("scan failure", err)
		}
		out = append(out, f)
	}
	return out, storageErr("list unprocessed", rows.Err())
}

// RecordFailedAttempt notes that generation produced nothing for the failure.
func (s *Store) RecordFailedAttempt(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE failures SET attempts = attempts + 1, last_attempt_at = ? WHERE id = ?`,
		s.now(), id,
	)
	return storageErr("record failed attempt", err)
}

func (s *Store) CountFailures(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures`).Scan(&n)
	return n, storageErr("count failures", err)
}
