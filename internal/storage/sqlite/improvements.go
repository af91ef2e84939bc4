package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"supportloop/internal/domain"
)

const improvementColumns = `id, source_failure_id, original_prompt, original_reply, corrected_reply, score_gain, failure_category, created_at`

func scanImprovement(row interface{ Scan(...any) error }) (domain.ImprovementRecord, error) {
	var r domain.ImprovementRecord
	var category string
	err := row.Scan(&r.ID, &r.SourceFailureID, &r.OriginalPrompt, &r.OriginalReply, &r.CorrectedReply,
		&r.ScoreGainEstimate, &category, &r.CreatedAt)
	r.FailureCategory = domain.Category(category)
	return r, err
}

// InsertImprovement appends a record. It returns false, without error, when a
// record with the same original reply or source failure already exists.
func (s *Store) InsertImprovement(ctx context.Context, r domain.ImprovementRecord) (bool, error) {
	if r.ScoreGainEstimate < 0 {
		r.ScoreGainEstimate = 0
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO improvements (`+improvementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		r.ID, r.SourceFailureID, r.OriginalPrompt, r.OriginalReply, r.CorrectedReply,
		r.ScoreGainEstimate, string(r.FailureCategory), r.CreatedAt.UTC(),
	)
	if err != nil {
		return false, storageErr("insert improvement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("insert improvement", err)
	}
	return n == 1, nil
}

func (s *Store) ImprovementExistsForReply(ctx context.Context, reply string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM improvements WHERE original_reply = ?`, reply).Scan(&count)
	return count > 0, storageErr("check improvement", err)
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]domain.ImprovementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+improvementColumns+` FROM improvements
		 ORDER BY score_gain DESC, created_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, storageErr("leaderboard", err)
	}
	defer rows.Close()
	return collectImprovements(rows)
}

func (s *Store) ListImprovements(ctx context.Context) ([]domain.ImprovementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+improvementColumns+` FROM improvements ORDER BY created_at, rowid`)
	if err != nil {
		return nil, storageErr("list improvements", err)
	}
	defer rows.Close()
	return collectImprovements(rows)
}

func collectImprovements(rows *sql.Rows) ([]domain.ImprovementRecord, error) {
	var out []domain.ImprovementRecord
	for rows.Next() {
		r, err := scanImprovement(rows)
		if err != nil {
			return nil, storageErr("scan improvement", err)
		}
		out = append(out, r)
	}
	return out, storageErr("iterate improvements", rows.Err())
}

func (s *Store) LedgerStatistics(ctx context.Context) (domain.LedgerStats, error) {
	stats := domain.LedgerStats{CategoryHistogram: make(map[domain.Category]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score_gain), 0) FROM improvements`,
	).Scan(&stats.Count, &stats.AvgGain)
	if err != nil {
		return stats, storageErr("ledger stats", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT created_at FROM improvements ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&stats.LastProcessedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, storageErr("ledger last processed", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT failure_category, COUNT(*) FROM improvements GROUP BY failure_category`)
	if err != nil {
		return stats, storageErr("ledger histogram", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return stats, storageErr("scan histogram", err)
		}
		stats.CategoryHistogram[domain.Category(category)] = n
	}
	return stats, storageErr("ledger histogram", rows.Err())
}

// ClearImprovements is the bulk delete behind force reprocessing. Export
// history in training_examples is kept.
func (s *Store) ClearImprovements(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM improvements`)
	if err != nil {
		return 0, storageErr("clear improvements", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type ExportSelection struct {
	MinGain    float64
	Categories []domain.Category
	Reselect   bool
	Limit      int
}

// SelectForExport returns ranked improvements matching the selection. Records
// already exported are skipped unless Reselect is set.
func (s *Store) SelectForExport(ctx context.Context, sel ExportSelection) ([]domain.ImprovementRecord, error) {
	var where []string
	var args []any

	where = append(where, "score_gain >= ?")
	args = append(args, sel.MinGain)

	if len(sel.Categories) > 0 {
		placeholders := make([]string, len(sel.Categories))
		for i, c := range sel.Categories {
			placeholders[i] = "?"
			args = append(args, string(c))
		}
		where = append(where, "failure_category IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !sel.Reselect {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM training_examples t WHERE t.improvement_id = improvements.id AND t.exported = 1
		)`)
	}

	query := `SELECT ` + improvementColumns + ` FROM improvements WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY score_gain DESC, created_at DESC, rowid DESC`
	if sel.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, sel.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("select for export", err)
	}
	defer rows.Close()
	return collectImprovements(rows)
}
