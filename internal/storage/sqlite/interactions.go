package sqlite

import (
	"context"
	"database/sql"
	"time"

	"supportloop/internal/domain"

	"github.com/google/uuid"
)

func (s *Store) RecordInteraction(ctx context.Context, in domain.Interaction) (string, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	var useful any
	if in.Useful != nil {
		useful = boolToInt(*in.Useful)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, user_id, variant_key, customer_message, assistant_reply, confidence, useful, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, in.VariantKey, in.CustomerMessage, in.AssistantReply, in.Confidence, useful, in.CreatedAt.UTC(),
	)
	if err != nil {
		return "", storageErr("record interaction", err)
	}
	return in.ID, nil
}

// RateInteraction stores the reviewer verdict. Returns domain.ErrNotFound for
// an unknown id.
func (s *Store) RateInteraction(ctx context.Context, id string, useful bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET useful = ?, rated_at = ? WHERE id = ?`,
		boolToInt(useful), s.now(), id,
	)
	if err != nil {
		return storageErr("rate interaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rate interaction", err)
	}
	if n == 0 {
		return storageErr("rate interaction", sql.ErrNoRows)
	}
	return nil
}

func (s *Store) GetInteraction(ctx context.Context, id string) (domain.Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, variant_key, customer_message, assistant_reply, confidence, useful, created_at, rated_at
		 FROM interactions WHERE id = ?`, id)
	in, err := scanInteraction(row)
	return in, storageErr("get interaction", err)
}

// ListInteractions returns interactions created in [from, to). With ratedOnly
// set, unrated interactions are skipped.
func (s *Store) ListInteractions(ctx context.Context, from, to time.Time, ratedOnly bool) ([]domain.Interaction, error) {
	query := `SELECT id, user_id, variant_key, customer_message, assistant_reply, confidence, useful, created_at, rated_at
		 FROM interactions WHERE created_at >= ? AND created_at < ?`
	if ratedOnly {
		query += ` AND useful IS NOT NULL`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, storageErr("list interactions", err)
	}
	defer rows.Close()

	var out []domain.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, storageErr("scan interaction", err)
		}
		out = append(out, in)
	}
	return out, storageErr("list interactions", rows.Err())
}

type VariantOutcome struct {
	VariantKey string
	Samples    int
	Successes  int
}

// VariantOutcomes aggregates rated interactions per variant key.
func (s *Store) VariantOutcomes(ctx context.Context) ([]VariantOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant_key, COUNT(*), COALESCE(SUM(useful), 0)
		 FROM interactions WHERE useful IS NOT NULL
		 GROUP BY variant_key ORDER BY variant_key`)
	if err != nil {
		return nil, storageErr("variant outcomes", err)
	}
	defer rows.Close()

	var out []VariantOutcome
	for rows.Next() {
		var o VariantOutcome
		if err := rows.Scan(&o.VariantKey, &o.Samples, &o.Successes); err != nil {
			return nil, storageErr("scan variant outcome", err)
		}
		out = append(out, o)
	}
	return out, storageErr("variant outcomes", rows.Err())
}

func scanInteraction(row interface{ Scan(...any) error }) (domain.Interaction, error) {
	var in domain.Interaction
	var useful sql.NullBool
	var ratedAt sql.NullTime
	err := row.Scan(&in.ID, &in.UserID, &in.VariantKey, &in.CustomerMessage, &in.AssistantReply,
		&in.Confidence, &useful, &in.CreatedAt, &ratedAt)
	if err != nil {
		return in, err
	}
	if useful.Valid {
		v := useful.Bool
		in.Useful = &v
	}
	if ratedAt.Valid {
		t := ratedAt.Time
		in.RatedAt = &t
	}
	return in, nil
}
