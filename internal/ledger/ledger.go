package ledger

import (
	"context"

	"supportloop/internal/domain"
	"supportloop/internal/logger"

	"github.com/google/uuid"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 500
)

type Store interface {
	InsertImprovement(ctx context.Context, r domain.ImprovementRecord) (bool, error)
	ImprovementExistsForReply(ctx context.Context, reply string) (bool, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.ImprovementRecord, error)
	LedgerStatistics(ctx context.Context) (domain.LedgerStats, error)
	ClearImprovements(ctx context.Context) (int64, error)
}

// Ledger is the append-only, deduplicated store of generated corrections.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append stores r unless a record with the same original reply exists; the
// bool reports whether it was stored.
func (l *Ledger) Append(ctx context.Context, r domain.ImprovementRecord) (bool, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ScoreGainEstimate < 0 {
		r.ScoreGainEstimate = 0
	}
	if r.FailureCategory == "" {
		r.FailureCategory = domain.CategoryGeneral
	}
	return l.store.InsertImprovement(ctx, r)
}

func (l *Ledger) Contains(ctx context.Context, originalReply string) (bool, error) {
	return l.store.ImprovementExistsForReply(ctx, originalReply)
}

// Leaderboard ranks by score gain, newest first on ties.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]domain.ImprovementRecord, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	return l.store.Leaderboard(ctx, limit)
}

func (l *Ledger) Statistics(ctx context.Context) (domain.LedgerStats, error) {
	return l.store.LedgerStatistics(ctx)
}

// Clear deletes every record. Only force reprocessing calls this.
func (l *Ledger) Clear(ctx context.Context) (int64, error) {
	n, err := l.store.ClearImprovements(ctx)
	if err != nil {
		return 0, err
	}
	logger.Log.Warnf("ledger cleared deleted=%d", n)
	return n, nil
}
