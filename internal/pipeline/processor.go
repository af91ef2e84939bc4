package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"supportloop/internal/correction"
	"supportloop/internal/domain"
	slackbot "supportloop/internal/integrations/slack"
	"supportloop/internal/ledger"
	"supportloop/internal/logger"
	"supportloop/internal/scoring"
)

const defaultBatchSize = 50

// FailureSource is the read side of the failure store.
type FailureSource interface {
	ListUnprocessed(ctx context.Context, limit int) ([]domain.FailureRecord, error)
	RecordFailedAttempt(ctx context.Context, id string) error
	CountFailures(ctx context.Context) (int, error)
}

// BatchResult tracks separate counters for each outcome.
type BatchResult struct {
	Skipped    bool
	Listed     int
	Processed  int
	Duplicates int
	Failed     int
	Duration   time.Duration
}

type Deps struct {
	Failures  FailureSource
	Ledger    *ledger.Ledger
	Generator *correction.Generator
	Scorer    *scoring.Scorer
	Guard     Guard
	Notifier  slackbot.Notifier
	BatchSize int
}

type Processor struct {
	failures  FailureSource
	ledger    *ledger.Ledger
	generator *correction.Generator
	scorer    *scoring.Scorer
	guard     Guard
	notifier  slackbot.Notifier
	batchSize int
}

func NewProcessor(d Deps) *Processor {
	p := &Processor{
		failures:  d.Failures,
		ledger:    d.Ledger,
		generator: d.Generator,
		scorer:    d.Scorer,
		guard:     d.Guard,
		notifier:  d.Notifier,
		batchSize: d.BatchSize,
	}
	if p.guard == nil {
		p.guard = &MemoryGuard{}
	}
	if p.notifier == nil {
		p.notifier = slackbot.Nop{}
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	return p
}

// Run processes one batch of unprocessed failures. A concurrent invocation
// returns Skipped without touching anything. Storage errors abort the run;
// generation errors only skip the record.
func (p *Processor) Run(ctx context.Context) (BatchResult, error) {
	return p.guarded(ctx, "run", func(ctx context.Context) (BatchResult, error) {
		return p.process(ctx, p.batchSize)
	})
}

// ForceReset clears the ledger and reprocesses every stored failure. It is a
// maintenance action and is never scheduled.
func (p *Processor) ForceReset(ctx context.Context) (BatchResult, error) {
	return p.guarded(ctx, "reset", func(ctx context.Context) (BatchResult, error) {
		if _, err := p.ledger.Clear(ctx); err != nil {
			return BatchResult{}, err
		}
		total, err := p.failures.CountFailures(ctx)
		if err != nil {
			return BatchResult{}, err
		}
		if total == 0 {
			return BatchResult{}, nil
		}
		return p.process(ctx, total)
	})
}

func (p *Processor) guarded(ctx context.Context, op string, fn func(context.Context) (BatchResult, error)) (BatchResult, error) {
	ok, err := p.guard.TryAcquire(ctx)
	if err != nil {
		batchesRun.WithLabelValues("error").Inc()
		return BatchResult{}, fmt.Errorf("acquire batch guard: %w", err)
	}
	if !ok {
		logger.Log.Infof("pipeline %s skipped: batch already running", op)
		batchesRun.WithLabelValues("skipped").Inc()
		return BatchResult{Skipped: true}, nil
	}
	defer func() {
		// Release even when ctx was cancelled mid-batch.
		if err := p.guard.Release(context.Background()); err != nil {
			logger.Log.Errorf("pipeline %s release guard: %v", op, err)
		}
	}()

	start := time.Now()
	result, err := fn(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		logger.Log.Errorf("pipeline %s aborted after processed=%d: %v", op, result.Processed, err)
		batchesRun.WithLabelValues("error").Inc()
		return result, err
	}

	summary := FormatSummary(result)
	logger.Log.Infof("pipeline %s complete: %s", op, summary)
	batchesRun.WithLabelValues("ok").Inc()
	if result.Processed > 0 || result.Failed > 0 {
		slackbot.Broadcast(p.notifier, "Failure processing complete: "+summary)
	}
	return result, nil
}

func (p *Processor) process(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult

	records, err := p.failures.ListUnprocessed(ctx, limit)
	if err != nil {
		return result, err
	}
	result.Listed = len(records)
	logger.Log.Infof("pipeline batch start listed=%d limit=%d", len(records), limit)

	for _, f := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		exists, err := p.ledger.Contains(ctx, f.AssistantReply)
		if err != nil {
			return result, err
		}
		if exists {
			result.Duplicates++
			failuresSkipped.Inc()
			continue
		}

		corrected := p.generator.Generate(ctx, correction.Request{
			Prompt:      f.CustomerMessage,
			BadReply:    f.AssistantReply,
			GoodReply:   f.HumanCorrection,
			Explanation: f.FailureExplanation,
		})
		if correction.IsUnavailable(corrected) {
			logger.Log.Warnf("pipeline skipped failure id=%s attempts=%d: no correction generated", f.ID, f.Attempts+1)
			result.Failed++
			generationFailures.Inc()
			if err := p.failures.RecordFailedAttempt(ctx, f.ID); err != nil {
				return result, err
			}
			continue
		}

		gain := p.scorer.EstimateScoreGain(ctx, f.AssistantReply, corrected)
		category := p.scorer.CategorizeFailure(ctx, f.FailureExplanation)

		inserted, err := p.ledger.Append(ctx, domain.ImprovementRecord{
			SourceFailureID:   f.ID,
			OriginalPrompt:    f.CustomerMessage,
			OriginalReply:     f.AssistantReply,
			CorrectedReply:    corrected,
			ScoreGainEstimate: gain,
			FailureCategory:   category,
		})
		if err != nil {
			return result, err
		}
		if !inserted {
			result.Duplicates++
			failuresSkipped.Inc()
			continue
		}
		logger.Log.Debugf("pipeline processed failure id=%s gain=%.1f category=%s", f.ID, gain, category)
		result.Processed++
		failuresProcessed.Inc()
	}
	return result, nil
}

// FormatSummary returns a human-readable summary of a BatchResult.
func FormatSummary(r BatchResult) string {
	if r.Skipped {
		return "skipped (another batch is running)"
	}
	if r.Listed == 0 {
		return "no unprocessed failures"
	}
	parts := []string{fmt.Sprintf("%d processed", r.Processed)}
	if r.Duplicates > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate", r.Duplicates))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	return fmt.Sprintf("%d failures: %s (%s)", r.Listed, strings.Join(parts, ", "), r.Duration.Round(time.Millisecond))
}
