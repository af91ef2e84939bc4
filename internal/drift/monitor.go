// Package drift watches live reply quality. Every query is read-only and
// tolerates windows that ingestion is still filling.
package drift

import (
	"context"
	"math"
	"time"

	"supportloop/internal/domain"
	"supportloop/internal/logger"
	"supportloop/internal/storage/sqlite"
)

const (
	// DropThresholdPercent is the relative week-over-week usefulness drop
	// that counts as a performance drop.
	DropThresholdPercent = 20.0

	// AlertThreshold is the absolute confidence drift that raises an alert.
	AlertThreshold = 0.2

	// TrendThreshold separates a real trend from noise.
	TrendThreshold = 0.05

	DefaultMinSamplesPerArm = 100
	DefaultMargin           = 0.05

	week = 7 * 24 * time.Hour
	day  = 24 * time.Hour
)

type Store interface {
	ListInteractions(ctx context.Context, from, to time.Time, ratedOnly bool) ([]domain.Interaction, error)
	VariantOutcomes(ctx context.Context) ([]sqlite.VariantOutcome, error)
}

type Options struct {
	MinSamplesPerArm int
	Margin           float64
}

type Monitor struct {
	store      Store
	variants   func() domain.VariantConfig
	now        func() time.Time
	minSamples int
	margin     float64
}

// NewMonitor reads arms from variants at query time, so a router reload is
// reflected in the next A/B evaluation.
func NewMonitor(store Store, variants func() domain.VariantConfig, opts Options) *Monitor {
	m := &Monitor{
		store:      store,
		variants:   variants,
		now:        time.Now,
		minSamples: opts.MinSamplesPerArm,
		margin:     opts.Margin,
	}
	if m.minSamples <= 0 {
		m.minSamples = DefaultMinSamplesPerArm
	}
	if m.margin <= 0 {
		m.margin = DefaultMargin
	}
	return m
}

type WeekStat struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Samples     int       `json:"samples"`
	UsefulRate  float64   `json:"useful_rate"`
}

type DropPeriod struct {
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	PreviousRate   float64   `json:"previous_rate"`
	CurrentRate    float64   `json:"current_rate"`
	DropPercentage float64   `json:"drop_percentage"`
}

type WeeklyReport struct {
	Weeks                   []WeekStat   `json:"weeks"`
	Drops                   []DropPeriod `json:"drops"`
	AutoTrainingRecommended bool         `json:"auto_training_recommended"`
}

// WeeklyPerformanceDrops compares the usefulness rate of consecutive weeks,
// oldest first, over the last lookbackWeeks weeks.
func (m *Monitor) WeeklyPerformanceDrops(ctx context.Context, lookbackWeeks int) (WeeklyReport, error) {
	if lookbackWeeks < 2 {
		lookbackWeeks = 2
	}
	end := m.now().UTC()
	start := end.Add(-time.Duration(lookbackWeeks) * week)

	rated, err := m.store.ListInteractions(ctx, start, end, true)
	if err != nil {
		return WeeklyReport{}, err
	}

	weeks := make([]WeekStat, lookbackWeeks)
	useful := make([]int, lookbackWeeks)
	for i := range weeks {
		weeks[i].WindowStart = start.Add(time.Duration(i) * week)
		weeks[i].WindowEnd = weeks[i].WindowStart.Add(week)
	}
	for _, in := range rated {
		i := int(in.CreatedAt.Sub(start) / week)
		if i < 0 || i >= lookbackWeeks || in.Useful == nil {
			continue
		}
		weeks[i].Samples++
		if *in.Useful {
			useful[i]++
		}
	}
	for i := range weeks {
		if weeks[i].Samples > 0 {
			weeks[i].UsefulRate = float64(useful[i]) / float64(weeks[i].Samples)
		}
	}

	report := detectWeeklyDrops(weeks)
	observeWeekly(report)
	logger.Log.Infof("drift weekly weeks=%d drops=%d auto_training=%t",
		len(report.Weeks), len(report.Drops), report.AutoTrainingRecommended)
	return report, nil
}

// detectWeeklyDrops flags every consecutive pair of sampled weeks whose
// usefulness fell by more than DropThresholdPercent relative to the earlier
// week. Empty weeks are skipped, not treated as zero.
func detectWeeklyDrops(weeks []WeekStat) WeeklyReport {
	report := WeeklyReport{Weeks: weeks, Drops: []DropPeriod{}}
	var prev *WeekStat
	for i := range weeks {
		cur := &weeks[i]
		if cur.Samples == 0 {
			continue
		}
		if prev != nil && prev.UsefulRate > 0 {
			drop := (prev.UsefulRate - cur.UsefulRate) / prev.UsefulRate * 100
			if drop > DropThresholdPercent {
				report.Drops = append(report.Drops, DropPeriod{
					From:           prev.WindowStart,
					To:             cur.WindowEnd,
					PreviousRate:   prev.UsefulRate,
					CurrentRate:    cur.UsefulRate,
					DropPercentage: round2(drop),
				})
			}
		}
		prev = cur
	}
	report.AutoTrainingRecommended = len(report.Drops) > 0
	return report
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

type ConfidenceReport struct {
	DailyDrift   []domain.DriftMetric `json:"daily_drift"`
	OverallTrend Trend                `json:"overall_trend"`
	CurrentAlert bool                 `json:"current_alert"`
}

// ConfidenceDrift averages reply confidence per UTC day over the last days
// days. The earliest sampled day is the baseline.
func (m *Monitor) ConfidenceDrift(ctx context.Context, days int) (ConfidenceReport, error) {
	if days < 1 {
		days = 1
	}
	now := m.now().UTC()
	start := now.Truncate(day).Add(-time.Duration(days-1) * day)
	end := start.Add(time.Duration(days) * day)

	served, err := m.store.ListInteractions(ctx, start, end, false)
	if err != nil {
		return ConfidenceReport{}, err
	}

	sums := make([]float64, days)
	counts := make([]int, days)
	for _, in := range served {
		i := int(in.CreatedAt.Sub(start) / day)
		if i < 0 || i >= days {
			continue
		}
		sums[i] += in.Confidence
		counts[i]++
	}

	metrics := make([]domain.DriftMetric, 0, days)
	for i := 0; i < days; i++ {
		if counts[i] == 0 {
			continue
		}
		ws := start.Add(time.Duration(i) * day)
		metrics = append(metrics, domain.DriftMetric{
			WindowStart:   ws,
			WindowEnd:     ws.Add(day),
			AvgConfidence: sums[i] / float64(counts[i]),
			SampleCount:   counts[i],
		})
	}

	report := summarizeConfidence(metrics)
	for _, d := range report.DailyDrift {
		logger.Log.Infof("drift confidence window_start=%s avg=%.3f samples=%d drift=%.3f",
			d.WindowStart.Format("2006-01-02"), d.AvgConfidence, d.SampleCount, d.DriftFromBaseline)
	}
	observeConfidence(report)
	return report, nil
}

func summarizeConfidence(metrics []domain.DriftMetric) ConfidenceReport {
	report := ConfidenceReport{DailyDrift: metrics, OverallTrend: TrendStable}
	if len(metrics) == 0 {
		report.DailyDrift = []domain.DriftMetric{}
		return report
	}
	baseline := metrics[0].AvgConfidence
	for i := range metrics {
		metrics[i].AvgConfidence = round3(metrics[i].AvgConfidence)
		metrics[i].DriftFromBaseline = round3(metrics[i].AvgConfidence - round3(baseline))
		if math.Abs(metrics[i].DriftFromBaseline) > AlertThreshold {
			report.CurrentAlert = true
		}
	}
	latest := metrics[len(metrics)-1].DriftFromBaseline
	switch {
	case latest > TrendThreshold:
		report.OverallTrend = TrendImproving
	case latest < -TrendThreshold:
		report.OverallTrend = TrendDeclining
	}
	return report
}

type Recommendation string

const (
	ContinueTest    Recommendation = "continue_test"
	DeployCandidate Recommendation = "deploy_candidate"
	RollbackToBase  Recommendation = "rollback_to_base"
)

type ArmStats struct {
	VariantKey  string             `json:"variant_key"`
	Role        domain.VariantRole `json:"role"`
	Samples     int                `json:"samples"`
	Successes   int                `json:"successes"`
	SuccessRate float64            `json:"success_rate"`
}

type ABResult struct {
	Base             ArmStats       `json:"base"`
	Candidate        ArmStats       `json:"candidate"`
	Difference       float64        `json:"difference"`
	MinSamplesPerArm int            `json:"min_samples_per_arm"`
	Recommendation   Recommendation `json:"recommendation"`
	Reason           string         `json:"reason"`
}

// ABTestResults compares the usefulness of the two live arms. It never
// recommends deploying or rolling back until both arms reach the minimum
// sample size.
func (m *Monitor) ABTestResults(ctx context.Context) (ABResult, error) {
	cfg := m.variants()
	outcomes, err := m.store.VariantOutcomes(ctx)
	if err != nil {
		return ABResult{}, err
	}

	base := ArmStats{VariantKey: cfg.Base.Key, Role: domain.RoleBase}
	cand := ArmStats{VariantKey: cfg.Candidate.Key, Role: domain.RoleCandidate}
	for _, o := range outcomes {
		role, ok := cfg.RoleOf(o.VariantKey)
		if !ok {
			continue
		}
		arm := &base
		if role == domain.RoleCandidate {
			arm = &cand
		}
		arm.Samples += o.Samples
		arm.Successes += o.Successes
	}

	result := evaluateAB(base, cand, m.minSamples, m.margin)
	observeAB(result)
	logger.Log.Infof("drift abtest base=%s n=%d rate=%.3f candidate=%s n=%d rate=%.3f recommendation=%s",
		base.VariantKey, result.Base.Samples, result.Base.SuccessRate,
		cand.VariantKey, result.Candidate.Samples, result.Candidate.SuccessRate, result.Recommendation)
	return result, nil
}

func evaluateAB(base, cand ArmStats, minSamples int, margin float64) ABResult {
	base.SuccessRate = rate(base)
	cand.SuccessRate = rate(cand)
	result := ABResult{
		Base:             base,
		Candidate:        cand,
		Difference:       round3(cand.SuccessRate - base.SuccessRate),
		MinSamplesPerArm: minSamples,
		Recommendation:   ContinueTest,
	}

	switch {
	case cand.VariantKey == "":
		result.Reason = "no candidate variant configured"
	case base.Samples < minSamples || cand.Samples < minSamples:
		result.Reason = "insufficient samples in at least one arm"
	case result.Difference > margin:
		result.Recommendation = DeployCandidate
		result.Reason = "candidate outperforms base by more than the margin"
	case -result.Difference > margin:
		result.Recommendation = RollbackToBase
		result.Reason = "candidate underperforms base by more than the margin"
	default:
		result.Reason = "difference within margin"
	}
	return result
}

func rate(a ArmStats) float64 {
	if a.Samples == 0 {
		return 0
	}
	return round3(float64(a.Successes) / float64(a.Samples))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
