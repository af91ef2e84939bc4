package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"supportloop/internal/config"
	"supportloop/internal/drift"
	"supportloop/internal/export"
	slackbot "supportloop/internal/integrations/slack"
	"supportloop/internal/logger"
	"supportloop/internal/pipeline"
	"supportloop/internal/registry"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds one scheduled run. A storage failure surfaces in the log
// and the job is retried on the next tick.
const jobTimeout = 30 * time.Minute

type Jobs struct {
	Processor *pipeline.Processor
	Exporter  *export.Exporter
	Monitor   *drift.Monitor
	Registry  *registry.Registry
	Notifier  slackbot.Notifier
	Selector  export.Selector

	LookbackWeeks int
	WindowDays    int
}

type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
}

func New(loc *time.Location, jobs Jobs) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if jobs.Notifier == nil {
		jobs.Notifier = slackbot.Nop{}
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		jobs: jobs,
	}
}

// Register adds every job whose schedule is set and valid. Schedules are
// standard 5-field cron expressions (minute hour day-of-month month
// day-of-week), e.g. "*/15 * * * *" or "0 9 * * 1-5". It returns the number
// of jobs scheduled.
func (s *Scheduler) Register(cfg config.Config) int {
	entries := []struct {
		name     string
		schedule string
		run      func(context.Context)
		enabled  bool
	}{
		{"process", cfg.ProcessSchedule, s.runProcess, s.jobs.Processor != nil},
		{"export", cfg.ExportSchedule, s.runExport, s.jobs.Exporter != nil},
		{"drift", cfg.DriftSchedule, s.runDrift, s.jobs.Monitor != nil},
		{"finetune-poll", cfg.FineTunePollSchedule, s.runPoll, s.jobs.Registry != nil},
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	count := 0
	for _, e := range entries {
		expr := strings.TrimSpace(e.schedule)
		if expr == "" || !e.enabled {
			logger.Log.Infof("scheduler %s disabled", e.name)
			continue
		}
		sched, err := parser.Parse(expr)
		if err != nil {
			logger.Log.Errorf("scheduler invalid %s schedule '%s': %v (job disabled)", e.name, expr, err)
			continue
		}
		run := e.run
		name := e.name
		s.cron.Schedule(sched, cron.FuncJob(func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			logger.Log.Infof("scheduler %s start", name)
			run(ctx)
		}))
		logger.Log.Infof("scheduler %s scheduled (cron: %s)", e.name, expr)
		count++
	}
	return count
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

func (s *Scheduler) runProcess(ctx context.Context) {
	if _, err := s.jobs.Processor.Run(ctx); err != nil {
		logger.Log.Errorf("scheduler process error: %v", err)
	}
}

func (s *Scheduler) runExport(ctx context.Context) {
	summary, err := s.jobs.Exporter.ExportBatch(ctx, s.jobs.Selector)
	if err != nil {
		logger.Log.Errorf("scheduler export error: %v", err)
		return
	}
	if summary.ExampleCount > 0 {
		slackbot.Broadcast(s.jobs.Notifier, fmt.Sprintf("Exported training batch %s: %d examples (%d bytes).",
			summary.BatchID, summary.ExampleCount, summary.SizeBytes))
	}
}

func (s *Scheduler) runDrift(ctx context.Context) {
	if _, err := s.DriftCheck(ctx); err != nil {
		logger.Log.Errorf("scheduler drift error: %v", err)
	}
}

func (s *Scheduler) runPoll(ctx context.Context) {
	res, err := s.jobs.Registry.PollJobs(ctx)
	if err != nil {
		logger.Log.Errorf("scheduler finetune-poll error: %v", err)
		return
	}
	logger.Log.Infof("scheduler finetune-poll checked=%d updated=%d registered=%d errors=%d",
		res.Checked, res.Updated, len(res.Registered), len(res.Errors))
}

type DriftCheckResult struct {
	Weekly     drift.WeeklyReport
	Confidence drift.ConfidenceReport
	Triggered  bool
	Export     export.BatchSummary
}

// DriftCheck runs both drift queries. A weekly drop or a confidence alert
// triggers an export batch and a notification.
func (s *Scheduler) DriftCheck(ctx context.Context) (DriftCheckResult, error) {
	var res DriftCheckResult
	weekly, err := s.jobs.Monitor.WeeklyPerformanceDrops(ctx, s.jobs.LookbackWeeks)
	if err != nil {
		return res, err
	}
	conf, err := s.jobs.Monitor.ConfidenceDrift(ctx, s.jobs.WindowDays)
	if err != nil {
		return res, err
	}
	res.Weekly = weekly
	res.Confidence = conf
	res.Triggered = weekly.AutoTrainingRecommended || conf.CurrentAlert
	if !res.Triggered {
		return res, nil
	}

	msg := FormatDriftAlert(weekly, conf)
	if s.jobs.Exporter != nil {
		summary, err := s.jobs.Exporter.ExportBatch(ctx, s.jobs.Selector)
		if err != nil {
			slackbot.Broadcast(s.jobs.Notifier, msg+"\nExport failed: "+err.Error())
			return res, err
		}
		res.Export = summary
		if summary.ExampleCount > 0 {
			msg += fmt.Sprintf("\nExported batch %s with %d examples for fine-tuning.", summary.BatchID, summary.ExampleCount)
		} else {
			msg += "\nNo new improvements to export."
		}
	}
	logger.Log.Warnf("scheduler drift triggered drops=%d alert=%t", len(weekly.Drops), conf.CurrentAlert)
	slackbot.Broadcast(s.jobs.Notifier, msg)
	return res, nil
}

// FormatDriftAlert returns a human-readable drift summary.
func FormatDriftAlert(weekly drift.WeeklyReport, conf drift.ConfidenceReport) string {
	var lines []string
	for _, d := range weekly.Drops {
		lines = append(lines, fmt.Sprintf("Usefulness dropped %.1f%% (%.2f -> %.2f) in the week ending %s.",
			d.DropPercentage, d.PreviousRate, d.CurrentRate, d.To.Format("Jan 2")))
	}
	if conf.CurrentAlert && len(conf.DailyDrift) > 0 {
		worst := conf.DailyDrift[0]
		for _, d := range conf.DailyDrift[1:] {
			if math.Abs(d.DriftFromBaseline) > math.Abs(worst.DriftFromBaseline) {
				worst = d
			}
		}
		lines = append(lines, fmt.Sprintf("Confidence drift %+.2f from baseline on %s (trend: %s).",
			worst.DriftFromBaseline, worst.WindowStart.Format("Jan 2"), conf.OverallTrend))
	}
	if len(lines) == 0 {
		return "No drift detected."
	}
	return "Drift detected:\n" + strings.Join(lines, "\n")
}
