package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"supportloop/internal/domain"
	"supportloop/internal/export"
	"supportloop/internal/httpapi"
	"supportloop/internal/logger"
	"supportloop/internal/pipeline"
	"supportloop/internal/router"
	"supportloop/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// NewRootCommand builds the supportloop CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "supportloop",
		Short:         "Continuous-learning feedback loop for a support assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCmd(),
		processCmd(),
		resetCmd(),
		exportCmd(),
		driftCmd(),
		finetuneCmd(),
		versionsCmd(),
		assignCmd(),
	)
	return root
}

// withRuntime wires the components for one command and closes them after.
func withRuntime(fn func(ctx context.Context, rt *runtime, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(ctx, rt, cmd.OutOrStdout(), args)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scheduled jobs",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, _ io.Writer, _ []string) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if rt.cfg.VariantsPath != "" {
				if err := rt.router.Watch(ctx, rt.cfg.VariantsPath); err != nil {
					logger.Log.Warnf("variants hot reload disabled: %v", err)
				}
			}

			sched := scheduler.New(rt.cfg.Location, scheduler.Jobs{
				Processor:     rt.processor,
				Exporter:      rt.exporter,
				Monitor:       rt.monitor,
				Registry:      rt.registry,
				Notifier:      rt.notifier,
				Selector:      export.Selector{MinGain: rt.cfg.ExportMinGain},
				LookbackWeeks: rt.cfg.DriftLookbackWeeks,
				WindowDays:    rt.cfg.DriftWindowDays,
			})
			logger.Log.Infof("scheduler jobs registered=%d", sched.Register(rt.cfg))
			sched.Start()
			defer sched.Stop()

			if rt.cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := &http.Server{
				Addr: rt.cfg.HTTPAddr,
				Handler: httpapi.NewRouter(httpapi.Deps{
					Store:         rt.store,
					Feedback:      rt.feedback,
					Router:        rt.router,
					Ledger:        rt.ledger,
					Monitor:       rt.monitor,
					Registry:      rt.registry,
					Exporter:      rt.exporter,
					LookbackWeeks: rt.cfg.DriftLookbackWeeks,
					WindowDays:    rt.cfg.DriftWindowDays,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Log.Infof("Starting supportloop API on %s", rt.cfg.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Log.Infof("Shutting down")
			case err := <-errCh:
				return err
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process one batch of unprocessed failures",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			res, err := rt.processor.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, pipeline.FormatSummary(res))
			return nil
		}),
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the improvement ledger and reprocess every failure",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			if !yes {
				return fmt.Errorf("reset deletes every improvement record; pass --yes to confirm")
			}
			res, err := rt.processor.ForceReset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, pipeline.FormatSummary(res))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the ledger")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		minGain    float64
		categories []string
		reselect   bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a JSONL training batch from the ledger",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			sel := export.Selector{MinGain: minGain, Reselect: reselect, Limit: limit}
			for _, c := range categories {
				c = strings.TrimSpace(c)
				if !domain.IsCategory(c) {
					return fmt.Errorf("unknown category %q", c)
				}
				sel.Categories = append(sel.Categories, domain.Category(c))
			}
			summary, err := rt.exporter.ExportBatch(ctx, sel)
			if err != nil {
				return err
			}
			return printJSON(out, summary)
		}),
	}
	cmd.Flags().Float64Var(&minGain, "min-gain", 0, "minimum score gain estimate")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict to these failure categories")
	cmd.Flags().BoolVar(&reselect, "reselect", false, "include improvements already exported")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum examples in the batch (0 = no limit)")
	return cmd
}

func driftCmd() *cobra.Command {
	var weeks, days int
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Inspect performance and confidence drift",
	}
	weekly := &cobra.Command{
		Use:   "weekly",
		Short: "Week-over-week usefulness drops",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			if weeks == 0 {
				weeks = rt.cfg.DriftLookbackWeeks
			}
			report, err := rt.monitor.WeeklyPerformanceDrops(ctx, weeks)
			if err != nil {
				return err
			}
			return printJSON(out, report)
		}),
	}
	weekly.Flags().IntVar(&weeks, "weeks", 0, "lookback in weeks (default from config)")

	confidence := &cobra.Command{
		Use:   "confidence",
		Short: "Daily confidence drift against the baseline day",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			if days == 0 {
				days = rt.cfg.DriftWindowDays
			}
			report, err := rt.monitor.ConfidenceDrift(ctx, days)
			if err != nil {
				return err
			}
			return printJSON(out, report)
		}),
	}
	confidence.Flags().IntVar(&days, "days", 0, "window in days (default from config)")

	ab := &cobra.Command{
		Use:   "ab",
		Short: "Compare the base and candidate arms",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			res, err := rt.monitor.ABTestResults(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		}),
	}

	cmd.AddCommand(weekly, confidence, ab)
	return cmd
}

func finetuneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finetune",
		Short: "Submit and track fine-tuning jobs",
	}
	submit := &cobra.Command{
		Use:   "submit [batch-id]",
		Short: "Start a fine-tuning job on an exported batch",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, args []string) error {
			job, err := rt.registry.SubmitFineTune(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "submitted job %s (status %s)\n", job.ID, job.Status)
			return nil
		}),
	}
	poll := &cobra.Command{
		Use:   "poll",
		Short: "Refresh open jobs and register finished versions",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			res, err := rt.registry.PollJobs(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "checked %d, updated %d, registered %d\n", res.Checked, res.Updated, len(res.Registered))
			for _, v := range res.Registered {
				fmt.Fprintf(out, "  %s  %s\n", v.VersionTag, v.FineTuneArtifactID)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			return nil
		}),
	}
	cmd.AddCommand(submit, poll)
	return cmd
}

func versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List, promote and roll back model versions",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered model versions",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			versions, err := rt.registry.List(ctx)
			if err != nil {
				return err
			}
			writeVersions(out, versions)
			return nil
		}),
	}
	promote := &cobra.Command{
		Use:   "promote [id-or-tag]",
		Short: "Make a version the only active one",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, args []string) error {
			v, err := rt.registry.Promote(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "promoted %s (%s)\n", v.VersionTag, v.FineTuneArtifactID)
			return nil
		}),
	}
	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Deactivate every version",
		RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			if err := rt.registry.Rollback(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "no active version; serving the base model")
			return nil
		}),
	}
	cmd.AddCommand(list, promote, rollback)
	return cmd
}

func writeVersions(out io.Writer, versions []domain.ModelVersion) {
	if len(versions) == 0 {
		fmt.Fprintln(out, "no model versions registered")
		return
	}
	for _, v := range versions {
		marker := " "
		if v.IsActive {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-24s %-40s examples=%d created=%s\n",
			marker, v.VersionTag, v.FineTuneArtifactID, v.TrainingExampleCount, v.CreatedAt.Format(time.RFC3339))
	}
}

// assignCmd only reads the variants config, so it does not open the database.
func assignCmd() *cobra.Command {
	var variantsPath string
	cmd := &cobra.Command{
		Use:   "assign [user-id...]",
		Short: "Show the bucket and variant for user ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := router.LoadVariants(variantsPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range args {
				a := router.Assign(id, cfg)
				fmt.Fprintf(out, "%s bucket=%d variant=%s candidate=%t hash=%s\n",
					id, a.Bucket, a.VariantKey, a.IsCandidate, router.HashVersion)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&variantsPath, "variants", "variants.yaml", "variants config file")
	return cmd
}
