package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"supportloop/internal/config"
	"supportloop/internal/correction"
	"supportloop/internal/domain"
	"supportloop/internal/drift"
	"supportloop/internal/export"
	"supportloop/internal/feedback"
	"supportloop/internal/httpx"
	"supportloop/internal/integrations/finetune"
	"supportloop/internal/integrations/llm"
	slackbot "supportloop/internal/integrations/slack"
	"supportloop/internal/ledger"
	"supportloop/internal/logger"
	"supportloop/internal/pipeline"
	"supportloop/internal/registry"
	"supportloop/internal/router"
	"supportloop/internal/scoring"
	"supportloop/internal/storage/sqlite"

	"github.com/slack-go/slack"
)

const batchLeaseName = "failure-batch"

func Main() {
	if err := NewRootCommand().Execute(); err != nil {
		logger.Log.Errorf("supportloop: %v", err)
		os.Exit(1)
	}
}

// runtime holds the wired components every subcommand draws from.
type runtime struct {
	cfg       config.Config
	store     *sqlite.Store
	notifier  slackbot.Notifier
	router    *router.Router
	ledger    *ledger.Ledger
	processor *pipeline.Processor
	exporter  *export.Exporter
	monitor   *drift.Monitor
	registry  *registry.Registry
	feedback  *feedback.Service
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.Log.Infof("Config loaded. Provider=%s Model=%s Judge=%s DB=%s ExportDir=%s BatchLease=%s Timezone=%s ExternalHTTPTimeout=%s",
		cfg.LLMProvider, cfg.LLMModel, cfg.Judge, cfg.DBPath, cfg.ExportDir, cfg.BatchLease, cfg.Timezone, appliedHTTPTimeout)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	logger.Log.Infof("Database initialized at %s", cfg.DBPath)

	clients, err := llm.New(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	var notifier slackbot.Notifier = slackbot.Nop{}
	if cfg.SlackConfigured() {
		notifier = slackbot.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannelID, slack.OptionHTTPClient(httpx.Client()))
	}

	var judge scoring.Judge = scoring.NewLLMJudge(clients.Batch)
	if cfg.Judge == "heuristic" {
		judge = scoring.HeuristicJudge{}
	}

	variants, err := initialVariants(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	rt, err := router.New(variants, clients.Live)
	if err != nil {
		store.Close()
		return nil, err
	}

	var provider finetune.Provider
	if cfg.OpenAIAPIKey != "" {
		provider = finetune.NewOpenAI(cfg.OpenAIAPIKey)
	}

	l := ledger.New(store)
	return &runtime{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		router:   rt,
		ledger:   l,
		processor: pipeline.NewProcessor(pipeline.Deps{
			Failures:  store,
			Ledger:    l,
			Generator: correction.NewGenerator(clients.Batch),
			Scorer:    scoring.NewScorer(judge),
			Guard:     newGuard(cfg, store),
			Notifier:  notifier,
			BatchSize: cfg.BatchSize,
		}),
		exporter: export.NewExporter(store, cfg.ExportDir, cfg.PersonaPrompt),
		monitor: drift.NewMonitor(store, rt.Config, drift.Options{
			MinSamplesPerArm: cfg.ABMinSamples,
			Margin:           cfg.ABMargin,
		}),
		registry: registry.New(store, provider, cfg.FineTuneBaseModel, notifier),
		feedback: feedback.NewService(store, rt, scoring.HeuristicConfidence{}, cfg.PersonaPrompt),
	}, nil
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}

func newGuard(cfg config.Config, store *sqlite.Store) pipeline.Guard {
	if cfg.BatchLease != "sqlite" {
		return &pipeline.MemoryGuard{}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "supportloop"
	}
	holder := fmt.Sprintf("%s-%d", host, os.Getpid())
	return store.NewLease(batchLeaseName, holder, cfg.BatchLeaseTTL())
}

type activeVersionSource interface {
	ActiveModelVersion(ctx context.Context) (*domain.ModelVersion, error)
}

// initialVariants prefers the variants file. Without one, the base arm is the
// active fine-tuned version when the provider can serve it, otherwise the
// configured model, and no candidate runs.
func initialVariants(ctx context.Context, cfg config.Config, versions activeVersionSource) (domain.VariantConfig, error) {
	if path := strings.TrimSpace(cfg.VariantsPath); path != "" {
		v, err := router.LoadVariants(path)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return domain.VariantConfig{}, err
		}
		logger.Log.Warnf("variants file %s not found; serving the base model only", path)
	}

	base := llm.DefaultModel(cfg.LLMProvider, cfg.LLMModel)
	if cfg.LLMProvider == "openai" {
		active, err := versions.ActiveModelVersion(ctx)
		if err != nil {
			return domain.VariantConfig{}, err
		}
		if active != nil {
			base = active.FineTuneArtifactID
		}
	}
	return domain.VariantConfig{Base: domain.ModelVariant{Key: base}}, nil
}
