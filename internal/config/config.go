package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"supportloop/internal/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultLLMTimeout = 90 * time.Second
const defaultLLMTimeoutSeconds = int(defaultLLMTimeout / time.Second)

const DefaultPersona = `You are a friendly, knowledgeable customer support assistant. ` +
	`Acknowledge the customer's situation, answer precisely, and give concrete next steps.`

type Config struct {
	LogLevel string `yaml:"log_level"`

	LLMProvider       string `yaml:"llm_provider"`
	LLMModel          string `yaml:"llm_model"`
	LLMCallDelayMS    int    `yaml:"llm_call_delay_ms"`
	LLMTimeoutSeconds int    `yaml:"llm_timeout_seconds"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	GeminiAPIKey      string `yaml:"gemini_api_key"`
	Judge             string `yaml:"judge"`

	DBPath               string `yaml:"db_path"`
	ExportDir            string `yaml:"export_dir"`
	PersonaPrompt        string `yaml:"persona_prompt"`
	BatchSize            int    `yaml:"batch_size"`
	BatchLease           string `yaml:"batch_lease"`
	BatchLeaseTTLSeconds int    `yaml:"batch_lease_ttl_seconds"`
	VariantsPath         string `yaml:"variants_path"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	ProcessSchedule      string `yaml:"process_schedule"`
	ExportSchedule       string `yaml:"export_schedule"`
	DriftSchedule        string `yaml:"drift_schedule"`
	FineTunePollSchedule string `yaml:"finetune_poll_schedule"`

	ExportMinGain     float64 `yaml:"export_min_gain"`
	FineTuneBaseModel string  `yaml:"finetune_base_model"`

	DriftLookbackWeeks int     `yaml:"drift_lookback_weeks"`
	DriftWindowDays    int     `yaml:"drift_window_days"`
	ABMinSamples       int     `yaml:"ab_min_samples"`
	ABMargin           float64 `yaml:"ab_margin"`

	HTTPAddr                   string `yaml:"http_addr"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Timezone                   string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig reads .env, then the YAML file at CONFIG_PATH (default
// config.yaml), lets env vars override it, fills defaults and validates.
func LoadConfig() (Config, error) {
	var cfg Config

	_ = godotenv.Load()

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		logger.Log.Infof("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.Judge, "JUDGE")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ExportDir, "EXPORT_DIR")
	envOverride(&cfg.PersonaPrompt, "PERSONA_PROMPT")
	envOverride(&cfg.BatchLease, "BATCH_LEASE")
	envOverride(&cfg.VariantsPath, "VARIANTS_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.ProcessSchedule, "PROCESS_SCHEDULE")
	envOverrideAllowEmpty(&cfg.ExportSchedule, "EXPORT_SCHEDULE")
	envOverrideAllowEmpty(&cfg.DriftSchedule, "DRIFT_SCHEDULE")
	envOverrideAllowEmpty(&cfg.FineTunePollSchedule, "FINETUNE_POLL_SCHEDULE")
	envOverride(&cfg.FineTuneBaseModel, "FINETUNE_BASE_MODEL")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.Timezone, "TIMEZONE")

	ints := []struct {
		field *int
		key   string
	}{
		{&cfg.LLMCallDelayMS, "LLM_CALL_DELAY_MS"},
		{&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS"},
		{&cfg.BatchSize, "BATCH_SIZE"},
		{&cfg.BatchLeaseTTLSeconds, "BATCH_LEASE_TTL_SECONDS"},
		{&cfg.DriftLookbackWeeks, "DRIFT_LOOKBACK_WEEKS"},
		{&cfg.DriftWindowDays, "DRIFT_WINDOW_DAYS"},
		{&cfg.ABMinSamples, "AB_MIN_SAMPLES"},
		{&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"},
	}
	for _, o := range ints {
		if err := envOverrideInt(o.field, o.key); err != nil {
			return cfg, err
		}
	}
	if err := envOverrideFloat(&cfg.ExportMinGain, "EXPORT_MIN_GAIN"); err != nil {
		return cfg, err
	}
	if err := envOverrideFloat(&cfg.ABMargin, "AB_MARGIN"); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMCallDelayMS == 0 {
		cfg.LLMCallDelayMS = 1000
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if cfg.Judge == "" {
		cfg.Judge = "llm"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./supportloop.db"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "./exports"
	}
	if strings.TrimSpace(cfg.PersonaPrompt) == "" {
		cfg.PersonaPrompt = DefaultPersona
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchLease == "" {
		cfg.BatchLease = "memory"
	}
	if cfg.BatchLeaseTTLSeconds == 0 {
		cfg.BatchLeaseTTLSeconds = 900
	}
	if cfg.FineTuneBaseModel == "" {
		cfg.FineTuneBaseModel = "gpt-4o-mini-2024-07-18"
	}
	if cfg.DriftLookbackWeeks == 0 {
		cfg.DriftLookbackWeeks = 4
	}
	if cfg.DriftWindowDays == 0 {
		cfg.DriftWindowDays = 7
	}
	if cfg.ABMinSamples == 0 {
		cfg.ABMinSamples = 100
	}
	if cfg.ABMargin == 0 {
		cfg.ABMargin = 0.05
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
}

func (cfg *Config) validate() error {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required when llm_provider=gemini")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'gemini', got '%s'", cfg.LLMProvider)
	}

	switch cfg.Judge {
	case "llm", "heuristic":
	default:
		return fmt.Errorf("judge must be 'llm' or 'heuristic', got '%s'", cfg.Judge)
	}
	switch cfg.BatchLease {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("batch_lease must be 'memory' or 'sqlite', got '%s'", cfg.BatchLease)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.LLMCallDelayMS < 0 {
		return fmt.Errorf("invalid llm_call_delay_ms '%d': must be >= 0", cfg.LLMCallDelayMS)
	}
	if cfg.LLMTimeoutSeconds < 5 {
		return fmt.Errorf("invalid llm_timeout_seconds '%d': must be >= 5", cfg.LLMTimeoutSeconds)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("invalid batch_size '%d': must be >= 1", cfg.BatchSize)
	}
	if cfg.BatchLeaseTTLSeconds < 30 {
		return fmt.Errorf("invalid batch_lease_ttl_seconds '%d': must be >= 30", cfg.BatchLeaseTTLSeconds)
	}
	if cfg.ExportMinGain < 0 {
		return fmt.Errorf("invalid export_min_gain '%f': must be >= 0", cfg.ExportMinGain)
	}
	if cfg.DriftLookbackWeeks < 2 {
		return fmt.Errorf("invalid drift_lookback_weeks '%d': must be >= 2", cfg.DriftLookbackWeeks)
	}
	if cfg.DriftWindowDays < 1 {
		return fmt.Errorf("invalid drift_window_days '%d': must be >= 1", cfg.DriftWindowDays)
	}
	if cfg.ABMinSamples < 1 {
		return fmt.Errorf("invalid ab_min_samples '%d': must be >= 1", cfg.ABMinSamples)
	}
	if cfg.ABMargin <= 0 || cfg.ABMargin >= 1 {
		return fmt.Errorf("invalid ab_margin '%f': must be between 0 and 1", cfg.ABMargin)
	}
	return nil
}

func (c Config) LLMCallDelay() time.Duration {
	return time.Duration(c.LLMCallDelayMS) * time.Millisecond
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) BatchLeaseTTL() time.Duration {
	return time.Duration(c.BatchLeaseTTLSeconds) * time.Second
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
