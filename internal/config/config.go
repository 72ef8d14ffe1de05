package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Scrape       ScrapeConfig       `yaml:"scrape" mapstructure:"scrape"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Validation   ValidationConfig   `yaml:"validation" mapstructure:"validation"`
	Classify     ClassifyConfig     `yaml:"classify" mapstructure:"classify"`
	Sources      SourcesConfig      `yaml:"sources" mapstructure:"sources"`
	Probe        ProbeConfig        `yaml:"probe" mapstructure:"probe"`
	Schedule     ScheduleConfig     `yaml:"schedule" mapstructure:"schedule"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the key-value state backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ScrapeConfig configures the HTTP behavior of source adapters.
type ScrapeConfig struct {
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	MinDelayMs       int     `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxBodyBytes     int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// OrchestratorConfig configures run-level retries, circuit breakers and
// persisted log sizes.
type OrchestratorConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs      int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs       int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	MaxConcurrent    int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	ErrorLogSize     int     `yaml:"error_log_size" mapstructure:"error_log_size"`
	HistorySize      int     `yaml:"history_size" mapstructure:"history_size"`
}

// ValidationConfig configures the validation rule set.
type ValidationConfig struct {
	PastWindowHours      int     `yaml:"past_window_hours" mapstructure:"past_window_hours"`
	FutureWindowDays     int     `yaml:"future_window_days" mapstructure:"future_window_days"`
	DuplicateWindowSecs  int     `yaml:"duplicate_window_secs" mapstructure:"duplicate_window_secs"`
	MaxPenalty           float64 `yaml:"max_penalty" mapstructure:"max_penalty"`
	ReclassifyTolerance  float64 `yaml:"reclassify_tolerance" mapstructure:"reclassify_tolerance"`
	ConfirmThreshold     float64 `yaml:"confirm_threshold" mapstructure:"confirm_threshold"`
	MinSourceReliability float64 `yaml:"min_source_reliability" mapstructure:"min_source_reliability"`
	MaxTitleLength       int     `yaml:"max_title_length" mapstructure:"max_title_length"`
	MinRawTextLength     int     `yaml:"min_raw_text_length" mapstructure:"min_raw_text_length"`
	MaxTitleSymbolRatio  float64 `yaml:"max_title_symbol_ratio" mapstructure:"max_title_symbol_ratio"`
	UnusualHourStart     int     `yaml:"unusual_hour_start" mapstructure:"unusual_hour_start"`
	UnusualHourEnd       int     `yaml:"unusual_hour_end" mapstructure:"unusual_hour_end"`
	LowConfidenceAverage float64 `yaml:"low_confidence_average" mapstructure:"low_confidence_average"`
	HighErrorRate        float64 `yaml:"high_error_rate" mapstructure:"high_error_rate"`
}

// ClassifyConfig configures the VOSE detector.
type ClassifyConfig struct {
	WeightsFile string  `yaml:"weights_file" mapstructure:"weights_file"`
	Threshold   float64 `yaml:"threshold" mapstructure:"threshold"`
}

// SourcesConfig configures the source profile registry.
type SourcesConfig struct {
	ProfilesFile string   `yaml:"profiles_file" mapstructure:"profiles_file"`
	Enabled      []string `yaml:"enabled" mapstructure:"enabled"`
}

// ProbeConfig configures the optional pre-run connectivity check.
type ProbeConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ScheduleConfig configures periodic runs under serve.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// MonitoringConfig configures alert thresholds and delivery.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	MinAverageConfidence float64 `yaml:"min_average_confidence" mapstructure:"min_average_confidence"`
	MaxFailureRate       float64 `yaml:"max_failure_rate" mapstructure:"max_failure_rate"`
	LookbackRuns         int     `yaml:"lookback_runs" mapstructure:"lookback_runs"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "vose.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("scrape.timeout_secs", 15)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; vose-cli/1.0; +https://github.com/sells-group/vose-cli)")
	v.SetDefault("scrape.max_attempts", 2)
	v.SetDefault("scrape.initial_backoff_ms", 500)
	v.SetDefault("scrape.max_backoff_ms", 4000)
	v.SetDefault("scrape.multiplier", 2.0)
	v.SetDefault("scrape.min_delay_ms", 1000)
	v.SetDefault("scrape.max_body_bytes", 2<<20)

	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.base_delay_ms", 1000)
	v.SetDefault("orchestrator.max_delay_ms", 30000)
	v.SetDefault("orchestrator.multiplier", 2.0)
	v.SetDefault("orchestrator.failure_threshold", 3)
	v.SetDefault("orchestrator.cooldown_secs", 1800)
	v.SetDefault("orchestrator.max_concurrent", 1)
	v.SetDefault("orchestrator.error_log_size", 500)
	v.SetDefault("orchestrator.history_size", 100)

	v.SetDefault("validation.past_window_hours", 6)
	v.SetDefault("validation.future_window_days", 28)
	v.SetDefault("validation.duplicate_window_secs", 60)
	v.SetDefault("validation.max_penalty", 0.8)
	v.SetDefault("validation.reclassify_tolerance", 0.2)
	v.SetDefault("validation.confirm_threshold", 0.8)
	v.SetDefault("validation.min_source_reliability", 0.75)
	v.SetDefault("validation.max_title_length", 100)
	v.SetDefault("validation.min_raw_text_length", 20)
	v.SetDefault("validation.max_title_symbol_ratio", 0.3)
	v.SetDefault("validation.unusual_hour_start", 2)
	v.SetDefault("validation.unusual_hour_end", 6)
	v.SetDefault("validation.low_confidence_average", 0.7)
	v.SetDefault("validation.high_error_rate", 0.1)

	v.SetDefault("classify.threshold", 0.6)

	v.SetDefault("probe.timeout_secs", 5)

	v.SetDefault("monitoring.min_average_confidence", 0.6)
	v.SetDefault("monitoring.max_failure_rate", 0.5)
	v.SetDefault("monitoring.lookback_runs", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
}

// Validate checks the configuration for the given command mode. Modes:
// "run", "serve", "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "status":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be one of sqlite, postgres, memory", c.Store.Driver))
	}

	if c.Orchestrator.MaxAttempts < 1 || c.Orchestrator.MaxAttempts > 10 {
		errs = append(errs, "orchestrator.max_attempts must be between 1 and 10")
	}
	if c.Orchestrator.FailureThreshold < 1 {
		errs = append(errs, "orchestrator.failure_threshold must be >= 1")
	}
	if c.Orchestrator.MaxConcurrent < 1 || c.Orchestrator.MaxConcurrent > 16 {
		errs = append(errs, "orchestrator.max_concurrent must be between 1 and 16")
	}
	if c.Orchestrator.BaseDelayMs > c.Orchestrator.MaxDelayMs {
		errs = append(errs, "orchestrator.base_delay_ms must be <= max_delay_ms")
	}
	if c.Orchestrator.Multiplier < 1 {
		errs = append(errs, "orchestrator.multiplier must be >= 1")
	}

	if c.Validation.MaxPenalty <= 0 || c.Validation.MaxPenalty >= 1 {
		errs = append(errs, "validation.max_penalty must be in (0, 1)")
	}
	if c.Classify.Threshold <= 0 || c.Classify.Threshold >= 1 {
		errs = append(errs, "classify.threshold must be in (0, 1)")
	}
	for name, val := range map[string]float64{
		"validation.confirm_threshold":      c.Validation.ConfirmThreshold,
		"validation.min_source_reliability": c.Validation.MinSourceReliability,
		"monitoring.min_average_confidence": c.Monitoring.MinAverageConfidence,
		"monitoring.max_failure_rate":       c.Monitoring.MaxFailureRate,
	} {
		if val < 0 || val > 1 {
			errs = append(errs, name+" must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
