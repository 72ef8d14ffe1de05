package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "vose.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Scrape.TimeoutSecs)
	assert.Equal(t, 1000, cfg.Scrape.MinDelayMs)
	assert.Equal(t, 3, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, 1000, cfg.Orchestrator.BaseDelayMs)
	assert.Equal(t, 30000, cfg.Orchestrator.MaxDelayMs)
	assert.InDelta(t, 2.0, cfg.Orchestrator.Multiplier, 0.001)
	assert.Equal(t, 3, cfg.Orchestrator.FailureThreshold)
	assert.Equal(t, 1800, cfg.Orchestrator.CooldownSecs)
	assert.Equal(t, 1, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, 500, cfg.Orchestrator.ErrorLogSize)
	assert.Equal(t, 100, cfg.Orchestrator.HistorySize)
	assert.Equal(t, 6, cfg.Validation.PastWindowHours)
	assert.Equal(t, 28, cfg.Validation.FutureWindowDays)
	assert.Equal(t, 60, cfg.Validation.DuplicateWindowSecs)
	assert.InDelta(t, 0.8, cfg.Validation.MaxPenalty, 0.001)
	assert.InDelta(t, 0.6, cfg.Classify.Threshold, 0.001)
	assert.Empty(t, cfg.Schedule.Cron)

	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/vose
log:
  level: debug
  format: console
server:
  port: 9090
orchestrator:
  max_concurrent: 4
sources:
  enabled: [cineciutat, cinesa]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/vose", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, []string{"cineciutat", "cinesa"}, cfg.Sources.Enabled)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Orchestrator.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VOSE_STORE_DRIVER", "memory")
	t.Setenv("VOSE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("VOSE_SERVER_PORT", "3000")
	t.Setenv("VOSE_ORCHESTRATOR_FAILURE_THRESHOLD", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Orchestrator.FailureThreshold)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "vose.db"
	cfg.Server.Port = 8080
	cfg.Orchestrator.MaxAttempts = 3
	cfg.Orchestrator.BaseDelayMs = 1000
	cfg.Orchestrator.MaxDelayMs = 30000
	cfg.Orchestrator.Multiplier = 2
	cfg.Orchestrator.FailureThreshold = 3
	cfg.Orchestrator.MaxConcurrent = 1
	cfg.Validation.MaxPenalty = 0.8
	cfg.Validation.ConfirmThreshold = 0.8
	cfg.Validation.MinSourceReliability = 0.75
	cfg.Classify.Threshold = 0.6
	cfg.Monitoring.MinAverageConfidence = 0.6
	cfg.Monitoring.MaxFailureRate = 0.5
	return cfg
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	// Port is irrelevant for one-shot runs.
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()

	cfg.Store.Driver = "postgres"
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/vose"
	assert.NoError(t, cfg.Validate("run"))

	cfg.Store.Driver = "redis"
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of sqlite, postgres, memory")

	cfg.Store.Driver = "memory"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateOrchestratorBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Orchestrator.MaxAttempts = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator.max_attempts must be between 1 and 10")

	cfg.Orchestrator.MaxAttempts = 3
	cfg.Orchestrator.MaxConcurrent = 17
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent must be between 1 and 16")

	cfg.Orchestrator.MaxConcurrent = 4
	cfg.Orchestrator.BaseDelayMs = 60000
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "base_delay_ms must be <= max_delay_ms")

	cfg.Orchestrator.BaseDelayMs = 1000
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateThresholds(t *testing.T) {
	cfg := validDefaults()

	cfg.Validation.MaxPenalty = 1.0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation.max_penalty")

	cfg.Validation.MaxPenalty = 0.8
	cfg.Classify.Threshold = 0
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "classify.threshold")

	cfg.Classify.Threshold = 0.6
	cfg.Monitoring.MaxFailureRate = 1.5
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.max_failure_rate must be between 0 and 1")
}
