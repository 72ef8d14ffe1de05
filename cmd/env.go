package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/config"
	"github.com/sells-group/vose-cli/internal/orchestrator"
	"github.com/sells-group/vose-cli/internal/registry"
	"github.com/sells-group/vose-cli/internal/resilience"
	"github.com/sells-group/vose-cli/internal/scrape"
	"github.com/sells-group/vose-cli/internal/source"
	"github.com/sells-group/vose-cli/internal/store"
	"github.com/sells-group/vose-cli/internal/validate"
)

// appEnv holds everything the run/serve/status commands share.
type appEnv struct {
	Registry     *registry.Registry
	Detector     *classify.Detector
	Engine       *validate.Engine
	Store        store.KV
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initClassifier loads the source registry and detector weights. It needs
// no store, so detect and validate use it directly.
func initClassifier(c *config.Config) (*registry.Registry, *classify.Detector, *validate.Engine, error) {
	reg, err := registry.Load(c.Sources.ProfilesFile, c.Sources.Enabled)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "load source registry")
	}
	w, err := classify.LoadWeights(c.Classify.WeightsFile)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "load classifier weights")
	}
	if c.Classify.WeightsFile == "" && c.Classify.Threshold > 0 {
		w.Threshold = c.Classify.Threshold
	}
	det := classify.New(w, reg)
	engine := validate.New(validate.SettingsFromConfig(c.Validation),
		validate.WithDetector(det),
		validate.WithRegistry(reg),
	)
	return reg, det, engine, nil
}

// initEnv validates config for mode, opens the store and builds the
// orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	reg, det, engine, err := initClassifier(c)
	if err != nil {
		return nil, err
	}

	kv, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	adapters := source.FromRegistry(reg, det, source.ClientSettings{
		Timeout:      time.Duration(c.Scrape.TimeoutSecs) * time.Second,
		UserAgent:    c.Scrape.UserAgent,
		MaxBodyBytes: c.Scrape.MaxBodyBytes,
		MinDelay:     time.Duration(c.Scrape.MinDelayMs) * time.Millisecond,
		Retry: resilience.FromRetryConfig(
			c.Scrape.MaxAttempts, c.Scrape.InitialBackoffMs, c.Scrape.MaxBackoffMs, c.Scrape.Multiplier, 0.1,
		),
	})

	opts := orchestrator.OptionsFromConfig(c.Orchestrator)
	if c.Probe.URL != "" {
		opts.Prober = scrape.NewHTTPProber(c.Probe.URL, time.Duration(c.Probe.TimeoutSecs)*time.Second)
	}

	zap.L().Info("environment ready",
		zap.Int("sources", len(adapters)),
		zap.String("store", c.Store.Driver),
		zap.Strings("rules", engine.Rules()),
	)

	return &appEnv{
		Registry:     reg,
		Detector:     det,
		Engine:       engine,
		Store:        kv,
		Orchestrator: orchestrator.New(adapters, engine, kv, opts),
	}, nil
}
