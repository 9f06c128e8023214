package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/sadhana/internal/adaptation"
	"github.com/roach88/sadhana/internal/bhav"
	"github.com/roach88/sadhana/internal/config"
	"github.com/roach88/sadhana/internal/scorer"
	"github.com/roach88/sadhana/internal/service"
	"github.com/roach88/sadhana/internal/store"
	"github.com/roach88/sadhana/internal/webhook"
)

// app is a wired service plus the resources it owns.
type app struct {
	cfg    config.Config
	store  *store.Store
	svc    *service.Service
	logger *slog.Logger
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// newLogger configures the process logger: text on stderr, debug when
// verbose.
func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig layers the --db flag over the file and environment config.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, nil)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	return cfg, nil
}

// loadRegistry reads the CUE lineage file when configured, otherwise the
// built-in registry.
func loadRegistry(path string) (*bhav.Registry, error) {
	if path == "" {
		return bhav.DefaultRegistry(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lineages %s: %w", path, err)
	}
	return bhav.LoadRegistry(string(src))
}

// openApp loads configuration, opens the store and wires the service.
func openApp(opts *RootOptions) (*app, error) {
	logger := newLogger(opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	registry, err := loadRegistry(cfg.LineagesFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load lineage registry", err)
	}

	logger.Info("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var (
		adaptScorer adaptation.Scorer
		stageScorer bhav.StageScorer
	)
	if cfg.Scorer.Active() {
		client := scorer.New(scorer.Config{
			APIKey:  cfg.Scorer.APIKey,
			BaseURL: cfg.Scorer.BaseURL,
			Model:   cfg.Scorer.Model,
		}, logger)
		adaptScorer, stageScorer = client, client
		logger.Info("external scorer enabled", "model", client.Model())
	} else if cfg.Scorer.Enabled {
		logger.Warn("scorer enabled without an API key; using rules only")
	}

	svc, err := service.New(service.Options{
		Store:    st,
		Registry: registry,
		Engine: adaptation.NewEngine(adaptation.Config{
			ScorerEnabled: adaptScorer != nil,
			ScorerTimeout: cfg.Scorer.Timeout,
		}, adaptScorer, logger),
		Projector: bhav.NewProjector(registry, stageScorer, bhav.ProjectorConfig{
			ScorerEnabled: stageScorer != nil,
			ScorerTimeout: cfg.Scorer.Timeout,
		}, logger),
		Webhooks: webhook.NewQueue(nil, webhook.Config{
			MaxAttempts: cfg.Webhook.MaxAttempts,
			BaseBackoff: cfg.Webhook.BaseBackoff,
			BatchSize:   cfg.Webhook.BatchSize,
		}, logger),
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build service", err)
	}

	return &app{cfg: cfg, store: st, svc: svc, logger: logger}, nil
}
