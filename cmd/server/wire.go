package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/config"
	"github.com/ashureev/sahayak/internal/dialogue"
	"github.com/ashureev/sahayak/internal/llm"
	"github.com/ashureev/sahayak/internal/retrieval"
	"github.com/ashureev/sahayak/internal/session"
	"github.com/ashureev/sahayak/internal/store"
	"github.com/ashureev/sahayak/internal/tools"
)

// app holds the wired core shared by serve and chat.
type app struct {
	cfg       *config.Config
	cat       *catalog.Catalog
	retriever *retrieval.Retriever
	registry  *tools.Registry
	sessions  *session.Manager
	repo      store.Repository // nil when telemetry is disabled
	recorder  *store.Recorder
	closeLM   func()
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, telemetry bool) (*app, error) {
	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Scheme catalog loaded", "schemes", len(cat.Schemes()), "languages", cat.Languages())

	retr := retrieval.New(cat.Schemes(),
		retrieval.WithMinSimilarity(cfg.Retriever.MinSimilarity),
		retrieval.WithDefaultLimit(cfg.Retriever.Limit),
	)
	reg, err := tools.NewDefaultRegistry(cat, retr,
		tools.WithTimeout(cfg.ToolTimeout),
		tools.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	lm, closeLM, err := llm.New(ctx, llm.Options{
		Provider:     cfg.LLM.Provider,
		GeminiAPIKey: cfg.LLM.GeminiAPIKey,
		GeminiModel:  cfg.LLM.GeminiModel,
		GRPCAddr:     cfg.LLM.GRPCAddr,
		Timeout:      cfg.LLM.Timeout,
		Categories:   cat.Categories(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure language model: %w", err)
	}

	machine := dialogue.NewMachine(cat, lm, retr, reg, dialogueConfig(cfg), logger)

	a := &app{cfg: cfg, cat: cat, retriever: retr, registry: reg, closeLM: closeLM, logger: logger}

	opts := session.Options{
		Engine: machine,
		Session: dialogue.SessionOptions{
			WindowSize: cfg.Dialogue.ConversationWindow,
			Tolerances: cfg.Dialogue.Tolerances,
		},
		DefaultLanguage: cfg.Dialogue.DefaultLanguage,
		Languages:       cat.Languages(),
		MaxSessions:     cfg.Session.MaxSessions,
		Logger:          logger,
	}
	if telemetry && cfg.Telemetry.Enabled {
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			closeLM()
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		if err := repo.Ping(ctx); err != nil {
			_ = repo.Close()
			closeLM()
			return nil, fmt.Errorf("database health check: %w", err)
		}
		logger.Info("Database connected", "path", cfg.DBPath)
		a.repo = repo
		a.recorder = store.NewRecorder(repo, cfg.Telemetry.QueueSize, logger)
		opts.Recorder = a.recorder
	}
	a.sessions = session.NewManager(opts)
	return a, nil
}

// dialogueConfig maps the loaded settings onto the turn engine. Rewrites
// share the tool call budget.
func dialogueConfig(cfg *config.Config) dialogue.Config {
	dcfg := dialogue.DefaultConfig()
	dcfg.ConfidenceThreshold = cfg.Dialogue.ConfidenceThreshold
	dcfg.MaxReplans = cfg.Dialogue.MaxReplans
	dcfg.TransientRetries = cfg.Dialogue.TransientRetries
	dcfg.MinProfileFields = cfg.Dialogue.MinProfileFields
	dcfg.ExtractTimeout = cfg.LLM.Timeout
	dcfg.Rewrite = cfg.LLM.Rewrite
	dcfg.RewriteTimeout = cfg.ToolTimeout
	return dcfg
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("load embedded catalog: %w", err)
		}
		return cat, nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

// Close flushes telemetry and releases backends.
func (a *app) Close() {
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Error("Failed to close telemetry recorder", "error", err)
		}
		if n := a.recorder.Dropped(); n > 0 {
			a.logger.Warn("Telemetry events dropped", "count", n)
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Error("Failed to close repository", "error", err)
		}
	}
	a.closeLM()
}
