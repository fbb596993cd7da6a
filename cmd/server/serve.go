package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ashureev/sahayak/internal/api"
	"github.com/ashureev/sahayak/internal/identity"
	"github.com/ashureev/sahayak/internal/middleware"
	"github.com/ashureev/sahayak/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "llm_provider", cfg.LLM.Provider)

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	// Housekeeping: idle sessions and telemetry retention.
	janitor := session.NewJanitor(logger)
	var retention session.Retention
	if a.repo != nil {
		retention = a.repo
	}
	if err := session.RegisterSweeps(janitor, a.sessions, cfg.Session.SweepSchedule, cfg.Session.IdleTTL, retention, cfg.Telemetry.Retention); err != nil {
		logger.Error("Failed to schedule housekeeping", "error", err)
		return err
	}

	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()

	// Initialize handlers.
	base := api.NewHandler(a.sessions, cfg.MaxRequestBodySize, logger)
	toolHandler, err := api.NewToolHandler(base, a.registry)
	if err != nil {
		return fmt.Errorf("export tools: %w", err)
	}
	var pinger api.Pinger
	if a.repo != nil {
		pinger = a.repo
	}
	healthHandler := api.NewHealthHandler(pinger, a.sessions)
	sessionHandler := api.NewSessionHandler(base, limiter)
	schemeHandler := api.NewSchemeHandler(a.cat, a.retriever, cfg.Dialogue.DefaultLanguage)
	wsHandler := api.NewWebSocketHandler(base, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	schemeHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)
	toolHandler.RegisterRoutes(r)

	janitor.Start()

	// WebSocket streams need no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return err
		}
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := janitor.Stop(shutdownCtx); err != nil {
		logger.Warn("Janitor did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return err
	}

	logger.Info("Server stopped successfully", "live_sessions", a.sessions.Len())
	return nil
}

func allowedOrigins(frontendURL string, dev bool) []string {
	if dev || frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}
