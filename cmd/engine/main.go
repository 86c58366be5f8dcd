package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/auth"
	"github.com/stemsi/examflow/internal/cache"
	"github.com/stemsi/examflow/internal/clock"
	"github.com/stemsi/examflow/internal/config"
	"github.com/stemsi/examflow/internal/database"
	"github.com/stemsi/examflow/internal/engine"
	"github.com/stemsi/examflow/internal/examapi"
	"github.com/stemsi/examflow/internal/handler"
	"github.com/stemsi/examflow/internal/logger"
	"github.com/stemsi/examflow/internal/retry"
	"github.com/stemsi/examflow/internal/router"
	"github.com/stemsi/examflow/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExamFlow Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Engine ─────────────────────────────────────────────
	apiClient := examapi.NewClient(cfg.ExamAPIBaseURL, cfg.ExamAPIToken, cfg.ExamAPITimeout, log)
	sessionCache := cache.NewSessionCache(rdb, log)

	engineCfg := engine.Config{
		AutosaveDebounce: cfg.AutosaveDebounce,
		AutosavePolicy: retry.Policy{
			MaxAttempts: cfg.AutosaveMaxAttempts,
			BaseDelay:   cfg.AutosaveBaseDelay,
			MaxDelay:    8 * time.Second,
		},
		SubmitPolicy: retry.Policy{
			MaxAttempts: cfg.SubmitMaxAttempts,
			BaseDelay:   cfg.SubmitBaseDelay,
			MaxDelay:    10 * time.Second,
		},
		FlushTimeout:   cfg.FlushTimeout,
		DriftTolerance: cfg.DriftTolerance,
	}

	manager := engine.NewManager(apiClient, clock.New(), engineCfg, sessionCache, log)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(manager, log),
		WS:      handler.NewWSHandler(manager, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(verifier, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Abandon live sessions so their countdowns and autosave pipelines stop.
	manager.Close()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
