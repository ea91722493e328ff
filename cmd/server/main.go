// Command server runs the automation backend: the HTTP API for inbound
// events and operations, plus the background dispatch loop that drains the
// outbound queue.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replyflow/go-autoreply-backend/internal/config"
	"github.com/replyflow/go-autoreply-backend/internal/delivery"
	httpapi "github.com/replyflow/go-autoreply-backend/internal/http"
	"github.com/replyflow/go-autoreply-backend/internal/observability"
	"github.com/replyflow/go-autoreply-backend/internal/reply"
	"github.com/replyflow/go-autoreply-backend/internal/repo"
	"github.com/replyflow/go-autoreply-backend/internal/services"
	"github.com/replyflow/go-autoreply-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	hostname, _ := os.Hostname()
	workerID := sysutil.FirstNonEmpty(os.Getenv("WORKER_ID"), hostname, "dispatch")

	messenger := delivery.NewClient(cfg.MessagingAPIURL)
	limiter := services.NewRateLimiter(db)
	limiter.PerMinute = cfg.Dispatch.SendsPerMinute

	dispatcher := services.NewDispatcher(db, limiter, messenger, workerID)
	dispatcher.BatchSize = cfg.Dispatch.BatchSize
	dispatcher.MaxAttempts = cfg.Dispatch.MaxAttempts
	dispatcher.BackoffBase = cfg.Dispatch.BackoffBase
	dispatcher.StuckTimeout = cfg.Dispatch.StuckTimeout

	engine := services.NewDecisionEngine(db, limiter, messenger, reply.NewTemplateGenerator())
	engine.FollowUpWindow = cfg.Dispatch.FollowUpWindow
	engine.BackoffBase = cfg.Dispatch.BackoffBase

	r := gin.New()
	httpapi.RegisterRoutes(r, db, engine, dispatcher, cfg)

	// Background sweep loop; stops with the signal context.
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx, cfg.Dispatch.SweepInterval)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	// Drain in-flight requests, then wait for the dispatch loop to exit.
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	<-dispatchDone

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}
