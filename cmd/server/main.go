package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"edahub-backend/internal/api"
	"edahub-backend/internal/bus"
	"edahub-backend/internal/chartstore"
	"edahub-backend/internal/config"
	"edahub-backend/internal/hub"
	"edahub-backend/internal/ingest"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ctx := context.Background()

	dataHub := hub.New(logger)

	if cfg.NatsURL != "" {
		publisher, err := bus.NewPublisher(cfg.NatsURL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
		dataHub.Attach(publisher)
		logger.Info("nats mirror enabled", slog.String("url", cfg.NatsURL))
	}

	var charts chartstore.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := chartstore.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to db", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pgStore.Close()
		charts = pgStore
	} else {
		charts = chartstore.NewMemoryStore()
		logger.Info("using in-memory chart store")
	}

	limits := ingest.Limits{
		PushRows:       cfg.PushRows,
		SerialRows:     cfg.SerialRows,
		PollIntervalMs: cfg.PollInterval,
	}
	manager := ingest.NewManager(limits, dataHub, logger)
	defer manager.Close()

	handler := &api.Handler{
		Manager: manager,
		Charts:  charts,
		Hub:     dataHub,
		Logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("edahub-backend listening", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}
