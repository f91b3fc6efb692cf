package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/agent"
	"github.com/emirozbir/alertflow/internal/api"
	"github.com/emirozbir/alertflow/internal/cache"
	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/database"
	"github.com/emirozbir/alertflow/internal/delivery"
	"github.com/emirozbir/alertflow/internal/enrichment"
	"github.com/emirozbir/alertflow/internal/metrics"

	_ "github.com/emirozbir/alertflow/internal/providers/alertmanager"
	_ "github.com/emirozbir/alertflow/internal/providers/kafka"
	_ "github.com/emirozbir/alertflow/internal/providers/kubernetes"
	_ "github.com/emirozbir/alertflow/internal/providers/llm"
	_ "github.com/emirozbir/alertflow/internal/providers/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration and follow later edits. Only the latest pending
	// revision is kept.
	reloads := make(chan *config.Config, 1)
	cfg, err := config.Watch(*configPath, logger, func(cfg *config.Config) {
		select {
		case <-reloads:
		default:
		}
		reloads <- cfg
	})
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting alertflow server",
		zap.String("version", "0.1.0"),
		zap.Int("tenants", len(cfg.Tenants)),
		zap.String("delivery_url", cfg.Delivery.APIURL),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database initialized", zap.String("path", cfg.Database.Path))

	var enrichments enrichment.Store = db
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, enrichment lookups will hit the database", zap.Error(err))
		}
		enrichments = cache.New(db, client, cfg.Redis.TTL, logger, m)
		logger.Info("Enrichment cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	pusher := delivery.NewClient(cfg.Delivery.APIURL, cfg.Delivery.Timeout)

	consumer := agent.NewAgent(enrichments, pusher, m, logger)
	consumer.Start(ctx, cfg)
	defer consumer.Stop()

	// Setup HTTP server
	handler := api.NewHandler(cfg, db, enrichments, pusher, m, logger)
	router := api.SetupRoutes(handler, registry)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-reloads:
				handler.UpdateConfig(cfg)
				consumer.Reload(ctx, cfg)
				logger.Info("Configuration reloaded", zap.Int("tenants", len(cfg.Tenants)))
			}
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Server listening", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}
