package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocx/wafcore/internal/broadcast"
	"github.com/ocx/wafcore/internal/config"
	"github.com/ocx/wafcore/internal/decision"
	"github.com/ocx/wafcore/internal/eventlog"
	"github.com/ocx/wafcore/internal/gateway"
	"github.com/ocx/wafcore/internal/geo"
	"github.com/ocx/wafcore/internal/inference"
	"github.com/ocx/wafcore/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	boundedStore := openStore(cfg, logger)
	defer boundedStore.Close()

	geoResolver := openGeo(cfg, logger)
	defer geoResolver.Close()

	var eventLog *eventlog.Store
	if cfg.DatabaseURL != "" {
		eventLog, err = eventlog.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("event log unavailable, persistence disabled", "error", err)
		} else {
			defer eventLog.Close()
		}
	} else {
		logger.Warn("DATABASE_URL not set, persistence disabled")
	}

	inferenceClient := inference.NewClient(cfg.AIServiceURL, cfg.AIRequestTimeout)
	engine := decision.New(boundedStore, inferenceClient, cfg, logger)
	hub := broadcast.NewHub(logger)

	core := gateway.NewCore()
	core.Config = cfg
	core.Store = boundedStore
	core.Geo = geoResolver
	core.Engine = engine
	core.EventLog = eventLog
	core.Hub = hub
	core.Inference = inferenceClient
	core.Upgrader = broadcast.NewUpgrader(allowedWSOrigins(), logger)
	core.Log = logger

	router := gateway.NewRouter(core, allowedCORSOrigins())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("waf-core starting", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	logger.Info("server stopped")
}

// openStore prefers Redis and falls back to the in-memory store when
// Redis is unreachable at boot, the way the teacher's fabric adapters
// degrade rather than refuse to start.
func openStore(cfg *config.Config, logger *slog.Logger) store.Store {
	addr := cfg.RedisHost + ":" + cfg.RedisPort
	redisStore, err := store.NewRedisStore(addr, cfg.RedisPassword, logger)
	if err != nil {
		logger.Warn("redis unreachable at boot, falling back to in-memory store", "error", err)
		return store.NewMemoryStore(logger)
	}
	return redisStore
}

func openGeo(cfg *config.Config, logger *slog.Logger) *geo.Resolver {
	if cfg.GeoIPDBPath == "" {
		return geo.NewMockOnly(logger)
	}
	resolver, err := geo.Open(cfg.GeoIPDBPath, logger)
	if err != nil {
		logger.Warn("geoip database unavailable, falling back to mock resolver", "error", err)
		return geo.NewMockOnly(logger)
	}
	return resolver
}

func allowedCORSOrigins() []string {
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		return splitCSV(v)
	}
	return nil
}

func allowedWSOrigins() []string {
	if v := os.Getenv("WS_ALLOWED_ORIGINS"); v != "" {
		return splitCSV(v)
	}
	return nil
}

func splitCSV(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
