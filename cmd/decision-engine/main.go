// cmd/decision-engine/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loan-engine/internal/agents"
	"loan-engine/internal/common/config"
	"loan-engine/internal/common/database"
	"loan-engine/internal/common/logger"
	"loan-engine/internal/common/observability"
	"loan-engine/internal/llm"
	"loan-engine/internal/notify"
	"loan-engine/internal/store"
	"loan-engine/internal/workflow"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// newMux assembles the full route table: API routes, metrics, health and
// the pprof handlers, which must be mounted explicitly since the server
// does not use the default mux.
func newMux(srv *server) *http.ServeMux {
	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	return mux
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting decision engine...",
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New("decision-engine")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Postgres with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pg.Ping(pingCtx)
	}, 5, 2*time.Second, zapLog, "Postgres connection")
	if err != nil {
		zapLog.Fatal("postgres unavailable", zap.Error(err))
	}
	defer pg.Close()

	// --- Redis (optional: engine degrades to uncached scoring) ---
	var matrixCache *store.MatrixCache
	if cfg.Database.Redis.Address != "" {
		redisClient, err := database.NewRedis(cfg.Database.Redis)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = redisClient.Ping(pingCtx)
			cancel()
		}
		if err != nil {
			zapLog.Warn("redis unavailable, risk matrix caching disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			matrixCache = store.NewMatrixCache(
				redisClient.Client,
				time.Duration(cfg.Engine.CacheTTL)*time.Second,
				log,
			)
		}
	}

	// --- Stores ---
	pgStore := store.NewPostgresStore(pg.DB, log)
	var auditSink workflow.AuditStore = pgStore

	// --- Elasticsearch audit indexing (optional, best effort) ---
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, audit indexing disabled", zap.Error(err))
		} else {
			auditSink = store.NewAuditIndexer(esClient.Client, cfg.Database.Elasticsearch.Index, pgStore, log)
		}
	}

	// --- Evaluator capability and roles ---
	capability := llm.NewClient(cfg.LLM, log)
	timeout := capability.Timeout()

	orchestrator := workflow.NewOrchestrator(workflow.Options{
		Sales:           agents.NewSales(capability, timeout, log),
		Risk:            agents.NewRisk(capability, timeout, log),
		Compliance:      agents.NewCompliance(capability, timeout, log),
		Moderator:       agents.NewModerator(capability, timeout, log),
		Memos:           pgStore,
		Audit:           auditSink,
		Loans:           pgStore,
		MaxDebateRounds: cfg.Engine.MaxDebateRounds,
		Logger:          log,
	})

	notifier, err := notify.New(ctx, cfg.Notifications, log)
	if err != nil {
		zapLog.Fatal("notifier init failed", zap.Error(err))
	}

	srv := newServer(serverDeps{
		Orchestrator: orchestrator,
		Store:        pgStore,
		Cache:        matrixCache,
		Notifier:     notifier,
		Obs:          obs,
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: newMux(srv),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP shutdown failed", zap.Error(err))
	}
}
