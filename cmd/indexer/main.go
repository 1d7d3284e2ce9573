package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samuelhorjet/solana-forge/internal/alert"
	"github.com/samuelhorjet/solana-forge/internal/config"
	"github.com/samuelhorjet/solana-forge/internal/events"
	"github.com/samuelhorjet/solana-forge/internal/history"
	"github.com/samuelhorjet/solana-forge/internal/locks"
	"github.com/samuelhorjet/solana-forge/internal/metadata"
	"github.com/samuelhorjet/solana-forge/internal/server"
	"github.com/samuelhorjet/solana-forge/internal/solana/ratelimit"
	"github.com/samuelhorjet/solana-forge/internal/solana/rpc"
	"github.com/samuelhorjet/solana-forge/internal/store"
	postgresstore "github.com/samuelhorjet/solana-forge/internal/store/postgres"
	redisstore "github.com/samuelhorjet/solana-forge/internal/store/redis"
	"github.com/samuelhorjet/solana-forge/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting forge-indexer",
		"rpc", cfg.Solana.RPCURL,
		"cluster", cfg.Solana.Cluster,
		"store", cfg.Store.Backend,
		"identities", len(cfg.Identities),
		"interval", cfg.Reconcile.Interval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "forge-indexer", cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	historyStore, err := newHistoryStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer historyStore.Close()

	limiter := ratelimit.NewLimiter(cfg.Solana.RateLimitRPS, cfg.Solana.RateLimitBurst)
	ledger := rpc.NewClient(cfg.Solana.RPCURL, limiter, logger)
	decoder := events.NewDecoder(logger)
	resolver := metadata.NewResolver(ledger, cfg.Reconcile.MetadataCache, cfg.Reconcile.MetadataTTL, logger)

	var alerter alert.Alerter = &alert.NoopAlerter{}
	if cfg.Alert.WebhookURL != "" {
		alerter = alert.NewMultiAlerter(cfg.Alert.Cooldown, logger,
			alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}

	reconcilers := make([]*history.Reconciler, 0, len(cfg.Identities))
	for _, identity := range cfg.Identities {
		reconcilers = append(reconcilers, history.NewReconciler(
			identity, ledger, decoder, resolver, historyStore, logger,
			history.WithFetchLimit(cfg.Reconcile.FetchLimit),
			history.WithTracer(tracing.Tracer("history")),
		))
	}
	svc := history.NewService(reconcilers, cfg.Reconcile.Interval, cfg.Reconcile.AlertThreshold, alerter, cfg.Solana.Cluster, logger)

	lister := locks.NewLister(ledger, resolver, logger)
	api := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.New(svc, lister, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gCtx)
	})
	g.Go(func() error {
		logger.Info("api server listening", "addr", api.Addr)
		if err := api.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return api.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("indexer exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("indexer stopped")
}

func newHistoryStore(ctx context.Context, cfg *config.Config) (store.HistoryStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		return redisstore.NewHistoryStore(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB, cfg.Store.RedisTTL)
	case "postgres":
		db, err := postgresstore.Open(ctx, cfg.Store.PostgresURL, cfg.Store.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		return postgresstore.NewHistoryStore(db), nil
	default:
		return store.NewMemoryStore(), nil
	}
}
