package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sourcestats/collector/internal/archive"
	"github.com/sourcestats/collector/internal/config"
	"github.com/sourcestats/collector/internal/handlers"
	"github.com/sourcestats/collector/internal/ingress"
	"github.com/sourcestats/collector/internal/parser"
	"github.com/sourcestats/collector/internal/presence"
	"github.com/sourcestats/collector/internal/processor"
	"github.com/sourcestats/collector/internal/store"
	"github.com/sourcestats/collector/internal/weapons"
)

func main() {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		// A second signal skips the graceful drain.
		sig = <-sigCh
		logger.Warn("forced exit", zap.String("signal", sig.String()))
		os.Exit(1)
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("collector starting",
		zap.Int("ingress_port", cfg.IngressPort),
		zap.Int("workers", cfg.IngressWorkers),
		zap.Bool("skip_auth", cfg.SkipAuth),
		zap.Bool("log_bots", cfg.LogBots),
		zap.String("env", cfg.Env),
	)
	if cfg.SkipAuth && !cfg.IsDevelopment() {
		return fmt.Errorf("SKIP_AUTH requires ENV=development")
	}

	st, err := store.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("postgres connected")

	var tracker *presence.Tracker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rdb.Close()
		tracker = presence.NewTracker(rdb, logger)
		logger.Info("redis connected")
	} else {
		logger.Info("redis disabled, presence falls back to postgres")
	}

	var archiver *archive.Writer
	if cfg.ClickHouseURL != "" {
		chOpts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
		if err != nil {
			return fmt.Errorf("clickhouse url: %w", err)
		}
		conn, err := clickhouse.Open(chOpts)
		if err != nil {
			return fmt.Errorf("clickhouse open: %w", err)
		}
		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("clickhouse ping: %w", err)
		}
		defer conn.Close()
		archiver = archive.NewWriter(conn, logger)
		logger.Info("clickhouse connected")
	} else {
		logger.Info("clickhouse disabled, event archive off")
	}

	catalog := weapons.NewCatalog(st, logger)

	playerHandler := handlers.NewPlayerHandler(st, logger)
	weaponHandler := handlers.NewWeaponHandler(st, catalog, logger)
	matchHandler := handlers.NewMatchHandler(st, logger)

	var rankingPresence handlers.Presence
	if tracker != nil {
		rankingPresence = tracker
	}
	rankingHandler := handlers.NewRankingHandler(st, catalog, rankingPresence, logger)

	var archiverSink processor.Archiver
	if archiver != nil {
		archiverSink = archiver
	}
	var presenceSink processor.PresenceTracker
	if tracker != nil {
		presenceSink = tracker
	}
	proc := processor.New(
		st,
		[]handlers.Handler{playerHandler, weaponHandler, matchHandler, rankingHandler},
		presenceSink,
		archiverSink,
		processor.Options{LogBots: cfg.LogBots},
		logger,
	)

	in := ingress.New(st, parser.New(), proc, ingress.Options{
		Addr:          fmt.Sprintf(":%d", cfg.IngressPort),
		Workers:       cfg.IngressWorkers,
		QueueSize:     cfg.QueueSize,
		SkipAuth:      cfg.SkipAuth,
		ShutdownGrace: cfg.ShutdownGrace,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return in.Run(gctx)
	})

	if archiver != nil {
		g.Go(func() error {
			return archiver.Run(gctx)
		})
	}

	if cfg.OpsPort != 0 {
		g.Go(func() error {
			return runOps(gctx, cfg, logger)
		})
	}

	err = g.Wait()
	logger.Info("collector stopped")
	return err
}

// runOps serves liveness and Prometheus metrics on the side listener.
func runOps(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops listener up", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
