package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nbyrd/staggerd/internal/alert"
	"github.com/nbyrd/staggerd/internal/app/migrate"
	httpx "github.com/nbyrd/staggerd/internal/http"
	"github.com/nbyrd/staggerd/internal/repository/postgres"
	"github.com/nbyrd/staggerd/internal/service/deployment"
	"github.com/nbyrd/staggerd/internal/service/inventory"
	"github.com/nbyrd/staggerd/internal/service/sweep"
	"github.com/nbyrd/staggerd/internal/service/target"
	"github.com/nbyrd/staggerd/internal/targetcache"
	"github.com/nbyrd/staggerd/internal/ws"
	"github.com/nbyrd/staggerd/pkg/config"
	"github.com/nbyrd/staggerd/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrate.Up(ctx, cfg.DatabaseURL, cfg.MigrationsDir, log); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	cache := targetcache.NewMemoryStore()
	if addr := strings.TrimSpace(cfg.CacheRedisAddr); addr != "" {
		redisCache, err := targetcache.NewRedisStore(addr, cfg.CacheRedisPass, cfg.CacheRedisDB, cfg.CacheKeyPrefix, log)
		if err != nil {
			log.Warn("redis target cache unavailable, using in-process store", "error", err)
		} else {
			cache = redisCache
		}
	}
	defer cache.Close()

	eventHub := ws.NewHub()
	defer eventHub.Close()

	targetSvc := target.New(repo, repo, repo, cache, log)
	inventorySvc := inventory.New(repo, repo, targetSvc, log)
	deploymentSvc := deployment.New(repo, repo, targetSvc, log)

	sinks := []alert.Sink{
		alert.LogSink{Logger: log},
		alert.HubSink{Hub: eventHub},
	}
	sweeper := sweep.New(repo, targetSvc, sinks, log, sweep.Options{
		Interval:       cfg.SweepInterval,
		AlignMidnight:  cfg.SweepAtMidnight,
		Parallelism:    cfg.SweepParallelism,
		RebuildTimeout: cfg.RebuildTimeout,
	})
	if sweeper != nil {
		go sweeper.Run(ctx)
	}

	router := httpx.NewRouter(log, inventorySvc, deploymentSvc, targetSvc, eventHub, cfg.TriggerAuthToken, pool.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
