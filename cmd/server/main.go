package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/garnizeh/cftrack/api"
	dbfs "github.com/garnizeh/cftrack/db"
	"github.com/garnizeh/cftrack/internal/config"
	"github.com/garnizeh/cftrack/internal/db"
	"github.com/garnizeh/cftrack/internal/jobs"
	"github.com/garnizeh/cftrack/internal/lock"
	"github.com/garnizeh/cftrack/internal/repository/sqlite"
	"github.com/garnizeh/cftrack/internal/schedule"
	"github.com/garnizeh/cftrack/internal/stats"
	"github.com/garnizeh/cftrack/internal/syncer"
	"github.com/garnizeh/cftrack/pkg/codeforces"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	codeforces.SetLogger(logger)

	logger.Info("starting cftrack server", slog.String("version", version), slog.String("build_time", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	database, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("closing db", slog.Any("err", err))
		}
	}()
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, database, dbfs.Migrations); err != nil {
			return err
		}
	}

	repo := sqlite.New(database, logger)

	client, err := codeforces.NewDefaultClient(cfg.Codeforces)
	if err != nil {
		return err
	}
	defer client.Close()

	var locker syncer.Locker
	if cfg.Redis.Addr != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer closeRedis(rdb, logger)
		locker = lock.NewRedisLocker(rdb, logger)
		logger.Info("batch lock enabled", slog.String("redis", cfg.Redis.Addr), slog.String("key", cfg.Sync.LockKey))
	}

	s := syncer.New(repo, client, locker, cfg.Sync, logger)

	jobRepo := jobs.NewRepository(database)
	pool := jobs.NewWorkerPool(jobRepo, map[string]jobs.Handler{
		jobs.TypeSyncStudent: jobs.SyncStudentHandler(s.Merger(), cfg.Sync.StudentTimeout),
	}, logger, cfg.Jobs.Workers)
	pool.Start(ctx)
	defer pool.Stop()

	sched := schedule.NewController(repo, cfg.Sync.DefaultSchedule, func(ctx context.Context) {
		if _, err := s.SyncAll(ctx); err != nil {
			logger.Error("scheduled sync failed", slog.Any("err", err))
		}
	}, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			logger.Warn("scheduler stop", slog.Any("err", err))
		}
	}()

	handler := api.SetupRoutes(api.Deps{
		Version:     version,
		BuildTime:   buildTime,
		Timeout:     cfg.APITimeout,
		Sync:        s,
		Schedule:    sched,
		Stats:       stats.NewService(repo),
		Jobs:        pool,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Health:      database.GetConn().PingContext,
		Lifetime:    ctx,
	})

	// no WriteTimeout: a manual sync answers only once the batch is done
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.APITimeout,
		ReadTimeout:       cfg.APITimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server exited")
	return nil
}

func closeRedis(rdb *redis.Client, logger *slog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warn("closing redis", slog.Any("err", err))
	}
}
