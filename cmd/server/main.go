// Command cf-progress starts the student progress tracker HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mkarpenko/cf-progress/internal/codeforces"
	"github.com/mkarpenko/cf-progress/internal/config"
	"github.com/mkarpenko/cf-progress/internal/mailer"
	"github.com/mkarpenko/cf-progress/internal/migrate"
	"github.com/mkarpenko/cf-progress/internal/pacer"
	"github.com/mkarpenko/cf-progress/internal/repository/postgres"
	"github.com/mkarpenko/cf-progress/internal/scheduler"
	httpserver "github.com/mkarpenko/cf-progress/internal/server/http"
	"github.com/mkarpenko/cf-progress/internal/service"
	"github.com/mkarpenko/cf-progress/internal/synclock"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and starts the HTTP server with
// the background scheduler.
func main() {
	cfg, dotenv := config.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("port", cfg.APIPort),
		zap.Bool("dotenv", dotenv),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := &postgres.DB{Pool: pool}
	studentRepo := postgres.NewStudentRepo(db)
	settingsRepo := postgres.NewSettingsRepo(db)

	// Remote client with paced calls
	cf := codeforces.New(codeforces.Config{
		BaseURL: cfg.CodeforcesBaseURL,
		Key:     cfg.CodeforcesKey,
		Secret:  cfg.CodeforcesSecret,
		Timeout: cfg.CodeforcesTimeout,
	}, pacer.New(cfg.CodeforcesInterval), logger)

	// Per-handle sync leases
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()
	locks := synclock.NewRedis(rdb, cfg.SyncLockTTL)

	// Services
	syncSvc := service.NewSyncService(studentRepo, cf, locks, logger)
	studentSvc := service.NewStudentService(studentRepo, syncSvc, logger)

	mail, err := mailer.New(mailer.Config{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.MailFromEmail,
		FromName:  cfg.MailFromName,
	}, logger)
	if err != nil {
		logger.Fatal("mailer", zap.Error(err))
	}
	inactivitySvc := service.NewInactivityService(studentRepo, mail, logger)

	// Scheduler with the DB-stored cron schedule
	sched := scheduler.New(syncSvc, inactivitySvc, settingsRepo, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := httpserver.New(":"+cfg.APIPort, studentSvc, syncSvc, settingsRepo, sched, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
