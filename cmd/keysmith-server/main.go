// Package main is the entry point for the Keysmith server.
// Keysmith tracks key holders of a remote key service and enforces an
// inactivity policy: idle keys are disabled, and a daily window
// reactivates them in bulk.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quartzlab/keysmith/internal/config"
	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/handler"
	"github.com/quartzlab/keysmith/internal/lock"
	"github.com/quartzlab/keysmith/internal/metrics"
	"github.com/quartzlab/keysmith/internal/repository"
	"github.com/quartzlab/keysmith/internal/repository/postgres"
	"github.com/quartzlab/keysmith/internal/repository/sqlite"
	"github.com/quartzlab/keysmith/internal/service"
	"github.com/quartzlab/keysmith/internal/upstream"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	setupLogger(cfg.Logging)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting keysmith server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}

	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.Logger

	repos, health, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer health.Close()

	locker, lockerCleanup := newLocker(ctx, cfg, logger)
	defer lockerCleanup()

	m := metrics.New()

	keys := upstream.NewClient(upstream.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		AdminToken:      cfg.Upstream.AdminToken,
		SessionUser:     cfg.Upstream.SessionUser,
		SessionPassword: cfg.Upstream.SessionPassword,
		Timeout:         cfg.Upstream.Timeout,
	}, m, logger)

	policyService := service.NewPolicyService(repos.Policy, domain.PolicyConfig{
		ID:                       domain.PolicyConfigID,
		InactivityThresholdHours: cfg.Policy.InactivityThresholdHours,
		DailyReactivateHour:      cfg.Policy.DailyReactivateHour,
		DailyReactivateMinute:    cfg.Policy.DailyReactivateMinute,
	}, logger)
	sweeper := service.NewSweeper(repos.Users, repos.Policy, policyService, keys, locker, m, logger, service.SweepConfig{
		Concurrency: cfg.Sweep.Concurrency,
		LockTTL:     cfg.Sweep.LockTTL,
	})
	evaluator := service.NewEvaluator(repos.Users, policyService, sweeper, keys, m, logger)
	userService := service.NewUserService(repos.Users, keys, sweeper, m, logger)

	router := handler.NewRouter(handler.RouterConfig{
		UserHandler:  handler.NewUserHandler(userService, evaluator, logger),
		AdminHandler: handler.NewAdminHandler(policyService, sweeper, keys, logger),
		Health:       health,
		AdminHash:    cfg.Admin.TokenHash,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	return nil
}

// openDatabase opens the configured backend and returns its repositories.
func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*repository.Repositories, repository.DatabaseHealth, error) {
	if cfg.Database.IsEmbedded() {
		db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(cfg.Database.Path), logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("driver", "sqlite").Str("path", cfg.Database.Path).Msg("database connected")
		return sqlite.NewRepositories(db), db, nil
	}

	db, err := postgres.NewDB(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("driver", "postgres").Str("host", cfg.Database.Host).Msg("database connected")
	return postgres.NewRepositories(db), db, nil
}

// newLocker returns the Redis advisory locker when Redis is enabled and
// reachable, falling back to the in-process locker otherwise.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, func()) {
	if !cfg.Redis.Enabled {
		logger.Info().Msg("redis disabled, using in-process sweep lock")
		return lock.NewMemoryLocker(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr(),
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, falling back to in-process sweep lock")
		_ = client.Close()
		return lock.NewMemoryLocker(), func() {}
	}

	logger.Info().Str("addr", cfg.Redis.Addr()).Msg("redis connected")
	return lock.NewRedisLocker(client), func() { _ = client.Close() }
}

func setupLogger(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
