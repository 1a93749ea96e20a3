// Package postgres provides the PostgreSQL database backend for Keysmith.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/repository"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the PostgreSQL connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DB wraps a pgx connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection pool and ensures the schema.
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	if logger.GetLevel() <= zerolog.DebugLevel {
		poolConfig.ConnConfig.Tracer = &queryTracer{logger: logger}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		Pool:   pool,
		logger: logger,
	}

	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to PostgreSQL")

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	db.Pool.Close()
	db.logger.Info().Msg("database connection pool closed")
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// NewRepositories returns the repository set backed by this pool.
func NewRepositories(db *DB) *repository.Repositories {
	return &repository.Repositories{
		Users:  NewUserRepository(db),
		Policy: NewPolicyRepository(db),
	}
}

// migrate ensures the schema exists.
func (db *DB) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id                 BIGSERIAL PRIMARY KEY,
			external_id        TEXT        NOT NULL UNIQUE,
			name               TEXT        NOT NULL,
			trust_level        INT         NOT NULL DEFAULT 0,
			remote_key_id      BIGINT,
			is_banned          BOOLEAN     NOT NULL DEFAULT FALSE,
			key_auto_disabled  BOOLEAN     NOT NULL DEFAULT FALSE,
			auto_disabled_at   TIMESTAMPTZ,
			last_known_usage   BIGINT      NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ NOT NULL,
			last_login_at      TIMESTAMPTZ,
			last_activity_at   TIMESTAMPTZ,
			updated_at         TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_remote_key
			ON users (remote_key_id) WHERE remote_key_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS policy_config (
			id                          BIGINT PRIMARY KEY,
			inactivity_threshold_hours  INT         NOT NULL,
			daily_reactivate_hour       INT         NOT NULL,
			daily_reactivate_minute     INT         NOT NULL,
			last_sweep_at               TIMESTAMPTZ,
			updated_at                  TIMESTAMPTZ NOT NULL
		);
	`

	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	return nil
}

// queryTracer logs queries at debug level.
type queryTracer struct {
	logger zerolog.Logger
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	t.logger.Debug().Str("sql", data.SQL).Msg("executing query")
	return ctx
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		t.logger.Debug().Err(data.Err).Msg("query failed")
	}
}
