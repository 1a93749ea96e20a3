package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/repository"
)

// policyRepository implements repository.PolicyRepository for PostgreSQL.
type policyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new PostgreSQL policy configuration repository.
func NewPolicyRepository(db *DB) repository.PolicyRepository {
	return &policyRepository{db: db}
}

// Get retrieves the singleton configuration row.
func (r *policyRepository) Get(ctx context.Context) (*domain.PolicyConfig, error) {
	query := `
		SELECT id, inactivity_threshold_hours, daily_reactivate_hour,
		       daily_reactivate_minute, last_sweep_at, updated_at
		FROM policy_config
		WHERE id = $1
	`

	cfg := &domain.PolicyConfig{}
	err := r.db.Pool.QueryRow(ctx, query, domain.PolicyConfigID).Scan(
		&cfg.ID,
		&cfg.InactivityThresholdHours,
		&cfg.DailyReactivateHour,
		&cfg.DailyReactivateMinute,
		&cfg.LastSweepAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get policy config: %w", err)
	}

	return cfg, nil
}

// Create inserts the singleton configuration row.
// A concurrent create is not an error; the existing row wins.
func (r *policyRepository) Create(ctx context.Context, cfg *domain.PolicyConfig) error {
	query := `
		INSERT INTO policy_config (
			id, inactivity_threshold_hours, daily_reactivate_hour,
			daily_reactivate_minute, last_sweep_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query,
		domain.PolicyConfigID,
		cfg.InactivityThresholdHours,
		cfg.DailyReactivateHour,
		cfg.DailyReactivateMinute,
		cfg.LastSweepAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy config: %w", err)
	}

	return nil
}

// Update persists the tunable fields. Last write wins.
func (r *policyRepository) Update(ctx context.Context, cfg *domain.PolicyConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE policy_config SET
			inactivity_threshold_hours = $1, daily_reactivate_hour = $2,
			daily_reactivate_minute = $3, updated_at = $4
		WHERE id = $5
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		cfg.InactivityThresholdHours,
		cfg.DailyReactivateHour,
		cfg.DailyReactivateMinute,
		cfg.UpdatedAt,
		domain.PolicyConfigID,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPolicyNotFound
	}

	return nil
}

// CompleteSweep conditionally records the sweep as done for the window
// identified by boundary.
func (r *policyRepository) CompleteSweep(ctx context.Context, boundary time.Time) (bool, error) {
	query := `
		UPDATE policy_config
		SET last_sweep_at = $1, updated_at = $2
		WHERE id = $3 AND (last_sweep_at IS NULL OR last_sweep_at < $1)
	`

	tag, err := r.db.Pool.Exec(ctx, query, boundary, time.Now().UTC(), domain.PolicyConfigID)
	if err != nil {
		return false, fmt.Errorf("failed to record sweep completion: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
