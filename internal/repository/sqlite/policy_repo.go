package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/repository"
)

// policyRepository implements repository.PolicyRepository for SQLite.
type policyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new SQLite policy configuration repository.
func NewPolicyRepository(db *DB) repository.PolicyRepository {
	return &policyRepository{db: db}
}

// Get retrieves the singleton configuration row.
func (r *policyRepository) Get(ctx context.Context) (*domain.PolicyConfig, error) {
	query := `
		SELECT id, inactivity_threshold_hours, daily_reactivate_hour,
		       daily_reactivate_minute, last_sweep_at, updated_at
		FROM policy_config
		WHERE id = ?
	`

	cfg := &domain.PolicyConfig{}
	var (
		lastSweepAt sql.NullString
		updatedAt   string
	)

	err := r.db.QueryRowContext(ctx, query, domain.PolicyConfigID).Scan(
		&cfg.ID,
		&cfg.InactivityThresholdHours,
		&cfg.DailyReactivateHour,
		&cfg.DailyReactivateMinute,
		&lastSweepAt,
		&updatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get policy config: %w", err)
	}

	cfg.LastSweepAt = parseNullTime(lastSweepAt)
	cfg.UpdatedAt = parseTime(updatedAt)

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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		domain.PolicyConfigID,
		cfg.InactivityThresholdHours,
		cfg.DailyReactivateHour,
		cfg.DailyReactivateMinute,
		nullTime(cfg.LastSweepAt),
		formatTime(cfg.UpdatedAt),
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
			inactivity_threshold_hours = ?, daily_reactivate_hour = ?,
			daily_reactivate_minute = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		cfg.InactivityThresholdHours,
		cfg.DailyReactivateHour,
		cfg.DailyReactivateMinute,
		formatTime(cfg.UpdatedAt),
		domain.PolicyConfigID,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy config: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrPolicyNotFound
	}

	return nil
}

// CompleteSweep conditionally records the sweep as done for the window
// identified by boundary. The WHERE clause is the compare-and-swap that
// keeps the sweep idempotent per window across process instances.
func (r *policyRepository) CompleteSweep(ctx context.Context, boundary time.Time) (bool, error) {
	query := `
		UPDATE policy_config
		SET last_sweep_at = ?, updated_at = ?
		WHERE id = ? AND (last_sweep_at IS NULL OR last_sweep_at < ?)
	`

	b := formatTime(boundary)
	result, err := r.db.ExecContext(ctx, query, b, formatTime(time.Now().UTC()), domain.PolicyConfigID, b)
	if err != nil {
		return false, fmt.Errorf("failed to record sweep completion: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n > 0, nil
}
