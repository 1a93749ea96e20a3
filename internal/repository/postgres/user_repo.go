package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/repository"
)

// userRepository implements repository.UserRepository for PostgreSQL.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `
	id, external_id, name, trust_level, remote_key_id, is_banned,
	key_auto_disabled, auto_disabled_at, last_known_usage,
	created_at, last_login_at, last_activity_at, updated_at
`

// Create creates a new tracked user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (
			external_id, name, trust_level, remote_key_id, is_banned,
			key_auto_disabled, auto_disabled_at, last_known_usage,
			created_at, last_login_at, last_activity_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		user.ExternalID,
		user.Name,
		user.TrustLevel,
		user.RemoteKeyID,
		user.IsBanned,
		user.KeyAutoDisabled,
		user.AutoDisabledAt,
		user.LastKnownUsage,
		user.CreatedAt,
		user.LastLoginAt,
		user.LastActivityAt,
		user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: external ID %q", domain.ErrUserAlreadyExists, user.ExternalID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by internal ID.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByExternalID retrieves a user by identity-provider ID.
func (r *userRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`
	return r.scanUser(r.db.Pool.QueryRow(ctx, query, externalID))
}

// Update updates an existing user record.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users SET
			name = $1, trust_level = $2, remote_key_id = $3, is_banned = $4,
			key_auto_disabled = $5, auto_disabled_at = $6, last_known_usage = $7,
			last_login_at = $8, last_activity_at = $9, updated_at = $10
		WHERE id = $11
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		user.Name,
		user.TrustLevel,
		user.RemoteKeyID,
		user.IsBanned,
		user.KeyAutoDisabled,
		user.AutoDisabledAt,
		user.LastKnownUsage,
		user.LastLoginAt,
		user.LastActivityAt,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// UpdateActivity persists the usage counter and optionally the activity timestamp.
func (r *userRepository) UpdateActivity(ctx context.Context, id int64, lastKnownUsage int64, lastActivityAt *time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	now := time.Now().UTC()

	if lastActivityAt != nil {
		query := `UPDATE users SET last_known_usage = $1, last_activity_at = $2, updated_at = $3 WHERE id = $4`
		tag, err = r.db.Pool.Exec(ctx, query, lastKnownUsage, *lastActivityAt, now, id)
	} else {
		query := `UPDATE users SET last_known_usage = $1, updated_at = $2 WHERE id = $3`
		tag, err = r.db.Pool.Exec(ctx, query, lastKnownUsage, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update user activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// UpdateLastLogin persists the last login timestamp.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE users SET last_login_at = $1, updated_at = $2 WHERE id = $3`

	tag, err := r.db.Pool.Exec(ctx, query, at, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// SetAutoDisabled marks the user's key as auto-disabled.
func (r *userRepository) SetAutoDisabled(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE users SET key_auto_disabled = TRUE, auto_disabled_at = $1, updated_at = $2 WHERE id = $3`

	tag, err := r.db.Pool.Exec(ctx, query, at, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set auto-disabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// ClearAutoDisabled clears the auto-disabled flag and timestamp.
func (r *userRepository) ClearAutoDisabled(ctx context.Context, id int64) error {
	query := `UPDATE users SET key_auto_disabled = FALSE, auto_disabled_at = NULL, updated_at = $1 WHERE id = $2`

	tag, err := r.db.Pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear auto-disabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// ListWithRemoteKey returns all non-banned users with a provisioned remote key.
func (r *userRepository) ListWithRemoteKey(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE remote_key_id IS NOT NULL AND is_banned = FALSE
		ORDER BY id
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *userRepository) scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}

	err := row.Scan(
		&user.ID,
		&user.ExternalID,
		&user.Name,
		&user.TrustLevel,
		&user.RemoteKeyID,
		&user.IsBanned,
		&user.KeyAutoDisabled,
		&user.AutoDisabledAt,
		&user.LastKnownUsage,
		&user.CreatedAt,
		&user.LastLoginAt,
		&user.LastActivityAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return user, nil
}

// isUniqueViolation checks for PostgreSQL unique constraint violations.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
