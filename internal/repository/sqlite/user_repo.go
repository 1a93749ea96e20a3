package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		user.ExternalID,
		user.Name,
		user.TrustLevel,
		nullInt64(user.RemoteKeyID),
		boolToInt(user.IsBanned),
		boolToInt(user.KeyAutoDisabled),
		nullTime(user.AutoDisabledAt),
		user.LastKnownUsage,
		formatTime(user.CreatedAt),
		nullTime(user.LastLoginAt),
		nullTime(user.LastActivityAt),
		formatTime(user.UpdatedAt),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: external ID %q", domain.ErrUserAlreadyExists, user.ExternalID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	user.ID = id

	return nil
}

// GetByID retrieves a user by internal ID.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByExternalID retrieves a user by identity-provider ID.
func (r *userRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, externalID))
}

// Update updates an existing user record.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users SET
			name = ?, trust_level = ?, remote_key_id = ?, is_banned = ?,
			key_auto_disabled = ?, auto_disabled_at = ?, last_known_usage = ?,
			last_login_at = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		user.Name,
		user.TrustLevel,
		nullInt64(user.RemoteKeyID),
		boolToInt(user.IsBanned),
		boolToInt(user.KeyAutoDisabled),
		nullTime(user.AutoDisabledAt),
		user.LastKnownUsage,
		nullTime(user.LastLoginAt),
		nullTime(user.LastActivityAt),
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return checkAffected(result)
}

// UpdateActivity persists the usage counter and optionally the activity timestamp.
func (r *userRepository) UpdateActivity(ctx context.Context, id int64, lastKnownUsage int64, lastActivityAt *time.Time) error {
	now := formatTime(time.Now().UTC())

	var (
		result sql.Result
		err    error
	)
	if lastActivityAt != nil {
		query := `UPDATE users SET last_known_usage = ?, last_activity_at = ?, updated_at = ? WHERE id = ?`
		result, err = r.db.ExecContext(ctx, query, lastKnownUsage, formatTime(*lastActivityAt), now, id)
	} else {
		query := `UPDATE users SET last_known_usage = ?, updated_at = ? WHERE id = ?`
		result, err = r.db.ExecContext(ctx, query, lastKnownUsage, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update user activity: %w", err)
	}

	return checkAffected(result)
}

// UpdateLastLogin persists the last login timestamp.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, formatTime(at), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return checkAffected(result)
}

// SetAutoDisabled marks the user's key as auto-disabled.
func (r *userRepository) SetAutoDisabled(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE users SET key_auto_disabled = 1, auto_disabled_at = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, formatTime(at), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to set auto-disabled: %w", err)
	}

	return checkAffected(result)
}

// ClearAutoDisabled clears the auto-disabled flag and timestamp.
func (r *userRepository) ClearAutoDisabled(ctx context.Context, id int64) error {
	query := `UPDATE users SET key_auto_disabled = 0, auto_disabled_at = NULL, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to clear auto-disabled: %w", err)
	}

	return checkAffected(result)
}

// ListWithRemoteKey returns all non-banned users with a provisioned remote key.
func (r *userRepository) ListWithRemoteKey(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE remote_key_id IS NOT NULL AND is_banned = 0
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
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

// rowScanner abstracts *sql.Row and *sql.Rows for scanUser.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *userRepository) scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var (
		remoteKeyID              sql.NullInt64
		isBanned, autoDisabled   int
		autoDisabledAt           sql.NullString
		createdAt, updatedAt     string
		lastLoginAt, lastActivAt sql.NullString
	)

	err := row.Scan(
		&user.ID,
		&user.ExternalID,
		&user.Name,
		&user.TrustLevel,
		&remoteKeyID,
		&isBanned,
		&autoDisabled,
		&autoDisabledAt,
		&user.LastKnownUsage,
		&createdAt,
		&lastLoginAt,
		&lastActivAt,
		&updatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if remoteKeyID.Valid {
		user.RemoteKeyID = &remoteKeyID.Int64
	}
	user.IsBanned = isBanned != 0
	user.KeyAutoDisabled = autoDisabled != 0
	user.AutoDisabledAt = parseNullTime(autoDisabledAt)
	user.CreatedAt = parseTime(createdAt)
	user.LastLoginAt = parseNullTime(lastLoginAt)
	user.LastActivityAt = parseNullTime(lastActivAt)
	user.UpdatedAt = parseTime(updatedAt)

	return user, nil
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
