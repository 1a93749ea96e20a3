package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/repository"
)

func newTestDB(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := NewDB(context.Background(), DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepositories(db)
}

func newStoredUser(t *testing.T, repos *repository.Repositories, externalID string) *domain.User {
	t.Helper()

	user := domain.NewUser(externalID, "alice", 1)
	keyID := int64(42)
	user.RemoteKeyID = &keyID
	require.NoError(t, repos.Users.Create(context.Background(), user))
	require.NotZero(t, user.ID)
	return user
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	repos := newTestDB(t)
	ctx := context.Background()

	user := newStoredUser(t, repos, "ext-1")

	got, err := repos.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "ext-1", got.ExternalID)
	require.Equal(t, "alice", got.Name)
	require.Equal(t, 1, got.TrustLevel)
	require.NotNil(t, got.RemoteKeyID)
	require.Equal(t, int64(42), *got.RemoteKeyID)
	require.False(t, got.KeyAutoDisabled)
	require.NotNil(t, got.LastLoginAt)

	got, err = repos.Users.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
}

func TestUserRepository_DuplicateExternalID(t *testing.T) {
	repos := newTestDB(t)
	ctx := context.Background()

	newStoredUser(t, repos, "ext-1")

	dup := domain.NewUser("ext-1", "other", 0)
	err := repos.Users.Create(ctx, dup)
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)
}

func TestUserRepository_GetMissing(t *testing.T) {
	repos := newTestDB(t)

	_, err := repos.Users.GetByID(context.Background(), 999)
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = repos.Users.GetByExternalID(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_AutoDisableRoundTrip(t *testing.T) {
	repos := newTestDB(t)
	ctx := context.Background()

	user := newStoredUser(t, repos, "ext-1")

	at := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	require.NoError(t, repos.Users.SetAutoDisabled(ctx, user.ID, at))

	got, err := repos.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, got.KeyAutoDisabled)
	require.NotNil(t, got.AutoDisabledAt)
	require.True(t, got.AutoDisabledAt.Equal(at))

	require.NoError(t, repos.Users.ClearAutoDisabled(ctx, user.ID))

	got, err = repos.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, got.KeyAutoDisabled)
	require.Nil(t, got.AutoDisabledAt)
}

func TestUserRepository_UpdateActivity(t *testing.T) {
	repos := newTestDB(t)
	ctx := context.Background()

	user := newStoredUser(t, repos, "ext-1")

	at := time.Date(2026, 3, 10, 5, 30, 0, 0, time.UTC)
	require.NoError(t, repos.Users.UpdateActivity(ctx, user.ID, 77, &at))

	got, err := repos.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(77), got.LastKnownUsage)
	require.NotNil(t, got.LastActivityAt)
	require.True(t, got.LastActivityAt.Equal(at))

	// Counter-only write leaves the activity timestamp alone.
	require.NoError(t, repos.Users.UpdateActivity(ctx, user.ID, 12, nil))

	got, err = repos.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(12), got.LastKnownUsage)
	require.True(t, got.LastActivityAt.Equal(at))

	require.ErrorIs(t, repos.Users.UpdateActivity(ctx, 999, 1, nil), domain.ErrUserNotFound)
}

func TestUserRepository_ListWithRemoteKey(t *testing.T) {
	repos := newTestDB(t)
	ctx := context.Background()

	keyed := newStoredUser(t, repos, "ext-keyed")

	keyless := domain.NewUser("ext-keyless", "bob", 0)
	require.NoError(t, repos.Users.Create(ctx, keyless))

	banned := domain.NewUser("ext-banned", "mallory", 0)
	bannedKey := int64(7)
	banned.RemoteKeyID = &bannedKey
	banned.IsBanned = true
	require.NoError(t, repos.Users.Create(ctx, banned))

	users, err := repos.Users.ListWithRemoteKey(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, keyed.ID, users[0].ID)
}

func TestPolicyRepository_CreateGetUpdate(t *testing.T) {
	repos := newTestDB(t)
	ctx := context.Background()

	_, err := repos.Policy.Get(ctx)
	require.ErrorIs(t, err, domain.ErrPolicyNotFound)

	require.NoError(t, repos.Policy.Create(ctx, domain.DefaultPolicyConfig()))

	cfg, err := repos.Policy.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 72, cfg.InactivityThresholdHours)
	require.Nil(t, cfg.LastSweepAt)

	// A second create does not clobber the row.
	other := domain.DefaultPolicyConfig()
	other.InactivityThresholdHours = 24
	require.NoError(t, repos.Policy.Create(ctx, other))

	cfg, err = repos.Policy.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 72, cfg.InactivityThresholdHours)

	cfg.InactivityThresholdHours = 48
	require.NoError(t, repos.Policy.Update(ctx, cfg))

	cfg, err = repos.Policy.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 48, cfg.InactivityThresholdHours)
}

func TestPolicyRepository_CompleteSweepCAS(t *testing.T) {
	repos := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Policy.Create(ctx, domain.DefaultPolicyConfig()))

	boundary := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	updated, err := repos.Policy.CompleteSweep(ctx, boundary)
	require.NoError(t, err)
	require.True(t, updated)

	// Same window again: the compare-and-swap fails.
	updated, err = repos.Policy.CompleteSweep(ctx, boundary)
	require.NoError(t, err)
	require.False(t, updated)

	// An older window never overwrites a newer marker.
	updated, err = repos.Policy.CompleteSweep(ctx, boundary.Add(-24*time.Hour))
	require.NoError(t, err)
	require.False(t, updated)

	// The next day's window advances the marker.
	updated, err = repos.Policy.CompleteSweep(ctx, boundary.Add(24*time.Hour))
	require.NoError(t, err)
	require.True(t, updated)

	cfg, err := repos.Policy.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastSweepAt)
	require.True(t, cfg.LastSweepAt.Equal(boundary.Add(24*time.Hour)))
}
