package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/lock"
)

func newTestSweeper(t *testing.T, locker lock.Locker) (*Sweeper, *mockUserRepository, *mockPolicyRepository, *mockKeyService) {
	t.Helper()

	userRepo := newMockUserRepository()
	policyRepo := newMockPolicyRepository()
	policyRepo.cfg = domain.DefaultPolicyConfig()
	keys := newMockKeyService()
	logger := zerolog.Nop()

	policyService := NewPolicyService(policyRepo, *domain.DefaultPolicyConfig(), logger)
	sweeper := NewSweeper(userRepo, policyRepo, policyService, keys, locker, nil, logger, SweepConfig{Concurrency: 2, LockTTL: time.Minute})

	return sweeper, userRepo, policyRepo, keys
}

func disabledUser(repo *mockUserRepository, externalID string, keyID int64) *domain.User {
	disabledAt := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	return repo.add(&domain.User{
		ExternalID:      externalID,
		Name:            externalID,
		RemoteKeyID:     &keyID,
		KeyAutoDisabled: true,
		AutoDisabledAt:  &disabledAt,
		CreatedAt:       disabledAt.Add(-30 * 24 * time.Hour),
	})
}

func TestSweeper_RunsAfterBoundary(t *testing.T) {
	sweeper, userRepo, policyRepo, keys := newTestSweeper(t, lock.NewNoOpLocker())

	// 08:05 in the reactivation zone, five minutes past the boundary.
	now := time.Date(2026, 3, 10, 8, 5, 0, 0, domain.ReactivateZone)
	sweeper.now = func() time.Time { return now }

	u1 := disabledUser(userRepo, "ext-1", 10)
	u2 := disabledUser(userRepo, "ext-2", 11)

	result, err := sweeper.CatchUp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	wantBoundary := time.Date(2026, 3, 10, 8, 0, 0, 0, domain.ReactivateZone)
	require.True(t, result.Window.Equal(wantBoundary))
	require.Equal(t, 2, result.Attempted)
	require.Equal(t, 2, result.Reactivated)
	require.Equal(t, 0, result.Errors)

	for _, id := range []int64{u1.ID, u2.ID} {
		stored, err := userRepo.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.False(t, stored.KeyAutoDisabled)
		require.Nil(t, stored.AutoDisabledAt)
	}

	require.NotNil(t, policyRepo.cfg.LastSweepAt)
	require.True(t, policyRepo.cfg.LastSweepAt.Equal(wantBoundary))
	require.Len(t, keys.enableCalls, 2)
}

func TestSweeper_NoOpBeforeBoundary(t *testing.T) {
	sweeper, userRepo, policyRepo, keys := newTestSweeper(t, lock.NewNoOpLocker())

	// 07:55 local: the latest boundary is still yesterday's, and
	// yesterday's window is already recorded.
	now := time.Date(2026, 3, 10, 7, 55, 0, 0, domain.ReactivateZone)
	sweeper.now = func() time.Time { return now }

	yesterday := time.Date(2026, 3, 9, 8, 0, 0, 0, domain.ReactivateZone)
	policyRepo.cfg.LastSweepAt = &yesterday

	disabledUser(userRepo, "ext-1", 10)

	result, err := sweeper.CatchUp(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
	require.Empty(t, keys.enableCalls)
}

func TestSweeper_IdempotentWithinWindow(t *testing.T) {
	sweeper, userRepo, _, keys := newTestSweeper(t, lock.NewNoOpLocker())

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, domain.ReactivateZone)
	sweeper.now = func() time.Time { return now }

	disabledUser(userRepo, "ext-1", 10)

	first, err := sweeper.CatchUp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := sweeper.CatchUp(context.Background())
	require.NoError(t, err)
	require.Nil(t, second)

	require.Len(t, keys.callsFor(10), 1)
}

func TestSweeper_PerUserFailureIsolation(t *testing.T) {
	sweeper, userRepo, policyRepo, keys := newTestSweeper(t, lock.NewNoOpLocker())

	now := time.Date(2026, 3, 10, 8, 5, 0, 0, domain.ReactivateZone)
	sweeper.now = func() time.Time { return now }

	failing := disabledUser(userRepo, "ext-fail", 10)
	healthy := disabledUser(userRepo, "ext-ok", 11)
	keys.enableErrBy[10] = errors.New("backend down")

	result, err := sweeper.CatchUp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 2, result.Attempted)
	require.Equal(t, 1, result.Reactivated)
	require.Equal(t, 1, result.Errors)

	stored, err := userRepo.GetByID(context.Background(), failing.ID)
	require.NoError(t, err)
	require.True(t, stored.KeyAutoDisabled, "failed user keeps the disabled flag")

	stored, err = userRepo.GetByID(context.Background(), healthy.ID)
	require.NoError(t, err)
	require.False(t, stored.KeyAutoDisabled)

	// The window is recorded despite the failure; the failed user waits
	// for the next window or a login.
	require.NotNil(t, policyRepo.cfg.LastSweepAt)
}

func TestSweeper_SkipsBannedUsers(t *testing.T) {
	sweeper, userRepo, _, keys := newTestSweeper(t, lock.NewNoOpLocker())

	now := time.Date(2026, 3, 10, 8, 5, 0, 0, domain.ReactivateZone)
	sweeper.now = func() time.Time { return now }

	banned := disabledUser(userRepo, "ext-banned", 10)
	banned.IsBanned = true
	userRepo.add(banned)

	result, err := sweeper.CatchUp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 0, result.Attempted)
	require.Empty(t, keys.callsFor(10))
}

func TestSweeper_SkipsWhenLockHeldElsewhere(t *testing.T) {
	sweeper, userRepo, _, keys := newTestSweeper(t, deniedLocker{})

	now := time.Date(2026, 3, 10, 8, 5, 0, 0, domain.ReactivateZone)
	sweeper.now = func() time.Time { return now }

	disabledUser(userRepo, "ext-1", 10)

	result, err := sweeper.CatchUp(context.Background())
	require.NoError(t, err)
	require.Nil(t, result)
	require.Empty(t, keys.enableCalls)
}

func TestSweeper_ForceRunsCompletedWindow(t *testing.T) {
	sweeper, userRepo, policyRepo, keys := newTestSweeper(t, lock.NewNoOpLocker())

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, domain.ReactivateZone)
	sweeper.now = func() time.Time { return now }

	boundary := time.Date(2026, 3, 10, 8, 0, 0, 0, domain.ReactivateZone)
	policyRepo.cfg.LastSweepAt = &boundary

	disabledUser(userRepo, "ext-1", 10)

	result, err := sweeper.Force(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 1, result.Reactivated)
	require.Len(t, keys.callsFor(10), 1)
}

// deniedLocker simulates another instance holding the sweep lock.
type deniedLocker struct{}

func (deniedLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (deniedLocker) Release(ctx context.Context, key string) (bool, error) { return false, nil }

func (deniedLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (deniedLocker) IsHeld(ctx context.Context, key string) (bool, error) { return true, nil }
