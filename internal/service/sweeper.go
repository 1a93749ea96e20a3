package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/lock"
	"github.com/quartzlab/keysmith/internal/metrics"
	"github.com/quartzlab/keysmith/internal/repository"
	"github.com/quartzlab/keysmith/internal/upstream"
)

// Sweeper is the daily reactivation sweep: once per reactivation window
// it re-enables every eligible user's key. There is no timer; the sweep
// is invoked opportunistically from every policy evaluation and login,
// and CatchUp decides whether the current window still needs a run.
type Sweeper struct {
	userRepo   repository.UserRepository
	policyRepo repository.PolicyRepository
	policy     *PolicyService
	keys       upstream.KeyService
	locker     lock.Locker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	config     SweepConfig

	now func() time.Time
}

// SweepConfig contains reactivation sweep tuning.
type SweepConfig struct {
	// Concurrency is the number of parallel reactivation calls.
	Concurrency int

	// LockTTL is how long the advisory sweep lock is held.
	LockTTL time.Duration
}

// DefaultSweepConfig returns sensible defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Concurrency: 8,
		LockTTL:     5 * time.Minute,
	}
}

// NewSweeper creates a new Sweeper.
func NewSweeper(
	userRepo repository.UserRepository,
	policyRepo repository.PolicyRepository,
	policy *PolicyService,
	keys upstream.KeyService,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config SweepConfig,
) *Sweeper {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 5 * time.Minute
	}

	return &Sweeper{
		userRepo:   userRepo,
		policyRepo: policyRepo,
		policy:     policy,
		keys:       keys,
		locker:     locker,
		metrics:    m,
		logger:     logger.With().Str("service", "sweeper").Logger(),
		config:     config,
		now:        time.Now,
	}
}

// SweepResult contains the result of one sweep run.
type SweepResult struct {
	// Window is the boundary instant of the window the sweep ran for.
	Window time.Time

	// Attempted is the number of users whose keys were re-enabled or tried.
	Attempted int

	// Reactivated is the number of successful reactivation calls.
	Reactivated int

	// Errors is the number of per-user failures. Failed users stay
	// disabled until the next window or until they log in.
	Errors int

	// Duration is how long the run took.
	Duration time.Duration
}

// CatchUp runs the sweep for the current reactivation window if it has
// not run yet. Returns nil when the window is already done or the sweep
// lock is held elsewhere; calling it any number of times within one
// window after a successful run is a no-op.
func (s *Sweeper) CatchUp(ctx context.Context) (*SweepResult, error) {
	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return nil, err
	}

	boundary := cfg.LatestBoundary(s.now())
	if cfg.SweepDoneFor(boundary) {
		return nil, nil
	}

	acquired, err := s.locker.Acquire(ctx, lock.Keys.Sweep(), s.config.LockTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to acquire sweep lock")
		return nil, nil
	}
	if !acquired {
		s.logger.Debug().Msg("sweep lock held elsewhere, skipping run")
		return nil, nil
	}
	defer func() {
		if _, err := s.locker.Release(ctx, lock.Keys.Sweep()); err != nil {
			s.logger.Error().Err(err).Msg("failed to release sweep lock")
		}
	}()

	// Another instance may have finished the window while we raced for
	// the lock; re-read before doing any work.
	cfg, err = s.policy.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.SweepDoneFor(boundary) {
		return nil, nil
	}

	return s.run(ctx, boundary)
}

// Force runs a sweep for the current window even when it has already
// been recorded. Used by the administrative trigger. Returns nil when
// the sweep lock is held elsewhere.
func (s *Sweeper) Force(ctx context.Context) (*SweepResult, error) {
	cfg, err := s.policy.Get(ctx)
	if err != nil {
		return nil, err
	}
	boundary := cfg.LatestBoundary(s.now())

	acquired, err := s.locker.Acquire(ctx, lock.Keys.Sweep(), s.config.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.logger.Debug().Msg("sweep lock held elsewhere, skipping forced run")
		return nil, nil
	}
	defer func() {
		if _, err := s.locker.Release(ctx, lock.Keys.Sweep()); err != nil {
			s.logger.Error().Err(err).Msg("failed to release sweep lock")
		}
	}()

	return s.run(ctx, boundary)
}

// run executes one sweep for the given window boundary.
func (s *Sweeper) run(ctx context.Context, boundary time.Time) (*SweepResult, error) {
	start := s.now()
	sweepID := uuid.NewString()

	logger := s.logger.With().Str("sweep_id", sweepID).Time("window", boundary).Logger()
	logger.Info().Msg("starting reactivation sweep")

	users, err := s.userRepo.ListWithRemoteKey(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list users for sweep")
		return nil, err
	}

	result := &SweepResult{Window: boundary}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.config.Concurrency)
	)

	for _, user := range users {
		// ListWithRemoteKey already excludes banned and keyless users;
		// the checks stay as the invariant of record.
		if user.IsBanned || !user.HasRemoteKey() {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(user *domain.User) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := s.reactivate(ctx, logger, user)

			mu.Lock()
			result.Attempted++
			if ok {
				result.Reactivated++
			} else {
				result.Errors++
			}
			mu.Unlock()
		}(user)
	}

	wg.Wait()

	// The window is recorded as done exactly once, after attempting the
	// whole batch, regardless of individual failures. Failed users stay
	// disabled until the next window or a login-time reactivation.
	recorded, err := s.policyRepo.CompleteSweep(ctx, boundary)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record sweep completion")
		return result, err
	}
	if !recorded {
		logger.Debug().Msg("sweep window already recorded by another instance")
	}

	result.Duration = s.now().Sub(start)

	if s.metrics != nil {
		s.metrics.RecordSweep(result.Duration, result.Reactivated, result.Errors)
	}

	logger.Info().
		Int("attempted", result.Attempted).
		Int("reactivated", result.Reactivated).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("reactivation sweep completed")

	return result, nil
}

// reactivate re-enables one user's key. The auto-disabled flag is
// cleared only when the backend call succeeds.
func (s *Sweeper) reactivate(ctx context.Context, logger zerolog.Logger, user *domain.User) bool {
	if err := s.keys.SetKeyEnabled(ctx, *user.RemoteKeyID, true); err != nil {
		logger.Warn().
			Err(err).
			Int64("user_id", user.ID).
			Int64("remote_key_id", *user.RemoteKeyID).
			Msg("failed to reactivate key")
		return false
	}

	if user.KeyAutoDisabled {
		if err := s.userRepo.ClearAutoDisabled(ctx, user.ID); err != nil {
			logger.Error().
				Err(err).
				Int64("user_id", user.ID).
				Msg("failed to clear auto-disabled flag")
			return false
		}
	}

	return true
}
