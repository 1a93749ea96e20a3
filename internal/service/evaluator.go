package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/metrics"
	"github.com/quartzlab/keysmith/internal/repository"
	"github.com/quartzlab/keysmith/internal/upstream"
)

// Evaluator is the key policy decision core: given one user's current
// state and usage, it determines the key's active/disabled status and
// performs the disable call when the inactivity threshold is crossed.
type Evaluator struct {
	userRepo repository.UserRepository
	policy   *PolicyService
	sweeper  *Sweeper
	keys     upstream.KeyService
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	now func() time.Time
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(
	userRepo repository.UserRepository,
	policy *PolicyService,
	sweeper *Sweeper,
	keys upstream.KeyService,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		userRepo: userRepo,
		policy:   policy,
		sweeper:  sweeper,
		keys:     keys,
		metrics:  m,
		logger:   logger.With().Str("service", "evaluator").Logger(),
		now:      time.Now,
	}
}

// Evaluate runs the policy decision for one user and returns the
// policy-state projection. The caller supplies only the user ID; state
// is re-read fresh here to defend against concurrent mutation between
// request entry and this call.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64) (*domain.KeyState, error) {
	// The sweep catch-up runs first so no user is ever evaluated
	// against a stale reactivation window.
	if _, err := e.sweeper.CatchUp(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("sweep catch-up failed before evaluation")
	}

	cfg, err := e.policy.Get(ctx)
	if err != nil {
		return nil, err
	}

	user, err := e.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		e.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to load user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	now := e.now()

	state := &domain.KeyState{
		Status:             domain.KeyStatusActive,
		NextReactivationAt: cfg.NextReactivation(now),
		Policy:             *cfg,
	}

	// Without a remote key there is no usage and nothing to disable.
	if !user.HasRemoteKey() {
		state.EffectiveLastActivity = user.EffectiveLastActivity()
		e.record("no_key")
		return state, nil
	}

	usage, usageErr := e.keys.GetKeyUsage(ctx, *user.RemoteKeyID)
	if usageErr != nil {
		// Backend failure means "usage unchanged": no activity bump and
		// no threshold evaluation this cycle.
		e.logger.Warn().
			Err(usageErr).
			Int64("user_id", user.ID).
			Int64("remote_key_id", *user.RemoteKeyID).
			Msg("failed to fetch key usage")
	} else {
		state.Usage = usage
		if err := e.applyUsage(ctx, user, usage, now); err != nil {
			return nil, err
		}
	}

	state.EffectiveLastActivity = user.EffectiveLastActivity()

	if usageErr == nil && e.shouldDisable(user, cfg, now) {
		e.disable(ctx, user, now)
	}

	state.AutoDisabledAt = user.AutoDisabledAt
	if user.KeyAutoDisabled {
		state.Status = domain.KeyStatusDisabled
	}

	e.record(string(state.Status))

	return state, nil
}

// applyUsage persists the observed usage counter. A strict increase is
// activity and bumps LastActivityAt to now; any other change (e.g. a
// backend reset) is persisted without touching the activity timestamp.
func (e *Evaluator) applyUsage(ctx context.Context, user *domain.User, usage *domain.Usage, now time.Time) error {
	switch {
	case usage.Used > user.LastKnownUsage:
		user.LastKnownUsage = usage.Used
		user.LastActivityAt = &now
		if err := e.userRepo.UpdateActivity(ctx, user.ID, usage.Used, &now); err != nil {
			e.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to persist activity")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}

	case usage.Used != user.LastKnownUsage:
		user.LastKnownUsage = usage.Used
		if err := e.userRepo.UpdateActivity(ctx, user.ID, usage.Used, nil); err != nil {
			e.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to persist usage counter")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
	}
	// Unchanged usage with no prior disablement passes through with no writes.

	return nil
}

// shouldDisable applies the inactivity threshold. Banned users and
// already-disabled keys are never disabled here.
func (e *Evaluator) shouldDisable(user *domain.User, cfg *domain.PolicyConfig, now time.Time) bool {
	if user.KeyAutoDisabled || user.IsBanned {
		return false
	}
	return now.Sub(user.EffectiveLastActivity()) >= cfg.InactivityThreshold()
}

// disable performs the one-way disable transition. Only the sweep or a
// login-time reactivation clears it. A backend failure leaves the user
// untouched; the next evaluation retries.
func (e *Evaluator) disable(ctx context.Context, user *domain.User, now time.Time) {
	if err := e.keys.SetKeyEnabled(ctx, *user.RemoteKeyID, false); err != nil {
		e.logger.Warn().
			Err(err).
			Int64("user_id", user.ID).
			Int64("remote_key_id", *user.RemoteKeyID).
			Msg("failed to disable key")
		return
	}

	if err := e.userRepo.SetAutoDisabled(ctx, user.ID, now); err != nil {
		e.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to persist auto-disable")
		return
	}

	user.KeyAutoDisabled = true
	user.AutoDisabledAt = &now

	if e.metrics != nil {
		e.metrics.KeysAutoDisabledTotal.Inc()
	}

	e.logger.Info().
		Int64("user_id", user.ID).
		Int64("remote_key_id", *user.RemoteKeyID).
		Time("effective_last_activity", user.EffectiveLastActivity()).
		Msg("key auto-disabled for inactivity")
}

func (e *Evaluator) record(outcome string) {
	if e.metrics != nil {
		e.metrics.EvaluationsTotal.WithLabelValues(outcome).Inc()
	}
}
