package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/repository"
)

// PolicyService is the policy configuration store. The configuration is
// a singleton row, lazily created with defaults on first access.
type PolicyService struct {
	policyRepo repository.PolicyRepository
	defaults   domain.PolicyConfig
	logger     zerolog.Logger
}

// NewPolicyService creates a new PolicyService. The defaults are used
// when the configuration row does not exist yet.
func NewPolicyService(policyRepo repository.PolicyRepository, defaults domain.PolicyConfig, logger zerolog.Logger) *PolicyService {
	defaults.ID = domain.PolicyConfigID
	defaults.Clamp()

	return &PolicyService{
		policyRepo: policyRepo,
		defaults:   defaults,
		logger:     logger.With().Str("service", "policy").Logger(),
	}
}

// Get returns the current configuration, creating the default row on
// first access. Stored out-of-range values are silently corrected and
// persisted back before returning; this is never surfaced as an error.
func (s *PolicyService) Get(ctx context.Context) (*domain.PolicyConfig, error) {
	cfg, err := s.policyRepo.Get(ctx)
	if errors.Is(err, domain.ErrPolicyNotFound) {
		cfg = s.defaultConfig()
		if err := s.policyRepo.Create(ctx, cfg); err != nil {
			s.logger.Error().Err(err).Msg("failed to create default policy config")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		// A concurrent create may have won; read back the stored row.
		cfg, err = s.policyRepo.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
	} else if err != nil {
		s.logger.Error().Err(err).Msg("failed to get policy config")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if cfg.Clamp() {
		s.logger.Warn().
			Int("threshold_hours", cfg.InactivityThresholdHours).
			Int("hour", cfg.DailyReactivateHour).
			Int("minute", cfg.DailyReactivateMinute).
			Msg("corrected out-of-range policy config values")
		if err := s.policyRepo.Update(ctx, cfg); err != nil {
			// The corrected values are still returned to the caller.
			s.logger.Error().Err(err).Msg("failed to persist corrected policy config")
		}
	}

	return cfg, nil
}

// UpdatePolicyInput contains the tunable fields of an administrative
// policy update.
type UpdatePolicyInput struct {
	InactivityThresholdHours int
	DailyReactivateHour      int
	DailyReactivateMinute    int
}

// Update validates and persists an administrative configuration change.
// Out-of-range input is rejected, not clamped; this is the contrast
// with internally stored values, which are corrected silently.
func (s *PolicyService) Update(ctx context.Context, input UpdatePolicyInput) (*domain.PolicyConfig, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	cfg.InactivityThresholdHours = input.InactivityThresholdHours
	cfg.DailyReactivateHour = input.DailyReactivateHour
	cfg.DailyReactivateMinute = input.DailyReactivateMinute

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	if err := s.policyRepo.Update(ctx, cfg); err != nil {
		s.logger.Error().Err(err).Msg("failed to update policy config")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int("threshold_hours", cfg.InactivityThresholdHours).
		Int("hour", cfg.DailyReactivateHour).
		Int("minute", cfg.DailyReactivateMinute).
		Msg("policy config updated")

	return cfg, nil
}

func (s *PolicyService) defaultConfig() *domain.PolicyConfig {
	cfg := s.defaults
	cfg.UpdatedAt = time.Now().UTC()
	return &cfg
}
