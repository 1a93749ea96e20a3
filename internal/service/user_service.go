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

// UserService handles the login path: first-login provisioning of the
// remote key and the immediate, single-user reactivation that bypasses
// the daily sweep's batching.
type UserService struct {
	userRepo repository.UserRepository
	keys     upstream.KeyService
	sweeper  *Sweeper
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	now func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(
	userRepo repository.UserRepository,
	keys upstream.KeyService,
	sweeper *Sweeper,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *UserService {
	return &UserService{
		userRepo: userRepo,
		keys:     keys,
		sweeper:  sweeper,
		metrics:  m,
		logger:   logger.With().Str("service", "user").Logger(),
		now:      time.Now,
	}
}

// LoginInput carries the already-verified identity from the external
// identity provider.
type LoginInput struct {
	ExternalID string
	Name       string
	TrustLevel int
}

// LoginOutput contains the result of a login.
type LoginOutput struct {
	User *domain.User

	// Usage is the fresh usage snapshot after a reactivation, nil otherwise.
	Usage *domain.Usage

	// Provisioned is true when this login created the user and key.
	Provisioned bool

	// Reactivated is true when a login-time reactivation was performed.
	Reactivated bool
}

// Login processes a successful authentication callback. A first login
// provisions the backend account and key; a returning login bumps the
// login timestamp and, if the key was auto-disabled, reactivates it
// immediately. Reactivation failure is surfaced as ErrReactivationFailed
// so the login flow can present it distinctly from auth failure.
func (s *UserService) Login(ctx context.Context, input LoginInput) (*LoginOutput, error) {
	// Catch up any missed reactivation window before acting on the user.
	if _, err := s.sweeper.CatchUp(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("sweep catch-up failed during login")
	}

	user, err := s.userRepo.GetByExternalID(ctx, input.ExternalID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return s.provision(ctx, input)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("external_id", input.ExternalID).Msg("failed to load user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	now := s.now()
	user.LastLoginAt = &now
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to update last login")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if user.Name != input.Name || user.TrustLevel != input.TrustLevel {
		user.Name = input.Name
		user.TrustLevel = input.TrustLevel
		if err := s.userRepo.Update(ctx, user); err != nil {
			s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to update identity fields")
		}
	}

	output := &LoginOutput{User: user}

	if user.KeyAutoDisabled && user.HasRemoteKey() && !user.IsBanned {
		usage, err := s.reactivate(ctx, user)
		if err != nil {
			return nil, err
		}
		output.Usage = usage
		output.Reactivated = true
	}

	s.logger.Info().
		Int64("user_id", user.ID).
		Bool("reactivated", output.Reactivated).
		Msg("user logged in")

	return output, nil
}

// GetByID retrieves a user by internal ID.
func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error().Err(err).Int64("user_id", id).Msg("failed to get user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

// provision creates the tracked user and its backend account on first login.
func (s *UserService) provision(ctx context.Context, input LoginInput) (*LoginOutput, error) {
	provisioned, err := s.keys.AddUser(ctx, input.Name)
	if err != nil {
		s.logger.Error().Err(err).Str("external_id", input.ExternalID).Msg("failed to provision backend account")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	user := domain.NewUser(input.ExternalID, input.Name, input.TrustLevel)
	user.RemoteKeyID = &provisioned.KeyID

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.logger.Error().Err(err).Str("external_id", input.ExternalID).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int64("user_id", user.ID).
		Int64("remote_key_id", provisioned.KeyID).
		Msg("user provisioned")

	return &LoginOutput{User: user, Provisioned: true}, nil
}

// reactivate performs the immediate single-user reactivation. On
// success it returns a fresh usage snapshot; on failure the error
// propagates as the dedicated reactivation failure category.
func (s *UserService) reactivate(ctx context.Context, user *domain.User) (*domain.Usage, error) {
	if err := s.keys.SetKeyEnabled(ctx, *user.RemoteKeyID, true); err != nil {
		s.logger.Warn().
			Err(err).
			Int64("user_id", user.ID).
			Int64("remote_key_id", *user.RemoteKeyID).
			Msg("login-time reactivation failed")
		return nil, fmt.Errorf("%w: %v", ErrReactivationFailed, err)
	}

	if err := s.userRepo.ClearAutoDisabled(ctx, user.ID); err != nil {
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to clear auto-disabled flag")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	user.KeyAutoDisabled = false
	user.AutoDisabledAt = nil

	if s.metrics != nil {
		s.metrics.KeysReactivatedTotal.WithLabelValues("login").Inc()
	}

	s.logger.Info().
		Int64("user_id", user.ID).
		Int64("remote_key_id", *user.RemoteKeyID).
		Msg("key reactivated at login")

	usage, err := s.keys.GetKeyUsage(ctx, *user.RemoteKeyID)
	if err != nil {
		// The reactivation itself succeeded; usage is simply unavailable.
		s.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to fetch usage after reactivation")
		return nil, nil
	}

	return usage, nil
}
