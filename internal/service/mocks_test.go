// Package service provides business logic services for Keysmith.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/upstream"
)

// mockUserRepository is an in-memory implementation of repository.UserRepository.
type mockUserRepository struct {
	mu     sync.Mutex
	users  map[int64]*domain.User
	nextID int64

	getErr    error
	listErr   error
	updateErr error
	clearErr  error
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users:  make(map[int64]*domain.User),
		nextID: 1,
	}
}

func (m *mockUserRepository) add(user *domain.User) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == 0 {
		user.ID = m.nextID
		m.nextID++
	} else if user.ID >= m.nextID {
		m.nextID = user.ID + 1
	}
	m.users[user.ID] = user
	return user
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ExternalID == user.ExternalID {
			return domain.ErrUserAlreadyExists
		}
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *mockUserRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.ExternalID == externalID {
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.users[user.ID]; !ok {
		return domain.ErrUserNotFound
	}
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *mockUserRepository) UpdateActivity(ctx context.Context, id int64, lastKnownUsage int64, lastActivityAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	u, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.LastKnownUsage = lastKnownUsage
	if lastActivityAt != nil {
		at := *lastActivityAt
		u.LastActivityAt = &at
	}
	return nil
}

func (m *mockUserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (m *mockUserRepository) SetAutoDisabled(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.KeyAutoDisabled = true
	u.AutoDisabledAt = &at
	return nil
}

func (m *mockUserRepository) ClearAutoDisabled(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	u, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.KeyAutoDisabled = false
	u.AutoDisabledAt = nil
	return nil
}

func (m *mockUserRepository) ListWithRemoteKey(ctx context.Context) ([]*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*domain.User
	for _, u := range m.users {
		if u.RemoteKeyID != nil && !u.IsBanned {
			clone := *u
			result = append(result, &clone)
		}
	}
	return result, nil
}

// mockPolicyRepository is an in-memory implementation of repository.PolicyRepository.
type mockPolicyRepository struct {
	mu  sync.Mutex
	cfg *domain.PolicyConfig

	getErr error
}

func newMockPolicyRepository() *mockPolicyRepository {
	return &mockPolicyRepository{}
}

func (m *mockPolicyRepository) Get(ctx context.Context) (*domain.PolicyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.cfg == nil {
		return nil, domain.ErrPolicyNotFound
	}
	clone := *m.cfg
	return &clone, nil
}

func (m *mockPolicyRepository) Create(ctx context.Context, cfg *domain.PolicyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		clone := *cfg
		m.cfg = &clone
	}
	return nil
}

func (m *mockPolicyRepository) Update(ctx context.Context, cfg *domain.PolicyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *cfg
	clone.LastSweepAt = nil
	if m.cfg != nil {
		clone.LastSweepAt = m.cfg.LastSweepAt
	}
	m.cfg = &clone
	return nil
}

func (m *mockPolicyRepository) CompleteSweep(ctx context.Context, boundary time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return false, domain.ErrPolicyNotFound
	}
	if m.cfg.LastSweepAt != nil && !m.cfg.LastSweepAt.Before(boundary) {
		return false, nil
	}
	b := boundary
	m.cfg.LastSweepAt = &b
	return true, nil
}

// mockKeyService is a controllable implementation of upstream.KeyService.
type mockKeyService struct {
	mu sync.Mutex

	usage    map[int64]*domain.Usage
	usageErr error

	enableErr   error
	enableErrBy map[int64]error
	enableCalls []enableCall

	addUserErr  error
	nextUserID  int64
	nextKeyID   int64
	sessions    []upstream.Session
	overview    *upstream.OverviewStats
	backendErr  error
	addedUsers  []string
}

type enableCall struct {
	keyID   int64
	enabled bool
}

func newMockKeyService() *mockKeyService {
	return &mockKeyService{
		usage:       make(map[int64]*domain.Usage),
		enableErrBy: make(map[int64]error),
		nextUserID:  100,
		nextKeyID:   1000,
	}
}

func (m *mockKeyService) AddUser(ctx context.Context, name string) (*upstream.ProvisionedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addUserErr != nil {
		return nil, m.addUserErr
	}
	m.nextUserID++
	m.nextKeyID++
	m.addedUsers = append(m.addedUsers, name)
	return &upstream.ProvisionedUser{
		UserID: m.nextUserID,
		KeyID:  m.nextKeyID,
		Key:    "sk-test",
	}, nil
}

func (m *mockKeyService) SetKeyEnabled(ctx context.Context, keyID int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.enableErrBy[keyID]; ok {
		return err
	}
	if m.enableErr != nil {
		return m.enableErr
	}
	m.enableCalls = append(m.enableCalls, enableCall{keyID: keyID, enabled: enabled})
	return nil
}

func (m *mockKeyService) GetKeyUsage(ctx context.Context, keyID int64) (*domain.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usageErr != nil {
		return nil, m.usageErr
	}
	if u, ok := m.usage[keyID]; ok {
		clone := *u
		return &clone, nil
	}
	return &domain.Usage{}, nil
}

func (m *mockKeyService) ListActiveSessions(ctx context.Context) ([]upstream.Session, error) {
	if m.backendErr != nil {
		return nil, m.backendErr
	}
	return m.sessions, nil
}

func (m *mockKeyService) GetOverviewStats(ctx context.Context) (*upstream.OverviewStats, error) {
	if m.backendErr != nil {
		return nil, m.backendErr
	}
	return m.overview, nil
}

func (m *mockKeyService) callsFor(keyID int64) []enableCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var calls []enableCall
	for _, c := range m.enableCalls {
		if c.keyID == keyID {
			calls = append(calls, c)
		}
	}
	return calls
}
