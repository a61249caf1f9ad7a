package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/gymstack/gym-auth"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now.UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTokenService(t *testing.T, clock *testClock, opts auth.TokenOptions) *auth.TokenService {
	t.Helper()
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = testSigningKey
	}
	service, err := auth.NewTokenService(opts)
	require.NoError(t, err)
	return service.WithClock(clock.Now)
}

func signMapClaims(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func testMember() auth.Identity {
	return auth.Identity{
		ID:    "8b0d3a52-6c1e-4a3c-9a55-1f6f2b1f0a01",
		Email: "member@example.com",
		Role:  auth.RoleMember,
	}
}

func testAdmin() auth.Identity {
	return auth.Identity{
		ID:    "0e6c4b8e-1f3e-4c0f-8d52-3b7c1c2d9a02",
		Email: "admin@example.com",
		Role:  auth.RoleAdmin,
	}
}

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

// MockCredentialStore implements auth.CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) FindByID(ctx context.Context, userID string) (auth.Identity, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(auth.Identity), args.Error(1)
}

func (m *MockCredentialStore) DowngradeExpiredMember(ctx context.Context, userID string, asOf time.Time) (bool, error) {
	args := m.Called(ctx, userID, asOf)
	return args.Bool(0), args.Error(1)
}

// fakeUserStore is an in-memory auth.UserStore with failure injection
type fakeUserStore struct {
	mu         sync.Mutex
	users      map[string]*auth.User
	findErr    error
	finds      int
	downgrades int
}

var _ auth.UserStore = (*fakeUserStore)(nil)

func newFakeUserStore(users ...*auth.User) *fakeUserStore {
	s := &fakeUserStore{users: map[string]*auth.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) put(identity auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[identity.ID] = &auth.User{
		ID:               identity.ID,
		Email:            identity.Email,
		Role:             identity.Role,
		MembershipExpiry: identity.MembershipExpiry,
		AutoPayment:      identity.AutoPayment,
	}
}

func (s *fakeUserStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *fakeUserStore) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr = err
}

func (s *fakeUserStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

func (s *fakeUserStore) role(id string) auth.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.Role
	}
	return ""
}

func (s *fakeUserStore) FindByID(_ context.Context, userID string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return auth.Identity{}, s.findErr
	}
	u, ok := s.users[userID]
	if !ok {
		return auth.Identity{}, auth.ErrPrincipalNotFound
	}
	return u.Identity(), nil
}

func (s *fakeUserStore) DowngradeExpiredMember(_ context.Context, userID string, asOf time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, auth.ErrPrincipalNotFound
	}
	if !u.Identity().MembershipExpired(asOf) {
		return false, nil
	}
	u.Role = auth.RoleNonMember
	s.downgrades++
	return true, nil
}

func (s *fakeUserStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, auth.ErrPrincipalNotFound
}

func (s *fakeUserStore) FindUser(_ context.Context, userID string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, auth.ErrPrincipalNotFound
	}
	c := *u
	return &c, nil
}

func (s *fakeUserStore) Create(_ context.Context, user *auth.User) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return nil, auth.ErrEmailTaken
		}
	}
	c := *user
	if c.ID == "" {
		c.ID = "generated-" + strings.ToLower(c.Email)
	}
	s.users[c.ID] = &c
	out := c
	return &out, nil
}

func (s *fakeUserStore) SetRole(_ context.Context, userID string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrPrincipalNotFound
	}
	u.Role = role
	return nil
}
