package auth

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
)

// UserProvider checks login credentials against the user store
type UserProvider struct {
	store  UserStore
	hasher PasswordHasher
	logger Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserStore, hasher PasswordHasher) *UserProvider {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &UserProvider{
		store:  store,
		hasher: hasher,
		logger: defLogger(),
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

// VerifyIdentity will find the user by email and compare the password.
// Unknown emails and wrong passwords fail the same way.
func (u *UserProvider) VerifyIdentity(ctx context.Context, email, password string) (*User, error) {
	user, err := u.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			// keep timing close to the wrong password path
			_ = u.hasher.ComparePasswordAndHash(password, u.placeholderHash())
			return nil, ErrInvalidLogin
		}
		u.logger.Error("failed to retrieve user during verification", "error", err)
		return nil, storeFailure(err)
	}

	if err := u.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidLogin
	}

	if !user.Role.IsValid() {
		u.logger.Error("user has an unknown role", "user_id", user.ID, "role", string(user.Role))
		return nil, ErrInvalidLogin
	}

	return user, nil
}

func (u *UserProvider) placeholderHash() string {
	u.dummyOnce.Do(func() {
		hash, err := u.hasher.HashPassword("placeholder-password")
		if err != nil {
			u.logger.Warn("failed to build placeholder hash", "error", err)
			return
		}
		u.dummyHash = hash
	})
	return u.dummyHash
}
