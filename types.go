package auth

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is satisfied by *slog.Logger
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewLogger returns a slog backed Logger. Format is "json" or "text".
func NewLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defLogger() Logger {
	return slog.Default().With("component", "auth")
}

// CredentialStore is the only data dependency of the Gate.
type CredentialStore interface {
	// FindByID returns ErrPrincipalNotFound or ErrStoreUnavailable on failure.
	FindByID(ctx context.Context, userID string) (Identity, error)
	// DowngradeExpiredMember sets role to non_member only when the stored role
	// is member and the membership expired before asOf. It reports whether a
	// row was changed.
	DowngradeExpiredMember(ctx context.Context, userID string, asOf time.Time) (bool, error)
}

// UserStore extends CredentialStore with the login, registration and
// administrative role update capabilities.
type UserStore interface {
	CredentialStore
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindUser(ctx context.Context, userID string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	SetRole(ctx context.Context, userID string, role Role) error
}

// SessionStore caches resolved identities keyed by session key.
type SessionStore interface {
	Get(ctx context.Context, key string) (*SessionEntry, error)
	Set(ctx context.Context, entry *SessionEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// TokenVerifier verifies access tokens for the Gate.
type TokenVerifier interface {
	VerifyKind(token string, kind TokenKind) (*JWTClaims, error)
	Issue(identity Identity, kind TokenKind, ttl time.Duration) (string, time.Time, error)
	AccessTTL() time.Duration
}

// PasswordHasher hashes and compares passwords
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Clock returns the current time
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
