package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind separates access tokens from refresh tokens
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// JWTClaims is the claim set carried by every token we issue
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string    `json:"user_id,omitempty"`
	Email    string    `json:"email,omitempty"`
	UserRole Role      `json:"role,omitempty"`
	Kind     TokenKind `json:"kind,omitempty"`
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	return c.UID
}

// Role returns the role snapshot taken at issuance
func (c *JWTClaims) Role() Role {
	return c.UserRole
}

// TokenKind returns the token kind. Tokens without a kind claim are treated
// as access tokens.
func (c *JWTClaims) TokenKind() TokenKind {
	if c.Kind == "" {
		return TokenKindAccess
	}
	return c.Kind
}

// Expires returns the expiration time in UTC
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time.UTC()
	}
	return time.Time{}
}

// IssuedAt returns the issued at time in UTC
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time.UTC()
	}
	return time.Time{}
}

// Remaining is the lifetime left at now
func (c *JWTClaims) Remaining(now time.Time) time.Duration {
	return c.Expires().Sub(now)
}

// missingClaims lists required claims that are absent
func (c *JWTClaims) missingClaims() []string {
	var missing []string
	if c.UID == "" {
		missing = append(missing, "user_id")
	}
	if c.Email == "" {
		missing = append(missing, "email")
	}
	if c.UserRole == "" {
		missing = append(missing, "role")
	}
	if c.RegisteredClaims.IssuedAt == nil {
		missing = append(missing, "iat")
	}
	if c.RegisteredClaims.ExpiresAt == nil {
		missing = append(missing, "exp")
	}
	return missing
}
