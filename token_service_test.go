package auth_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/gymstack/gym-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenService(t *testing.T) {
	t.Run("requires signing key", func(t *testing.T) {
		_, err := auth.NewTokenService(auth.TokenOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("rejects unknown claim policy", func(t *testing.T) {
		_, err := auth.NewTokenService(auth.TokenOptions{
			SigningKey:  testSigningKey,
			ClaimPolicy: "sometimes",
		})
		assert.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("applies default TTLs", func(t *testing.T) {
		service, err := auth.NewTokenService(auth.TokenOptions{SigningKey: testSigningKey})
		require.NoError(t, err)
		assert.Equal(t, auth.DefaultAccessTTL, service.AccessTTL())
		assert.Equal(t, auth.DefaultRefreshTTL, service.RefreshTTL())
	})
}

func TestTokenService_Issue(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestTokenService(t, clock, auth.TokenOptions{})
	identity := testMember()

	t.Run("round trips identity", func(t *testing.T) {
		token, expiresAt, err := service.Issue(identity, auth.TokenKindAccess, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)

		claims, err := service.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, identity.ID, claims.UserID())
		assert.Equal(t, identity.Email, claims.Email)
		assert.Equal(t, identity.Role, claims.Role())
		assert.Equal(t, auth.TokenKindAccess, claims.TokenKind())
		assert.Equal(t, clock.Now(), claims.IssuedAt())
		assert.Equal(t, expiresAt, claims.Expires())
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("zero ttl yields an expired token", func(t *testing.T) {
		token, _, err := service.Issue(identity, auth.TokenKindAccess, 0)
		require.NoError(t, err)

		_, err = service.Verify(token)
		assert.ErrorIs(t, err, auth.ErrExpiredCredential)
	})

	t.Run("rejects negative ttl", func(t *testing.T) {
		_, _, err := service.Issue(identity, auth.TokenKindAccess, -time.Second)
		assert.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("rejects incomplete identity", func(t *testing.T) {
		cases := map[string]auth.Identity{
			"missing id":    {Email: "a@example.com", Role: auth.RoleMember},
			"missing email": {ID: "u1", Role: auth.RoleMember},
			"missing role":  {ID: "u1", Email: "a@example.com"},
			"unknown role":  {ID: "u1", Email: "a@example.com", Role: "owner"},
		}
		for name, id := range cases {
			t.Run(name, func(t *testing.T) {
				_, _, err := service.Issue(id, auth.TokenKindAccess, time.Hour)
				assert.ErrorIs(t, err, auth.ErrValidation)
			})
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		_, _, err := service.Issue(identity, "id_token", time.Hour)
		assert.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("each token gets a unique jti", func(t *testing.T) {
		first, _, err := service.IssueAccess(identity)
		require.NoError(t, err)
		second, _, err := service.IssueAccess(identity)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestTokenService_VerifyFailures(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestTokenService(t, clock, auth.TokenOptions{})
	identity := testMember()

	t.Run("empty token is missing", func(t *testing.T) {
		_, err := service.Verify("   ")
		assert.ErrorIs(t, err, auth.ErrMissingCredential)
	})

	t.Run("garbage is malformed", func(t *testing.T) {
		_, err := service.Verify("not-a-jwt")
		assert.ErrorIs(t, err, auth.ErrMalformedCredential)
	})

	t.Run("foreign key fails signature", func(t *testing.T) {
		other := newTestTokenService(t, clock, auth.TokenOptions{SigningKey: []byte("someone-else")})
		token, _, err := other.IssueAccess(identity)
		require.NoError(t, err)

		_, err = service.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidSignature)
	})

	t.Run("tampered payload fails signature", func(t *testing.T) {
		token, _, err := service.IssueAccess(identity)
		require.NoError(t, err)

		admin := identity
		admin.Role = auth.RoleAdmin
		forged, _, err := service.IssueAccess(admin)
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		forgedParts := strings.Split(forged, ".")
		tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]

		_, err = service.Verify(tampered)
		assert.ErrorIs(t, err, auth.ErrInvalidSignature)
	})

	t.Run("none algorithm is rejected", func(t *testing.T) {
		claims := jwt.MapClaims{
			"user_id": identity.ID,
			"email":   identity.Email,
			"role":    string(identity.Role),
			"iat":     clock.Now().Unix(),
			"exp":     clock.Now().Add(time.Hour).Unix(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = service.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidSignature)
	})

	t.Run("missing required claims", func(t *testing.T) {
		required := []string{"user_id", "email", "role", "iat", "exp"}
		for _, drop := range required {
			t.Run(drop, func(t *testing.T) {
				claims := jwt.MapClaims{
					"user_id": identity.ID,
					"email":   identity.Email,
					"role":    string(identity.Role),
					"iat":     clock.Now().Unix(),
					"exp":     clock.Now().Add(time.Hour).Unix(),
				}
				delete(claims, drop)
				token := signMapClaims(t, testSigningKey, claims)

				_, err := service.Verify(token)
				assert.ErrorIs(t, err, auth.ErrInvalidClaims)
			})
		}
	})

	t.Run("unknown role claim", func(t *testing.T) {
		token := signMapClaims(t, testSigningKey, jwt.MapClaims{
			"user_id": identity.ID,
			"email":   identity.Email,
			"role":    "owner",
			"iat":     clock.Now().Unix(),
			"exp":     clock.Now().Add(time.Hour).Unix(),
		})
		_, err := service.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidClaims)
	})

	t.Run("signature is checked before expiry", func(t *testing.T) {
		other := newTestTokenService(t, clock, auth.TokenOptions{SigningKey: []byte("someone-else")})
		token, _, err := other.Issue(identity, auth.TokenKindAccess, 0)
		require.NoError(t, err)

		_, err = service.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidSignature)
	})

	t.Run("expires exactly at exp", func(t *testing.T) {
		local := newTestClock(clock.Now())
		svc := newTestTokenService(t, local, auth.TokenOptions{})
		token, _, err := svc.Issue(identity, auth.TokenKindAccess, time.Minute)
		require.NoError(t, err)

		local.Advance(time.Minute - time.Second)
		_, err = svc.Verify(token)
		require.NoError(t, err)

		local.Advance(time.Second)
		_, err = svc.Verify(token)
		assert.ErrorIs(t, err, auth.ErrExpiredCredential)
		assert.True(t, auth.IsTokenExpiredError(err))
	})
}

func TestTokenService_VerifyKind(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestTokenService(t, clock, auth.TokenOptions{})
	identity := testMember()

	refresh, _, err := service.IssueRefresh(identity, 0)
	require.NoError(t, err)

	_, err = service.VerifyKind(refresh, auth.TokenKindAccess)
	assert.ErrorIs(t, err, auth.ErrWrongTokenKind)

	claims, err := service.VerifyKind(refresh, auth.TokenKindRefresh)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(auth.DefaultRefreshTTL), claims.Expires())

	t.Run("tokens without kind are access tokens", func(t *testing.T) {
		token := signMapClaims(t, testSigningKey, jwt.MapClaims{
			"user_id": identity.ID,
			"email":   identity.Email,
			"role":    string(identity.Role),
			"iat":     clock.Now().Unix(),
			"exp":     clock.Now().Add(time.Hour).Unix(),
		})
		_, err := service.VerifyKind(token, auth.TokenKindAccess)
		assert.NoError(t, err)
	})
}

func TestTokenService_ClaimPolicy(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	identity := testMember()

	bare := newTestTokenService(t, clock, auth.TokenOptions{})
	bareToken, _, err := bare.IssueAccess(identity)
	require.NoError(t, err)

	foreign := newTestTokenService(t, clock, auth.TokenOptions{Issuer: "elsewhere", Audience: []string{"other"}})
	foreignToken, _, err := foreign.IssueAccess(identity)
	require.NoError(t, err)

	tests := []struct {
		name    string
		policy  auth.ClaimPolicy
		token   string
		wantErr error
	}{
		{"required rejects missing iss", auth.ClaimRequiredIfConfigured, bareToken, auth.ErrInvalidIssuer},
		{"required rejects wrong iss", auth.ClaimRequiredIfConfigured, foreignToken, auth.ErrInvalidIssuer},
		{"check if present accepts missing", auth.ClaimCheckIfPresent, bareToken, nil},
		{"check if present rejects wrong iss", auth.ClaimCheckIfPresent, foreignToken, auth.ErrInvalidIssuer},
		{"ignored accepts missing", auth.ClaimIgnored, bareToken, nil},
		{"ignored accepts wrong", auth.ClaimIgnored, foreignToken, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestTokenService(t, clock, auth.TokenOptions{
				Issuer:      "gym-auth",
				Audience:    []string{"gym-web"},
				ClaimPolicy: tt.policy,
			})
			_, err := svc.Verify(tt.token)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("audience mismatch", func(t *testing.T) {
		issuerOnly := newTestTokenService(t, clock, auth.TokenOptions{Issuer: "gym-auth", Audience: []string{"other"}})
		token, _, err := issuerOnly.IssueAccess(identity)
		require.NoError(t, err)

		svc := newTestTokenService(t, clock, auth.TokenOptions{Issuer: "gym-auth", Audience: []string{"gym-web"}})
		_, err = svc.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidAudience)
	})

	t.Run("own tokens verify", func(t *testing.T) {
		svc := newTestTokenService(t, clock, auth.TokenOptions{Issuer: "gym-auth", Audience: []string{"gym-web", "gym-api"}})
		token, _, err := svc.IssueAccess(identity)
		require.NoError(t, err)
		_, err = svc.Verify(token)
		assert.NoError(t, err)
	})
}

func TestTokenService_KeyRotation(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	identity := testMember()

	oldService := newTestTokenService(t, clock, auth.TokenOptions{
		SigningKey: []byte("old-secret"),
		KeyID:      "2025",
	})
	oldToken, _, err := oldService.IssueAccess(identity)
	require.NoError(t, err)

	rotated := newTestTokenService(t, clock, auth.TokenOptions{
		SigningKey:   []byte("new-secret"),
		KeyID:        "2026",
		PreviousKeys: map[string][]byte{"2025": []byte("old-secret")},
	})

	t.Run("accepts tokens signed with a retired key", func(t *testing.T) {
		_, err := rotated.Verify(oldToken)
		assert.NoError(t, err)
	})

	t.Run("issues with the current kid", func(t *testing.T) {
		token, _, err := rotated.IssueAccess(identity)
		require.NoError(t, err)

		parsed, _, err := jwt.NewParser().ParseUnverified(token, &jwt.RegisteredClaims{})
		require.NoError(t, err)
		assert.Equal(t, "2026", parsed.Header["kid"])

		_, err = rotated.Verify(token)
		assert.NoError(t, err)
	})

	t.Run("unknown kid fails signature", func(t *testing.T) {
		stranger := newTestTokenService(t, clock, auth.TokenOptions{
			SigningKey: []byte("stranger"),
			KeyID:      "1999",
		})
		token, _, err := stranger.IssueAccess(identity)
		require.NoError(t, err)

		_, err = rotated.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidSignature)
	})

	t.Run("tokens without kid use the primary key", func(t *testing.T) {
		plain := newTestTokenService(t, clock, auth.TokenOptions{SigningKey: []byte("new-secret")})
		token, _, err := plain.IssueAccess(identity)
		require.NoError(t, err)

		_, err = rotated.Verify(token)
		assert.NoError(t, err)
	})
}

func TestTokenService_ErrorsShareClientMessage(t *testing.T) {
	for _, err := range []*goerrors.Error{
		auth.ErrInvalidSignature,
		auth.ErrInvalidClaims,
		auth.ErrWrongTokenKind,
		auth.ErrPrincipalNotFound,
	} {
		assert.Equal(t, "Invalid authentication token", err.Message)
		assert.Equal(t, 401, auth.StatusCode(err))
		assert.False(t, errors.Is(err, auth.ErrExpiredCredential))
	}
}
