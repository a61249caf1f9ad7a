package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTTL is the lifetime of access tokens
	DefaultAccessTTL = 24 * time.Hour
	// DefaultRefreshTTL is the lifetime of refresh tokens
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// ClaimPolicy controls how issuer and audience claims are verified
type ClaimPolicy string

const (
	// ClaimRequiredIfConfigured requires iss/aud to be present and match
	// whenever the service is configured with them.
	ClaimRequiredIfConfigured ClaimPolicy = "required_if_configured"
	// ClaimCheckIfPresent only checks iss/aud carried by the token.
	ClaimCheckIfPresent ClaimPolicy = "check_if_present"
	// ClaimIgnored skips iss/aud checks.
	ClaimIgnored ClaimPolicy = "ignored"
)

// IsValid reports whether p is a known policy
func (p ClaimPolicy) IsValid() bool {
	switch p {
	case ClaimRequiredIfConfigured, ClaimCheckIfPresent, ClaimIgnored:
		return true
	default:
		return false
	}
}

// TokenOptions configures a TokenService
type TokenOptions struct {
	SigningKey []byte
	// KeyID is written to the kid header of issued tokens
	KeyID string
	// PreviousKeys are retired secrets by kid, accepted for verification only
	PreviousKeys map[string][]byte
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Issuer       string
	Audience     []string
	ClaimPolicy  ClaimPolicy
}

// TokenService creates and verifies signed, time bound tokens
type TokenService struct {
	signingKey []byte
	keyID      string
	keys       *keyfunc.JWKS
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	policy     ClaimPolicy
	parser     *jwt.Parser
	now        Clock
	logger     Logger
}

var _ TokenVerifier = (*TokenService)(nil)

// NewTokenService creates a new TokenService instance
func NewTokenService(opts TokenOptions) (*TokenService, error) {
	if len(opts.SigningKey) == 0 {
		return nil, DeriveError(ErrValidation, "signing key is required", nil)
	}

	if opts.AccessTTL == 0 {
		opts.AccessTTL = DefaultAccessTTL
	}

	if opts.RefreshTTL == 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}

	if opts.ClaimPolicy == "" {
		opts.ClaimPolicy = ClaimRequiredIfConfigured
	}

	if !opts.ClaimPolicy.IsValid() {
		return nil, DeriveError(ErrValidation, fmt.Sprintf("unknown claim policy %q", opts.ClaimPolicy), nil)
	}

	var aud jwt.ClaimStrings
	if len(opts.Audience) > 0 {
		aud = make(jwt.ClaimStrings, len(opts.Audience))
		copy(aud, opts.Audience)
	}

	ts := &TokenService{
		signingKey: opts.SigningKey,
		keyID:      opts.KeyID,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		issuer:     opts.Issuer,
		audience:   aud,
		policy:     opts.ClaimPolicy,
		now:        systemClock,
		logger:     defLogger(),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}

	if opts.KeyID != "" || len(opts.PreviousKeys) > 0 {
		givenKeys := make(map[string]keyfunc.GivenKey, len(opts.PreviousKeys)+1)
		for kid, key := range opts.PreviousKeys {
			givenKeys[kid] = keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
				Algorithm: jwt.SigningMethodHS256.Alg(),
			})
		}
		if opts.KeyID != "" {
			givenKeys[opts.KeyID] = keyfunc.NewGivenCustom(opts.SigningKey, keyfunc.GivenKeyOptions{
				Algorithm: jwt.SigningMethodHS256.Alg(),
			})
		}
		ts.keys = keyfunc.NewGiven(givenKeys)
	}

	return ts, nil
}

// WithClock overrides the time source
func (ts *TokenService) WithClock(clock Clock) *TokenService {
	if clock != nil {
		ts.now = clock
	}
	return ts
}

// WithLogger sets the logger
func (ts *TokenService) WithLogger(logger Logger) *TokenService {
	if logger != nil {
		ts.logger = logger
	}
	return ts
}

// AccessTTL is the default access token lifetime
func (ts *TokenService) AccessTTL() time.Duration {
	return ts.accessTTL
}

// RefreshTTL is the default refresh token lifetime
func (ts *TokenService) RefreshTTL() time.Duration {
	return ts.refreshTTL
}

// Issue signs a token of the given kind for identity. A zero ttl produces a
// token that is already expired.
func (ts *TokenService) Issue(identity Identity, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	if err := validateIssuable(identity); err != nil {
		return "", time.Time{}, DeriveError(ErrValidation, "identity requires id, email and role", err)
	}

	if kind != TokenKindAccess && kind != TokenKindRefresh {
		return "", time.Time{}, DeriveError(ErrValidation, fmt.Sprintf("unknown token kind %q", kind), nil)
	}

	if ttl < 0 {
		return "", time.Time{}, DeriveError(ErrValidation, "token TTL must be non-negative", nil)
	}

	issuedAt := ts.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   identity.ID,
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:      identity.ID,
		Email:    identity.Email,
		UserRole: identity.Role,
		Kind:     kind,
	}

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// IssueAccess issues an access token with the default TTL
func (ts *TokenService) IssueAccess(identity Identity) (string, time.Time, error) {
	return ts.Issue(identity, TokenKindAccess, ts.accessTTL)
}

// IssueRefresh issues a refresh token. A zero ttl uses the configured
// refresh TTL.
func (ts *TokenService) IssueRefresh(identity Identity, ttl time.Duration) (string, time.Time, error) {
	if ttl == 0 {
		ttl = ts.refreshTTL
	}
	return ts.Issue(identity, TokenKindRefresh, ttl)
}

// SignClaims signs claims with the current signing key
func (ts *TokenService) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", DeriveError(ErrInternal, "claims must not be nil", nil)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if ts.keyID != "" {
		token.Header["kid"] = ts.keyID
	}

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		ts.logger.Error("token service failed to sign JWT", "error", err)
		return "", DeriveError(ErrInternal, "failed to sign JWT", err)
	}

	return signed, nil
}

// Verify checks signature, required claims and expiry, in that order, and
// then the issuer/audience policy.
func (ts *TokenService) Verify(raw string) (*JWTClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingCredential
	}

	claims := &JWTClaims{}
	if _, err := ts.parser.ParseWithClaims(raw, claims, ts.keyFunc); err != nil {
		return nil, classifyParseError(err)
	}

	if missing := claims.missingClaims(); len(missing) > 0 {
		return nil, WrapError(ErrInvalidClaims, nil).WithMetadata(map[string]any{"missing": missing})
	}

	if !claims.UserRole.IsValid() {
		return nil, WrapError(ErrInvalidClaims, nil).WithMetadata(map[string]any{"role": string(claims.UserRole)})
	}

	if kind := claims.TokenKind(); kind != TokenKindAccess && kind != TokenKindRefresh {
		return nil, WrapError(ErrInvalidClaims, nil).WithMetadata(map[string]any{"kind": string(kind)})
	}

	if ts.now().Unix() >= claims.ExpiresAt.Unix() {
		return nil, ErrExpiredCredential
	}

	if err := ts.checkIssuer(claims); err != nil {
		return nil, err
	}

	if err := ts.checkAudience(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// VerifyKind verifies raw and requires the given token kind
func (ts *TokenService) VerifyKind(raw string, kind TokenKind) (*JWTClaims, error) {
	claims, err := ts.Verify(raw)
	if err != nil {
		return nil, err
	}

	if claims.TokenKind() != kind {
		return nil, WrapError(ErrWrongTokenKind, nil).WithMetadata(map[string]any{
			"expected": string(kind),
			"actual":   string(claims.TokenKind()),
		})
	}

	return claims, nil
}

func (ts *TokenService) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" || ts.keys == nil {
		return ts.signingKey, nil
	}

	return ts.keys.Keyfunc(t)
}

func (ts *TokenService) checkIssuer(claims *JWTClaims) error {
	if ts.issuer == "" || ts.policy == ClaimIgnored {
		return nil
	}

	if claims.Issuer == "" && ts.policy == ClaimCheckIfPresent {
		return nil
	}

	if claims.Issuer != ts.issuer {
		return WrapError(ErrInvalidIssuer, nil).WithMetadata(map[string]any{"iss": claims.Issuer})
	}

	return nil
}

func (ts *TokenService) checkAudience(claims *JWTClaims) error {
	if len(ts.audience) == 0 || ts.policy == ClaimIgnored {
		return nil
	}

	if len(claims.Audience) == 0 && ts.policy == ClaimCheckIfPresent {
		return nil
	}

	for _, aud := range claims.Audience {
		if slices.Contains(ts.audience, aud) {
			return nil
		}
	}

	return WrapError(ErrInvalidAudience, nil).WithMetadata(map[string]any{"aud": []string(claims.Audience)})
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return WrapError(ErrMalformedCredential, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return WrapError(ErrInvalidSignature, err)
	default:
		return WrapError(ErrMalformedCredential, err)
	}
}

func validateIssuable(identity Identity) error {
	return validation.ValidateStruct(&identity,
		validation.Field(&identity.ID, validation.Required),
		validation.Field(&identity.Email, validation.Required),
		validation.Field(&identity.Role, validation.Required, validation.In(
			RoleAdmin,
			RoleTrainer,
			RoleMember,
			RoleNonMember,
		)),
	)
}
