package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultRenewThreshold is the remaining lifetime under which access tokens
// are silently reissued
const DefaultRenewThreshold = time.Hour

// Credential sources
const (
	SourceSession = "session"
	SourceHeader  = "header"
	SourceCookie  = "cookie"
	SourceQuery   = "query"
)

// Credentials are what a request presented
type Credentials struct {
	SessionKey string
	Token      string
	// Source is where Token was found: header, cookie or query
	Source string
}

// Resolution is the outcome of a successful Resolve
type Resolution struct {
	Identity Identity
	// Claims is nil when the request was resolved from a session entry
	Claims     *JWTClaims
	Source     string
	SessionKey string
	// NewSession is set when a session entry was created for this request
	NewSession       bool
	RenewedToken     string
	RenewedExpiresAt time.Time
	Downgraded       bool
}

// GateOptions configures a Gate
type GateOptions struct {
	Verifier TokenVerifier
	Store    CredentialStore
	// Sessions is optional; nil disables the session layer
	Sessions SessionStore
	// RenewThreshold enables silent refresh when positive
	RenewThreshold time.Duration
	Clock          Clock
	Logger         Logger
	Metrics        MetricsRecorder
	Activity       ActivitySink
}

// Gate resolves request credentials into a verified identity
type Gate struct {
	verifier       TokenVerifier
	store          CredentialStore
	sessions       SessionStore
	renewThreshold time.Duration
	now            Clock
	logger         Logger
	metrics        MetricsRecorder
	activity       ActivitySink

	prepareOnce sync.Once
	prepareErr  error
}

// NewGate creates a Gate
func NewGate(opts GateOptions) (*Gate, error) {
	if opts.Verifier == nil {
		return nil, DeriveError(ErrInternal, "token verifier is required", nil)
	}
	if opts.Store == nil {
		return nil, DeriveError(ErrInternal, "credential store is required", nil)
	}

	g := &Gate{
		verifier:       opts.Verifier,
		store:          opts.Store,
		sessions:       opts.Sessions,
		renewThreshold: opts.RenewThreshold,
		now:            opts.Clock,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		activity:       normalizeActivitySink(opts.Activity),
	}
	if g.now == nil {
		g.now = systemClock
	}
	if g.logger == nil {
		g.logger = defLogger()
	}
	if g.metrics == nil {
		g.metrics = noopMetrics{}
	}

	return g, nil
}

// SessionsEnabled reports whether a session layer is configured
func (g *Gate) SessionsEnabled() bool {
	return g.sessions != nil
}

// Prepare clears the session layer. Only the first call does any work; it
// is meant to run once at startup before serving requests.
func (g *Gate) Prepare(ctx context.Context) error {
	g.prepareOnce.Do(func() {
		if g.sessions == nil {
			return
		}
		if err := g.sessions.Clear(ctx); err != nil {
			g.prepareErr = err
			g.logger.Error("failed to clear sessions at startup", "error", err)
			return
		}
		g.logger.Info("sessions cleared at startup")
		recordActivity(ctx, g.activity, g.logger, ActivityEvent{
			EventType:  ActivityEventSessionsCleared,
			OccurredAt: g.now(),
		})
	})
	return g.prepareErr
}

// Forget drops the session entry for key
func (g *Gate) Forget(ctx context.Context, key string) error {
	if g.sessions == nil || key == "" {
		return nil
	}
	return g.sessions.Delete(ctx, key)
}

// Resolve runs the authentication pipeline: session lookup, then token
// verification, then an authoritative store lookup with lazy downgrade,
// then session write-through and silent refresh. Only cookie credentials
// are written through; header and query tokens have no way to carry the
// session key back.
func (g *Gate) Resolve(ctx context.Context, creds Credentials) (res *Resolution, err error) {
	source := creds.Source
	defer func() {
		outcome := OutcomeSuccess
		if err != nil {
			outcome = outcomeOf(err)
		} else {
			source = res.Source
		}
		g.metrics.RecordAuthentication(outcome, source)
	}()

	if res, ok, err := g.resolveSession(ctx, creds.SessionKey); err != nil || ok {
		return res, err
	}

	token := strings.TrimSpace(creds.Token)
	if token == "" {
		return nil, ErrMissingCredential
	}

	claims, err := g.verifier.VerifyKind(token, TokenKindAccess)
	if err != nil {
		return nil, err
	}

	identity, downgraded, err := g.loadIdentity(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}

	res = &Resolution{
		Identity:   identity,
		Claims:     claims,
		Source:     creds.Source,
		Downgraded: downgraded,
	}

	if creds.Source == SourceCookie {
		g.writeSession(ctx, res)
	}
	g.renew(res)

	return res, nil
}

func (g *Gate) resolveSession(ctx context.Context, key string) (*Resolution, bool, error) {
	if g.sessions == nil || key == "" {
		return nil, false, nil
	}

	entry, err := g.sessions.Get(ctx, key)
	switch {
	case err == nil:
		g.metrics.RecordSessionLookup(SessionHit)
	case errors.Is(err, ErrSessionNotFound):
		g.metrics.RecordSessionLookup(SessionMiss)
		return nil, false, nil
	default:
		g.metrics.RecordSessionLookup(SessionError)
		g.logger.Warn("session lookup failed, falling back to token", "error", err)
		return nil, false, nil
	}

	identity, downgraded, err := g.loadIdentity(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			g.logger.Info("dropping session for missing principal", "user_id", entry.UserID)
			if err := g.sessions.Delete(ctx, key); err != nil {
				g.logger.Warn("failed to delete session", "error", err)
			}
			return nil, false, nil
		}
		return nil, false, err
	}

	if identity.Role != entry.Role || identity.Email != entry.Email {
		refreshed := NewSessionEntry(key, identity, entry.CreatedAt)
		if err := g.sessions.Set(ctx, refreshed); err != nil {
			g.logger.Warn("failed to refresh session entry", "error", err)
		}
	}

	return &Resolution{
		Identity:   identity,
		Source:     SourceSession,
		SessionKey: key,
		Downgraded: downgraded,
	}, true, nil
}

// LoadIdentity reads the stored identity for userID, downgrading an expired
// member first
func (g *Gate) LoadIdentity(ctx context.Context, userID string) (Identity, error) {
	identity, _, err := g.loadIdentity(ctx, userID)
	return identity, err
}

// loadIdentity reads the authoritative identity and applies the lazy
// membership downgrade
func (g *Gate) loadIdentity(ctx context.Context, userID string) (Identity, bool, error) {
	identity, err := g.store.FindByID(ctx, userID)
	if err != nil {
		return Identity{}, false, storeFailure(err)
	}

	now := g.now()
	if !identity.MembershipExpired(now) {
		return identity, false, nil
	}

	changed, err := g.store.DowngradeExpiredMember(ctx, identity.ID, now)
	if err != nil {
		return Identity{}, false, storeFailure(err)
	}

	from := identity.Role
	identity.Role = RoleNonMember

	if changed {
		g.metrics.RecordDowngrade()
		g.logger.Info("expired member downgraded", "user_id", identity.ID)
		recordActivity(ctx, g.activity, g.logger, ActivityEvent{
			EventType:  ActivityEventMemberDowngraded,
			UserID:     identity.ID,
			FromRole:   from,
			ToRole:     RoleNonMember,
			OccurredAt: now,
			Metadata: map[string]any{
				"membership_expiry": identity.MembershipExpiry,
			},
		})
	}

	return identity, changed, nil
}

func (g *Gate) writeSession(ctx context.Context, res *Resolution) {
	if g.sessions == nil {
		return
	}

	key := uuid.NewString()
	if err := g.sessions.Set(ctx, NewSessionEntry(key, res.Identity, g.now())); err != nil {
		g.logger.Warn("failed to write session entry", "user_id", res.Identity.ID, "error", err)
		return
	}

	res.SessionKey = key
	res.NewSession = true
}

func (g *Gate) renew(res *Resolution) {
	if g.renewThreshold <= 0 || res.Claims == nil {
		return
	}

	if res.Claims.Remaining(g.now()) > g.renewThreshold {
		return
	}

	token, expiresAt, err := g.verifier.Issue(res.Identity, TokenKindAccess, g.verifier.AccessTTL())
	if err != nil {
		g.logger.Error("silent token refresh failed", "user_id", res.Identity.ID, "error", err)
		return
	}

	res.RenewedToken = token
	res.RenewedExpiresAt = expiresAt
}

func storeFailure(err error) error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}
	return WrapError(ErrStoreUnavailable, err)
}
