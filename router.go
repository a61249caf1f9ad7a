package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-router"
	"github.com/gymstack/gym-auth/middleware/jwtware"
)

// IdentityLocalsKey holds the Identity resolved by RouterMiddleware
const IdentityLocalsKey = "gymauth.identity"

// RouterMiddleware protects go-router routes the way Protect protects fiber
// handlers. Handlers read the identity with RouterIdentity.
func (a *RouteAuthenticator) RouterMiddleware(guards ...Guard) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			res, err := a.AuthenticateRouter(ctx)
			if err != nil {
				return a.routerError(ctx, err)
			}

			if err := CheckGuards(res.Identity, guards...); err != nil {
				return a.routerError(ctx, err)
			}

			ctx.Locals(IdentityLocalsKey, res.Identity)
			return next(ctx)
		}
	}
}

// RouterIdentity returns the identity stored by RouterMiddleware
func RouterIdentity(ctx router.Context) (Identity, bool) {
	identity, ok := ctx.Locals(IdentityLocalsKey).(Identity)
	return identity, ok
}

// AuthenticateRouter is Authenticate for go-router contexts
func (a *RouteAuthenticator) AuthenticateRouter(ctx router.Context) (*Resolution, error) {
	creds := Credentials{
		SessionKey: ctx.Cookies(a.opts.Cookies.SessionName),
	}

	if raw, source, err := jwtware.ExtractRouterToken(ctx, a.extractors); err == nil {
		creds.Token = raw
		creds.Source = source
	}

	res, err := a.gate.Resolve(ctx.Context(), creds)
	if err != nil {
		if creds.SessionKey != "" && IsAuthenticationError(err) {
			a.routerCookie(ctx, a.opts.Cookies.SessionName, "", a.now().Add(-24*365*time.Hour))
		}
		return nil, err
	}

	if res.NewSession {
		a.routerCookie(ctx, a.opts.Cookies.SessionName, res.SessionKey, a.now().Add(a.opts.Cookies.Lifetime))
	}

	if res.RenewedToken != "" {
		ctx.SetHeader(a.opts.RefreshHeader, res.RenewedToken)
		if res.Source == SourceCookie {
			a.routerCookie(ctx, a.opts.Cookies.TokenName, res.RenewedToken, res.RenewedExpiresAt)
		}
	}

	return res, nil
}

func (a *RouteAuthenticator) routerError(ctx router.Context, err error) error {
	richErr := AsError(err)
	status := StatusCode(richErr)
	a.logRequestError(ctx.OriginalURL(), richErr, status)

	if !a.routerWantsJSON(ctx) {
		switch status {
		case http.StatusUnauthorized:
			a.routerCookie(ctx, a.opts.RejectedRouteKey, ctx.OriginalURL(), a.now().Add(5*time.Minute))
			code := http.StatusSeeOther
			if ctx.Method() == http.MethodGet {
				code = http.StatusFound
			}
			return ctx.Redirect(a.opts.LoginPath, code)
		case http.StatusForbidden:
			if a.opts.ForbiddenView != "" {
				return ctx.Status(status).Render(a.opts.ForbiddenView, router.ViewContext{
					"error": richErr.Message,
				})
			}
		}
	}

	if status == http.StatusServiceUnavailable {
		ctx.SetHeader("Retry-After", strconv.Itoa(int(a.opts.RetryAfter.Seconds())))
	}

	return ctx.JSON(status, map[string]string{"error": richErr.Message})
}

func (a *RouteAuthenticator) routerWantsJSON(ctx router.Context) bool {
	if a.opts.APIPrefix != "" && strings.HasPrefix(ctx.Path(), a.opts.APIPrefix) {
		return true
	}
	if strings.EqualFold(ctx.Header("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	accept := ctx.Header("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func (a *RouteAuthenticator) routerCookie(ctx router.Context, name, value string, expires time.Time) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: a.opts.Cookies.HTTPOnly,
		Secure:   a.opts.Cookies.Secure,
		SameSite: a.opts.Cookies.SameSite,
	})
}
