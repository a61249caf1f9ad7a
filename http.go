package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/gymstack/gym-auth/middleware/jwtware"
)

// DefaultRejectedRouteKey is the cookie holding the page a browser was
// bounced from
const DefaultRejectedRouteKey = "redirect_to"

// IdentityHandler is a protected handler. The resolved identity is passed
// explicitly.
type IdentityHandler func(c *fiber.Ctx, identity Identity) error

// HTTPOptions configures a RouteAuthenticator
type HTTPOptions struct {
	TokenLookup string
	AuthScheme  string
	Cookies     CookieOptions
	// LoginPath is where browser requests are sent on 401
	LoginPath string
	// APIPrefix marks routes that always get JSON errors
	APIPrefix string
	// RefreshHeader carries silently renewed access tokens
	RefreshHeader    string
	RejectedRouteKey string
	// ForbiddenView is rendered for browser 403s when set
	ForbiddenView string
	// RetryAfter is sent with 503 responses
	RetryAfter time.Duration
}

// RouteAuthenticator adapts the Gate to fiber
type RouteAuthenticator struct {
	gate       *Gate
	opts       HTTPOptions
	extractors []jwtware.Extractor
	now        Clock

	Logger           Logger
	AuthErrorHandler func(c *fiber.Ctx, err *errors.Error) error
	ErrorHandler     func(c *fiber.Ctx, err error) error
}

// NewHTTPAuthenticator creates a RouteAuthenticator
func NewHTTPAuthenticator(gate *Gate, opts HTTPOptions) (*RouteAuthenticator, error) {
	if gate == nil {
		return nil, DeriveError(ErrInternal, "gate is required", nil)
	}

	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.RefreshHeader == "" {
		opts.RefreshHeader = "X-Refreshed-Token"
	}
	if opts.RejectedRouteKey == "" {
		opts.RejectedRouteKey = DefaultRejectedRouteKey
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	opts.Cookies = opts.Cookies.withDefaults()
	if opts.TokenLookup == "" {
		opts.TokenLookup = jwtware.LookupForCookie(opts.Cookies.TokenName)
	}

	extractors := jwtware.GetExtractors(opts.TokenLookup, opts.AuthScheme)
	if len(extractors) == 0 {
		return nil, DeriveError(ErrValidation, "token lookup has no usable sources", nil)
	}

	a := &RouteAuthenticator{
		gate:       gate,
		opts:       opts,
		extractors: extractors,
		now:        systemClock,
		Logger:     defLogger(),
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

// Options returns the effective options
func (a *RouteAuthenticator) Options() HTTPOptions {
	return a.opts
}

// Protect wraps handler with authentication and the given guards
func (a *RouteAuthenticator) Protect(handler IdentityHandler, guards ...Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := a.Authenticate(c)
		if err != nil {
			return a.ErrorHandler(c, err)
		}

		if err := CheckGuards(res.Identity, guards...); err != nil {
			return a.ErrorHandler(c, err)
		}

		return handler(c, res.Identity)
	}
}

// Authenticate resolves the request credentials and writes the session
// cookie and renewed token back to the response.
func (a *RouteAuthenticator) Authenticate(c *fiber.Ctx) (*Resolution, error) {
	creds := Credentials{
		SessionKey: c.Cookies(a.opts.Cookies.SessionName),
	}

	if raw, source, err := jwtware.ExtractRawToken(c, a.extractors); err == nil {
		creds.Token = raw
		creds.Source = source
	}

	res, err := a.gate.Resolve(c.UserContext(), creds)
	if err != nil {
		if creds.SessionKey != "" && IsAuthenticationError(err) {
			a.cookieDel(c, a.opts.Cookies.SessionName)
		}
		return nil, err
	}

	if res.NewSession {
		a.setCookie(c, a.opts.Cookies.SessionName, res.SessionKey, a.now().Add(a.opts.Cookies.Lifetime))
	}

	if res.RenewedToken != "" {
		c.Set(a.opts.RefreshHeader, res.RenewedToken)
		if res.Source == SourceCookie {
			a.SetTokenCookie(c, res.RenewedToken, res.RenewedExpiresAt)
		}
	}

	return res, nil
}

// SetTokenCookie writes the access token cookie
func (a *RouteAuthenticator) SetTokenCookie(c *fiber.Ctx, token string, expires time.Time) {
	if expires.IsZero() {
		expires = a.now().Add(a.opts.Cookies.Lifetime)
	}
	a.setCookie(c, a.opts.Cookies.TokenName, token, expires)
}

// ClearAuthCookies expires the token and session cookies
func (a *RouteAuthenticator) ClearAuthCookies(c *fiber.Ctx) {
	a.cookieDel(c, a.opts.Cookies.TokenName)
	a.cookieDel(c, a.opts.Cookies.SessionName)
}

// ForgetSession drops the session entry presented by the request and
// expires the session cookie
func (a *RouteAuthenticator) ForgetSession(c *fiber.Ctx) {
	key := a.SessionKey(c)
	if key == "" {
		return
	}
	if err := a.gate.Forget(c.UserContext(), key); err != nil {
		a.Logger.Warn("failed to drop session entry", "error", err)
	}
	a.cookieDel(c, a.opts.Cookies.SessionName)
}

// SessionKey returns the session key presented by the request
func (a *RouteAuthenticator) SessionKey(c *fiber.Ctx) string {
	return c.Cookies(a.opts.Cookies.SessionName)
}

// SetRedirect remembers the current URL so login can send the user back
func (a *RouteAuthenticator) SetRedirect(c *fiber.Ctx) {
	a.Logger.Debug("setting redirect cookie", "key", a.opts.RejectedRouteKey, "path", c.OriginalURL())
	c.Cookie(&fiber.Cookie{
		Name:     a.opts.RejectedRouteKey,
		Value:    c.OriginalURL(),
		Path:     "/",
		Expires:  a.now().Add(5 * time.Minute),
		HTTPOnly: true,
		Secure:   a.opts.Cookies.Secure,
		SameSite: a.opts.Cookies.SameSite,
	})
}

// GetRedirectOrDefault returns the remembered URL, or def, and clears it.
// Only local paths are returned.
func (a *RouteAuthenticator) GetRedirectOrDefault(c *fiber.Ctx, def string) string {
	r := c.Cookies(a.opts.RejectedRouteKey)
	if r != "" {
		a.cookieDel(c, a.opts.RejectedRouteKey)
	}
	if r == "" || !strings.HasPrefix(r, "/") || strings.HasPrefix(r, "//") {
		return def
	}
	return r
}

// WantsJSON reports whether errors for this request should be JSON rather
// than a browser redirect or page.
func (a *RouteAuthenticator) WantsJSON(c *fiber.Ctx) bool {
	if a.opts.APIPrefix != "" && strings.HasPrefix(c.Path(), a.opts.APIPrefix) {
		return true
	}
	if c.XHR() {
		return true
	}
	if c.Get(fiber.HeaderAccept) == "" {
		return false
	}
	return c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

// HandleError renders err using the configured error handler
func (a *RouteAuthenticator) HandleError(c *fiber.Ctx, err error) error {
	return a.ErrorHandler(c, err)
}

func (a *RouteAuthenticator) setCookie(c *fiber.Ctx, name, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: a.opts.Cookies.HTTPOnly,
		Secure:   a.opts.Cookies.Secure,
		SameSite: a.opts.Cookies.SameSite,
	})
}

func (a *RouteAuthenticator) cookieDel(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  a.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: a.opts.Cookies.HTTPOnly,
		Secure:   a.opts.Cookies.Secure,
		SameSite: a.opts.Cookies.SameSite,
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c *fiber.Ctx, richErr *errors.Error) error {
	a.Logger.Info(
		"authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	a.SetRedirect(c)

	statusCode := http.StatusSeeOther
	if c.Method() == fiber.MethodGet {
		statusCode = http.StatusFound
	}
	return c.Redirect(a.opts.LoginPath, statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c *fiber.Ctx, err error) error {
	richErr := AsError(err)
	status := StatusCode(richErr)
	a.logRequestError(c.OriginalURL(), richErr, status)

	if !a.WantsJSON(c) {
		switch status {
		case http.StatusUnauthorized:
			return a.AuthErrorHandler(c, richErr)
		case http.StatusForbidden:
			if a.opts.ForbiddenView != "" {
				return c.Status(status).Render(a.opts.ForbiddenView, fiber.Map{
					"error": richErr.Message,
				})
			}
		}
	}

	if status == http.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(a.opts.RetryAfter.Seconds())))
	}

	return c.Status(status).JSON(fiber.Map{
		"error": richErr.Message,
	})
}

func (a *RouteAuthenticator) logRequestError(path string, richErr *errors.Error, status int) {
	args := []any{
		"error", richErr.Message,
		"category", richErr.Category,
		"text_code", richErr.TextCode,
		"path", path,
	}
	if richErr.Source != nil {
		args = append(args, "cause", richErr.Source.Error())
	}
	if len(richErr.Metadata) > 0 {
		args = append(args, "details", print.MaybePrettyJSON(richErr.Metadata))
	}

	if status >= http.StatusInternalServerError {
		a.Logger.Error("request failed", args...)
	} else {
		a.Logger.Info("request rejected", args...)
	}
}

// FiberErrorHandler is a fiber.Config ErrorHandler that renders package
// errors through the RouteAuthenticator and everything else as JSON.
func (a *RouteAuthenticator) FiberErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return a.ErrorHandler(c, err)
}
