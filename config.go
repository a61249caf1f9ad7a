package auth

import (
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gymstack/gym-auth/middleware/jwtware"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/time/rate"
)

// Session backends
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config holds the runtime configuration, read from the environment
type Config struct {
	AppAddr   string `envconfig:"APP_ADDR" default:":5001"`
	AppEnv    string `envconfig:"APP_ENV" default:"development"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	SecretKey           string            `envconfig:"SECRET_KEY"`
	SigningKeyID        string            `envconfig:"SIGNING_KEY_ID"`
	PreviousSigningKeys map[string]string `envconfig:"PREVIOUS_SIGNING_KEYS"`
	AccessTokenTTL      time.Duration     `envconfig:"ACCESS_TOKEN_TTL" default:"24h"`
	RefreshTokenTTL     time.Duration     `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`
	RenewThreshold      time.Duration     `envconfig:"TOKEN_RENEW_THRESHOLD" default:"1h"`
	TokenIssuer         string            `envconfig:"TOKEN_ISSUER"`
	TokenAudience       []string          `envconfig:"TOKEN_AUDIENCE"`
	ClaimPolicy         string            `envconfig:"TOKEN_CLAIM_POLICY" default:"required_if_configured"`

	// TokenLookup defaults to the bearer header, the TOKEN_COOKIE cookie and
	// the token query parameter
	TokenLookup   string `envconfig:"TOKEN_LOOKUP"`
	RefreshHeader string `envconfig:"REFRESH_HEADER" default:"X-Refreshed-Token"`

	TokenCookie    string        `envconfig:"TOKEN_COOKIE" default:"token"`
	SessionCookie  string        `envconfig:"SESSION_COOKIE" default:"session_id"`
	CookieSecure   bool          `envconfig:"COOKIE_SECURE" default:"true"`
	CookieHTTPOnly bool          `envconfig:"COOKIE_HTTP_ONLY" default:"true"`
	CookieSameSite string        `envconfig:"COOKIE_SAME_SITE" default:"Lax"`
	CookieLifetime time.Duration `envconfig:"COOKIE_LIFETIME" default:"24h"`

	SessionEnabled bool          `envconfig:"SESSION_ENABLED" default:"true"`
	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"memory"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`

	DBDriver      string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN         string        `envconfig:"DB_DSN" default:"file:gym.db?cache=shared"`
	DBDebug       bool          `envconfig:"DB_DEBUG" default:"false"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"2s"`
	StoreAttempts int           `envconfig:"STORE_ATTEMPTS" default:"3"`
	StoreBackoff  time.Duration `envconfig:"STORE_BACKOFF" default:"50ms"`

	LoginRate  float64 `envconfig:"LOGIN_RATE" default:"0.2"`
	LoginBurst int     `envconfig:"LOGIN_BURST" default:"5"`

	LoginPath    string `envconfig:"LOGIN_PATH" default:"/login"`
	APIPrefix    string `envconfig:"API_PREFIX" default:"/api"`
	PasswordCost int    `envconfig:"PASSWORD_COST" default:"10"`
	PhoneRegion  string `envconfig:"PHONE_REGION" default:"US"`
}

// LoadConfig reads configuration from environment variables
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, DeriveError(ErrValidation, "invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and enumerations
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SecretKey, validation.Required.Error("SECRET_KEY must be provided")),
		validation.Field(&c.ClaimPolicy, validation.In(
			string(ClaimRequiredIfConfigured), string(ClaimCheckIfPresent), string(ClaimIgnored),
		)),
		validation.Field(&c.LogFormat, validation.In("json", "text")),
		validation.Field(&c.SessionBackend, validation.In(SessionBackendMemory, SessionBackendRedis)),
		validation.Field(&c.DBDriver, validation.In("sqlite", "sqlite3", "postgres", "pg", "pgx")),
		validation.Field(&c.CookieSameSite, validation.In("Lax", "Strict", "None", "lax", "strict", "none")),
		validation.Field(&c.AccessTokenTTL, validation.Min(time.Second)),
		validation.Field(&c.RefreshTokenTTL, validation.Min(time.Second)),
		validation.Field(&c.StoreAttempts, validation.Min(1)),
		validation.Field(&c.LoginBurst, validation.Min(1)),
		validation.Field(&c.TokenCookie, validation.Required),
		validation.Field(&c.LoginPath, validation.Required),
	)
	if err != nil {
		return DeriveError(ErrValidation, "invalid configuration", err)
	}

	lookup := c.EffectiveTokenLookup()
	if len(jwtware.GetExtractors(lookup)) == 0 {
		return DeriveError(ErrValidation, "TOKEN_LOOKUP has no usable sources", nil)
	}
	// the login handler writes TOKEN_COOKIE, so a cookie lookup must read it
	if names := jwtware.CookieNames(lookup); len(names) > 0 && !slices.Contains(names, c.TokenCookie) {
		return DeriveError(ErrValidation, "TOKEN_LOOKUP cookie source must match TOKEN_COOKIE", nil).
			WithMetadata(map[string]any{"token_lookup": lookup, "token_cookie": c.TokenCookie})
	}
	return nil
}

// EffectiveTokenLookup is TokenLookup, or the default lookup reading the
// token from TokenCookie when unset
func (c Config) EffectiveTokenLookup() string {
	if lookup := strings.TrimSpace(c.TokenLookup); lookup != "" {
		return lookup
	}
	return jwtware.LookupForCookie(c.TokenCookie)
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// TokenOptions builds the token service settings
func (c *Config) TokenOptions() TokenOptions {
	var previous map[string][]byte
	if len(c.PreviousSigningKeys) > 0 {
		previous = make(map[string][]byte, len(c.PreviousSigningKeys))
		for kid, secret := range c.PreviousSigningKeys {
			previous[strings.TrimSpace(kid)] = []byte(secret)
		}
	}

	audience := make([]string, 0, len(c.TokenAudience))
	for _, aud := range c.TokenAudience {
		if aud = strings.TrimSpace(aud); aud != "" {
			audience = append(audience, aud)
		}
	}

	return TokenOptions{
		SigningKey:   []byte(c.SecretKey),
		KeyID:        c.SigningKeyID,
		PreviousKeys: previous,
		AccessTTL:    c.AccessTokenTTL,
		RefreshTTL:   c.RefreshTokenTTL,
		Issuer:       c.TokenIssuer,
		Audience:     audience,
		ClaimPolicy:  ClaimPolicy(c.ClaimPolicy),
	}
}

// DBConfig builds the persistence client settings
func (c *Config) DBConfig() DBConfig {
	return DBConfig{
		Driver:      c.DBDriver,
		DSN:         c.DBDSN,
		Debug:       c.DBDebug,
		PingTimeout: c.StoreTimeout,
	}
}

// RetryOptions builds the store retry settings
func (c *Config) RetryOptions() RetryOptions {
	return RetryOptions{
		Timeout:  c.StoreTimeout,
		Attempts: c.StoreAttempts,
		Backoff:  c.StoreBackoff,
	}
}

// RateLimit builds the login limiter settings
func (c *Config) RateLimit() RateLimiterConfig {
	cfg := DefaultRateLimiterConfig()
	cfg.Rate = rate.Limit(c.LoginRate)
	cfg.Burst = c.LoginBurst
	return cfg
}

// CookieOptions builds the cookie settings
func (c *Config) CookieOptions() CookieOptions {
	return CookieOptions{
		TokenName:   c.TokenCookie,
		SessionName: c.SessionCookie,
		Secure:      c.CookieSecure,
		HTTPOnly:    c.CookieHTTPOnly,
		SameSite:    c.CookieSameSite,
		Lifetime:    c.CookieLifetime,
	}
}

// CookieOptions are applied to the token and session cookies
type CookieOptions struct {
	TokenName   string
	SessionName string
	Secure      bool
	HTTPOnly    bool
	SameSite    string
	Lifetime    time.Duration
}

// DefaultCookieOptions mirrors the configuration defaults
var DefaultCookieOptions = CookieOptions{
	TokenName:   "token",
	SessionName: "session_id",
	Secure:      true,
	HTTPOnly:    true,
	SameSite:    "Lax",
	Lifetime:    24 * time.Hour,
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.TokenName == "" {
		o.TokenName = DefaultCookieOptions.TokenName
	}
	if o.SessionName == "" {
		o.SessionName = DefaultCookieOptions.SessionName
	}
	if o.SameSite == "" {
		o.SameSite = DefaultCookieOptions.SameSite
	}
	if o.Lifetime <= 0 {
		o.Lifetime = DefaultCookieOptions.Lifetime
	}
	return o
}
