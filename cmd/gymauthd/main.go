package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/template/django/v3"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	auth "github.com/gymstack/gym-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/unrolled/secure"
)

//go:embed views
var viewsFS embed.FS

type App struct {
	config  *auth.Config
	logger  *slog.Logger
	db      *persistence.Client
	redis   redis.UniversalClient
	limiter *auth.RateLimiter
	gate    *auth.Gate
	server  router.Server[*fiber.App]
}

func main() {
	if err := run(); err != nil {
		slog.Error("gymauthd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := auth.LoadConfig()
	if err != nil {
		return err
	}

	logger := auth.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// sessions from a previous process are dropped before serving
	if err := app.gate.Prepare(ctx); err != nil {
		logger.Warn("session reset failed, continuing", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.AppAddr, "env", cfg.AppEnv)
		errCh <- app.server.Serve(cfg.AppAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.server.Shutdown(shutdownCtx)
}

func newApp(ctx context.Context, cfg *auth.Config, logger *slog.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	db, err := auth.OpenDB(cfg.DBConfig(), logger)
	if err != nil {
		return nil, err
	}
	a.db = db

	if err := auth.Migrate(ctx, db); err != nil {
		a.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := auth.NewCollector(registry)

	tokens, err := auth.NewTokenService(cfg.TokenOptions())
	if err != nil {
		a.Close()
		return nil, err
	}
	tokens.WithLogger(logger)

	sessions, err := a.sessionStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	users := auth.NewUsersRepository(db.DB())
	activity := auth.LoggerActivitySink{Logger: logger.With("component", "activity")}

	gate, err := auth.NewGate(auth.GateOptions{
		Verifier: tokens,
		Store: auth.NewRetryStore(users, cfg.RetryOptions()).
			WithMetrics(metrics).
			WithLogger(logger),
		Sessions:       sessions,
		RenewThreshold: cfg.RenewThreshold,
		Logger:         logger,
		Metrics:        metrics,
		Activity:       activity,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gate = gate

	auther := auth.NewAuthenticator(users, tokens, gate).
		WithLogger(logger).
		WithHasher(auth.NewBcryptHasher(cfg.PasswordCost)).
		WithActivitySink(activity).
		WithMetrics(metrics).
		WithPhoneRegion(cfg.PhoneRegion)

	httpAuth, err := auth.NewHTTPAuthenticator(gate, auth.HTTPOptions{
		TokenLookup:   cfg.EffectiveTokenLookup(),
		Cookies:       cfg.CookieOptions(),
		LoginPath:     cfg.LoginPath,
		APIPrefix:     cfg.APIPrefix,
		RefreshHeader: cfg.RefreshHeader,
		ForbiddenView: "forbidden",
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	httpAuth.WithLogger(logger)

	a.limiter = auth.NewRateLimiter(cfg.RateLimit()).WithLogger(logger)

	views, err := fs.Sub(viewsFS, "views")
	if err != nil {
		a.Close()
		return nil, err
	}

	server := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return fiber.New(fiber.Config{
			AppName:               "gymauthd",
			Views:                 django.NewFileSystem(http.FS(views), ".html"),
			ErrorHandler:          httpAuth.FiberErrorHandler,
			DisableStartupMessage: true,
			PassLocalsToViews:     true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
		})
	})
	srv := server.WrappedRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
		SSLRedirect:           cfg.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.IsProduction(),
	})
	srv.Use(adaptor.HTTPMiddleware(secureMiddleware.Handler))

	srv.Get("/metrics", adaptor.HTTPHandler(auth.MetricsHandler(registry)))
	srv.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.Ping(c.UserContext()); err != nil {
			return httpAuth.HandleError(c, auth.WrapError(auth.ErrStoreUnavailable, err))
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	srv.Get(cfg.LoginPath, func(c *fiber.Ctx) error {
		return c.Render("login", fiber.Map{"api_prefix": cfg.APIPrefix})
	})
	pages := server.Router().WithLogger(logger.With("component", "router"))
	pages.Get("/dashboard", a.dashboard("Member dashboard"), httpAuth.RouterMiddleware(auth.MemberAccess))
	pages.Get("/admin/dashboard", a.dashboard("Admin dashboard"), httpAuth.RouterMiddleware(auth.AdminOnly))

	controller := auth.NewAuthController(auther, httpAuth,
		auth.WithControllerLogger(logger),
		auth.WithRateLimiter(a.limiter),
		auth.WithDebug(!cfg.IsProduction()),
	)
	auth.RegisterAuthRoutes(srv.Group(cfg.APIPrefix), controller)

	a.server = server
	return a, nil
}

func (a *App) sessionStore(ctx context.Context) (auth.SessionStore, error) {
	if !a.config.SessionEnabled {
		a.logger.Info("session layer disabled")
		return nil, nil
	}

	switch a.config.SessionBackend {
	case auth.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.config.RedisAddr,
			Password: a.config.RedisPassword,
			DB:       a.config.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, auth.DeriveError(auth.ErrStoreUnavailable, "redis unreachable", err)
		}
		a.redis = client
		return auth.NewRedisSessionStore(client, a.config.SessionTTL), nil
	default:
		return auth.NewMemorySessionStore(a.config.SessionTTL), nil
	}
}

func (a *App) dashboard(title string) router.HandlerFunc {
	return func(ctx router.Context) error {
		identity, ok := auth.RouterIdentity(ctx)
		if !ok {
			return auth.ErrMissingCredential
		}
		vars := router.ViewContext{
			"title":      title,
			"email":      identity.Email,
			"role":       string(identity.Role),
			"api_prefix": a.config.APIPrefix,
		}
		if identity.MembershipExpiry != nil {
			vars["membership_expiry"] = identity.MembershipExpiry.Format(time.DateOnly)
		}
		return ctx.Render("dashboard", vars)
	}
}

// Close releases the process resources
func (a *App) Close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("db close failed", "error", err)
		}
	}
}
