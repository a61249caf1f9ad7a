package auth

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

// DBConfig configures the persistence client
type DBConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

var _ persistence.Config = DBConfig{}

func (c DBConfig) GetDebug() bool    { return c.Debug }
func (c DBConfig) GetDriver() string { return c.Driver }
func (c DBConfig) GetServer() string { return c.DSN }

func (c DBConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c DBConfig) GetOtelIdentifier() string { return "" }

// OpenDB connects to the database and registers the embedded migrations.
// Call Migrate to apply them.
func OpenDB(cfg DBConfig, logger Logger) (*persistence.Client, error) {
	var (
		sqldb   *sql.DB
		dialect schema.Dialect
		err     error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3", "":
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, err
		}
		// sqlite only supports a single writer
		sqldb.SetMaxOpenConns(1)
		dialect = sqlitedialect.New()
	case "postgres", "pg", "pgx":
		sqldb, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialect = pgdialect.New()
	default:
		return nil, errors.New("unsupported database driver "+cfg.Driver, errors.CategoryBadInput)
	}

	persistence.RegisterModel((*User)(nil))

	client, err := persistence.New(cfg, sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return nil, DeriveError(ErrStoreUnavailable, "database unreachable", err)
	}

	if logger == nil {
		logger = defLogger()
	}
	client.SetLogger(persistenceLogger{logger})

	migrations, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	return client, nil
}

// Migrate applies pending migrations. Applied files are recorded by the
// migrator, so running it again only applies new files.
func Migrate(ctx context.Context, client *persistence.Client) error {
	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}
	return client.Migrate(ctx)
}

// persistenceLogger adapts Logger to the persistence client, which logs
// key value pairs like slog. Fatal is logged as an error and never exits.
type persistenceLogger struct {
	Logger
}

func (l persistenceLogger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
}
