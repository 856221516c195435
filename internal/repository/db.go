package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/witness-arbiter/internal/common"
)

const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// DB is an open SQL connection wrapped for the ent query builders.
type DB struct {
	Driver  *entsql.Driver
	Dialect string

	sqlDB *sql.DB
	pool  *pgxpool.Pool
}

// OpenDB connects to sqlite (a local file) or postgres (through a pgx pool).
func OpenDB(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case DriverSQLite:
		return openSQLite(ctx, cfg, logger)
	case DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("%w: %q is not a sql driver", common.ErrInvalidInput, cfg.Driver)
}

func openSQLite(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*DB, error) {
	dsn := cfg.DSN
	if path := sqlitePath(dsn); path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	logger.Info("repository.sqlite.open", "dsn", dsn)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; transactions queue on the pool instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.Error("repository.sqlite.open_failed", "error", err)
		return nil, err
	}
	return &DB{Driver: entsql.OpenDB(dialect.SQLite, db), Dialect: dialect.SQLite, sqlDB: db}, nil
}

func openPostgres(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*DB, error) {
	logger.Info("repository.postgres.connect")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("repository.postgres.connect_failed", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "witness-arbiter"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialCtx, cancel := common.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("repository.postgres.connect_failed", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent builders
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("repository.postgres.connected")
	return &DB{Driver: entsql.OpenDB(dialect.Postgres, db), Dialect: dialect.Postgres, sqlDB: db, pool: pool}, nil
}

// Close closes the database connections gracefully.
func (d *DB) Close() error {
	err := d.Driver.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := common.WithTimeout(ctx, timeout)
	defer cancel()
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	return d.sqlDB.PingContext(ctx)
}

// sqlitePath extracts the file path from a modernc sqlite DSN.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}
