package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docparser/internal/common"
)

type Config struct {
	Driver           string // sqlite or postgres
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an open database with its ent driver.
type DB struct {
	drv    *entsql.Driver
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to sqlite (modernc) or to postgres through a pgx pool.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", "sqlite":
		return openSQLite(cfg, logger)
	case "postgres":
		return openPostgres(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("opening sqlite database", "dsn", cfg.DSN)
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		logger.Error("failed to open sqlite database", "error", err)
		return nil, err
	}
	// sqlite allows a single writer; one connection keeps writes from racing into SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &DB{drv: entsql.OpenDB(dialect.SQLite, db), logger: logger}, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "docparser"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("successfully connected to database")
	return &DB{drv: entsql.OpenDB(dialect.Postgres, db), pool: pool, logger: logger}, nil
}

// Close closes the database connections gracefully.
func (d *DB) Close() {
	d.logger.Info("closing database connections")
	if err := d.drv.Close(); err != nil {
		d.logger.Error("failed to close database", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
}

// HealthCheck pings the database.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	d.logger.Debug("pinging database")
	if err := d.drv.DB().PingContext(ctx); err != nil {
		return common.WrapError(errors.Join(common.ErrDatabase, err), "ping database")
	}
	return nil
}

func (d *DB) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.drv.Dialect())
}

func (d *DB) exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := d.drv.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Join(common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Join(common.ErrDatabase, err)
	}
	return n, nil
}

func (d *DB) query(ctx context.Context, sel *entsql.Selector) (*sql.Rows, error) {
	q, args := sel.Query()
	rows, err := d.drv.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Join(common.ErrDatabase, err)
	}
	return rows, nil
}

// update runs an UPDATE and reports ErrNotFound when no row matched.
func (d *DB) update(ctx context.Context, ub *entsql.UpdateBuilder, what, id string) error {
	q, args := ub.Query()
	n, err := d.exec(ctx, q, args)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", what, id, err)
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

func notFound(what, id string) error {
	return common.NewAppError("NOT_FOUND", fmt.Sprintf("%s %s not found", what, id), common.ErrNotFound)
}

// scanner is satisfied by *sql.Rows and *sql.Row.
type scanner interface {
	Scan(dest ...any) error
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

// nullable turns a nil pointer into a SQL NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
