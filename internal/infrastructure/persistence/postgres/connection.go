// Package postgres implements the PostgreSQL classroom store used by
// shared deployments. Each class checkpoint is written in one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrConnectionClosed indicates the connection pool is closed.
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")

	// ErrMigrationFailed indicates a migration failure.
	ErrMigrationFailed = errors.New("postgres: migration failed")

	// ErrTransactionFailed indicates a transaction could not be started.
	ErrTransactionFailed = errors.New("postgres: transaction failed")
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a duplicate class id or student number.
func IsUniqueViolation(err error) bool { return sqlState(err) == codeUniqueViolation }

// IsForeignKeyViolation reports a log entry pointing at a missing student.
func IsForeignKeyViolation(err error) bool { return sqlState(err) == codeForeignKeyViolation }

// IsCheckViolation reports a negative balance or a bad category.
func IsCheckViolation(err error) bool { return sqlState(err) == codeCheckViolation }

// IsSerializationFailure reports conflicts a retry can resolve.
func IsSerializationFailure(err error) bool {
	code := sqlState(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config describes a server by parts. Deployments usually pass a URL to
// NewConnectionFromURL instead.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// SSLMode is disable, prefer, require, verify-ca or verify-full.
	SSLMode string

	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// DefaultConfig returns a default configuration for a local server.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		Database:       "classpoints",
		User:           "classpoints",
		SSLMode:        "prefer",
		MaxConns:       8,
		MinConns:       1,
		ConnectTimeout: 10 * time.Second,
	}
}

// DSN returns the keyword/value connection string. An empty password is
// left out so PGPASSWORD and .pgpass still apply.
func (c Config) DSN() string {
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + c.Database,
		"user=" + c.User,
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	parts = append(parts,
		"sslmode="+c.SSLMode,
		fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout.Seconds())),
	)
	return strings.Join(parts, " ")
}

// PoolConfig returns pgxpool configuration.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	tunePool(pc, c.MaxConns)
	pc.MinConns = c.MinConns
	return pc, nil
}

// tunePool applies the limits shared by both constructors. Checkpoints
// are short, so a small pool with recycled connections is enough.
func tunePool(pc *pgxpool.Config, maxConns int32) {
	if maxConns > 0 {
		pc.MaxConns = maxConns
	}
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 30 * time.Minute
	pc.HealthCheckPeriod = time.Minute
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION POOL
// ══════════════════════════════════════════════════════════════════════════════

// Connection wraps a pool and refuses work once closed.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnection creates a pool from cfg and pings the server.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	return open(ctx, pc)
}

// NewConnectionFromURL creates a pool from a postgres:// URL. A
// non-positive maxConns keeps the URL's pool_max_conns or the pgx default.
func NewConnectionFromURL(ctx context.Context, databaseURL string, maxConns int32) (*Connection, error) {
	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}
	tunePool(pc, maxConns)
	return open(ctx, pc)
}

func open(ctx context.Context, pc *pgxpool.Config) (*Connection, error) {
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping %s: %w", pc.ConnConfig.Host, err)
	}
	return &Connection{pool: pool}, nil
}

// Close closes the pool. Later calls are no-ops.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping checks if the database connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

// HealthStatus is a point-in-time view of the pool and the stored data.
type HealthStatus struct {
	Healthy       bool
	Error         string
	CheckedAt     time.Time
	PingLatency   time.Duration
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	MaxConns      int32
	Classes       int
	Students      int
}

// Health pings the server and reports pool usage and row counts. A failed
// ping is reported in the status, not as an error.
func (c *Connection) Health(ctx context.Context) (*HealthStatus, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	status := &HealthStatus{CheckedAt: time.Now().UTC()}
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.PingLatency = time.Since(start)

	stats := c.pool.Stat()
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()
	status.MaxConns = stats.MaxConns()

	err := c.pool.QueryRow(ctx, `SELECT (SELECT count(*) FROM classes), (SELECT count(*) FROM students)`).
		Scan(&status.Classes, &status.Students)
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.Healthy = true
	return status, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES AND TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// writeTx is used for checkpoints and migrations.
	writeTx = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

	// snapshotTx gives Load one consistent view across the class tables.
	snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// Exec executes a statement outside a transaction.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

// Query runs a query outside a transaction.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

// withTx runs fn in a transaction, committing when fn returns nil. A
// failure to begin wraps ErrTransactionFailed.
func (c *Connection) withTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	tx, err := c.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
