// Package dbkit is a versioned lifecycle layer over an embedded SQLite file.
//
// A DB owns one file-backed connection with production-safe pragmas applied
// (WAL, auto_vacuum=FULL, a multi-minute busy timeout), a prepared-statement
// cache keyed by SQL text, and a small versioning protocol layered on a
// reserved dbkit_properties table. On first open the schema DDL is applied
// and fingerprinted; on a later open with a different fingerprint the handle
// either hands off to a registered Migrator or drops every user table and
// recreates from scratch.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//
//	db := dbkit.New("app.db", dbkit.Schema{DDL: ddl})
//	if err := db.Open(ctx); err != nil { ... }
//	defer db.Close()
//
// With statement logging:
//
//	import _ "github.com/hazyhaar/dbkit/trace"
//	db := dbkit.New("app.db", dbkit.Schema{DDL: ddl}, dbkit.WithDriver("sqlite-log"))
//
// A DB is not safe for concurrent use; callers sharing one handle must
// serialize access themselves (a mutex or a single goroutine). Misuse of the
// lifecycle contract — closing more often than opening, reusing a statement
// mid-iteration, touching a closed handle, an empty property key — panics
// rather than returning an error: those are caller bugs, not runtime
// conditions.
package dbkit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultBusyTimeout = 3 * time.Minute

type config struct {
	driver      string
	busyTimeout time.Duration
	synchronous string
	autoVacuum  bool
	migrator    Migrator
	logger      *slog.Logger
}

func defaults() config {
	return config{
		driver:      "sqlite",
		busyTimeout: defaultBusyTimeout,
		synchronous: "NORMAL",
		autoVacuum:  true,
	}
}

// Option customises a DB at construction time.
type Option func(*config)

// WithDriver sets the database/sql driver name. Default: "sqlite".
func WithDriver(name string) Option { return func(c *config) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout. The default is deliberately long
// (3 minutes): under contention correctness beats responsiveness.
func WithBusyTimeout(d time.Duration) Option { return func(c *config) { c.busyTimeout = d } }

// WithSynchronous sets PRAGMA synchronous ("OFF", "NORMAL" or "FULL").
// Default: "NORMAL".
func WithSynchronous(mode string) Option {
	return func(c *config) { c.synchronous = strings.ToUpper(mode) }
}

// WithoutAutoVacuum disables the opportunistic weekly VACUUM run during Open.
func WithoutAutoVacuum() Option { return func(c *config) { c.autoVacuum = false } }

// WithMigrator registers the callback invoked on a schema-version mismatch.
// Without one, a mismatch drops every user table and recreates the schema.
func WithMigrator(m Migrator) Option { return func(c *config) { c.migrator = m } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// DB is a reference-counted handle to one versioned SQLite file.
//
// Open may be nested; only the first call touches the engine and only the
// matching final Close releases it. The zero value is not usable — construct
// with New.
type DB struct {
	path   string
	schema Schema
	cfg    config
	logger *slog.Logger

	conn      *sql.DB
	openCount int
	stmts     map[string]*Stmt
	corrupt   bool
}

// New creates an unopened handle for the database file at path. The schema
// descriptor is fixed for the lifetime of the handle; its fingerprint drives
// the versioning protocol on Open.
func New(path string, schema Schema, opts ...Option) *DB {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{
		path:   path,
		schema: schema,
		cfg:    cfg,
		logger: logger,
	}
}

// Path returns the database file path given to New.
func (db *DB) Path() string { return db.path }

// IsOpen reports whether the handle currently holds a live connection. It
// reports false after corruption recovery force-closed the connection, even
// though the matching Close calls are still owed.
func (db *DB) IsOpen() bool { return db.conn != nil }

// Corrupt reports whether a corruption-class engine error has been observed
// on this handle. The flag is sticky for the lifetime of the in-memory
// handle; the underlying file has already been removed when it is set.
func (db *DB) Corrupt() bool { return db.corrupt }

// Open opens the database, creating the parent directory and the file if
// missing, and runs the versioning protocol inside an exclusive transaction.
// Nested calls just increment the reference count. Migration and the
// opportunistic VACUUM both run synchronously here, so a cold Open can take
// a while.
func (db *DB) Open(ctx context.Context) error {
	if db.openCount > 0 {
		db.openCount++
		return nil
	}

	if db.path != ":memory:" {
		// MkdirAll treats an existing directory as success, which is the
		// behaviour we want for racing initializers.
		if err := os.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
			return fmt.Errorf("dbkit: mkdir: %w", err)
		}
	}

	conn, err := sql.Open(db.cfg.driver, db.path)
	if err != nil {
		return fmt.Errorf("dbkit: open: %w", err)
	}
	// One logical connection. Session state (pragmas, explicit transactions)
	// must persist across calls, so the pool is pinned to a single conn that
	// never expires.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db.conn = conn
	db.stmts = make(map[string]*Stmt)
	db.openCount = 1

	if err := db.applyPragmas(ctx); err != nil {
		db.abortOpen()
		return err
	}
	if err := db.initSchema(ctx); err != nil {
		db.abortOpen()
		return err
	}
	if err := db.maybeVacuum(ctx); err != nil {
		if db.corrupt {
			db.abortOpen()
			return err
		}
		// A failed vacuum is not worth failing the open over.
		db.logger.Warn("vacuum failed", "path", db.path, "error", err)
	}
	return nil
}

// Close decrements the reference count and, on the final close, finalizes
// every cached statement and releases the connection. Closing more often
// than opening panics. If the corruption flag is set, the file and its
// sidecars are removed (again, best-effort) after the connection goes away.
func (db *DB) Close() error {
	if db.openCount <= 0 {
		panic("dbkit: Close without matching Open")
	}
	db.openCount--
	if db.openCount > 0 {
		return nil
	}

	// The connection is already gone when corruption recovery force-closed
	// it; the count still has to balance.
	var err error
	if db.conn != nil {
		db.RemoveAllStatements()
		err = db.conn.Close()
		db.conn = nil
	}
	if db.corrupt {
		removeWithSidecars(db.path)
	}
	if err != nil {
		return fmt.Errorf("dbkit: close: %w", err)
	}
	return nil
}

// abortOpen tears down a half-initialized connection so a failed Open leaves
// the handle closed. Corruption recovery may already have done this.
func (db *DB) abortOpen() {
	if db.conn != nil {
		db.RemoveAllStatements()
		db.conn.Close()
		db.conn = nil
	}
	db.stmts = nil
	db.openCount = 0
}

func (db *DB) applyPragmas(ctx context.Context) error {
	// busy_timeout first: it is connection state and does not touch the
	// file, so it is in force before the first statement that does.
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", db.cfg.busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA synchronous = %s", db.cfg.synchronous),
		"PRAGMA auto_vacuum = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.exec(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// mustBeOpen panics when the handle has no live connection. Operating on a
// closed handle is a contract violation, not a recoverable condition.
func (db *DB) mustBeOpen() {
	if db.conn == nil {
		panic("dbkit: operation on closed database: " + db.path)
	}
}

// exec runs a statement directly on the connection, bypassing the statement
// cache, wrapping failures in a *Fault.
func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.mustBeOpen()
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, db.fault(query, err)
	}
	return res, nil
}

// queryRow runs a single-value query directly on the connection.
func (db *DB) queryRow(ctx context.Context, query string, dest any, args ...any) error {
	db.mustBeOpen()
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(dest); err != nil {
		return db.fault(query, err)
	}
	return nil
}
