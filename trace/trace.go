// Package trace registers a "sqlite-log" driver that wraps the standard
// modernc.org/sqlite driver, surfacing every statement's duration and
// outcome through slog at the database/sql/driver level. No application code
// changes are needed beyond switching the driver name:
//
//	import _ "github.com/hazyhaar/dbkit/trace" // registers "sqlite-log"
//
//	db := dbkit.New("app.db", schema, dbkit.WithDriver("sqlite-log"))
//
// Levels are adaptive: Debug for routine statements, Warn past SlowThreshold
// and Error on failure. Sub-millisecond successful PRAGMAs are skipped — the
// open-time pragma burst is pure noise.
package trace

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"log/slog"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

// SlowThreshold is the duration past which a successful statement is logged
// at Warn instead of Debug.
const SlowThreshold = 100 * time.Millisecond

func init() {
	sql.Register("sqlite-log", &Driver{inner: &sqlite.Driver{}})
}

// Driver wraps an SQLite driver, logging every Exec and Query.
type Driver struct {
	inner driver.Driver
}

func (d *Driver) Open(name string) (driver.Conn, error) {
	conn, err := d.inner.Open(name)
	if err != nil {
		return nil, err
	}
	return &logConn{Conn: conn}, nil
}

type logConn struct {
	driver.Conn
}

func (c *logConn) Prepare(query string) (driver.Stmt, error) {
	return c.prepare(context.Background(), query)
}

func (c *logConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return c.prepare(ctx, query)
}

func (c *logConn) prepare(ctx context.Context, query string) (driver.Stmt, error) {
	var inner driver.Stmt
	var err error
	if pc, ok := c.Conn.(driver.ConnPrepareContext); ok {
		inner, err = pc.PrepareContext(ctx, query)
	} else {
		inner, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &logStmt{inner: inner, query: query}, nil
}

type logStmt struct {
	inner driver.Stmt
	query string
}

func (s *logStmt) Close() error  { return s.inner.Close() }
func (s *logStmt) NumInput() int { return s.inner.NumInput() }

func (s *logStmt) Exec(args []driver.Value) (driver.Result, error) {
	done := s.observe(context.Background(), "Exec")
	res, err := s.inner.Exec(args)
	done(err)
	return res, err
}

func (s *logStmt) Query(args []driver.Value) (driver.Rows, error) {
	done := s.observe(context.Background(), "Query")
	rows, err := s.inner.Query(args)
	done(err)
	return rows, err
}

func (s *logStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	done := s.observe(ctx, "Exec")
	var res driver.Result
	var err error
	if ec, ok := s.inner.(driver.StmtExecContext); ok {
		res, err = ec.ExecContext(ctx, args)
	} else {
		res, err = s.inner.Exec(flatten(args))
	}
	done(err)
	return res, err
}

func (s *logStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	done := s.observe(ctx, "Query")
	var rows driver.Rows
	var err error
	if qc, ok := s.inner.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		rows, err = s.inner.Query(flatten(args))
	}
	done(err)
	return rows, err
}

// observe returns a completion callback that logs the statement once its
// outcome is known.
func (s *logStmt) observe(ctx context.Context, op string) func(error) {
	start := time.Now()
	return func(err error) {
		d := time.Since(start)
		if err == nil && d < time.Millisecond && strings.HasPrefix(s.query, "PRAGMA ") {
			return
		}
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		} else if d > SlowThreshold {
			level = slog.LevelWarn
		}
		attrs := []slog.Attr{
			slog.String("component", "sql"),
			slog.String("op", op),
			slog.String("query", s.query),
			slog.Duration("duration", d),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.LogAttrs(ctx, level, "SQL", attrs...)
	}
}

func flatten(named []driver.NamedValue) []driver.Value {
	vals := make([]driver.Value, len(named))
	for i, nv := range named {
		vals[i] = nv.Value
	}
	return vals
}
