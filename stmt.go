package dbkit

import (
	"context"
	"database/sql"
)

// Stmt is a cached prepared statement. Statements are keyed by exact SQL
// text and live until RemoveAllStatements or the final Close; preparing is
// paid once per distinct query.
//
// A Stmt handed out by StmtFor must be back in reset state (its Rows closed)
// before the same SQL text is looked up again. Violating that panics: it
// means two pieces of code are interleaving iteration over one compiled
// statement, which is a bug at the call site, not a runtime condition.
type Stmt struct {
	db   *DB
	text string
	stmt *sql.Stmt

	// rows is non-nil while a Query result is mid-iteration.
	rows *Rows
}

// StmtFor returns the cached statement for the exact SQL text, preparing and
// caching it on first use. The connection must be open.
func (db *DB) StmtFor(ctx context.Context, text string) (*Stmt, error) {
	db.mustBeOpen()
	if s, ok := db.stmts[text]; ok {
		if s.rows != nil {
			panic("dbkit: statement looked up mid-iteration: " + text)
		}
		return s, nil
	}
	ps, err := db.conn.PrepareContext(ctx, text)
	if err != nil {
		return nil, db.fault(text, err)
	}
	s := &Stmt{db: db, text: text, stmt: ps}
	db.stmts[text] = s
	return s, nil
}

// RemoveAllStatements finalizes every cached statement and clears the cache.
// Called automatically on the final Close and during a lossy recreate.
func (db *DB) RemoveAllStatements() {
	for _, s := range db.stmts {
		s.stmt.Close()
	}
	db.stmts = make(map[string]*Stmt)
}

// Exec runs the statement with the given bindings.
func (s *Stmt) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, s.db.fault(s.text, err)
	}
	return res, nil
}

// Query runs the statement and returns its rows. The statement is considered
// mid-iteration until Close is called on the result.
func (s *Stmt) Query(ctx context.Context, args ...any) (*Rows, error) {
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, s.db.fault(s.text, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, s.db.fault(s.text, err)
	}
	r := &Rows{stmt: s, rows: rows, cols: cols}
	s.rows = r
	return r, nil
}

// Rows is a lazy, single-pass, non-restartable cursor over a query result.
type Rows struct {
	stmt *Stmt
	rows *sql.Rows
	cols []string
}

// Next advances to the next row. It returns false when the result set is
// exhausted or an error occurred; check Err afterwards.
func (r *Rows) Next() bool { return r.rows.Next() }

// Row scans the current row into a column-name → value mapping.
func (r *Rows) Row() (map[string]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, r.stmt.db.fault(r.stmt.text, err)
	}
	row := make(map[string]any, len(r.cols))
	for i, c := range r.cols {
		row[c] = vals[i]
	}
	return row, nil
}

// Err returns the error, if any, that terminated iteration.
func (r *Rows) Err() error {
	if err := r.rows.Err(); err != nil {
		return r.stmt.db.fault(r.stmt.text, err)
	}
	return nil
}

// Close resets the statement, making it available for the next lookup.
func (r *Rows) Close() error {
	r.stmt.rows = nil
	if err := r.rows.Close(); err != nil {
		return r.stmt.db.fault(r.stmt.text, err)
	}
	return nil
}
