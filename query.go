package dbkit

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Table and column names throughout this file are composed directly into SQL
// text and must be trusted, internally-controlled identifiers. All variable
// values go through positional parameter binding — never interpolate
// externally supplied values into the statement text.

// RowFunc receives one row per call during a streaming select. Returning
// stop=true ends iteration early without error; returning a non-nil error
// aborts it and propagates.
type RowFunc func(row map[string]any) (stop bool, err error)

// SelectQuery describes a streaming select. Columns nil/empty selects *.
// Where, OrderBy and Limit are optional; Args bind the placeholders in
// Where.
type SelectQuery struct {
	Table   string
	Columns []string
	Where   string
	OrderBy string
	Limit   int
	Args    []any
}

func (q SelectQuery) text() string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ", ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, q.Table)
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where)
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String()
}

// SelectEach streams the result set one row at a time through fn, never
// materializing it. The underlying cursor is single-pass and is always
// closed before SelectEach returns.
func (db *DB) SelectEach(ctx context.Context, q SelectQuery, fn RowFunc) error {
	stmt, err := db.StmtFor(ctx, q.text())
	if err != nil {
		return err
	}
	rows, err := stmt.Query(ctx, q.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		row, err := rows.Row()
		if err != nil {
			return err
		}
		stop, err := fn(row)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return rows.Err()
}

// Select returns the full, ordered result set as column-name → value
// mappings.
func (db *DB) Select(ctx context.Context, table string, columns []string, where string, args ...any) ([]map[string]any, error) {
	var out []map[string]any
	q := SelectQuery{Table: table, Columns: columns, Where: where, Args: args}
	err := db.SelectEach(ctx, q, func(row map[string]any) (bool, error) {
		out = append(out, row)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertOrReplace inserts (or replaces, on a primary-key collision) one row
// and returns the engine's last-insert rowid. Columns are ordered
// lexicographically so each distinct column set compiles to exactly one
// cached statement regardless of map iteration order.
func (db *DB) InsertOrReplace(ctx context.Context, table string, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("dbkit: InsertOrReplace %s: no values", table)
	}
	cols := sortedKeys(values)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	text := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))

	stmt, err := db.StmtFor(ctx, text)
	if err != nil {
		return 0, err
	}
	res, err := stmt.Exec(ctx, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, db.fault(text, err)
	}
	return id, nil
}

// DeleteFrom deletes the rows matching the where clause.
func (db *DB) DeleteFrom(ctx context.Context, table, where string, args ...any) error {
	text := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	stmt, err := db.StmtFor(ctx, text)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(ctx, args...)
	return err
}

// DeleteMatching deletes rows whose columns equal the given values. A nil
// value compares with IS NULL — parameter binding cannot express SQL NULL
// equality through "= ?".
func (db *DB) DeleteMatching(ctx context.Context, table string, match map[string]any) error {
	if len(match) == 0 {
		return fmt.Errorf("dbkit: DeleteMatching %s: empty match", table)
	}
	where, args := matchClause(match)
	return db.DeleteFrom(ctx, table, where, args...)
}

// Update runs UPDATE table SET set [WHERE where] binding args to the
// placeholders of set then where, in order. A positive limit bounds the
// number of rows touched; it is expressed as a rowid subquery because the
// engine build is not guaranteed to support UPDATE ... LIMIT.
func (db *DB) Update(ctx context.Context, table, set, where string, limit int, args ...any) error {
	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s", table, set)
	switch {
	case limit > 0 && where != "":
		fmt.Fprintf(&b, " WHERE rowid IN (SELECT rowid FROM %s WHERE %s LIMIT %d)", table, where, limit)
	case limit > 0:
		fmt.Fprintf(&b, " WHERE rowid IN (SELECT rowid FROM %s LIMIT %d)", table, limit)
	case where != "":
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	stmt, err := db.StmtFor(ctx, b.String())
	if err != nil {
		return err
	}
	_, err = stmt.Exec(ctx, args...)
	return err
}

// Exec runs one formatted statement directly, bypassing the statement cache.
// Meant for DDL, pragmas and transaction control ("BEGIN EXCLUSIVE", "END",
// "ROLLBACK"). Failed statements are not rolled back on the caller's behalf.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.exec(ctx, query, args...)
}

// matchClause derives an equality where clause from a value mapping, with
// deterministic (lexicographic) column order.
func matchClause(match map[string]any) (where string, args []any) {
	var parts []string
	for _, c := range sortedKeys(match) {
		if match[c] == nil {
			parts = append(parts, c+" IS NULL")
			continue
		}
		parts = append(parts, c+" = ?")
		args = append(args, match[c])
	}
	return strings.Join(parts, " AND "), args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
