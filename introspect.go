package dbkit

import (
	"context"
	"fmt"
)

// TableNames lists every table in the file, ordered by name. Engine-internal
// sqlite_* tables are excluded; the reserved properties table is included
// because it does exist in the file.
func (db *DB) TableNames(ctx context.Context) ([]string, error) {
	const q = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	var names []string
	db.mustBeOpen()
	rows, err := db.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, db.fault(q, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, db.fault(q, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, db.fault(q, err)
	}
	return names, nil
}

// ColumnNames returns the set of column names of table, from the engine
// catalog.
func (db *DB) ColumnNames(ctx context.Context, table string) (map[string]bool, error) {
	db.mustBeOpen()
	q := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, db.fault(q, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, db.fault(q, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, db.fault(q, err)
	}
	return cols, nil
}

// RowCount returns count(*) for table.
func (db *DB) RowCount(ctx context.Context, table string) (int64, error) {
	q := fmt.Sprintf("SELECT count(*) FROM %s", table)
	var n int64
	if err := db.queryRow(ctx, q, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// dropAllTables drops every user table. Only the destructive recreate path
// calls it; the reserved properties table is wrapper infrastructure and
// survives (its version keys are re-stamped immediately after).
func (db *DB) dropAllTables(ctx context.Context) error {
	names, err := db.TableNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == propertiesTable {
			continue
		}
		if _, err := db.exec(ctx, fmt.Sprintf("DROP TABLE %q", name)); err != nil {
			return err
		}
	}
	return nil
}
