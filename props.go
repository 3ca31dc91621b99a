package dbkit

import (
	"context"
	"fmt"
	"time"
)

// The properties table is reserved wrapper infrastructure: it lives in the
// caller's file but is namespaced so caller schemas cannot collide with it,
// and it survives the lossy recreate path.
const (
	propertiesTable  = "dbkit_properties"
	propertiesSchema = "CREATE TABLE IF NOT EXISTS " + propertiesTable +
		" (key TEXT PRIMARY KEY, value TEXT)"
)

// Reserved property keys. Callers may store arbitrary additional keys but
// must not write these.
const (
	PropSchemaVersion = "SchemaVersion"
	PropCreated       = "Created"
	PropLastVacuum    = "LastVacuum"
)

// DateLayout is the round-trip format used by the date property accessors:
// RFC 3339 at second precision.
const DateLayout = "2006-01-02T15:04:05Z07:00"

// Property returns the value stored under key, and whether it exists.
// An empty key panics.
func (db *DB) Property(ctx context.Context, key string) (string, bool, error) {
	mustKey(key)
	stmt, err := db.StmtFor(ctx, "SELECT value FROM "+propertiesTable+" WHERE key = ?")
	if err != nil {
		return "", false, err
	}
	rows, err := stmt.Query(ctx, key)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}
	row, err := rows.Row()
	if err != nil {
		return "", false, err
	}
	value, _ := row["value"].(string)
	return value, true, nil
}

// SetProperty stores value under key, replacing any previous value.
func (db *DB) SetProperty(ctx context.Context, key, value string) error {
	mustKey(key)
	stmt, err := db.StmtFor(ctx,
		"INSERT OR REPLACE INTO "+propertiesTable+" (key, value) VALUES (?, ?)")
	if err != nil {
		return err
	}
	_, err = stmt.Exec(ctx, key, value)
	return err
}

// DeleteProperty removes key. Deleting an absent key is not an error.
func (db *DB) DeleteProperty(ctx context.Context, key string) error {
	mustKey(key)
	stmt, err := db.StmtFor(ctx, "DELETE FROM "+propertiesTable+" WHERE key = ?")
	if err != nil {
		return err
	}
	_, err = stmt.Exec(ctx, key)
	return err
}

// DateProperty reads a date stored by SetDateProperty.
func (db *DB) DateProperty(ctx context.Context, key string) (time.Time, bool, error) {
	value, ok, err := db.Property(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dbkit: property %s: %w", key, err)
	}
	return t, true, nil
}

// SetDateProperty stores t under key in DateLayout. Sub-second precision is
// dropped; the stored instant round-trips to one-second precision.
func (db *DB) SetDateProperty(ctx context.Context, key string, t time.Time) error {
	return db.SetProperty(ctx, key, t.Format(DateLayout))
}

func mustKey(key string) {
	if key == "" {
		panic("dbkit: empty property key")
	}
}
