package dbkit

import (
	"context"
	"testing"
)

// OpenMemory opens an in-memory database for testing, running the full
// versioning protocol against the given schema. It registers t.Cleanup to
// close the handle automatically.
func OpenMemory(t testing.TB, schema Schema, opts ...Option) *DB {
	t.Helper()
	db := New(":memory:", schema, opts...)
	if err := db.Open(context.Background()); err != nil {
		t.Fatalf("dbkit.OpenMemory: %v", err)
	}
	t.Cleanup(func() {
		if db.IsOpen() {
			db.Close()
		}
	})
	return db
}
