package dbkit_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dbkit"
)

var itemsSchema = dbkit.Schema{DDL: `
CREATE TABLE items (
	id   INTEGER PRIMARY KEY,
	name TEXT
);
`}

func TestOpenCreatesDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "deep", "test.db")

	db := dbkit.New(path, itemsSchema)
	if err := db.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	created, ok, err := db.DateProperty(ctx, dbkit.PropCreated)
	if err != nil || !ok {
		t.Fatalf("Created property: ok=%v err=%v", ok, err)
	}
	if d := time.Since(created); d < 0 || d > time.Minute {
		t.Fatalf("Created = %v, want recent", created)
	}

	version, ok, err := db.Property(ctx, dbkit.PropSchemaVersion)
	if err != nil || !ok {
		t.Fatalf("SchemaVersion property: ok=%v err=%v", ok, err)
	}
	if version != itemsSchema.Fingerprint() {
		t.Fatalf("SchemaVersion = %q, want fingerprint %q", version, itemsSchema.Fingerprint())
	}
}

func TestSchemaAppliedOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db := dbkit.New(path, itemsSchema)
	if err := db.Open(ctx); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := db.InsertOrReplace(ctx, "items", map[string]any{"id": 1, "name": "kept"}); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Same schema, second open: existing file accepted as-is.
	db2 := dbkit.New(path, itemsSchema)
	if err := db2.Open(ctx); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	n, err := db2.RowCount(ctx, "items")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("RowCount = %d, want 1 (schema must not be reapplied)", n)
	}
}

func TestNestedOpenClose(t *testing.T) {
	ctx := context.Background()
	db := dbkit.New(filepath.Join(t.TempDir(), "test.db"), itemsSchema)

	for i := 0; i < 3; i++ {
		if err := db.Open(ctx); err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := db.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
		if !db.IsOpen() {
			t.Fatalf("closed after %d of 3 closes", i+1)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if db.IsOpen() {
		t.Fatal("still open after matching final close")
	}
}

func TestCloseWithoutOpenPanics(t *testing.T) {
	db := dbkit.New(filepath.Join(t.TempDir(), "test.db"), itemsSchema)
	defer func() {
		if recover() == nil {
			t.Fatal("Close on never-opened handle did not panic")
		}
	}()
	db.Close()
}

func TestOverClosePanics(t *testing.T) {
	ctx := context.Background()
	db := dbkit.New(filepath.Join(t.TempDir(), "test.db"), itemsSchema)
	if err := db.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("extra Close did not panic")
		}
	}()
	db.Close()
}

func TestOperationOnClosedPanics(t *testing.T) {
	ctx := context.Background()
	db := dbkit.New(filepath.Join(t.TempDir(), "test.db"), itemsSchema)
	defer func() {
		if recover() == nil {
			t.Fatal("query on closed handle did not panic")
		}
	}()
	db.Select(ctx, "items", nil, "")
}

func TestPersistentPragmas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db := dbkit.New(path, itemsSchema)
	if err := db.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// journal_mode and auto_vacuum persist in the file itself.
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	var journalMode string
	if err := raw.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatal(err)
	}
	if journalMode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var autoVacuum int
	if err := raw.QueryRow("PRAGMA auto_vacuum").Scan(&autoVacuum); err != nil {
		t.Fatal(err)
	}
	// auto_vacuum FULL = 1
	if autoVacuum != 1 {
		t.Fatalf("auto_vacuum = %d, want 1 (FULL)", autoVacuum)
	}
}

func TestStatementReuseMidIterationPanics(t *testing.T) {
	ctx := context.Background()
	db := dbkit.OpenMemory(t, itemsSchema)

	for i := 1; i <= 2; i++ {
		if _, err := db.InsertOrReplace(ctx, "items", map[string]any{"id": i, "name": "x"}); err != nil {
			t.Fatal(err)
		}
	}

	const q = "SELECT id FROM items"
	stmt, err := db.StmtFor(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := stmt.Query(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !rows.Next() {
		t.Fatal("expected at least one row")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("lookup of mid-iteration statement did not panic")
			}
		}()
		db.StmtFor(ctx, q)
	}()

	if err := rows.Close(); err != nil {
		t.Fatal(err)
	}
	// Reset: the same lookup succeeds now.
	if _, err := db.StmtFor(ctx, q); err != nil {
		t.Fatal(err)
	}
}

func TestVacuumStampedOnFreshOpen(t *testing.T) {
	ctx := context.Background()
	db := dbkit.OpenMemory(t, itemsSchema)

	if _, ok, err := db.DateProperty(ctx, dbkit.PropLastVacuum); err != nil || !ok {
		t.Fatalf("LastVacuum: ok=%v err=%v, want stamped on fresh open", ok, err)
	}
}

func TestWithoutAutoVacuum(t *testing.T) {
	ctx := context.Background()
	db := dbkit.OpenMemory(t, itemsSchema, dbkit.WithoutAutoVacuum())

	if _, ok, err := db.DateProperty(ctx, dbkit.PropLastVacuum); err != nil || ok {
		t.Fatalf("LastVacuum: ok=%v err=%v, want absent with auto-vacuum disabled", ok, err)
	}
}

func TestStaleVacuumRerun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db := dbkit.New(path, itemsSchema)
	if err := db.Open(ctx); err != nil {
		t.Fatal(err)
	}
	// Backdate the stamp past the weekly threshold.
	if err := db.SetDateProperty(ctx, dbkit.PropLastVacuum, time.Now().Add(-8*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2 := dbkit.New(path, itemsSchema)
	if err := db2.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer db2.Close()

	last, ok, err := db2.DateProperty(ctx, dbkit.PropLastVacuum)
	if err != nil || !ok {
		t.Fatalf("LastVacuum: ok=%v err=%v", ok, err)
	}
	if time.Since(last) > time.Minute {
		t.Fatalf("LastVacuum = %v, want re-stamped on open", last)
	}
}
