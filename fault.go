package dbkit

import (
	"errors"
	"fmt"
	"os"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Fault is the error surfaced for every failing engine call. It carries the
// engine's primary and extended result codes, the offending SQL text, the
// engine message, and storage diagnostics — the context that makes
// disk-exhaustion and corruption failures diagnosable in the field.
//
// The driver reports extended result codes natively; Code is derived as the
// low byte of Extended. Both are zero when the underlying error did not come
// from the engine (e.g. a filesystem error).
type Fault struct {
	Code     int    // primary result code (SQLITE_BUSY, SQLITE_CORRUPT, ...)
	Extended int    // extended result code
	Query    string // offending SQL text, if any
	Message  string // engine message text

	FileSize int64  // database file size in bytes, -1 if unknown
	FSFree   uint64 // free bytes on the containing filesystem, 0 if unknown
	FSTotal  uint64 // total bytes on the containing filesystem, 0 if unknown

	err error
}

func (f *Fault) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dbkit: engine error %d", f.Code)
	if f.Extended != f.Code {
		fmt.Fprintf(&b, " (extended %d)", f.Extended)
	}
	fmt.Fprintf(&b, ": %s", f.Message)
	if f.Query != "" {
		fmt.Fprintf(&b, " [sql: %s]", f.Query)
	}
	if f.FileSize >= 0 {
		fmt.Fprintf(&b, " (file %d B, fs %d/%d B free)", f.FileSize, f.FSFree, f.FSTotal)
	}
	return b.String()
}

func (f *Fault) Unwrap() error { return f.err }

// Corruption reports whether the primary code is corruption-class: the file
// is damaged (SQLITE_CORRUPT) or is not a database at all (SQLITE_NOTADB).
func (f *Fault) Corruption() bool {
	return f.Code == sqlite3.SQLITE_CORRUPT || f.Code == sqlite3.SQLITE_NOTADB
}

// Busy reports whether the primary code is SQLITE_BUSY or SQLITE_LOCKED.
// These are the retryable contention conditions; the wrapper never retries
// them itself.
func (f *Fault) Busy() bool {
	return f.Code == sqlite3.SQLITE_BUSY || f.Code == sqlite3.SQLITE_LOCKED
}

// fault wraps an engine error in a *Fault with diagnostics attached. A
// corruption-class code makes the flag sticky, force-closes the connection
// and removes the file plus sidecars so the next open starts clean.
func (db *DB) fault(query string, err error) error {
	f := newFault(db.path, query, err)
	if f.Corruption() && !db.corrupt {
		db.corrupt = true
		db.logger.Error("corruption detected, removing database",
			"path", db.path, "code", f.Code, "error", f.Message)
		db.forceClose()
		removeWithSidecars(db.path)
	}
	return f
}

// forceClose tears the connection down best-effort, swallowing secondary
// errors: the handle is already in a failure path and the primary fault is
// what the caller needs to see.
func (db *DB) forceClose() {
	if db.conn == nil {
		return
	}
	db.RemoveAllStatements()
	db.conn.Close()
	db.conn = nil
	// openCount is left alone: the caller's matching Close still has to
	// balance its Open.
}

func newFault(path, query string, err error) *Fault {
	f := &Fault{
		Query:    query,
		Message:  err.Error(),
		FileSize: -1,
		err:      err,
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		f.Extended = se.Code()
		f.Code = se.Code() & 0xff
	}
	if path != ":memory:" {
		if st, serr := os.Stat(path); serr == nil {
			f.FileSize = st.Size()
		}
		f.FSFree, f.FSTotal = fsSpace(path)
	}
	return f
}

// sidecarSuffixes are the engine-managed auxiliary files that accompany the
// primary database file. They are removed together with it: a stale WAL
// against a fresh file is itself a corruption vector.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// removeWithSidecars deletes the database file and its sidecars,
// best-effort. Used by corruption recovery and by Remove.
func removeWithSidecars(path string) {
	if path == ":memory:" {
		return
	}
	os.Remove(path)
	for _, s := range sidecarSuffixes {
		os.Remove(path + s)
	}
}

// Remove deletes the database file and its sidecar files. The handle must be
// closed.
func (db *DB) Remove() error {
	if db.openCount > 0 {
		panic("dbkit: Remove on open database: " + db.path)
	}
	if db.path == ":memory:" {
		return nil
	}
	for _, s := range sidecarSuffixes {
		os.Remove(db.path + s)
	}
	if err := os.Remove(db.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("dbkit: remove: %w", err)
	}
	return nil
}
