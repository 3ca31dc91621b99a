package dbkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Schema describes the compiled-in database schema.
//
// DDL is applied verbatim on first creation (and on a lossy recreate). It is
// immutable for the lifetime of the handle; changing it changes the
// fingerprint, which is what triggers the migrate-or-recreate decision on
// the next Open of an existing file.
//
// UserVersion, when non-zero, is written to PRAGMA user_version and compared
// against the stored value on later opens. It exists for callers that
// sequence their own migrations independently of DDL-text drift.
type Schema struct {
	DDL         string
	UserVersion int
}

// Fingerprint returns the content hash of the DDL text, hex-encoded. It is
// stored in the SchemaVersion property and compared on every open.
func (s Schema) Fingerprint() string {
	sum := sha256.Sum256([]byte(s.DDL))
	return hex.EncodeToString(sum[:])
}

// Migrator is invoked when an existing file's stored version differs from
// the compiled-in one. oldUserVersion is the engine-level PRAGMA
// user_version found in the file. The callback runs inside the open-time
// exclusive transaction and is expected to alter the schema in place through
// db; returning true marks the migration successful. Returning false (or
// having no Migrator registered) drops every user table and recreates the
// schema from the DDL — data loss is the accepted cost of a version
// mismatch without a working migrator.
type Migrator func(ctx context.Context, db *DB, oldUserVersion int) bool

// initSchema runs the versioning protocol. The exclusive transaction exists
// to keep two racing openers (two processes, or two goroutines with their
// own handles) from both attempting schema creation; the loser blocks on
// the busy timeout.
func (db *DB) initSchema(ctx context.Context) error {
	if _, err := db.exec(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return err
	}

	fresh, migrated, err := db.reconcileSchema(ctx)
	if err != nil {
		// Internal bookkeeping only: caller-level transactions are never
		// rolled back on their behalf, but a wedged open-time exclusive
		// lock would block every other opener until the conn dies. The conn
		// is already gone if corruption recovery fired.
		if db.conn != nil {
			db.conn.ExecContext(ctx, "ROLLBACK")
		}
		return err
	}

	if _, err := db.exec(ctx, "END"); err != nil {
		return err
	}

	if fresh || migrated {
		if err := db.SetProperty(ctx, PropSchemaVersion, db.schema.Fingerprint()); err != nil {
			return err
		}
		if db.schema.UserVersion != 0 {
			q := fmt.Sprintf("PRAGMA user_version = %d", db.schema.UserVersion)
			if _, err := db.exec(ctx, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileSchema applies the decision table from within the exclusive
// transaction: fresh create, migrate, recreate, or accept as-is.
func (db *DB) reconcileSchema(ctx context.Context) (fresh, migrated bool, err error) {
	if _, err := db.exec(ctx, propertiesSchema); err != nil {
		return false, false, err
	}

	stored, hasStored, err := db.Property(ctx, PropSchemaVersion)
	if err != nil {
		return false, false, err
	}
	var userVersion int
	if err := db.queryRow(ctx, "PRAGMA user_version", &userVersion); err != nil {
		return false, false, err
	}

	fingerprint := db.schema.Fingerprint()
	switch {
	case !hasStored:
		if err := db.applyDDL(ctx); err != nil {
			return false, false, err
		}
		return true, false, nil

	case stored != fingerprint,
		db.schema.UserVersion != 0 && db.schema.UserVersion != userVersion:
		if db.cfg.migrator != nil && db.cfg.migrator(ctx, db, userVersion) {
			db.logger.Info("schema migrated in place",
				"path", db.path, "old_user_version", userVersion)
			return false, true, nil
		}
		// Give up and wipe. Deliberate policy, not a bug: without a working
		// migrator a version mismatch is unrecoverable in place.
		db.logger.Warn("schema version mismatch, recreating",
			"path", db.path, "stored", stored, "want", fingerprint)
		if err := db.dropAllTables(ctx); err != nil {
			return false, false, err
		}
		db.RemoveAllStatements()
		if err := db.applyDDL(ctx); err != nil {
			return false, false, err
		}
		return false, true, nil

	default:
		return false, false, nil
	}
}

func (db *DB) applyDDL(ctx context.Context) error {
	if db.schema.DDL != "" {
		if _, err := db.exec(ctx, db.schema.DDL); err != nil {
			return err
		}
	}
	return db.SetDateProperty(ctx, PropCreated, time.Now())
}
