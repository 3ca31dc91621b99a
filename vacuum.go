package dbkit

import (
	"context"
	"time"
)

// vacuumInterval is how long a database may go between full VACUUM runs
// before Open triggers one opportunistically.
const vacuumInterval = 7 * 24 * time.Hour

// maybeVacuum runs a full VACUUM when more than vacuumInterval has elapsed
// since the LastVacuum property was stamped (or when it has never been).
// Runs after the open-time transaction has committed — VACUUM cannot run
// inside a transaction.
func (db *DB) maybeVacuum(ctx context.Context) error {
	if !db.cfg.autoVacuum {
		return nil
	}
	last, ok, err := db.DateProperty(ctx, PropLastVacuum)
	if err != nil {
		return err
	}
	if ok && time.Since(last) < vacuumInterval {
		return nil
	}

	start := time.Now()
	if _, err := db.exec(ctx, "VACUUM"); err != nil {
		return err
	}
	db.logger.Info("vacuum completed", "path", db.path, "duration", time.Since(start))
	return db.SetDateProperty(ctx, PropLastVacuum, time.Now())
}
