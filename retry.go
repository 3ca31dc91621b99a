package dbkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxRetries = 3

// IsBusy reports whether err indicates an engine BUSY/LOCKED condition. It
// prefers the *Fault result code and falls back to message matching for
// errors that never went through the wrapper.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Busy()
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Retry runs fn, retrying up to 3 times with 100/200/300 ms backoff when it
// fails with a busy condition. The handle itself never retries — contention
// policy belongs to the caller, and this helper is that policy for callers
// who want a simple one.
func Retry(ctx context.Context, fn func() error) error {
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsBusy(err) || i == maxRetries-1 {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(100*(i+1))*time.Millisecond); err != nil {
			return fmt.Errorf("dbkit: context cancelled during retry: %w", err)
		}
	}
	return fmt.Errorf("dbkit: Retry: max retries exceeded")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
