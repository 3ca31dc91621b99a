//go:build !unix

package dbkit

// fsSpace is unavailable on this platform; faults carry zeroed filesystem
// diagnostics.
func fsSpace(string) (free, total uint64) { return 0, 0 }
