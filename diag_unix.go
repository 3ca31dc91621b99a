//go:build unix

package dbkit

import (
	"path/filepath"
	"syscall"
)

// fsSpace returns free and total bytes of the filesystem containing path.
// Zeros mean unknown; diagnostics never fail a query.
func fsSpace(path string) (free, total uint64) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(filepath.Dir(path), &st); err != nil {
		return 0, 0
	}
	bs := uint64(st.Bsize)
	return uint64(st.Bavail) * bs, uint64(st.Blocks) * bs
}
