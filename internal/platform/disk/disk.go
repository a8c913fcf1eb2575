// Package disk answers capacity questions about the filesystem holding a
// path.
package disk

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stat is the subset of statfs the installer cares about.
type Stat struct {
	AvailableBlocks uint64
	BlockSize       uint64
}

// Free returns the bytes available to unprivileged writers.
func (s Stat) Free() uint64 {
	return s.AvailableBlocks * s.BlockSize
}

// FreeSpace returns available blocks * block size for the filesystem that
// holds path. If path is a file that does not exist yet, its directory is
// used instead.
func FreeSpace(path string) (uint64, error) {
	target := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		target = filepath.Dir(path)
	}
	st, err := statfs(target)
	if err != nil {
		return 0, fmt.Errorf("disk: statfs %s: %w", target, err)
	}
	return st.Free(), nil
}
