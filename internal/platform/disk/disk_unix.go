//go:build unix

package disk

import "golang.org/x/sys/unix"

func statfs(path string) (Stat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Stat{}, err
	}
	// Available blocks * Block size
	return Stat{AvailableBlocks: uint64(st.Bavail), BlockSize: uint64(st.Bsize)}, nil
}
