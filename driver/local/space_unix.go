//go:build linux || darwin || freebsd

package local

import "golang.org/x/sys/unix"

const spaceSupported = true

func diskSpace(p string) (free, total int64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return -1, -1, err
	}
	bsize := uint64(st.Bsize)
	return int64(uint64(st.Bavail) * bsize), int64(uint64(st.Blocks) * bsize), nil
}
