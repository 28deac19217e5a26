//go:build !linux && !darwin && !freebsd && !windows

package local

import "github.com/gobeaver/vfskit"

const spaceSupported = false

func diskSpace(string) (free, total int64, err error) {
	return -1, -1, vfskit.ErrNotSupported
}
