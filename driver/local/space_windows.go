//go:build windows

package local

import "golang.org/x/sys/windows"

const spaceSupported = true

func diskSpace(p string) (free, total int64, err error) {
	dir, err := windows.UTF16PtrFromString(p)
	if err != nil {
		return -1, -1, err
	}
	var avail, size, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &avail, &size, &totalFree); err != nil {
		return -1, -1, err
	}
	return int64(avail), int64(size), nil
}
