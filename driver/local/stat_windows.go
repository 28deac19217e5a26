//go:build windows

package local

import (
	"io/fs"
	"syscall"

	"github.com/gobeaver/vfskit"
)

// Windows only reports the read-only attribute, exposed as the write bits.
const (
	permissionMask        = vfskit.AllPermissions
	changeablePermissions = vfskit.Permissions(0o200)
)

// ownerOf reports no owner: reading it needs GetSecurityInfo.
func ownerOf(info fs.FileInfo) (owner, group string, ok bool) {
	return "", "", false
}

func attributes(info fs.FileInfo) uint32 {
	data, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return 0
	}
	return data.FileAttributes
}

func hiddenAttr(info fs.FileInfo) bool {
	return attributes(info)&syscall.FILE_ATTRIBUTE_HIDDEN != 0
}

func systemAttr(info fs.FileInfo) bool {
	return attributes(info)&syscall.FILE_ATTRIBUTE_SYSTEM != 0
}
