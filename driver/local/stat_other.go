//go:build !unix && !windows

package local

import (
	"io/fs"

	"github.com/gobeaver/vfskit"
)

const (
	permissionMask        = vfskit.AllPermissions
	changeablePermissions = vfskit.AllPermissions
)

func ownerOf(fs.FileInfo) (owner, group string, ok bool) { return "", "", false }
func hiddenAttr(fs.FileInfo) bool                         { return false }
func systemAttr(fs.FileInfo) bool                         { return false }
