//go:build unix

package local

import (
	"io/fs"
	"os/user"
	"strconv"
	"sync"
	"syscall"

	"github.com/gobeaver/vfskit"
)

const (
	permissionMask        = vfskit.AllPermissions
	changeablePermissions = vfskit.AllPermissions
)

var (
	userNames  sync.Map // uid -> name
	groupNames sync.Map // gid -> name
)

// ownerOf extracts the owner and group names on Unix systems. Unknown ids
// are reported as numbers.
func ownerOf(info fs.FileInfo) (owner, group string, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", "", false
	}
	return lookupUser(strconv.FormatUint(uint64(stat.Uid), 10)),
		lookupGroup(strconv.FormatUint(uint64(stat.Gid), 10)), true
}

func lookupUser(uid string) string {
	if name, ok := userNames.Load(uid); ok {
		return name.(string)
	}
	name := uid
	if u, err := user.LookupId(uid); err == nil {
		name = u.Username
	}
	userNames.Store(uid, name)
	return name
}

func lookupGroup(gid string) string {
	if name, ok := groupNames.Load(gid); ok {
		return name.(string)
	}
	name := gid
	if g, err := user.LookupGroupId(gid); err == nil {
		name = g.Name
	}
	groupNames.Store(gid, name)
	return name
}

func hiddenAttr(fs.FileInfo) bool { return false }
func systemAttr(fs.FileInfo) bool { return false }
