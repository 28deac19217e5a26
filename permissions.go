package vfskit

import (
	"io/fs"
	"strings"
)

// Permissions is the owner/group/other x read/write/execute matrix, stored
// in Unix layout (0754 is rwxr-xr--).
type Permissions uint16

// PermissionAccess selects a row of the matrix.
type PermissionAccess int

const (
	AccessOther PermissionAccess = iota
	AccessGroup
	AccessUser
)

// PermissionKind selects a column of the matrix.
type PermissionKind int

const (
	PermExecute PermissionKind = 1 << iota
	PermWrite
	PermRead
)

const (
	// NoPermissions has every bit cleared.
	NoPermissions Permissions = 0
	// AllPermissions has every bit set.
	AllPermissions Permissions = 0o777
)

func bit(access PermissionAccess, kind PermissionKind) Permissions {
	return Permissions(kind) << (3 * uint(access))
}

// Has reports whether the bit for access and kind is set.
func (p Permissions) Has(access PermissionAccess, kind PermissionKind) bool {
	return p&bit(access, kind) != 0
}

// With returns p with the bit for access and kind set or cleared.
func (p Permissions) With(access PermissionAccess, kind PermissionKind, enabled bool) Permissions {
	if enabled {
		return p | bit(access, kind)
	}
	return p &^ bit(access, kind)
}

// FileMode converts p to permission bits of an fs.FileMode.
func (p Permissions) FileMode() fs.FileMode {
	return fs.FileMode(p & AllPermissions)
}

// PermissionsFromMode extracts the permission bits of m.
func PermissionsFromMode(m fs.FileMode) Permissions {
	return Permissions(m.Perm())
}

// String renders p as "rwxr-x---".
func (p Permissions) String() string {
	var b strings.Builder
	for _, access := range []PermissionAccess{AccessUser, AccessGroup, AccessOther} {
		for _, k := range []struct {
			kind PermissionKind
			c    byte
		}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExecute, 'x'}} {
			if p.Has(access, k.kind) {
				b.WriteByte(k.c)
			} else {
				b.WriteByte('-')
			}
		}
	}
	return b.String()
}

// FilePermissions pairs permission bits with the mask of bits the protocol
// actually reports. Bits outside Mask carry no information.
type FilePermissions struct {
	Value Permissions
	Mask  Permissions
}

// ReadOnlyOwnerPermissions is reported by files whose protocol has no
// permission model, such as most archive entries.
var ReadOnlyOwnerPermissions = FilePermissions{Value: 0o400, Mask: 0o700}

// FullPermissions reports every bit of value as meaningful.
func FullPermissions(value Permissions) FilePermissions {
	return FilePermissions{Value: value & AllPermissions, Mask: AllPermissions}
}

// Has reports whether the bit is both supported and set.
func (fp FilePermissions) Has(access PermissionAccess, kind PermissionKind) bool {
	return fp.Mask.Has(access, kind) && fp.Value.Has(access, kind)
}

// Supports reports whether the bit is reported at all.
func (fp FilePermissions) Supports(access PermissionAccess, kind PermissionKind) bool {
	return fp.Mask.Has(access, kind)
}

func (fp FilePermissions) String() string {
	return (fp.Value & fp.Mask).String()
}
