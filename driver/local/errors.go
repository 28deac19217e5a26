package local

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/gobeaver/vfskit"
)

var operations = func() vfskit.OperationSet {
	ops := vfskit.NewOperationSet(vfskit.AllOperations()...)
	if !spaceSupported {
		ops = ops.Without(vfskit.OpGetFreeSpace, vfskit.OpGetTotalSpace)
	}
	return ops
}()

// mapError translates an os error into a *vfskit.PathError matching the
// vfskit sentinels. The os error stays in the chain.
func mapError(op string, u *vfskit.FileURL, err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sentinel = vfskit.ErrNotExist
	case errors.Is(err, fs.ErrExist):
		sentinel = vfskit.ErrExist
	case errors.Is(err, fs.ErrPermission):
		sentinel = vfskit.ErrPermission
	case errors.Is(err, syscall.ENOTEMPTY):
		sentinel = vfskit.ErrNotEmpty
	case errors.Is(err, syscall.ENOTDIR):
		sentinel = vfskit.ErrNotDir
	case errors.Is(err, syscall.EISDIR):
		sentinel = vfskit.ErrIsDir
	case errors.Is(err, syscall.ENOSPC):
		sentinel = vfskit.ErrNoSpace
	}
	if sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return vfskit.NewPathError(op, u.String(), err)
}
