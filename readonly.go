package vfskit

import (
	"context"
	"io"
	"time"
)

// ============================================================================
// RestrictedFile Decorator
// ============================================================================

// RestrictedFile narrows a file to a subset of its operations. Calls outside
// the subset fail with ErrNotSupported without reaching the target, and the
// files reached through List, Parent and Child carry the same restriction.
//
// Example:
//
//	view := vfskit.ReadOnly(f)
//	rc, _ := view.OpenReader(ctx, 0)    // forwarded
//	err := view.Delete(ctx)             // matches ErrNotSupported
type RestrictedFile struct {
	*ProxyFile
	allowed  OperationSet
	ops      OperationSet
	onDenied func(op Operation, u *FileURL)
}

// RestrictOption configures a RestrictedFile.
type RestrictOption func(*RestrictedFile)

// WithDeniedHook calls fn for every rejected operation, for logging or
// auditing.
func WithDeniedHook(fn func(op Operation, u *FileURL)) RestrictOption {
	return func(r *RestrictedFile) {
		r.onDenied = fn
	}
}

// Restrict wraps f so that only the operations in allowed that f also
// supports remain available.
func Restrict(f File, allowed OperationSet, opts ...RestrictOption) *RestrictedFile {
	r := &RestrictedFile{
		ProxyFile: NewProxyFile(f),
		allowed:   allowed,
		ops:       f.SupportedOperations().Intersect(allowed),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadOnly wraps f so that nothing can be changed through it.
func ReadOnly(f File, opts ...RestrictOption) *RestrictedFile {
	return Restrict(f, ReadOnlyOperations.With(OpRandomRead, OpGetFreeSpace, OpGetTotalSpace), opts...)
}

func (r *RestrictedFile) SupportedOperations() OperationSet      { return r.ops }
func (r *RestrictedFile) IsOperationSupported(op Operation) bool { return r.ops.Has(op) }

func (r *RestrictedFile) check(op Operation) error {
	if r.ops.Has(op) {
		return nil
	}
	if r.onDenied != nil {
		r.onDenied(op, r.URL())
	}
	return Unsupported(op, r.URL())
}

func (r *RestrictedFile) wrap(f File) File {
	return &RestrictedFile{
		ProxyFile: NewProxyFile(f),
		allowed:   r.allowed,
		ops:       f.SupportedOperations().Intersect(r.allowed),
		onDenied:  r.onDenied,
	}
}

func (r *RestrictedFile) Parent(ctx context.Context) (File, error) {
	p, err := r.File.Parent(ctx)
	if err != nil || p == nil {
		return p, err
	}
	return r.wrap(p), nil
}

func (r *RestrictedFile) List(ctx context.Context, filter FileFilter) ([]File, error) {
	if err := r.check(OpList); err != nil {
		return nil, err
	}
	children, err := r.File.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i, c := range children {
		children[i] = r.wrap(c)
	}
	return ApplyFilter(children, filter), nil
}

// Child resolves name below the target and restricts it like r.
func (r *RestrictedFile) Child(ctx context.Context, name string) (File, error) {
	c, err := ChildOf(ctx, r.File, name)
	if err != nil {
		return nil, err
	}
	return r.wrap(c), nil
}

func (r *RestrictedFile) ChangeablePermissions() Permissions {
	if !r.ops.Has(OpChangePermission) {
		return NoPermissions
	}
	return r.File.ChangeablePermissions()
}

func (r *RestrictedFile) ChangePermission(ctx context.Context, access PermissionAccess, kind PermissionKind, enabled bool) error {
	if err := r.check(OpChangePermission); err != nil {
		return err
	}
	return r.File.ChangePermission(ctx, access, kind, enabled)
}

func (r *RestrictedFile) ChangePermissions(ctx context.Context, perms Permissions) error {
	if err := r.check(OpChangePermission); err != nil {
		return err
	}
	return r.File.ChangePermissions(ctx, perms)
}

func (r *RestrictedFile) SetModTime(ctx context.Context, t time.Time) error {
	if err := r.check(OpChangeDate); err != nil {
		return err
	}
	return r.File.SetModTime(ctx, t)
}

func (r *RestrictedFile) Mkdir(ctx context.Context) error {
	if err := r.check(OpMkdir); err != nil {
		return err
	}
	return r.File.Mkdir(ctx)
}

func (r *RestrictedFile) Mkfile(ctx context.Context) error {
	if err := r.check(OpMkfile); err != nil {
		return err
	}
	return r.File.Mkfile(ctx)
}

func (r *RestrictedFile) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if err := r.check(OpRead); err != nil {
		return nil, err
	}
	return r.File.OpenReader(ctx, offset)
}

func (r *RestrictedFile) OpenWriter(ctx context.Context, mode WriteMode) (io.WriteCloser, error) {
	op := OpWrite
	if mode == WriteAppend {
		op = OpAppend
	}
	if err := r.check(op); err != nil {
		return nil, err
	}
	return r.File.OpenWriter(ctx, mode)
}

func (r *RestrictedFile) OpenRandomReader(ctx context.Context) (RandomReader, error) {
	if err := r.check(OpRandomRead); err != nil {
		return nil, err
	}
	return r.File.OpenRandomReader(ctx)
}

func (r *RestrictedFile) OpenRandomWriter(ctx context.Context) (RandomWriter, error) {
	if err := r.check(OpRandomWrite); err != nil {
		return nil, err
	}
	return r.File.OpenRandomWriter(ctx)
}

func (r *RestrictedFile) Delete(ctx context.Context) error {
	if err := r.check(OpDelete); err != nil {
		return err
	}
	return r.File.Delete(ctx)
}

func (r *RestrictedFile) RenameTo(ctx context.Context, dst File) error {
	if err := r.check(OpRename); err != nil {
		return err
	}
	return r.File.RenameTo(ctx, dst)
}

func (r *RestrictedFile) CopyRemotelyTo(ctx context.Context, dst File) error {
	if err := r.check(OpCopyRemotely); err != nil {
		return err
	}
	return r.File.CopyRemotelyTo(ctx, dst)
}

func (r *RestrictedFile) FreeSpace(ctx context.Context) (int64, error) {
	if err := r.check(OpGetFreeSpace); err != nil {
		return -1, err
	}
	return r.File.FreeSpace(ctx)
}

func (r *RestrictedFile) TotalSpace(ctx context.Context) (int64, error) {
	if err := r.check(OpGetTotalSpace); err != nil {
		return -1, err
	}
	return r.File.TotalSpace(ctx)
}
