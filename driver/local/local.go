// Package local implements the "file" scheme over the operating system's
// file systems. Resolving a local URL stats the path but never touches the
// network.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/sirupsen/logrus"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider creates local files.
type Provider struct {
	log logrus.FieldLogger
}

// New creates a local provider.
func New(opts ...Option) *Provider {
	p := &Provider{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFile implements vfskit.Provider. The host must be empty, "localhost"
// or "local"; a host is dropped from the returned file's URL, so
// zip://local/tmp/a.zip and zip:///tmp/a.zip address the same archive.
func (p *Provider) NewFile(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error) {
	if u.Host == "" {
		return p.newFile(u), nil
	}
	if !strings.EqualFold(u.Host, "localhost") && !strings.EqualFold(u.Host, "local") {
		return nil, fmt.Errorf("%w: remote host %q in local URL", vfskit.ErrNotSupported, u.Host)
	}
	u = u.Clone()
	u.Host, u.Port = "", -1
	return p.newFile(u), nil
}

// FromPath returns the file at an operating system path, made absolute.
func (p *Provider) FromPath(osPath string) (*File, error) {
	abs, err := filepath.Abs(osPath)
	if err != nil {
		return nil, err
	}
	return p.newFile(vfskit.NewURL(vfskit.FileScheme, "", pathToURL(abs))), nil
}

func (p *Provider) newFile(u *vfskit.FileURL) *File {
	f := &File{FileBase: vfskit.NewFileBase(u), provider: p, path: urlToPath(u.Path)}
	if info, err := os.Lstat(f.path); err == nil {
		f.setInfo(info)
	}
	return f
}

func (p *Provider) newChild(parent *File, info fs.FileInfo) *File {
	u := parent.URL().Child(info.Name())
	f := &File{FileBase: vfskit.NewFileBase(u), provider: p, path: filepath.Join(parent.path, info.Name())}
	f.setInfo(info)
	f.SetParent(parent)
	return f
}

// File is a file or directory on a local file system. Metadata is captured
// when the handle is created.
type File struct {
	vfskit.FileBase

	provider *Provider
	path     string

	// info is the Lstat result; target follows a symlink. Both are nil when
	// the file does not exist.
	info   fs.FileInfo
	target fs.FileInfo

	owner, group string
	hasOwner     bool
}

var (
	_ vfskit.File          = (*File)(nil)
	_ vfskit.CanWatch      = (*File)(nil)
	_ vfskit.ChildResolver = (*File)(nil)
)

func (f *File) setInfo(info fs.FileInfo) {
	f.info, f.target = info, info
	if info.Mode()&fs.ModeSymlink != 0 {
		if t, err := os.Stat(f.path); err == nil {
			f.target = t
		}
	}
	f.owner, f.group, f.hasOwner = ownerOf(info)
}

// Path returns the operating system path.
func (f *File) Path() string { return f.path }

func (f *File) Exists() bool { return f.info != nil }

func (f *File) Size() int64 {
	if f.target == nil || f.target.IsDir() {
		return 0
	}
	return f.target.Size()
}

func (f *File) ModTime() time.Time {
	if f.info == nil {
		return time.Time{}
	}
	return f.info.ModTime()
}

// IsDir follows symbolic links.
func (f *File) IsDir() bool       { return f.target != nil && f.target.IsDir() }
func (f *File) IsBrowsable() bool { return f.IsDir() }
func (f *File) IsSymlink() bool   { return f.info != nil && f.info.Mode()&fs.ModeSymlink != 0 }

func (f *File) IsHidden() bool {
	return f.FileBase.IsHidden() || (f.info != nil && hiddenAttr(f.info))
}

func (f *File) IsSystem() bool { return f.info != nil && systemAttr(f.info) }

func (f *File) Owner() string     { return f.owner }
func (f *File) CanGetOwner() bool { return f.hasOwner }
func (f *File) Group() string     { return f.group }
func (f *File) CanGetGroup() bool { return f.hasOwner }

// Underlying returns the fs.FileInfo, or nil.
func (f *File) Underlying() any {
	if f.info == nil {
		return nil
	}
	return f.info
}

func (f *File) Permissions() vfskit.FilePermissions {
	if f.info == nil {
		return vfskit.FilePermissions{}
	}
	return vfskit.FilePermissions{
		Value: vfskit.PermissionsFromMode(f.info.Mode()) & permissionMask,
		Mask:  permissionMask,
	}
}

func (f *File) ChangeablePermissions() vfskit.Permissions { return changeablePermissions }

func (f *File) SupportedOperations() vfskit.OperationSet { return operations }

func (f *File) IsOperationSupported(op vfskit.Operation) bool { return operations.Has(op) }

func (f *File) Parent(ctx context.Context) (vfskit.File, error) {
	return f.CachedParent(ctx, func(context.Context) (vfskit.File, error) {
		return f.provider.newFile(f.URL().Parent()), nil
	})
}

// Child returns the file called name in this directory.
func (f *File) Child(ctx context.Context, name string) (vfskit.File, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, vfskit.NewPathError("child", f.URL().String(), vfskit.ErrInvalidName)
	}
	c := f.provider.newFile(f.URL().Child(name))
	c.SetParent(f)
	return c, nil
}

func (f *File) List(ctx context.Context, filter vfskit.FileFilter) ([]vfskit.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// Continue
	}

	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, mapError("list", f.URL(), err)
	}
	files := make([]vfskit.File, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, f.provider.newChild(f, info))
	}
	return vfskit.ApplyFilter(files, filter), nil
}

func (f *File) Mkdir(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError("mkdir", f.URL(), os.Mkdir(f.path, 0o755))
}

func (f *File) Mkfile(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return mapError("mkfile", f.URL(), err)
	}
	return mapError("mkfile", f.URL(), file.Close())
}

func (f *File) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, vfskit.NewPathError("read", f.URL().String(), vfskit.ErrInvalidOffset)
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, mapError("read", f.URL(), err)
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, mapError("read", f.URL(), err)
		}
	}
	return file, nil
}

func (f *File) OpenWriter(ctx context.Context, mode vfskit.WriteMode) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if mode == vfskit.WriteAppend {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	file, err := os.OpenFile(f.path, flags, 0o644)
	if err != nil {
		return nil, mapError("write", f.URL(), err)
	}
	return file, nil
}

func (f *File) OpenRandomReader(ctx context.Context) (vfskit.RandomReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, mapError("random-read", f.URL(), err)
	}
	return &randomFile{File: file}, nil
}

func (f *File) OpenRandomWriter(ctx context.Context) (vfskit.RandomWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, mapError("random-write", f.URL(), err)
	}
	return &randomFile{File: file}, nil
}

// Delete removes the file, or the directory if it is empty.
func (f *File) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError("delete", f.URL(), os.Remove(f.path))
}

// RenameTo renames within the local file systems. Renames across volumes
// fail with the operating system's error, not ErrCrossRealm.
func (f *File) RenameTo(ctx context.Context, dst vfskit.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, ok := vfskit.As[*File](dst)
	if !ok {
		return vfskit.NewPathError("rename", f.URL().String(), vfskit.ErrCrossRealm)
	}
	return mapError("rename", f.URL(), os.Rename(f.path, target.path))
}

// CopyRemotelyTo copies a regular file inside the kernel where the platform
// supports it (copy_file_range on Linux).
func (f *File) CopyRemotelyTo(ctx context.Context, dst vfskit.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, ok := vfskit.As[*File](dst)
	if !ok {
		return vfskit.NewPathError("copy-remotely", f.URL().String(), vfskit.ErrCrossRealm)
	}
	if f.IsDir() {
		return vfskit.NewPathError("copy-remotely", f.URL().String(), vfskit.ErrIsDir)
	}

	in, err := os.Open(f.path)
	if err != nil {
		return mapError("copy-remotely", f.URL(), err)
	}
	defer in.Close()

	out, err := os.OpenFile(target.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return mapError("copy-remotely", target.URL(), err)
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return mapError("copy-remotely", target.URL(), err)
	}
	return mapError("copy-remotely", target.URL(), out.Close())
}

func (f *File) ChangePermission(ctx context.Context, access vfskit.PermissionAccess, kind vfskit.PermissionKind, enabled bool) error {
	if f.info == nil {
		return vfskit.NewPathError("change-permission", f.URL().String(), vfskit.ErrNotExist)
	}
	perms := vfskit.PermissionsFromMode(f.info.Mode()).With(access, kind, enabled)
	return f.ChangePermissions(ctx, perms)
}

func (f *File) ChangePermissions(ctx context.Context, perms vfskit.Permissions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := perms.FileMode()
	if f.info != nil {
		// keep setuid, setgid and sticky
		mode |= f.info.Mode() & (fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
	}
	return mapError("change-permission", f.URL(), os.Chmod(f.path, mode))
}

// SetModTime changes the modification time and leaves the access time.
func (f *File) SetModTime(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError("change-date", f.URL(), os.Chtimes(f.path, time.Time{}, t))
}

// FreeSpace returns the bytes available to the caller on the volume. For
// a missing file the nearest existing ancestor is measured.
func (f *File) FreeSpace(ctx context.Context) (int64, error) {
	free, _, err := diskSpace(existingAncestor(f.path))
	if err != nil {
		return -1, mapError("free-space", f.URL(), err)
	}
	return free, nil
}

func (f *File) TotalSpace(ctx context.Context) (int64, error) {
	_, total, err := diskSpace(existingAncestor(f.path))
	if err != nil {
		return -1, mapError("total-space", f.URL(), err)
	}
	return total, nil
}

// Watch returns a token that fires on the first change to the file, or to
// the entries of the directory. The watch ends with ctx.
func (f *File) Watch(ctx context.Context) (vfskit.ChangeToken, error) {
	token, err := watch(ctx, f.path, f.provider.log.WithField("url", f.URL().String()))
	if err != nil {
		return nil, mapError("watch", f.URL(), err)
	}
	return token, nil
}

func existingAncestor(p string) string {
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// urlToPath converts a URL path to an operating system path. On Windows
// "/C:/dir" becomes "C:\dir".
func urlToPath(p string) string {
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

func pathToURL(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// randomFile adds Length to *os.File.
type randomFile struct {
	*os.File
}

func (r *randomFile) Length() (int64, error) {
	info, err := r.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
