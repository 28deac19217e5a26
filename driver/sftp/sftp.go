// Package sftp implements the "sftp" scheme. Sessions are shared through a
// vfskit.ConnectionPool, one per server and login, and files borrow a
// session for each operation.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
)

// Scheme is the URL scheme served by this package.
const Scheme = "sftp"

var operations = vfskit.NewOperationSet(
	vfskit.OpRead,
	vfskit.OpRandomRead,
	vfskit.OpWrite,
	vfskit.OpAppend,
	vfskit.OpRandomWrite,
	vfskit.OpList,
	vfskit.OpMkdir,
	vfskit.OpMkfile,
	vfskit.OpDelete,
	vfskit.OpRename,
	vfskit.OpChangeDate,
	vfskit.OpChangePermission,
	vfskit.OpGetFreeSpace,
	vfskit.OpGetTotalSpace,
)

// Option configures a Provider.
type Option func(*Provider)

// WithPool shares pool with other providers. The provider does not close a
// pool it did not create.
func WithPool(pool *vfskit.ConnectionPool) Option {
	return func(p *Provider) { p.pool = pool }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// WithTimeout sets the dial and handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithPrivateKey adds public key authentication with a PEM encoded key.
func WithPrivateKey(pem []byte) Option {
	return func(p *Provider) { p.privateKey = pem }
}

// WithKnownHostsFile verifies host keys against an OpenSSH known_hosts
// file.
func WithKnownHostsFile(file string) Option {
	return func(p *Provider) { p.knownHosts = file }
}

// WithPollInterval sets how often Watch stats a file. The default is five
// seconds.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithDialer replaces the SSH dialer.
func WithDialer(dial DialFunc) Option {
	return func(p *Provider) { p.dial = dial }
}

// Provider creates SFTP files.
type Provider struct {
	pool    *vfskit.ConnectionPool
	ownPool bool
	log     logrus.FieldLogger

	dial       DialFunc
	timeout    time.Duration
	privateKey []byte
	knownHosts string

	pollInterval time.Duration
}

// New creates an SFTP provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		log:     logrus.StandardLogger(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pool == nil {
		p.pool = vfskit.NewConnectionPool(vfskit.WithPoolLogger(p.log))
		p.ownPool = true
	}
	if p.dial == nil {
		p.dial = SSHDialer(p.privateKey, p.knownHosts, p.timeout)
	}
	return p
}

// Close closes the connection pool when the provider created it.
func (p *Provider) Close() error {
	if !p.ownPool {
		return nil
	}
	return p.pool.Close()
}

func (p *Provider) connect(realm *vfskit.FileURL, creds *vfskit.Credentials) vfskit.ConnectionHandler {
	return &connection{realm: realm, creds: creds, dial: p.dial}
}

// NewFile implements vfskit.Provider. It connects and stats the path, so
// authentication failures surface here.
func (p *Provider) NewFile(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error) {
	if u.Host == "" {
		return nil, vfskit.NewPathError("resolve", u.String(), fmt.Errorf("%w: missing host", vfskit.ErrMalformedURL))
	}
	return p.stat(ctx, u)
}

func (p *Provider) stat(ctx context.Context, u *vfskit.FileURL) (*File, error) {
	f := &File{FileBase: vfskit.NewFileBase(u), provider: p}
	err := f.withClient(ctx, "stat", func(c *sftp.Client) error {
		info, err := c.Lstat(u.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		f.setInfo(c, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// File is a file or directory on an SFTP server. Metadata is captured when
// the handle is created.
type File struct {
	vfskit.FileBase

	provider *Provider

	// info is the Lstat result; target follows a symlink. Both are nil when
	// the file does not exist.
	info   fs.FileInfo
	target fs.FileInfo
}

var (
	_ vfskit.File          = (*File)(nil)
	_ vfskit.ChildResolver = (*File)(nil)
	_ vfskit.CanWatch      = (*File)(nil)
)

func (f *File) setInfo(c *sftp.Client, info fs.FileInfo) {
	f.info, f.target = info, info
	if info.Mode()&fs.ModeSymlink != 0 {
		if t, err := c.Stat(f.URL().Path); err == nil {
			f.target = t
		}
	}
}

// withClient runs fn with a pooled client and maps its error.
func (f *File) withClient(ctx context.Context, op string, fn func(c *sftp.Client) error) error {
	h, release, err := f.provider.pool.Acquire(ctx, f.URL(), f.provider.connect)
	if err != nil {
		return vfskit.WrapPathErr(op, f.URL().String(), err)
	}
	defer release()
	c, err := h.(*connection).client()
	if err != nil {
		return vfskit.NewPathError(op, f.URL().String(), err)
	}
	return mapError(op, f.URL(), fn(c))
}

// open opens a remote file and keeps the session borrowed until the
// returned file is closed.
func (f *File) open(ctx context.Context, op string, flags int) (*stream, error) {
	h, release, err := f.provider.pool.Acquire(ctx, f.URL(), f.provider.connect)
	if err != nil {
		return nil, vfskit.WrapPathErr(op, f.URL().String(), err)
	}
	c, err := h.(*connection).client()
	if err != nil {
		release()
		return nil, vfskit.NewPathError(op, f.URL().String(), err)
	}
	file, err := c.OpenFile(f.URL().Path, flags)
	if err != nil {
		release()
		return nil, mapError(op, f.URL(), err)
	}
	return &stream{File: file, release: release}, nil
}

// Watch polls the server and fires on the first change of size,
// modification time or existence. SFTP has no change notification.
func (f *File) Watch(ctx context.Context) (vfskit.ChangeToken, error) {
	if _, err := f.provider.stat(ctx, f.URL()); err != nil {
		return nil, err
	}
	return vfskit.NewPollingChangeToken(ctx, f.provider.pollInterval, func(ctx context.Context) (time.Time, int64, bool, error) {
		cur, err := f.provider.stat(ctx, f.URL())
		if err != nil {
			return time.Time{}, 0, false, err
		}
		return cur.ModTime(), cur.Size(), cur.Exists(), nil
	}), nil
}

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

func (f *File) IsDir() bool       { return f.target != nil && f.target.IsDir() }
func (f *File) IsBrowsable() bool { return f.IsDir() }
func (f *File) IsSymlink() bool   { return f.info != nil && f.info.Mode()&fs.ModeSymlink != 0 }

func (f *File) stat() *sftp.FileStat {
	if f.info == nil {
		return nil
	}
	st, _ := f.info.Sys().(*sftp.FileStat)
	return st
}

// Owner returns the numeric user id; SFTP v3 carries no names.
func (f *File) Owner() string {
	if st := f.stat(); st != nil {
		return strconv.FormatUint(uint64(st.UID), 10)
	}
	return ""
}

func (f *File) CanGetOwner() bool { return f.stat() != nil }

func (f *File) Group() string {
	if st := f.stat(); st != nil {
		return strconv.FormatUint(uint64(st.GID), 10)
	}
	return ""
}

func (f *File) CanGetGroup() bool { return f.stat() != nil }

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
	return vfskit.FullPermissions(vfskit.PermissionsFromMode(f.info.Mode()))
}

func (f *File) ChangeablePermissions() vfskit.Permissions { return vfskit.AllPermissions }

func (f *File) SupportedOperations() vfskit.OperationSet { return operations }

func (f *File) IsOperationSupported(op vfskit.Operation) bool { return operations.Has(op) }

func (f *File) Parent(ctx context.Context) (vfskit.File, error) {
	return f.CachedParent(ctx, func(ctx context.Context) (vfskit.File, error) {
		return f.provider.stat(ctx, f.URL().Parent())
	})
}

// Child returns the file called name in this directory.
func (f *File) Child(ctx context.Context, name string) (vfskit.File, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, vfskit.NewPathError("child", f.URL().String(), vfskit.ErrInvalidName)
	}
	c, err := f.provider.stat(ctx, f.URL().Child(name))
	if err != nil {
		return nil, err
	}
	c.SetParent(f)
	return c, nil
}

func (f *File) List(ctx context.Context, filter vfskit.FileFilter) ([]vfskit.File, error) {
	var files []vfskit.File
	err := f.withClient(ctx, "list", func(c *sftp.Client) error {
		infos, err := c.ReadDirContext(ctx, f.URL().Path)
		if err != nil {
			return err
		}
		files = make([]vfskit.File, 0, len(infos))
		for _, info := range infos {
			child := &File{FileBase: vfskit.NewFileBase(f.URL().Child(info.Name())), provider: f.provider}
			child.setInfo(c, info)
			child.SetParent(f)
			files = append(files, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vfskit.ApplyFilter(files, filter), nil
}

func (f *File) Mkdir(ctx context.Context) error {
	return f.withClient(ctx, "mkdir", func(c *sftp.Client) error {
		return existed(c, f.URL().Path, c.Mkdir(f.URL().Path))
	})
}

func (f *File) Mkfile(ctx context.Context) error {
	return f.withClient(ctx, "mkfile", func(c *sftp.Client) error {
		file, err := c.OpenFile(f.URL().Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
		if err != nil {
			return existed(c, f.URL().Path, err)
		}
		return file.Close()
	})
}

// existed marks err as ErrExist when p exists. Servers answer a generic
// failure for create requests on existing paths.
func existed(c *sftp.Client, p string, err error) error {
	if err == nil {
		return nil
	}
	if _, serr := c.Lstat(p); serr == nil {
		return fmt.Errorf("%w: %w", vfskit.ErrExist, err)
	}
	return err
}

func (f *File) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, vfskit.NewPathError("read", f.URL().String(), vfskit.ErrInvalidOffset)
	}
	s, err := f.open(ctx, "read", os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := s.Seek(offset, io.SeekStart); err != nil {
			s.Close()
			return nil, mapError("read", f.URL(), err)
		}
	}
	return s, nil
}

func (f *File) OpenWriter(ctx context.Context, mode vfskit.WriteMode) (io.WriteCloser, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if mode == vfskit.WriteAppend {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	s, err := f.open(ctx, "write", flags)
	if err != nil {
		return nil, err
	}
	if mode == vfskit.WriteAppend {
		// not every server honours the append flag
		if _, err := s.Seek(0, io.SeekEnd); err != nil {
			s.Close()
			return nil, mapError("write", f.URL(), err)
		}
	}
	return s, nil
}

func (f *File) OpenRandomReader(ctx context.Context) (vfskit.RandomReader, error) {
	return f.open(ctx, "random-read", os.O_RDONLY)
}

func (f *File) OpenRandomWriter(ctx context.Context) (vfskit.RandomWriter, error) {
	return f.open(ctx, "random-write", os.O_RDWR|os.O_CREATE)
}

// Delete removes a file or an empty directory.
func (f *File) Delete(ctx context.Context) error {
	return f.withClient(ctx, "delete", func(c *sftp.Client) error {
		if f.IsDir() && !f.IsSymlink() {
			return c.RemoveDirectory(f.URL().Path)
		}
		return c.Remove(f.URL().Path)
	})
}

// RenameTo renames on the server. dst must share this file's realm and
// login.
func (f *File) RenameTo(ctx context.Context, dst vfskit.File) error {
	target, ok := vfskit.As[*File](dst)
	if !ok || !f.sameRealm(target) {
		return vfskit.NewPathError("rename", f.URL().String(), vfskit.ErrCrossRealm)
	}
	return f.withClient(ctx, "rename", func(c *sftp.Client) error {
		err := c.PosixRename(f.URL().Path, target.URL().Path)
		var se *sftp.StatusError
		if errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxOpUnsupported {
			return c.Rename(f.URL().Path, target.URL().Path)
		}
		return err
	})
}

func (f *File) sameRealm(o *File) bool {
	return f.URL().Realm().Equals(o.URL().Realm()) && f.URL().Credentials.Equal(o.URL().Credentials)
}

func (f *File) ChangePermission(ctx context.Context, access vfskit.PermissionAccess, kind vfskit.PermissionKind, enabled bool) error {
	if f.info == nil {
		return vfskit.NewPathError("change-permission", f.URL().String(), vfskit.ErrNotExist)
	}
	perms := vfskit.PermissionsFromMode(f.info.Mode()).With(access, kind, enabled)
	return f.ChangePermissions(ctx, perms)
}

func (f *File) ChangePermissions(ctx context.Context, perms vfskit.Permissions) error {
	return f.withClient(ctx, "change-permission", func(c *sftp.Client) error {
		return c.Chmod(f.URL().Path, perms.FileMode())
	})
}

// SetModTime changes the modification time and keeps the access time when
// the server reported one.
func (f *File) SetModTime(ctx context.Context, t time.Time) error {
	atime := t
	if st := f.stat(); st != nil && st.Atime != 0 {
		atime = time.Unix(int64(st.Atime), 0)
	}
	return f.withClient(ctx, "change-date", func(c *sftp.Client) error {
		return c.Chtimes(f.URL().Path, atime, t)
	})
}

// FreeSpace uses the statvfs@openssh.com extension.
func (f *File) FreeSpace(ctx context.Context) (int64, error) {
	free, _, err := f.space(ctx, "free-space")
	return free, err
}

func (f *File) TotalSpace(ctx context.Context) (int64, error) {
	_, total, err := f.space(ctx, "total-space")
	return total, err
}

func (f *File) space(ctx context.Context, op string) (free, total int64, err error) {
	free, total = -1, -1
	err = f.withClient(ctx, op, func(c *sftp.Client) error {
		p := f.URL().Path
		if !f.Exists() {
			p = path.Dir(p)
		}
		vfs, err := c.StatVFS(p)
		if err != nil {
			return err
		}
		free = int64(vfs.Bavail * vfs.Frsize)
		total = int64(vfs.TotalSpace())
		return nil
	})
	return free, total, err
}

// stream is an open remote file holding a borrowed session.
type stream struct {
	*sftp.File
	release func()
}

func (s *stream) Close() error {
	err := s.File.Close()
	s.release()
	return err
}

func (s *stream) Length() (int64, error) {
	info, err := s.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// mapError translates an SFTP error into a *vfskit.PathError matching the
// vfskit sentinels. The SFTP error stays in the chain.
func mapError(op string, u *vfskit.FileURL, err error) error {
	if err == nil {
		return nil
	}
	var pe *vfskit.PathError
	if errors.As(err, &pe) {
		return err
	}
	var sentinel error
	var se *sftp.StatusError
	switch {
	case errors.Is(err, vfskit.ErrExist), errors.Is(err, vfskit.ErrNotConnected):
	case errors.Is(err, fs.ErrNotExist):
		sentinel = vfskit.ErrNotExist
	case errors.Is(err, fs.ErrExist):
		sentinel = vfskit.ErrExist
	case errors.Is(err, fs.ErrPermission):
		sentinel = vfskit.ErrPermission
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, sftp.ErrSSHFxNoConnection):
		sentinel = vfskit.ErrNotConnected
	case errors.As(err, &se):
		switch se.FxCode() {
		case sftp.ErrSSHFxOpUnsupported:
			sentinel = vfskit.ErrNotSupported
		case sftp.ErrSSHFxConnectionLost, sftp.ErrSSHFxNoConnection:
			sentinel = vfskit.ErrNotConnected
		}
	}
	if sentinel != nil {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return vfskit.NewPathError(op, u.String(), err)
}
