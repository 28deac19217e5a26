package objectfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/sirupsen/logrus"
)

type kind int

const (
	kindRoot kind = iota
	kindBucket
	kindObject
)

var (
	rootOperations   = vfskit.NewOperationSet(vfskit.OpList)
	bucketOperations = vfskit.NewOperationSet(vfskit.OpList, vfskit.OpMkdir, vfskit.OpDelete)
	objectOperations = vfskit.NewOperationSet(
		vfskit.OpRead,
		vfskit.OpRandomRead,
		vfskit.OpWrite,
		vfskit.OpList,
		vfskit.OpMkdir,
		vfskit.OpMkfile,
		vfskit.OpDelete,
		vfskit.OpRename,
		vfskit.OpCopyRemotely,
	)
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Provider) { p.log = l }
}

// WithTempDir sets where writers spool content before uploading. The
// default is os.TempDir.
func WithTempDir(dir string) Option {
	return func(p *Provider) { p.tempDir = dir }
}

// WithPollInterval sets how often Watch stats an object. The default is
// five seconds.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// Provider creates object store files for one scheme. It keeps one Backend
// per realm and credentials.
type Provider struct {
	scheme  string
	factory BackendFactory
	log     logrus.FieldLogger
	tempDir string

	pollInterval time.Duration

	mu       sync.Mutex
	backends map[string]Backend
}

// New creates a provider for scheme.
func New(scheme string, factory BackendFactory, opts ...Option) *Provider {
	p := &Provider{
		scheme:   scheme,
		factory:  factory,
		log:      logrus.StandardLogger(),
		backends: make(map[string]Backend),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scheme returns the URL scheme.
func (p *Provider) Scheme() string { return p.scheme }

func (p *Provider) backend(ctx context.Context, u *vfskit.FileURL) (Backend, error) {
	realm := u.Realm()
	realm.Credentials = u.Credentials
	key := realm.Format(vfskit.CredentialsFull)

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.backends[key]; ok {
		return b, nil
	}
	b, err := p.factory(ctx, u.Realm(), u.Credentials)
	if err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{"scheme": p.scheme, "realm": u.Realm().String()}).Debug("created object store client")
	p.backends[key] = b
	return b, nil
}

// NewFile implements vfskit.Provider. Buckets and objects are looked up
// in the store.
func (p *Provider) NewFile(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error) {
	b, err := p.backend(ctx, u)
	if err != nil {
		return nil, vfskit.WrapPathErr("resolve", u.String(), err)
	}
	return p.lookup(ctx, b, u)
}

func (p *Provider) lookup(ctx context.Context, b Backend, u *vfskit.FileURL) (*File, error) {
	f := p.newFile(b, u)
	switch f.kind {
	case kindRoot:
		f.exists, f.dir = true, true
	case kindBucket:
		ok, err := b.BucketExists(ctx, f.bucket)
		if err != nil {
			return nil, mapError("stat", u, err)
		}
		f.exists, f.dir = ok, ok
	case kindObject:
		info, err := b.Stat(ctx, f.bucket, f.key)
		switch {
		case err == nil:
			f.exists, f.info = true, info
		case errors.Is(err, vfskit.ErrNotExist):
			// no object; a prefix with objects below is a directory
			entries, lerr := b.List(ctx, f.bucket, f.key+"/")
			if lerr != nil && !errors.Is(lerr, vfskit.ErrNotExist) {
				return nil, mapError("stat", u, lerr)
			}
			if len(entries) > 0 {
				f.exists, f.dir = true, true
			}
		default:
			return nil, mapError("stat", u, err)
		}
	}
	return f, nil
}

func (p *Provider) newFile(b Backend, u *vfskit.FileURL) *File {
	f := &File{FileBase: vfskit.NewFileBase(u), provider: p, backend: b}
	segs := u.Segments()
	switch len(segs) {
	case 0:
		f.kind = kindRoot
	case 1:
		f.kind, f.bucket = kindBucket, segs[0]
	default:
		f.kind, f.bucket, f.key = kindObject, segs[0], strings.Join(segs[1:], "/")
	}
	return f
}

// File is the store root, a bucket, or an object or directory inside a
// bucket. Metadata is captured when the handle is created.
type File struct {
	vfskit.FileBase

	provider *Provider
	backend  Backend

	kind   kind
	bucket string
	key    string

	exists bool
	dir    bool
	info   *ObjectInfo
}

var (
	_ vfskit.File          = (*File)(nil)
	_ vfskit.ChildResolver = (*File)(nil)
	_ vfskit.CanWatch      = (*File)(nil)
)

// Bucket returns the bucket name, or "" for the root.
func (f *File) Bucket() string { return f.bucket }

// Key returns the object key, or "" for the root and buckets.
func (f *File) Key() string { return f.key }

func (f *File) Exists() bool { return f.exists }

// Watch polls the store and fires on the first change of size,
// modification time or existence.
func (f *File) Watch(ctx context.Context) (vfskit.ChangeToken, error) {
	return vfskit.NewPollingChangeToken(ctx, f.provider.pollInterval, func(ctx context.Context) (time.Time, int64, bool, error) {
		cur, err := f.provider.lookup(ctx, f.backend, f.URL())
		if err != nil {
			return time.Time{}, 0, false, err
		}
		return cur.ModTime(), cur.Size(), cur.Exists(), nil
	}), nil
}

func (f *File) Size() int64 {
	if f.info == nil {
		return 0
	}
	return f.info.Size
}

func (f *File) ModTime() time.Time {
	if f.info == nil {
		return time.Time{}
	}
	return f.info.ModTime
}

func (f *File) IsDir() bool       { return f.dir }
func (f *File) IsBrowsable() bool { return f.dir }

// Underlying returns the client library's attribute value, or nil.
func (f *File) Underlying() any {
	if f.info == nil {
		return nil
	}
	return f.info.Native
}

// Permissions are not reported; object stores use ACLs and policies.
func (f *File) Permissions() vfskit.FilePermissions { return vfskit.FilePermissions{} }

func (f *File) SupportedOperations() vfskit.OperationSet {
	switch f.kind {
	case kindRoot:
		return rootOperations
	case kindBucket:
		return bucketOperations
	}
	return objectOperations
}

func (f *File) IsOperationSupported(op vfskit.Operation) bool {
	return f.SupportedOperations().Has(op)
}

func (f *File) unsupported(op vfskit.Operation) error {
	if f.IsOperationSupported(op) {
		return nil
	}
	return vfskit.Unsupported(op, f.URL())
}

func (f *File) Parent(ctx context.Context) (vfskit.File, error) {
	return f.CachedParent(ctx, func(ctx context.Context) (vfskit.File, error) {
		return f.provider.lookup(ctx, f.backend, f.URL().Parent())
	})
}

// Child returns the bucket or object called name below this file.
func (f *File) Child(ctx context.Context, name string) (vfskit.File, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, vfskit.NewPathError("child", f.URL().String(), vfskit.ErrInvalidName)
	}
	c, err := f.provider.lookup(ctx, f.backend, f.URL().Child(name))
	if err != nil {
		return nil, err
	}
	c.SetParent(f)
	return c, nil
}

func (f *File) List(ctx context.Context, filter vfskit.FileFilter) ([]vfskit.File, error) {
	if f.kind == kindRoot {
		buckets, err := f.backend.ListBuckets(ctx)
		if err != nil {
			return nil, mapError("list", f.URL(), err)
		}
		files := make([]vfskit.File, 0, len(buckets))
		for _, b := range buckets {
			c := f.provider.newFile(f.backend, f.URL().Child(b.Name))
			c.exists, c.dir = true, true
			if !b.Created.IsZero() {
				c.info = &ObjectInfo{ModTime: b.Created, Native: b.Native}
			}
			c.SetParent(f)
			files = append(files, c)
		}
		return vfskit.ApplyFilter(files, filter), nil
	}

	if !f.dir {
		return nil, vfskit.NewPathError("list", f.URL().String(), vfskit.ErrNotDir)
	}
	prefix := f.prefix()
	entries, err := f.backend.List(ctx, f.bucket, prefix)
	if err != nil {
		return nil, mapError("list", f.URL(), err)
	}
	files := make([]vfskit.File, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		name := strings.TrimSuffix(strings.TrimPrefix(e.Key, prefix), "/")
		if name == "" {
			// directory marker of this directory
			continue
		}
		c := f.provider.newFile(f.backend, f.URL().Child(name))
		c.exists = true
		if e.Prefix || strings.HasSuffix(e.Key, "/") {
			c.dir = true
		} else {
			c.info = e
		}
		c.SetParent(f)
		files = append(files, c)
	}
	return vfskit.ApplyFilter(files, filter), nil
}

// prefix returns the listing prefix of a directory.
func (f *File) prefix() string {
	if f.key == "" {
		return ""
	}
	return f.key + "/"
}

// Mkdir creates a bucket, or a directory marker object.
func (f *File) Mkdir(ctx context.Context) error {
	if err := f.unsupported(vfskit.OpMkdir); err != nil {
		return err
	}
	if f.exists {
		return vfskit.NewPathError("mkdir", f.URL().String(), vfskit.ErrExist)
	}
	if f.kind == kindBucket {
		return mapError("mkdir", f.URL(), f.backend.CreateBucket(ctx, f.bucket))
	}
	return mapError("mkdir", f.URL(), f.backend.Put(ctx, f.bucket, f.prefix(), strings.NewReader(""), 0))
}

func (f *File) Mkfile(ctx context.Context) error {
	if err := f.unsupported(vfskit.OpMkfile); err != nil {
		return err
	}
	if f.exists {
		return vfskit.NewPathError("mkfile", f.URL().String(), vfskit.ErrExist)
	}
	return mapError("mkfile", f.URL(), f.backend.Put(ctx, f.bucket, f.key, strings.NewReader(""), 0))
}

func (f *File) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if err := f.unsupported(vfskit.OpRead); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, vfskit.NewPathError("read", f.URL().String(), vfskit.ErrInvalidOffset)
	}
	if f.dir {
		return nil, vfskit.NewPathError("read", f.URL().String(), vfskit.ErrIsDir)
	}
	if f.exists && offset >= f.Size() {
		// a range starting at the end is unsatisfiable for most stores
		return io.NopCloser(strings.NewReader("")), nil
	}
	r, err := f.backend.Get(ctx, f.bucket, f.key, offset, -1)
	if err != nil {
		return nil, mapError("read", f.URL(), err)
	}
	return r, nil
}

// OpenWriter spools content to a temporary file and uploads it on Close.
func (f *File) OpenWriter(ctx context.Context, mode vfskit.WriteMode) (io.WriteCloser, error) {
	if mode == vfskit.WriteAppend {
		return nil, vfskit.Unsupported(vfskit.OpAppend, f.URL())
	}
	if err := f.unsupported(vfskit.OpWrite); err != nil {
		return nil, err
	}
	if f.dir {
		return nil, vfskit.NewPathError("write", f.URL().String(), vfskit.ErrIsDir)
	}
	tmp, err := os.CreateTemp(f.provider.tempDir, "vfskit-upload-*")
	if err != nil {
		return nil, vfskit.NewPathError("write", f.URL().String(), err)
	}
	return &uploader{ctx: ctx, file: f, tmp: tmp}, nil
}

func (f *File) OpenRandomReader(ctx context.Context) (vfskit.RandomReader, error) {
	if err := f.unsupported(vfskit.OpRandomRead); err != nil {
		return nil, err
	}
	if !f.exists || f.dir {
		return nil, vfskit.NewPathError("random-read", f.URL().String(), vfskit.ErrNotExist)
	}
	return &rangeReader{ctx: ctx, file: f, size: f.Size()}, nil
}

// Delete removes an object, an empty directory marker or an empty bucket.
func (f *File) Delete(ctx context.Context) error {
	if err := f.unsupported(vfskit.OpDelete); err != nil {
		return err
	}
	if f.kind == kindBucket {
		return mapError("delete", f.URL(), f.backend.DeleteBucket(ctx, f.bucket))
	}
	if !f.dir {
		return mapError("delete", f.URL(), f.backend.Delete(ctx, f.bucket, f.key))
	}
	entries, err := f.backend.List(ctx, f.bucket, f.prefix())
	if err != nil {
		return mapError("delete", f.URL(), err)
	}
	for _, e := range entries {
		if e.Key != f.prefix() {
			return vfskit.NewPathError("delete", f.URL().String(), vfskit.ErrNotEmpty)
		}
	}
	err = f.backend.Delete(ctx, f.bucket, f.prefix())
	if errors.Is(err, vfskit.ErrNotExist) {
		// implicit directory without a marker
		err = nil
	}
	return mapError("delete", f.URL(), err)
}

// RenameTo copies inside the store and deletes the source. Directories are
// moved object by object.
func (f *File) RenameTo(ctx context.Context, dst vfskit.File) error {
	if err := f.unsupported(vfskit.OpRename); err != nil {
		return err
	}
	target, err := f.sameStore("rename", dst)
	if err != nil {
		return err
	}
	if !f.dir {
		if err := f.backend.Copy(ctx, f.bucket, f.key, target.bucket, target.key); err != nil {
			return mapError("rename", f.URL(), err)
		}
		return mapError("rename", f.URL(), f.backend.Delete(ctx, f.bucket, f.key))
	}
	if target.key == f.key && target.bucket == f.bucket {
		return nil
	}
	if target.bucket == f.bucket && strings.HasPrefix(target.key+"/", f.prefix()) {
		return vfskit.NewPathError("rename", f.URL().String(), fmt.Errorf("%w: cannot move a directory into itself", vfskit.ErrInvalidName))
	}
	return f.moveTree(ctx, f.prefix(), target.bucket, target.prefix())
}

func (f *File) moveTree(ctx context.Context, from, bucket, to string) error {
	entries, err := f.backend.List(ctx, f.bucket, from)
	if err != nil {
		return mapError("rename", f.URL(), err)
	}
	for _, e := range entries {
		if e.Prefix {
			if err := f.moveTree(ctx, e.Key, bucket, to+strings.TrimPrefix(e.Key, from)); err != nil {
				return err
			}
			continue
		}
		dstKey := to + strings.TrimPrefix(e.Key, from)
		if err := f.backend.Copy(ctx, f.bucket, e.Key, bucket, dstKey); err != nil {
			return mapError("rename", f.URL(), err)
		}
		if err := f.backend.Delete(ctx, f.bucket, e.Key); err != nil {
			return mapError("rename", f.URL(), err)
		}
	}
	return nil
}

// CopyRemotelyTo copies an object inside the store.
func (f *File) CopyRemotelyTo(ctx context.Context, dst vfskit.File) error {
	if err := f.unsupported(vfskit.OpCopyRemotely); err != nil {
		return err
	}
	target, err := f.sameStore("copy-remotely", dst)
	if err != nil {
		return err
	}
	if f.dir {
		return vfskit.NewPathError("copy-remotely", f.URL().String(), vfskit.ErrIsDir)
	}
	return mapError("copy-remotely", f.URL(), f.backend.Copy(ctx, f.bucket, f.key, target.bucket, target.key))
}

// sameStore returns dst as an object of this file's backend.
func (f *File) sameStore(op string, dst vfskit.File) (*File, error) {
	target, ok := vfskit.As[*File](dst)
	if !ok || target.backend != f.backend {
		return nil, vfskit.NewPathError(op, f.URL().String(), vfskit.ErrCrossRealm)
	}
	if target.kind != kindObject {
		return nil, vfskit.NewPathError(op, target.URL().String(), fmt.Errorf("%w: not an object path", vfskit.ErrInvalidName))
	}
	return target, nil
}

// uploader spools writes to a temporary file and puts the object on Close.
type uploader struct {
	ctx    context.Context
	file   *File
	tmp    *os.File
	closed bool
}

func (u *uploader) Write(p []byte) (int, error) {
	if u.closed {
		return 0, vfskit.ErrClosed
	}
	return u.tmp.Write(p)
}

func (u *uploader) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	defer func() {
		u.tmp.Close()
		if err := os.Remove(u.tmp.Name()); err != nil {
			u.file.provider.log.WithError(err).WithField("file", u.tmp.Name()).Warn("failed to remove upload spool")
		}
	}()

	size, err := u.tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return vfskit.NewPathError("write", u.file.URL().String(), err)
	}
	if _, err := u.tmp.Seek(0, io.SeekStart); err != nil {
		return vfskit.NewPathError("write", u.file.URL().String(), err)
	}
	f := u.file
	return mapError("write", f.URL(), f.backend.Put(u.ctx, f.bucket, f.key, u.tmp, size))
}

// rangeReader reads an object with ranged GET requests.
type rangeReader struct {
	ctx  context.Context
	file *File
	size int64

	mu     sync.Mutex
	pos    int64
	closed bool
}

func (r *rangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, vfskit.ErrInvalidOffset
	}
	if off >= r.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > r.size {
		want = r.size - off
	}
	f := r.file
	body, err := f.backend.Get(r.ctx, f.bucket, f.key, off, want)
	if err != nil {
		return 0, mapError("random-read", f.URL(), err)
	}
	defer body.Close()
	n, err := io.ReadFull(body, p[:want])
	if err == nil && want < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (r *rangeReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, vfskit.ErrClosed
	}
	if r.pos >= r.size {
		return 0, io.EOF
	}
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, vfskit.ErrInvalidWhence
	}
	if abs < 0 {
		return 0, vfskit.ErrInvalidOffset
	}
	r.pos = abs
	return abs, nil
}

func (r *rangeReader) Length() (int64, error) { return r.size, nil }

func (r *rangeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// mapError wraps a backend error in a *vfskit.PathError. Backends already
// report vfskit sentinels.
func mapError(op string, u *vfskit.FileURL, err error) error {
	if err == nil {
		return nil
	}
	return vfskit.WrapPathErr(op, u.String(), err)
}
