// Package memory implements the "mem" scheme: file trees held in memory,
// one per URL host. Useful for testing and scratch space.
package memory

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/gobwas/glob"
)

// Scheme is the URL scheme of memory files.
const Scheme = "mem"

// Config holds configuration for the memory stores
type Config struct {
	// MaxSize is the maximum total storage size in bytes per store (0 = unlimited)
	MaxSize int64
}

// Provider hands out files from in-memory stores, creating a store the
// first time a host is addressed.
type Provider struct {
	cfg Config

	mu     sync.Mutex
	stores map[string]*Store
}

// New creates a memory provider.
func New(cfg ...Config) *Provider {
	p := &Provider{stores: make(map[string]*Store)}
	if len(cfg) > 0 {
		p.cfg = cfg[0]
	}
	return p
}

// Store returns the store of host.
func (p *Provider) Store(host string) *Store {
	host = strings.ToLower(host)
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[host]
	if !ok {
		s = NewStore(p.cfg)
		p.stores[host] = s
	}
	return s
}

// NewFile implements vfskit.Provider. It does no I/O.
func (p *Provider) NewFile(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error) {
	return p.Store(u.Host).file(u), nil
}

// node is a file or directory in a store.
type node struct {
	dir     bool
	content []byte
	modTime time.Time
	perms   vfskit.Permissions
}

type watchEntry struct {
	pattern glob.Glob
	token   *vfskit.CallbackChangeToken
}

// Store is one in-memory file tree.
type Store struct {
	mu      sync.RWMutex
	nodes   map[string]*node
	maxSize int64
	size    int64

	watchMu sync.RWMutex
	watches []*watchEntry
}

// NewStore creates a store holding only the root directory.
func NewStore(cfg Config) *Store {
	return &Store{
		nodes:   map[string]*node{"/": {dir: true, modTime: time.Now(), perms: 0o755}},
		maxSize: cfg.MaxSize,
	}
}

// Size returns the total bytes stored.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Clear removes everything but the root.
func (s *Store) Clear() {
	s.mu.Lock()
	s.nodes = map[string]*node{"/": {dir: true, modTime: time.Now(), perms: 0o755}}
	s.size = 0
	s.mu.Unlock()
	s.notify("/")
}

func (s *Store) stat(p string) (node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[p]
	if !ok {
		return node{}, false
	}
	return *n, true
}

// checkParent must be called with s.mu held.
func (s *Store) checkParent(p string) error {
	parent, ok := s.nodes[path.Dir(p)]
	if !ok {
		return vfskit.ErrNotExist
	}
	if !parent.dir {
		return vfskit.ErrNotDir
	}
	return nil
}

// put stores content at p, creating the file when needed. It must be
// called with s.mu held.
func (s *Store) put(p string, content []byte) error {
	if err := s.checkParent(p); err != nil {
		return err
	}
	existing, ok := s.nodes[p]
	if ok && existing.dir {
		return vfskit.ErrIsDir
	}
	var old int64
	if ok {
		old = int64(len(existing.content))
	}
	if s.maxSize > 0 && s.size-old+int64(len(content)) > s.maxSize {
		return vfskit.ErrNoSpace
	}
	s.size += int64(len(content)) - old
	if ok {
		existing.content = content
		existing.modTime = time.Now()
		return nil
	}
	s.nodes[p] = &node{content: content, modTime: time.Now(), perms: 0o644}
	return nil
}

// children returns the sorted names below dir.
func (s *Store) children(dir string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var names []string
	for p := range s.nodes {
		if p == "/" || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) hasChildren(dir string) bool {
	prefix := dir + "/"
	for p := range s.nodes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// ============================================================================
// Watcher Implementation
// ============================================================================

// watch returns a token signaled when a path matching pattern changes.
func (s *Store) watch(ctx context.Context, pattern string) (vfskit.ChangeToken, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	token := vfskit.NewCallbackChangeToken()

	s.watchMu.Lock()
	s.watches = append(s.watches, &watchEntry{pattern: g, token: token})
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.removeWatch(token)
	}()
	return token, nil
}

// notify signals all watchers whose pattern matches p
func (s *Store) notify(p string) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, e := range s.watches {
		if e.pattern.Match(p) {
			e.token.SignalChange()
		}
	}
}

func (s *Store) removeWatch(token *vfskit.CallbackChangeToken) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for i, e := range s.watches {
		if e.token == token {
			// Remove by swapping with last element
			s.watches[i] = s.watches[len(s.watches)-1]
			s.watches = s.watches[:len(s.watches)-1]
			return
		}
	}
}

// ============================================================================
// Files
// ============================================================================

var baseOperations = vfskit.NewOperationSet(
	vfskit.OpRead, vfskit.OpRandomRead, vfskit.OpWrite, vfskit.OpAppend, vfskit.OpRandomWrite,
	vfskit.OpList, vfskit.OpMkdir, vfskit.OpMkfile, vfskit.OpDelete, vfskit.OpRename,
	vfskit.OpCopyRemotely, vfskit.OpChangeDate, vfskit.OpChangePermission,
)

func (s *Store) file(u *vfskit.FileURL) *File {
	ops := baseOperations
	if s.maxSize > 0 {
		ops = ops.With(vfskit.OpGetFreeSpace, vfskit.OpGetTotalSpace)
	}
	n, ok := s.stat(u.Path)
	return &File{FileBase: vfskit.NewFileBase(u), store: s, node: n, exists: ok, ops: ops}
}

// File is a file or directory in a Store. Metadata is a snapshot taken
// when the handle was created.
type File struct {
	vfskit.FileBase

	store  *Store
	node   node
	exists bool
	ops    vfskit.OperationSet
}

var (
	_ vfskit.File          = (*File)(nil)
	_ vfskit.CanWatch      = (*File)(nil)
	_ vfskit.ChildResolver = (*File)(nil)
)

func (f *File) path() string { return f.URL().Path }

func (f *File) Exists() bool       { return f.exists }
func (f *File) Size() int64        { return int64(len(f.node.content)) }
func (f *File) ModTime() time.Time { return f.node.modTime }
func (f *File) IsDir() bool        { return f.exists && f.node.dir }
func (f *File) IsBrowsable() bool  { return f.IsDir() }

func (f *File) Permissions() vfskit.FilePermissions {
	if !f.exists {
		return vfskit.FilePermissions{}
	}
	return vfskit.FullPermissions(f.node.perms)
}

func (f *File) ChangeablePermissions() vfskit.Permissions { return vfskit.AllPermissions }

func (f *File) SupportedOperations() vfskit.OperationSet { return f.ops }

func (f *File) IsOperationSupported(op vfskit.Operation) bool { return f.ops.Has(op) }

func (f *File) Parent(ctx context.Context) (vfskit.File, error) {
	return f.CachedParent(ctx, func(context.Context) (vfskit.File, error) {
		return f.store.file(f.URL().Parent()), nil
	})
}

// Child returns the file called name in this directory.
func (f *File) Child(ctx context.Context, name string) (vfskit.File, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, vfskit.NewPathError("child", f.URL().String(), vfskit.ErrInvalidName)
	}
	c := f.store.file(f.URL().Child(name))
	c.SetParent(f)
	return c, nil
}

func (f *File) List(ctx context.Context, filter vfskit.FileFilter) ([]vfskit.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, ok := f.store.stat(f.path())
	if !ok {
		return nil, vfskit.NewPathError("list", f.URL().String(), vfskit.ErrNotExist)
	}
	if !n.dir {
		return nil, vfskit.NewPathError("list", f.URL().String(), vfskit.ErrNotDir)
	}
	names := f.store.children(f.path())
	files := make([]vfskit.File, 0, len(names))
	for _, name := range names {
		c := f.store.file(f.URL().Child(name))
		if !c.exists {
			// deleted since children was read
			continue
		}
		c.SetParent(f)
		files = append(files, c)
	}
	return vfskit.ApplyFilter(files, filter), nil
}

func (f *File) Mkdir(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := f.store
	s.mu.Lock()
	err := s.checkParent(f.path())
	if err == nil {
		if _, ok := s.nodes[f.path()]; ok {
			err = vfskit.ErrExist
		} else {
			s.nodes[f.path()] = &node{dir: true, modTime: time.Now(), perms: 0o755}
		}
	}
	s.mu.Unlock()
	if err != nil {
		return vfskit.NewPathError("mkdir", f.URL().String(), err)
	}
	s.notify(f.path())
	return nil
}

func (f *File) Mkfile(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := f.store
	s.mu.Lock()
	var err error
	if _, ok := s.nodes[f.path()]; ok {
		err = vfskit.ErrExist
	} else {
		err = s.put(f.path(), nil)
	}
	s.mu.Unlock()
	if err != nil {
		return vfskit.NewPathError("mkfile", f.URL().String(), err)
	}
	s.notify(f.path())
	return nil
}

// content returns the current bytes of the file.
func (f *File) content(op string) ([]byte, error) {
	n, ok := f.store.stat(f.path())
	if !ok {
		return nil, vfskit.NewPathError(op, f.URL().String(), vfskit.ErrNotExist)
	}
	if n.dir {
		return nil, vfskit.NewPathError(op, f.URL().String(), vfskit.ErrIsDir)
	}
	return n.content, nil
}

func (f *File) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, vfskit.NewPathError("read", f.URL().String(), vfskit.ErrInvalidOffset)
	}
	data, err := f.content("read")
	if err != nil {
		return nil, err
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return io.NopCloser(newBuffer(data[offset:])), nil
}

func (f *File) OpenWriter(ctx context.Context, mode vfskit.WriteMode) (io.WriteCloser, error) {
	return f.openBuffer(ctx, "write", mode == vfskit.WriteAppend)
}

func (f *File) OpenRandomReader(ctx context.Context) (vfskit.RandomReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := f.content("random-read")
	if err != nil {
		return nil, err
	}
	return &memReader{buffer: newBuffer(data)}, nil
}

func (f *File) OpenRandomWriter(ctx context.Context) (vfskit.RandomWriter, error) {
	w, err := f.openBuffer(ctx, "random-write", true)
	if err != nil {
		return nil, err
	}
	w.pos = 0
	return w, nil
}

// openBuffer returns a writer whose content is stored when it is closed.
func (f *File) openBuffer(ctx context.Context, op string, keep bool) (*memWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := f.store
	s.mu.RLock()
	err := s.checkParent(f.path())
	n, ok := s.nodes[f.path()]
	var data []byte
	if ok && n.dir {
		err = vfskit.ErrIsDir
	} else if ok && keep {
		data = append([]byte(nil), n.content...)
	}
	s.mu.RUnlock()
	if err != nil {
		return nil, vfskit.NewPathError(op, f.URL().String(), err)
	}
	w := &memWriter{file: f, op: op, buffer: newBuffer(data)}
	w.pos = int64(len(data))
	return w, nil
}

// Delete removes the file, or the directory if it is empty.
func (f *File) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := f.store
	p := f.path()
	s.mu.Lock()
	n, ok := s.nodes[p]
	var err error
	switch {
	case p == "/":
		err = vfskit.ErrPermission
	case !ok:
		err = vfskit.ErrNotExist
	case n.dir && s.hasChildren(p):
		err = vfskit.ErrNotEmpty
	default:
		s.size -= int64(len(n.content))
		delete(s.nodes, p)
	}
	s.mu.Unlock()
	if err != nil {
		return vfskit.NewPathError("delete", f.URL().String(), err)
	}
	s.notify(p)
	return nil
}

func (f *File) sameStore(op string, dst vfskit.File) (*File, error) {
	target, ok := vfskit.As[*File](dst)
	if !ok || target.store != f.store {
		return nil, vfskit.NewPathError(op, f.URL().String(), vfskit.ErrCrossRealm)
	}
	return target, nil
}

// RenameTo moves the file or directory tree within the same store.
func (f *File) RenameTo(ctx context.Context, dst vfskit.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.sameStore("rename", dst)
	if err != nil {
		return err
	}
	s := f.store
	from, to := f.path(), target.path()

	s.mu.Lock()
	_, ok := s.nodes[from]
	switch {
	case !ok:
		err = vfskit.ErrNotExist
	case from == "/" || strings.HasPrefix(to, from+"/"):
		err = vfskit.ErrInvalidName
	default:
		err = s.checkParent(to)
	}
	if err == nil {
		if existing, ok := s.nodes[to]; ok && existing.dir && s.hasChildren(to) {
			err = vfskit.ErrNotEmpty
		}
	}
	if err == nil {
		if existing, ok := s.nodes[to]; ok && from != to {
			s.size -= int64(len(existing.content))
			delete(s.nodes, to)
		}
		moved := make(map[string]*node)
		for p, n := range s.nodes {
			if p == from || strings.HasPrefix(p, from+"/") {
				moved[to+p[len(from):]] = n
				delete(s.nodes, p)
			}
		}
		for p, n := range moved {
			s.nodes[p] = n
		}
	}
	s.mu.Unlock()
	if err != nil {
		return vfskit.NewPathError("rename", f.URL().String(), err)
	}
	s.notify(from)
	s.notify(to)
	return nil
}

// CopyRemotelyTo copies a regular file within the same store.
func (f *File) CopyRemotelyTo(ctx context.Context, dst vfskit.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.sameStore("copy-remotely", dst)
	if err != nil {
		return err
	}
	data, err := f.content("copy-remotely")
	if err != nil {
		return err
	}
	s := f.store
	s.mu.Lock()
	err = s.put(target.path(), append([]byte(nil), data...))
	s.mu.Unlock()
	if err != nil {
		return vfskit.NewPathError("copy-remotely", target.URL().String(), err)
	}
	s.notify(target.path())
	return nil
}

func (f *File) update(op string, fn func(n *node)) error {
	s := f.store
	s.mu.Lock()
	n, ok := s.nodes[f.path()]
	if ok {
		fn(n)
	}
	s.mu.Unlock()
	if !ok {
		return vfskit.NewPathError(op, f.URL().String(), vfskit.ErrNotExist)
	}
	s.notify(f.path())
	return nil
}

func (f *File) ChangePermission(ctx context.Context, access vfskit.PermissionAccess, kind vfskit.PermissionKind, enabled bool) error {
	return f.update("change-permission", func(n *node) {
		n.perms = n.perms.With(access, kind, enabled)
	})
}

func (f *File) ChangePermissions(ctx context.Context, perms vfskit.Permissions) error {
	return f.update("change-permission", func(n *node) {
		n.perms = perms & vfskit.AllPermissions
	})
}

func (f *File) SetModTime(ctx context.Context, t time.Time) error {
	return f.update("change-date", func(n *node) { n.modTime = t })
}

// FreeSpace returns the unused part of the store's quota, or -1 with
// ErrNotSupported when the store has none.
func (f *File) FreeSpace(ctx context.Context) (int64, error) {
	if f.store.maxSize <= 0 {
		return f.FileBase.FreeSpace(ctx)
	}
	return f.store.maxSize - f.store.Size(), nil
}

// TotalSpace returns the store's quota, or -1 with ErrNotSupported when
// the store has none.
func (f *File) TotalSpace(ctx context.Context) (int64, error) {
	if f.store.maxSize <= 0 {
		return f.FileBase.TotalSpace(ctx)
	}
	return f.store.maxSize, nil
}

// Watch returns a token that fires when the file, or a direct child of the
// directory, changes.
func (f *File) Watch(ctx context.Context) (vfskit.ChangeToken, error) {
	pattern := glob.QuoteMeta(f.path())
	if f.IsDir() {
		pattern = "{" + pattern + "," + strings.TrimSuffix(pattern, "/") + "/*}"
	}
	token, err := f.store.watch(ctx, pattern)
	if err != nil {
		return nil, vfskit.NewPathError("watch", f.URL().String(), err)
	}
	return token, nil
}
