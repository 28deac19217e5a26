package vfskit

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// FileBase carries the parts of File that follow from the URL alone, and
// fails every optional operation with ErrNotSupported. Concrete files embed
// it and override the operations they declare in SupportedOperations.
type FileBase struct {
	url *FileURL

	parentMu sync.Mutex
	parent   File
}

// NewFileBase returns a FileBase for u.
func NewFileBase(u *FileURL) FileBase {
	return FileBase{url: u}
}

func (b *FileBase) URL() *FileURL { return b.url }

func (b *FileBase) Name() string { return b.url.Filename() }

func (b *FileBase) Extension() string { return ExtensionOf(b.Name()) }

func (b *FileBase) BaseName() string { return BaseNameOf(b.Name()) }

// IsHidden reports dot files as hidden.
func (b *FileBase) IsHidden() bool { return strings.HasPrefix(b.Name(), ".") }

func (b *FileBase) IsSymlink() bool   { return false }
func (b *FileBase) IsSystem() bool    { return false }
func (b *FileBase) IsArchive() bool   { return false }
func (b *FileBase) Owner() string     { return "" }
func (b *FileBase) CanGetOwner() bool { return false }
func (b *FileBase) Group() string     { return "" }
func (b *FileBase) CanGetGroup() bool { return false }
func (b *FileBase) Underlying() any   { return nil }

func (b *FileBase) ChangeablePermissions() Permissions { return NoPermissions }

// CachedParent returns the cached parent, resolving it with resolve on first
// use. Failures are not cached.
func (b *FileBase) CachedParent(ctx context.Context, resolve func(context.Context) (File, error)) (File, error) {
	b.parentMu.Lock()
	defer b.parentMu.Unlock()
	if b.parent != nil {
		return b.parent, nil
	}
	if b.url.IsRoot() {
		return nil, nil
	}
	p, err := resolve(ctx)
	if err != nil {
		return nil, err
	}
	b.parent = p
	return p, nil
}

// SetParent seeds the parent cache, used when a parent creates its children.
func (b *FileBase) SetParent(p File) {
	b.parentMu.Lock()
	b.parent = p
	b.parentMu.Unlock()
}

func (b *FileBase) ChangePermission(ctx context.Context, access PermissionAccess, kind PermissionKind, enabled bool) error {
	return Unsupported(OpChangePermission, b.url)
}

func (b *FileBase) ChangePermissions(ctx context.Context, perms Permissions) error {
	return Unsupported(OpChangePermission, b.url)
}

func (b *FileBase) SetModTime(ctx context.Context, t time.Time) error {
	return Unsupported(OpChangeDate, b.url)
}

func (b *FileBase) List(ctx context.Context, filter FileFilter) ([]File, error) {
	return nil, Unsupported(OpList, b.url)
}

func (b *FileBase) Mkdir(ctx context.Context) error {
	return Unsupported(OpMkdir, b.url)
}

func (b *FileBase) Mkfile(ctx context.Context) error {
	return Unsupported(OpMkfile, b.url)
}

func (b *FileBase) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	return nil, Unsupported(OpRead, b.url)
}

func (b *FileBase) OpenWriter(ctx context.Context, mode WriteMode) (io.WriteCloser, error) {
	if mode == WriteAppend {
		return nil, Unsupported(OpAppend, b.url)
	}
	return nil, Unsupported(OpWrite, b.url)
}

func (b *FileBase) OpenRandomReader(ctx context.Context) (RandomReader, error) {
	return nil, Unsupported(OpRandomRead, b.url)
}

func (b *FileBase) OpenRandomWriter(ctx context.Context) (RandomWriter, error) {
	return nil, Unsupported(OpRandomWrite, b.url)
}

func (b *FileBase) Delete(ctx context.Context) error {
	return Unsupported(OpDelete, b.url)
}

func (b *FileBase) RenameTo(ctx context.Context, dst File) error {
	return Unsupported(OpRename, b.url)
}

func (b *FileBase) CopyRemotelyTo(ctx context.Context, dst File) error {
	return Unsupported(OpCopyRemotely, b.url)
}

func (b *FileBase) FreeSpace(ctx context.Context) (int64, error) {
	return -1, Unsupported(OpGetFreeSpace, b.url)
}

func (b *FileBase) TotalSpace(ctx context.Context) (int64, error) {
	return -1, Unsupported(OpGetTotalSpace, b.url)
}

// ExtensionOf returns the extension of name without the dot. Dot files and
// names ending in a dot have none.
func ExtensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i+1:]
}

// BaseNameOf returns name without its extension.
func BaseNameOf(name string) string {
	ext := ExtensionOf(name)
	if ext == "" {
		return name
	}
	return name[:len(name)-len(ext)-1]
}

// checkContext returns ctx.Err() if the context is done.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
