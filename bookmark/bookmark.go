// Package bookmark implements the "bookmark" scheme, a pseudo file system
// of named shortcuts to other files.
//
// bookmark:/// lists the bookmarks. bookmark:///name is the bookmarked
// file under the bookmark's name; deleting or renaming it changes the
// bookmark, not the target. bookmark:///name/sub/path resolves below the
// target.
package bookmark

import (
	"context"
	"strings"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/sirupsen/logrus"
)

// Scheme is the URL scheme served by this package.
const Scheme = "bookmark"

// Resolver resolves bookmark targets. *vfskit.Registry implements it.
type Resolver interface {
	ResolveURL(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error)
}

// Provider serves the "bookmark" scheme from a Manager.
type Provider struct {
	manager  *Manager
	resolver Resolver
	log      logrus.FieldLogger
}

// NewProvider returns a provider listing the bookmarks of m and resolving
// their targets with r.
func NewProvider(m *Manager, r Resolver) *Provider {
	return &Provider{manager: m, resolver: r, log: m.log}
}

// Manager returns the bookmark list served by p.
func (p *Provider) Manager() *Manager { return p.manager }

// NewFile implements vfskit.Provider. Resolving a bookmark resolves its
// target, so the blocking behavior is the target provider's.
func (p *Provider) NewFile(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error) {
	segs := u.Segments()
	if len(segs) == 0 {
		return p.root(), nil
	}
	b, ok := p.manager.Get(segs[0])
	if !ok {
		if len(segs) > 1 {
			return nil, vfskit.NewPathError("resolve", u.String(), ErrNotFound)
		}
		return p.unknown(segs[0]), nil
	}

	target, err := b.URL()
	if err != nil {
		return nil, vfskit.WrapPathErr("resolve", u.String(), err)
	}
	for _, s := range segs[1:] {
		target = target.Child(s)
	}
	f, err := p.resolver.ResolveURL(ctx, target, params)
	if err != nil {
		return nil, err
	}
	if len(segs) > 1 {
		return f, nil
	}
	return p.newFile(b, f), nil
}

func (p *Provider) url(name string) *vfskit.FileURL {
	return vfskit.NewURL(Scheme, "", "/"+name)
}

func (p *Provider) root() *Root {
	return &Root{FileBase: vfskit.NewFileBase(p.url("")), provider: p}
}

func (p *Provider) newFile(b Bookmark, target vfskit.File) *File {
	return &File{
		ProxyFile: vfskit.NewProxyFile(target),
		url:       p.url(b.Name),
		bookmark:  b,
		provider:  p,
	}
}

func (p *Provider) unknown(name string) *unknown {
	return &unknown{FileBase: vfskit.NewFileBase(p.url(name)), provider: p}
}

// ============================================================================
// Root
// ============================================================================

// Root is bookmark:///, a directory holding one entry per bookmark.
type Root struct {
	vfskit.FileBase
	provider *Provider
}

var rootOperations = vfskit.NewOperationSet(vfskit.OpList)

func (r *Root) Exists() bool                                  { return true }
func (r *Root) Size() int64                                   { return 0 }
func (r *Root) ModTime() time.Time                            { return time.Time{} }
func (r *Root) IsDir() bool                                   { return true }
func (r *Root) IsBrowsable() bool                             { return true }
func (r *Root) Permissions() vfskit.FilePermissions           { return vfskit.FilePermissions{} }
func (r *Root) SupportedOperations() vfskit.OperationSet      { return rootOperations }
func (r *Root) IsOperationSupported(op vfskit.Operation) bool { return rootOperations.Has(op) }

func (r *Root) Parent(ctx context.Context) (vfskit.File, error) { return nil, nil }

// List resolves every bookmark. Bookmarks whose target cannot be resolved
// are logged and left out.
func (r *Root) List(ctx context.Context, filter vfskit.FileFilter) ([]vfskit.File, error) {
	bookmarks := r.provider.manager.List()
	files := make([]vfskit.File, 0, len(bookmarks))
	for _, b := range bookmarks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := b.URL()
		if err == nil {
			var target vfskit.File
			target, err = r.provider.resolver.ResolveURL(ctx, u, nil)
			if err == nil {
				files = append(files, r.provider.newFile(b, target))
				continue
			}
		}
		r.provider.log.WithFields(logrus.Fields{"bookmark": b.Name, "location": redact(b.Location)}).
			WithError(err).Warn("skipping unresolvable bookmark")
	}
	return vfskit.ApplyFilter(files, filter), nil
}

func redact(location string) string {
	u, err := vfskit.ParseURL(location)
	if err != nil {
		return ""
	}
	return u.String()
}

// ============================================================================
// File
// ============================================================================

// File is a bookmarked file seen under its bookmark name. Everything but
// identity, Delete and RenameTo is forwarded to the target.
type File struct {
	*vfskit.ProxyFile
	url      *vfskit.FileURL
	bookmark Bookmark
	provider *Provider
}

// Bookmark returns the bookmark the file was resolved from.
func (f *File) Bookmark() Bookmark { return f.bookmark }

func (f *File) URL() *vfskit.FileURL { return f.url }
func (f *File) Name() string         { return f.bookmark.Name }
func (f *File) Extension() string    { return vfskit.ExtensionOf(f.bookmark.Name) }
func (f *File) BaseName() string     { return vfskit.BaseNameOf(f.bookmark.Name) }
func (f *File) IsHidden() bool       { return strings.HasPrefix(f.bookmark.Name, ".") }

func (f *File) Parent(ctx context.Context) (vfskit.File, error) {
	return f.provider.root(), nil
}

// IsSymlink reports true: a bookmark is a link, so recursive deletes and
// moves remove the bookmark without descending into the target.
func (f *File) IsSymlink() bool { return true }

func (f *File) SupportedOperations() vfskit.OperationSet {
	return f.File.SupportedOperations().With(vfskit.OpDelete, vfskit.OpRename)
}

func (f *File) IsOperationSupported(op vfskit.Operation) bool {
	return f.SupportedOperations().Has(op)
}

// Delete removes the bookmark. The target is left alone.
func (f *File) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return vfskit.WrapPathErr("delete", f.url.String(), f.provider.manager.Remove(f.bookmark.Name))
}

// RenameTo renames the bookmark. dst must be a top level bookmark URL.
func (f *File) RenameTo(ctx context.Context, dst vfskit.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	du := dst.URL()
	if du.Scheme != Scheme || len(du.Segments()) != 1 {
		return vfskit.NewPathError("rename", f.url.String(), vfskit.ErrCrossRealm)
	}
	return vfskit.WrapPathErr("rename", f.url.String(), f.provider.manager.Rename(f.bookmark.Name, du.Segments()[0]))
}

// unknown is a name with no bookmark. It exists only as a rename target.
type unknown struct {
	vfskit.FileBase
	provider *Provider
}

func (u *unknown) Exists() bool                                  { return false }
func (u *unknown) Size() int64                                   { return 0 }
func (u *unknown) ModTime() time.Time                            { return time.Time{} }
func (u *unknown) IsDir() bool                                   { return false }
func (u *unknown) IsBrowsable() bool                             { return false }
func (u *unknown) Permissions() vfskit.FilePermissions           { return vfskit.FilePermissions{} }
func (u *unknown) SupportedOperations() vfskit.OperationSet      { return 0 }
func (u *unknown) IsOperationSupported(op vfskit.Operation) bool { return false }

func (u *unknown) Parent(ctx context.Context) (vfskit.File, error) {
	return u.provider.root(), nil
}
