package vfskit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileScheme is the scheme of local files. Archive format names used as
// schemes resolve against it, with an empty host or "local":
// zip:///tmp/a.zip/x and zip://local/tmp/a.zip/x are the same entry.
const FileScheme = "file"

// Params are protocol-specific instantiation parameters, such as a
// pre-authenticated client or a backing service.
type Params map[string]any

// Get returns the named parameter.
func (p Params) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// String returns the named parameter if it is a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Provider creates file handles for one scheme. Each provider documents
// whether NewFile blocks on I/O.
type Provider interface {
	NewFile(ctx context.Context, u *FileURL, params Params) (File, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, u *FileURL, params Params) (File, error)

func (fn ProviderFunc) NewFile(ctx context.Context, u *FileURL, params Params) (File, error) {
	return fn(ctx, u, params)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithArchiveFormats sets the archive formats recognized during resolution.
func WithArchiveFormats(f *ArchiveFormats) RegistryOption {
	return func(r *Registry) { r.formats = f }
}

// WithIndexCache sets the cache of parsed archive indexes. nil disables
// caching across handles.
func WithIndexCache(c *IndexCache) RegistryOption {
	return func(r *Registry) { r.cache = c }
}

// WithSignatureSniffing makes Resolve read the first bytes of files whose
// name matches no archive format, to recognize archives by content.
func WithSignatureSniffing(enabled bool) RegistryOption {
	return func(r *Registry) { r.sniff = enabled }
}

// WithArchiveLimits bounds archive indexing.
func WithArchiveLimits(l ArchiveLimits) RegistryOption {
	return func(r *Registry) { r.limits = l }
}

// WithExtractBufferSize sets the buffer size of extraction goroutines.
func WithExtractBufferSize(n int) RegistryOption {
	return func(r *Registry) { r.bufSize = n }
}

// Registry maps schemes to providers and resolves URLs to files. Archives
// met along a path are opened transparently, so
// "file:///data/a.zip/docs/readme.txt" resolves to an entry of a.zip.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	formats *ArchiveFormats
	cache   *IndexCache
	sniff   bool
	limits  ArchiveLimits
	bufSize int
	log     logrus.FieldLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	formats, _ := NewArchiveFormats()
	r := &Registry{
		providers: make(map[string]Provider),
		formats:   formats,
		cache:     NewIndexCache(5*time.Minute, 64),
		bufSize:   DefaultExtractBufferSize,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates scheme with p, replacing any previous provider.
func (r *Registry) Register(scheme string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(scheme)] = p
}

// Unregister removes the provider of scheme.
func (r *Registry) Unregister(scheme string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, strings.ToLower(scheme))
}

// Provider returns the provider of scheme.
func (r *Registry) Provider(scheme string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(scheme)]
	return p, ok
}

// Schemes returns the registered schemes, sorted.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.providers))
	for s := range r.providers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Formats returns the archive formats.
func (r *Registry) Formats() *ArchiveFormats { return r.formats }

// IndexCache returns the archive index cache, which may be nil.
func (r *Registry) IndexCache() *IndexCache { return r.cache }

// Resolve parses raw and resolves it. Parse failures match ErrMalformedURL.
func (r *Registry) Resolve(ctx context.Context, raw string, params Params) (File, error) {
	u, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	return r.ResolveURL(ctx, u, params)
}

// ResolveURL returns the file at u. It fails with ErrUnknownScheme when no
// provider handles u's scheme, and wraps provider failures in a
// *PathError.
func (r *Registry) ResolveURL(ctx context.Context, u *FileURL, params Params) (File, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	log := r.log.WithFields(logrus.Fields{"scheme": u.Scheme, "url": u.String()})

	p, ok := r.Provider(u.Scheme)
	if ok {
		log.Debug("resolving")
		return r.resolvePath(ctx, p, u, params, nil)
	}

	if format, ok := r.formats.ByName(u.Scheme); ok {
		if fp, ok := r.Provider(FileScheme); ok {
			local := u.Clone()
			local.Scheme = FileScheme
			log.WithField("format", format.Name).Debug("resolving archive scheme")
			return r.resolvePath(ctx, fp, local, params, format)
		}
	}
	return nil, NewPathError("resolve", u.String(), ErrUnknownScheme)
}

// resolvePath looks for an archive among the path's ancestors and resolves
// the rest of the path inside it. forced, when set, is the format of the
// first existing regular file on the path.
func (r *Registry) resolvePath(ctx context.Context, p Provider, u *FileURL, params Params, forced *ArchiveFormat) (File, error) {
	segs := u.Segments()
	for i := 0; i < len(segs)-1; i++ {
		format := r.formats.Match(segs[i])
		if forced != nil {
			format = forced
		}
		if format == nil {
			continue
		}
		prefix := u.Clone()
		prefix.Path = "/" + strings.Join(segs[:i+1], "/")
		prefix.Query = ""
		f, err := p.NewFile(ctx, prefix, params)
		if err != nil {
			return nil, WrapPathErr("resolve", u.String(), err)
		}
		if !f.Exists() || f.IsDir() {
			continue
		}
		archive, err := NewArchiveFile(f, format, r.archiveOptions())
		if err != nil {
			return nil, err
		}
		return r.resolveInArchive(ctx, archive, segs[i+1:])
	}

	f, err := p.NewFile(ctx, u, params)
	if err != nil {
		return nil, WrapPathErr("resolve", u.String(), err)
	}
	if forced != nil && f.Exists() && !f.IsDir() {
		a, err := NewArchiveFile(f, forced, r.archiveOptions())
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return r.wrapFile(ctx, f, r.sniff), nil
}

func (r *Registry) resolveInArchive(ctx context.Context, a *ArchiveFile, segs []string) (File, error) {
	for i := 0; i < len(segs)-1; i++ {
		format := r.formats.Match(segs[i])
		if format == nil {
			continue
		}
		ef, err := a.entryFile(ctx, strings.Join(segs[:i+1], "/"))
		if err != nil {
			return nil, err
		}
		if !ef.Exists() || ef.IsDir() {
			continue
		}
		nested, err := NewArchiveFile(ef, format, r.archiveOptions())
		if err != nil {
			return nil, err
		}
		return r.resolveInArchive(ctx, nested, segs[i+1:])
	}
	return a.Entry(ctx, strings.Join(segs, "/"))
}

func (r *Registry) archiveOptions() ArchiveFileOptions {
	return ArchiveFileOptions{
		Cache:             r.cache,
		Limits:            r.limits,
		ExtractBufferSize: r.bufSize,
		Logger:            r.log,
		Wrap:              r.Wrap,
	}
}

// Wrap gives f the registry's browsing behavior: archives become
// ArchiveFiles, and listing or climbing to the parent wraps the results
// again. Files returned by Resolve are already wrapped.
func (r *Registry) Wrap(ctx context.Context, f File) File {
	return r.wrapFile(ctx, f, false)
}

func (r *Registry) wrapFile(ctx context.Context, f File, sniff bool) File {
	switch f.(type) {
	case *resolvedFile, *ArchiveFile:
		return f
	}
	format, err := r.formats.Detect(ctx, f, sniff)
	if err != nil {
		r.log.WithField("url", f.URL().String()).WithError(err).Debug("archive detection failed")
	}
	if format != nil {
		if a, err := NewArchiveFile(f, format, r.archiveOptions()); err == nil {
			return a
		}
	}
	return &resolvedFile{ProxyFile: NewProxyFile(f), reg: r}
}

// resolvedFile keeps the registry's wrapping on files reached by listing
// or by climbing to the parent.
type resolvedFile struct {
	*ProxyFile
	reg *Registry
}

func (f *resolvedFile) List(ctx context.Context, filter FileFilter) ([]File, error) {
	children, err := f.File.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i, c := range children {
		children[i] = f.reg.Wrap(ctx, c)
	}
	return ApplyFilter(children, filter), nil
}

func (f *resolvedFile) Parent(ctx context.Context) (File, error) {
	p, err := f.File.Parent(ctx)
	if err != nil || p == nil {
		return p, err
	}
	return f.reg.Wrap(ctx, p), nil
}
