// Package search implements the "search" scheme: a virtual directory whose
// children are the files below a start directory that match a query.
//
//	search:///?start=file%3A%2F%2F%2Fhome%2Fme&name=*.go&text=TODO&type=file
//
// The walk runs when the search file is listed, one directory level at a
// time with a bounded number of directories read in parallel. Results are
// sorted by URL.
package search

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/gobeaver/vfskit"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheme is the URL scheme served by this package.
const Scheme = "search"

// DefaultConcurrency is the number of directories read in parallel.
const DefaultConcurrency = 4

// textChunk is the read size used when scanning file content.
const textChunk = 32 * 1024

// Resolver resolves start directories. *vfskit.Registry implements it.
type Resolver interface {
	ResolveURL(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithConcurrency sets how many directories are read in parallel.
func WithConcurrency(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Provider) {
		p.log = l
	}
}

// Provider serves the "search" scheme.
type Provider struct {
	resolver    Resolver
	concurrency int
	log         logrus.FieldLogger
}

// NewProvider returns a provider resolving start directories with r.
func NewProvider(r Resolver, opts ...Option) *Provider {
	p := &Provider{resolver: r, concurrency: DefaultConcurrency, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFile implements vfskit.Provider. It parses the query and resolves the
// start directory; the search itself runs on List.
func (p *Provider) NewFile(ctx context.Context, u *vfskit.FileURL, params vfskit.Params) (vfskit.File, error) {
	q, err := ParseQuery(u.Query)
	if err != nil {
		return nil, vfskit.NewPathError("resolve", u.String(), err)
	}
	return p.Open(ctx, q, params)
}

// Open resolves q's start directory and returns the search file.
func (p *Provider) Open(ctx context.Context, q Query, params vfskit.Params) (*File, error) {
	su, err := vfskit.ParseURL(q.Start)
	if err != nil {
		return nil, err
	}
	start, err := p.resolver.ResolveURL(ctx, su, params)
	if err != nil {
		return nil, err
	}
	var name vfskit.FileFilter
	if q.Name != "" {
		if name, err = vfskit.GlobFilter(q.Name); err != nil {
			return nil, vfskit.NewPathError("resolve", q.URL().String(), errors.Join(vfskit.ErrMalformedURL, err))
		}
	}
	return &File{
		RestrictedFile: vfskit.Restrict(start, vfskit.NewOperationSet(vfskit.OpList)),
		url:            q.URL(),
		query:          q,
		start:          start,
		name:           name,
		provider:       p,
	}, nil
}

// File is a search. It stands in for the start directory but its children
// are the matches, and listing is the only operation it supports.
type File struct {
	*vfskit.RestrictedFile
	url      *vfskit.FileURL
	query    Query
	start    vfskit.File
	name     vfskit.FileFilter
	provider *Provider
}

// Query returns the query the file runs.
func (f *File) Query() Query { return f.query }

// Start returns the directory searched.
func (f *File) Start() vfskit.File { return f.start }

func (f *File) URL() *vfskit.FileURL { return f.url }
func (f *File) Name() string         { return "" }
func (f *File) Extension() string    { return "" }
func (f *File) BaseName() string     { return "" }
func (f *File) IsHidden() bool       { return false }
func (f *File) IsDir() bool          { return true }
func (f *File) IsBrowsable() bool    { return true }
func (f *File) IsArchive() bool      { return false }

func (f *File) Parent(ctx context.Context) (vfskit.File, error) { return nil, nil }

// List runs the search and returns the matches accepted by filter.
func (f *File) List(ctx context.Context, filter vfskit.FileFilter) ([]vfskit.File, error) {
	if !f.start.IsBrowsable() {
		return nil, vfskit.NewPathError("search", f.start.URL().String(), vfskit.ErrNotDir)
	}
	results, err := f.run(ctx)
	if err != nil {
		return nil, vfskit.WrapPathErr("search", f.url.String(), err)
	}
	return vfskit.ApplyFilter(results, filter), nil
}

func (f *File) run(ctx context.Context) ([]vfskit.File, error) {
	log := f.provider.log.WithFields(logrus.Fields{"scheme": Scheme, "start": f.start.URL().String()})
	var (
		mu      sync.Mutex
		results []vfskit.File
	)
	level := []vfskit.File{f.start}
	for depth := 1; len(level) > 0; depth++ {
		var next []vfskit.File
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.provider.concurrency)
		for _, dir := range level {
			g.Go(func() error {
				matches, subdirs, err := f.visit(gctx, dir, depth)
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, matches...)
				next = append(next, subdirs...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if f.query.Limit > 0 && len(results) >= f.query.Limit {
			break
		}
		if !f.query.Recursive || (f.query.MaxDepth > 0 && depth >= f.query.MaxDepth) {
			break
		}
		sort.Slice(next, func(i, j int) bool { return next[i].URL().String() < next[j].URL().String() })
		level = next
	}

	sort.Slice(results, func(i, j int) bool { return results[i].URL().String() < results[j].URL().String() })
	if f.query.Limit > 0 && len(results) > f.query.Limit {
		results = results[:f.query.Limit]
	}
	log.WithField("matches", len(results)).Debug("search finished")
	return results, nil
}

// visit lists dir and returns its matching children and the children to
// search next. Directories that vanish or cannot be read are skipped.
func (f *File) visit(ctx context.Context, dir vfskit.File, depth int) (matches, subdirs []vfskit.File, err error) {
	children, err := dir.List(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		f.provider.log.WithField("url", dir.URL().String()).WithError(err).Debug("skipping unreadable directory")
		return nil, nil, nil
	}
	for _, c := range children {
		if !f.query.Hidden && (c.IsHidden() || c.IsSystem()) {
			continue
		}
		if c.IsDir() || (f.query.Archives && c.IsArchive()) {
			subdirs = append(subdirs, c)
		}
		ok, err := f.match(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			matches = append(matches, c)
		}
	}
	return matches, subdirs, nil
}

func (f *File) match(ctx context.Context, c vfskit.File) (bool, error) {
	switch f.query.Type {
	case TypeFile:
		if c.IsDir() {
			return false, nil
		}
	case TypeDir:
		if !c.IsDir() {
			return false, nil
		}
	}
	if f.name != nil && !f.name.Accept(c) {
		return false, nil
	}
	if f.query.Text == "" {
		return true, nil
	}
	if c.IsDir() || !c.IsOperationSupported(vfskit.OpRead) {
		return false, nil
	}
	return containsText(ctx, c, []byte(f.query.Text))
}

// containsText scans the content of c for text. Files that cannot be read
// do not match.
func containsText(ctx context.Context, c vfskit.File, text []byte) (bool, error) {
	rc, err := c.OpenReader(ctx, 0)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	defer rc.Close()

	keep := len(text) - 1
	buf := make([]byte, 0, textChunk+keep)
	chunk := make([]byte, textChunk)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n, err := rc.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if bytes.Contains(buf, text) {
			return true, nil
		}
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, nil
		}
		if len(buf) > keep {
			buf = append(buf[:0], buf[len(buf)-keep:]...)
		}
	}
}
