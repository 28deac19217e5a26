package vfskit

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// ArchiveFileOptions configure an ArchiveFile.
type ArchiveFileOptions struct {
	// Cache shares parsed indexes between handles of the same archive.
	Cache  *IndexCache
	Limits ArchiveLimits
	// ExtractBufferSize bounds per-entry extraction buffers.
	ExtractBufferSize int
	Logger            logrus.FieldLogger
	// Wrap is applied to every file the archive hands out. The Registry
	// uses it so archives found inside archives are browsable too.
	Wrap func(ctx context.Context, f File) File
}

// ArchiveFile presents an archive container as a directory. It forwards
// everything but browsing to the container file.
type ArchiveFile struct {
	*ProxyFile

	format *ArchiveFormat
	reader ArchiveReader
	opts   ArchiveFileOptions
	log    logrus.FieldLogger

	mu    sync.Mutex
	index *archiveIndex
}

var _ File = (*ArchiveFile)(nil)

// NewArchiveFile wraps f, whose bytes are an archive of the given format.
// No I/O happens until the archive is first browsed or read.
func NewArchiveFile(f File, format *ArchiveFormat, opts ArchiveFileOptions) (*ArchiveFile, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ExtractBufferSize <= 0 {
		opts.ExtractBufferSize = DefaultExtractBufferSize
	}
	a := &ArchiveFile{
		ProxyFile: NewProxyFile(f),
		format:    format,
		opts:      opts,
		log:       opts.Logger.WithFields(logrus.Fields{"format": format.Name, "url": f.URL().String()}),
	}
	src := &archiveSource{file: f, serialize: !format.ConcurrentReads}
	r, err := format.Open(src, ArchiveOptions{ExtractBufferSize: opts.ExtractBufferSize, Logger: a.log})
	if err != nil {
		return nil, NewPathError("open archive", f.URL().String(), err)
	}
	a.reader = r
	return a, nil
}

// Format returns the archive format.
func (a *ArchiveFile) Format() *ArchiveFormat { return a.format }

func (a *ArchiveFile) IsArchive() bool   { return true }
func (a *ArchiveFile) IsBrowsable() bool { return true }

func (a *ArchiveFile) SupportedOperations() OperationSet {
	return a.File.SupportedOperations().With(OpList)
}

func (a *ArchiveFile) IsOperationSupported(op Operation) bool {
	return a.SupportedOperations().Has(op)
}

func (a *ArchiveFile) Parent(ctx context.Context) (File, error) {
	p, err := a.File.Parent(ctx)
	if err != nil || p == nil {
		return p, err
	}
	return a.wrap(ctx, p), nil
}

// List returns the top level entries.
func (a *ArchiveFile) List(ctx context.Context, filter FileFilter) ([]File, error) {
	return a.ListEntries(ctx, "", filter)
}

// EntryIterator returns a fresh iterator over the archive's entries, in
// the order the format records them. The caller must close it.
func (a *ArchiveFile) EntryIterator(ctx context.Context) (EntryIterator, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if !a.File.Exists() {
		return nil, NewPathError("entries", a.URL().String(), ErrNotExist)
	}
	it, err := a.reader.Entries(ctx)
	if err != nil {
		return nil, WrapPathErr("entries", a.URL().String(), err)
	}
	return &pathErrIterator{it: it, path: a.URL().String()}, nil
}

// OpenEntry returns the content of entry. Pass the iterator entry came from
// while it is still open to let sequential formats avoid a rescan, or nil.
func (a *ArchiveFile) OpenEntry(ctx context.Context, entry *ArchiveEntry, it EntryIterator) (io.ReadCloser, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if entry.Dir {
		return nil, NewPathError("read", a.URL().Child(entry.Path).String(), ErrIsDir)
	}
	if pe, ok := it.(*pathErrIterator); ok {
		it = pe.it
	}
	rc, err := a.reader.OpenEntry(ctx, entry, it)
	if err != nil {
		return nil, WrapPathErr("read", a.URL().Child(entry.Path).String(), err)
	}
	return rc, nil
}

// Entries returns copies of the recorded entries in archive order.
func (a *ArchiveFile) Entries(ctx context.Context) ([]*ArchiveEntry, error) {
	idx, err := a.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	return idx.entries(), nil
}

// Entry returns the file at p inside the archive. A missing path yields a
// file whose Exists is false, not an error.
func (a *ArchiveFile) Entry(ctx context.Context, p string) (File, error) {
	p = NormalizeEntryPath(p)
	if p == "" {
		return a, nil
	}
	ef, err := a.entryFile(ctx, p)
	if err != nil {
		return nil, err
	}
	return a.wrap(ctx, ef), nil
}

func (a *ArchiveFile) entryFile(ctx context.Context, p string) (*ArchiveEntryFile, error) {
	idx, err := a.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if e, ok := idx.lookup(p); ok {
		return newArchiveEntryFile(a, e, true), nil
	}
	return newArchiveEntryFile(a, &ArchiveEntry{Path: p}, false), nil
}

// ListEntries returns the children of the directory at dir ("" for the
// root). A path that does not exist lists as empty.
func (a *ArchiveFile) ListEntries(ctx context.Context, dir string, filter FileFilter) ([]File, error) {
	idx, err := a.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	children := idx.children(NormalizeEntryPath(dir))
	files := make([]File, 0, len(children))
	for _, e := range children {
		files = append(files, a.wrap(ctx, newArchiveEntryFile(a, e, true)))
	}
	return ApplyFilter(files, filter), nil
}

// Invalidate drops the parsed index so the next browse reads the archive
// again.
func (a *ArchiveFile) Invalidate() {
	a.mu.Lock()
	a.index = nil
	a.mu.Unlock()
	if a.opts.Cache != nil {
		a.opts.Cache.Invalidate(a.URL())
	}
}

func (a *ArchiveFile) wrap(ctx context.Context, f File) File {
	if a.opts.Wrap == nil {
		return f
	}
	return a.opts.Wrap(ctx, f)
}

// loadIndex returns the entry tree, rebuilding it when the container's
// modification time or size changed since it was built.
func (a *ArchiveFile) loadIndex(ctx context.Context) (*archiveIndex, error) {
	modTime, size := a.File.ModTime(), a.File.Size()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.index != nil && !a.index.stale(modTime, size) {
		return a.index, nil
	}
	key := a.URL().Format(CredentialsNone)
	if a.opts.Cache != nil {
		if idx, ok := a.opts.Cache.get(key, modTime, size); ok {
			a.index = idx
			return idx, nil
		}
	}

	it, err := a.EntryIterator(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	idx, err := buildIndex(ctx, it, a.opts.Limits, modTime, size)
	if err != nil {
		return nil, WrapPathErr("index", a.URL().String(), err)
	}
	a.log.WithField("entries", len(idx.ordered)).Debug("indexed archive")

	a.index = idx
	if a.opts.Cache != nil {
		a.opts.Cache.put(key, idx)
	}
	return idx, nil
}

type pathErrIterator struct {
	it   EntryIterator
	path string
}

func (p *pathErrIterator) Next() (*ArchiveEntry, error) {
	e, err := p.it.Next()
	if err != nil && err != io.EOF {
		return nil, WrapPathErr("entries", p.path, err)
	}
	return e, err
}

func (p *pathErrIterator) Close() error { return p.it.Close() }

// ============================================================================
// Archive Source
// ============================================================================

type archiveSource struct {
	file      File
	serialize bool
}

func (s *archiveSource) Name() string { return s.file.Name() }
func (s *archiveSource) Size() int64  { return s.file.Size() }

func (s *archiveSource) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	return s.file.OpenReader(ctx, 0)
}

func (s *archiveSource) OpenRandom(ctx context.Context) (RandomReader, error) {
	var r RandomReader
	var err error
	if s.file.IsOperationSupported(OpRandomRead) {
		r, err = s.file.OpenRandomReader(ctx)
	} else {
		r, err = spool(ctx, s.file)
	}
	if err != nil {
		return nil, err
	}
	if s.serialize {
		r = &lockedRandomReader{r: r}
	}
	return r, nil
}

// spool copies f into a temporary file removed on Close.
func spool(ctx context.Context, f File) (RandomReader, error) {
	src, err := f.OpenReader(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "vfskit-spool-*")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: src}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return &spoolFile{File: tmp}, nil
}

type spoolFile struct {
	*os.File
}

func (s *spoolFile) Length() (int64, error) {
	fi, err := s.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *spoolFile) Close() error {
	err := s.File.Close()
	if rmErr := os.Remove(s.Name()); err == nil {
		err = rmErr
	}
	return err
}

type lockedRandomReader struct {
	mu sync.Mutex
	r  RandomReader
}

func (l *lockedRandomReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

func (l *lockedRandomReader) ReadAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.ReadAt(p, off)
}

func (l *lockedRandomReader) Seek(offset int64, whence int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Seek(offset, whence)
}

func (l *lockedRandomReader) Length() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Length()
}

func (l *lockedRandomReader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Close()
}
