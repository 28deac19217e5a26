package vfskit

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"
)

// ============================================================================
// Entries
// ============================================================================

// ArchiveEntry is one file or directory record inside an archive.
type ArchiveEntry struct {
	// Path is slash separated with no leading or trailing slash.
	Path    string
	Dir     bool
	ModTime time.Time
	// Size is the uncompressed size.
	Size int64
	// Permissions has a zero Mask when the format records none.
	Permissions FilePermissions
	Owner       string
	Group       string

	// Native is the format reader's own record for the entry. Only the
	// ArchiveReader that produced the entry looks at it.
	Native any
}

// Name returns the last path segment.
func (e *ArchiveEntry) Name() string {
	return path.Base(e.Path)
}

// Clone returns a copy that outlives the iterator that produced e.
func (e *ArchiveEntry) Clone() *ArchiveEntry {
	c := *e
	return &c
}

// NormalizeEntryPath turns a path recorded in an archive into the form used
// by ArchiveEntry.Path. Backslashes become slashes, and leading slashes,
// "./" prefixes and ".." segments escaping the root are dropped.
func NormalizeEntryPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// EntryIterator is a single pass, forward only sequence of entries. Next
// returns io.EOF after the last entry. A second pass needs a new iterator.
type EntryIterator interface {
	Next() (*ArchiveEntry, error)
	Close() error
}

type sliceIterator struct {
	entries []*ArchiveEntry
	pos     int
}

// NewSliceIterator iterates over entries already in memory, for formats
// whose reader parses a central directory up front.
func NewSliceIterator(entries []*ArchiveEntry) EntryIterator {
	return &sliceIterator{entries: entries}
}

func (it *sliceIterator) Next() (*ArchiveEntry, error) {
	if it.pos >= len(it.entries) {
		return nil, io.EOF
	}
	e := it.entries[it.pos]
	it.pos++
	return e, nil
}

func (it *sliceIterator) Close() error { return nil }

// ============================================================================
// Format Plug-in Point
// ============================================================================

// ArchiveSource is what a format reader reads the container bytes from.
type ArchiveSource interface {
	// Name is the container's file name.
	Name() string

	// Size is the container's length in bytes.
	Size() int64

	// OpenStream returns a fresh sequential stream over the container.
	OpenStream(ctx context.Context) (io.ReadCloser, error)

	// OpenRandom returns a random access reader over the container. Files
	// without random access are spooled to a temporary file first.
	OpenRandom(ctx context.Context) (RandomReader, error)
}

// ArchiveReader reads one archive. It is created without I/O; every call
// opens what it needs from the ArchiveSource.
type ArchiveReader interface {
	// Entries returns a fresh iterator over the archive.
	Entries(ctx context.Context) (EntryIterator, error)

	// OpenEntry returns the decompressed bytes of entry. it is the iterator
	// entry came from when the caller still holds it open, letting
	// sequential formats read from the current position; it may be nil.
	OpenEntry(ctx context.Context, entry *ArchiveEntry, it EntryIterator) (io.ReadCloser, error)
}

// ArchiveOptions are passed to format factories.
type ArchiveOptions struct {
	// ExtractBufferSize bounds the buffer between an extraction goroutine
	// and the reader of an entry.
	ExtractBufferSize int
	Logger            logrus.FieldLogger
}

// Signature is a magic byte sequence at a fixed offset.
type Signature struct {
	Offset int
	Magic  []byte
}

// ArchiveFormat registers an archive type: which file names it claims and
// how to read it.
type ArchiveFormat struct {
	// Name is unique among formats and doubles as a URL scheme.
	Name string

	// Patterns are case-insensitive glob patterns on the file name, such
	// as "*.tar.gz".
	Patterns []string

	// Signatures identify the format by content.
	Signatures []Signature

	// ConcurrentReads is true when the format reader tolerates concurrent
	// ReadAt calls on the container. Otherwise they are serialized.
	ConcurrentReads bool

	// Open creates the reader for src. It must not do I/O.
	Open func(src ArchiveSource, opts ArchiveOptions) (ArchiveReader, error)

	compiled []compiledPattern
}

type compiledPattern struct {
	pattern string
	g       glob.Glob
}

// ArchiveFormats is a registry of archive formats.
type ArchiveFormats struct {
	mu      sync.RWMutex
	formats map[string]*ArchiveFormat
}

// NewArchiveFormats creates a registry holding formats.
func NewArchiveFormats(formats ...*ArchiveFormat) (*ArchiveFormats, error) {
	a := &ArchiveFormats{formats: make(map[string]*ArchiveFormat)}
	for _, f := range formats {
		if err := a.Register(f); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Register adds a format, replacing any format with the same name.
func (a *ArchiveFormats) Register(f *ArchiveFormat) error {
	if f.Name == "" || f.Open == nil {
		return fmt.Errorf("archive format %q: name and Open are required", f.Name)
	}
	compiled := make([]compiledPattern, 0, len(f.Patterns))
	for _, p := range f.Patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return fmt.Errorf("archive format %q: pattern %q: %w", f.Name, p, err)
		}
		compiled = append(compiled, compiledPattern{pattern: p, g: g})
	}
	f.compiled = compiled

	a.mu.Lock()
	defer a.mu.Unlock()
	a.formats[strings.ToLower(f.Name)] = f
	return nil
}

// Unregister removes the named format.
func (a *ArchiveFormats) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.formats, strings.ToLower(name))
}

// ByName returns the named format.
func (a *ArchiveFormats) ByName(name string) (*ArchiveFormat, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.formats[strings.ToLower(name)]
	return f, ok
}

// Names returns the registered format names, sorted.
func (a *ArchiveFormats) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.formats))
	for n := range a.formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Match returns the format claiming filename, or nil. When several
// patterns match, the longest wins, so "a.tar.gz" goes to "*.tar.gz"
// rather than "*.gz".
func (a *ArchiveFormats) Match(filename string) *ArchiveFormat {
	if a == nil || filename == "" {
		return nil
	}
	name := strings.ToLower(filename)

	a.mu.RLock()
	defer a.mu.RUnlock()
	var best *ArchiveFormat
	bestLen := -1
	for _, f := range a.formats {
		for _, p := range f.compiled {
			if len(p.pattern) > bestLen && p.g.Match(name) {
				best, bestLen = f, len(p.pattern)
			}
		}
	}
	return best
}
