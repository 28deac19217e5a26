// Package zip reads ZIP archives and the formats built on them (JAR, APK,
// EPUB, Office documents) as vfskit archive formats.
package zip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gobeaver/vfskit"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// Name is the format name, also usable as a URL scheme.
const Name = "zip"

// creatorUnix is the "version made by" host of archives carrying Unix
// permission bits.
const creatorUnix = 3

// Patterns are the file names claimed by the format.
var Patterns = []string{
	"*.zip", "*.jar", "*.war", "*.ear", "*.apk", "*.epub", "*.xpi",
	"*.docx", "*.xlsx", "*.pptx", "*.odt", "*.ods", "*.odp", "*.nupkg", "*.whl",
}

// Format returns the ZIP archive format.
func Format() *vfskit.ArchiveFormat {
	return &vfskit.ArchiveFormat{
		Name:            Name,
		Patterns:        Patterns,
		Signatures:      vfskit.SignatureZip,
		ConcurrentReads: true,
		Open:            Open,
	}
}

// Open returns a reader for the ZIP archive in src.
func Open(src vfskit.ArchiveSource, opts vfskit.ArchiveOptions) (vfskit.ArchiveReader, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &reader{src: src, log: log}, nil
}

type reader struct {
	src vfskit.ArchiveSource
	log logrus.FieldLogger
}

// directory holds an open container and its parsed central directory.
type directory struct {
	ra vfskit.RandomReader
	zr *zip.Reader
}

func (r *reader) open(ctx context.Context) (*directory, error) {
	ra, err := r.src.OpenRandom(ctx)
	if err != nil {
		return nil, err
	}
	size, err := ra.Length()
	if err != nil {
		ra.Close()
		return nil, err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		ra.Close()
		return nil, fmt.Errorf("read zip directory: %w", err)
	}
	return &directory{ra: ra, zr: zr}, nil
}

func (r *reader) Entries(ctx context.Context) (vfskit.EntryIterator, error) {
	d, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	return &iterator{dir: d}, nil
}

func (r *reader) OpenEntry(ctx context.Context, entry *vfskit.ArchiveEntry, it vfskit.EntryIterator) (io.ReadCloser, error) {
	if zi, ok := it.(*iterator); ok && !zi.closed() {
		if f, ok := entry.Native.(*zip.File); ok && zi.owns(f) {
			return f.Open()
		}
	}

	d, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	f := find(d.zr, entry)
	if f == nil {
		d.ra.Close()
		return nil, fmt.Errorf("%s: %w", entry.Path, vfskit.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		d.ra.Close()
		return nil, err
	}
	return &entryStream{ReadCloser: rc, container: d.ra}, nil
}

// find returns the last file recorded under entry's path; later records
// shadow earlier ones.
func find(zr *zip.Reader, entry *vfskit.ArchiveEntry) *zip.File {
	name := ""
	if f, ok := entry.Native.(*zip.File); ok {
		name = f.Name
	}
	var found *zip.File
	for _, f := range zr.File {
		if f.Name == name || vfskit.NormalizeEntryPath(f.Name) == entry.Path {
			found = f
		}
	}
	return found
}

type entryStream struct {
	io.ReadCloser
	container io.Closer
}

func (s *entryStream) Close() error {
	return errors.Join(s.ReadCloser.Close(), s.container.Close())
}

type iterator struct {
	mu  sync.Mutex
	dir *directory
	pos int
}

func (it *iterator) Next() (*vfskit.ArchiveEntry, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.dir == nil {
		return nil, vfskit.ErrClosed
	}
	if it.pos >= len(it.dir.zr.File) {
		return nil, io.EOF
	}
	f := it.dir.zr.File[it.pos]
	it.pos++
	return toEntry(f), nil
}

func (it *iterator) closed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.dir == nil
}

func (it *iterator) owns(f *zip.File) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	for _, zf := range it.dir.zr.File {
		if zf == f {
			return true
		}
	}
	return false
}

func (it *iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.dir == nil {
		return nil
	}
	err := it.dir.ra.Close()
	it.dir = nil
	return err
}

func toEntry(f *zip.File) *vfskit.ArchiveEntry {
	fi := f.FileInfo()
	e := &vfskit.ArchiveEntry{
		Path:    f.Name,
		Dir:     fi.IsDir(),
		ModTime: f.Modified,
		Size:    int64(f.UncompressedSize64),
		Native:  f,
	}
	if f.CreatorVersion>>8 == creatorUnix {
		e.Permissions = vfskit.FullPermissions(vfskit.PermissionsFromMode(f.Mode()))
	}
	return e
}
