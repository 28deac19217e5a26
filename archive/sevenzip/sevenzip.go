// Package sevenzip reads 7-Zip archives as a vfskit archive format.
package sevenzip

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/sevenzip"
	"github.com/gobeaver/vfskit"
)

// Name is the format name, also usable as a URL scheme.
const Name = "7z"

// unixExtension marks headers whose high 16 attribute bits hold a Unix mode.
const unixExtension = 0x8000

// Option configures the format.
type Option func(*config)

type config struct {
	password string
}

// WithPassword decrypts AES protected archives.
func WithPassword(password string) Option {
	return func(c *config) { c.password = password }
}

// Format returns the 7z archive format.
func Format(opts ...Option) *vfskit.ArchiveFormat {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &vfskit.ArchiveFormat{
		Name:            Name,
		Patterns:        []string{"*.7z"},
		Signatures:      vfskit.Signature7z,
		ConcurrentReads: true,
		Open: func(src vfskit.ArchiveSource, _ vfskit.ArchiveOptions) (vfskit.ArchiveReader, error) {
			return &reader{src: src, password: cfg.password}, nil
		},
	}
}

type reader struct {
	src      vfskit.ArchiveSource
	password string
}

type archive struct {
	ra vfskit.RandomReader
	zr *sevenzip.Reader
}

func (r *reader) open(ctx context.Context) (*archive, error) {
	ra, err := r.src.OpenRandom(ctx)
	if err != nil {
		return nil, err
	}
	size, err := ra.Length()
	if err != nil {
		ra.Close()
		return nil, err
	}
	var zr *sevenzip.Reader
	if r.password != "" {
		zr, err = sevenzip.NewReaderWithPassword(ra, size, r.password)
	} else {
		zr, err = sevenzip.NewReader(ra, size)
	}
	if err != nil {
		ra.Close()
		return nil, fmt.Errorf("read 7z header: %w", err)
	}
	return &archive{ra: ra, zr: zr}, nil
}

// Entries reads the header once; the container is closed before returning.
func (r *reader) Entries(ctx context.Context) (vfskit.EntryIterator, error) {
	a, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	defer a.ra.Close()

	entries := make([]*vfskit.ArchiveEntry, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		entries = append(entries, toEntry(&f.FileHeader))
	}
	return vfskit.NewSliceIterator(entries), nil
}

func (r *reader) OpenEntry(ctx context.Context, entry *vfskit.ArchiveEntry, _ vfskit.EntryIterator) (io.ReadCloser, error) {
	a, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	f := find(a.zr, entry)
	if f == nil {
		a.ra.Close()
		return nil, fmt.Errorf("%s: %w", entry.Path, vfskit.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		a.ra.Close()
		return nil, err
	}
	return &entryStream{ReadCloser: rc, container: a.ra}, nil
}

// find returns the last file recorded under entry's path.
func find(zr *sevenzip.Reader, entry *vfskit.ArchiveEntry) *sevenzip.File {
	name := ""
	if h, ok := entry.Native.(*sevenzip.FileHeader); ok {
		name = h.Name
	}
	var found *sevenzip.File
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

func toEntry(h *sevenzip.FileHeader) *vfskit.ArchiveEntry {
	header := *h
	e := &vfskit.ArchiveEntry{
		Path:    h.Name,
		Dir:     h.FileInfo().IsDir(),
		ModTime: h.Modified,
		Size:    int64(h.UncompressedSize),
		Native:  &header,
	}
	if h.Attributes&unixExtension != 0 {
		e.Permissions = vfskit.FullPermissions(vfskit.PermissionsFromMode(h.Mode()))
	}
	return e
}
