// Package sequential adapts formats that can only be read front to back
// (tar, ar, rar) to vfskit.ArchiveReader.
//
// Entries are identified by their ordinal position in the stream. Opening
// the entry an open iterator is positioned on reads straight from that
// iterator; any other entry is found by rescanning the container in an
// extraction goroutine.
package sequential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gobeaver/vfskit"
)

// Scanner walks the entries of one pass over a container. After Next, Read
// returns the content of the current entry.
type Scanner interface {
	// Next advances to the next entry, returning io.EOF at the end.
	// Scanners skip records that are neither files nor directories.
	Next() (*vfskit.ArchiveEntry, error)
	io.Reader
	io.Closer
}

// OpenFunc starts a pass over the container.
type OpenFunc func(ctx context.Context, src vfskit.ArchiveSource) (Scanner, error)

// Record is stored in ArchiveEntry.Native.
type Record struct {
	Ordinal int
	// Header is the format's own header for the entry.
	Header any
}

// HeaderOf returns the format header of e, or nil.
func HeaderOf(e *vfskit.ArchiveEntry) any {
	if r, ok := e.Native.(*Record); ok {
		return r.Header
	}
	return nil
}

// NewReader returns an ArchiveReader over src.
func NewReader(src vfskit.ArchiveSource, opts vfskit.ArchiveOptions, open OpenFunc) vfskit.ArchiveReader {
	return &reader{src: src, bufSize: opts.ExtractBufferSize, open: open}
}

type reader struct {
	src     vfskit.ArchiveSource
	bufSize int
	open    OpenFunc
}

func (r *reader) Entries(ctx context.Context) (vfskit.EntryIterator, error) {
	s, err := r.open(ctx, r.src)
	if err != nil {
		return nil, err
	}
	return &iterator{scanner: s, current: -1}, nil
}

func (r *reader) OpenEntry(ctx context.Context, entry *vfskit.ArchiveEntry, it vfskit.EntryIterator) (io.ReadCloser, error) {
	rec, ok := entry.Native.(*Record)
	if !ok {
		return nil, fmt.Errorf("%s: entry was not produced by this reader", entry.Path)
	}
	if si, ok := it.(*iterator); ok {
		if rc, ok := si.openCurrent(rec.Ordinal); ok {
			return rc, nil
		}
	}

	return vfskit.NewExtractReader(ctx, r.bufSize, func(ctx context.Context, w io.Writer) error {
		s, err := r.open(ctx, r.src)
		if err != nil {
			return err
		}
		defer s.Close()
		for n := 0; ; n++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := s.Next(); err != nil {
				if errors.Is(err, io.EOF) {
					return fmt.Errorf("%s: %w", entry.Path, vfskit.ErrNotExist)
				}
				return err
			}
			if n == rec.Ordinal {
				_, err := io.Copy(w, s)
				return err
			}
		}
	}), nil
}

type iterator struct {
	mu      sync.Mutex
	scanner Scanner
	current int
	// reading is set while a stream over the current entry is open
	reading bool
}

func (it *iterator) Next() (*vfskit.ArchiveEntry, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.scanner == nil {
		return nil, vfskit.ErrClosed
	}
	e, err := it.scanner.Next()
	if err != nil {
		return nil, err
	}
	it.current++
	it.reading = false
	e.Native = &Record{Ordinal: it.current, Header: e.Native}
	return e, nil
}

func (it *iterator) openCurrent(ordinal int) (io.ReadCloser, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.scanner == nil || it.current != ordinal || it.reading {
		return nil, false
	}
	it.reading = true
	return &entryStream{it: it, ordinal: ordinal}, true
}

func (it *iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.scanner == nil {
		return nil
	}
	err := it.scanner.Close()
	it.scanner = nil
	return err
}

// entryStream reads the iterator's current entry until the iterator moves
// on or closes.
type entryStream struct {
	it      *iterator
	ordinal int
}

func (s *entryStream) Read(p []byte) (int, error) {
	s.it.mu.Lock()
	defer s.it.mu.Unlock()
	if s.it.scanner == nil || s.it.current != s.ordinal {
		return 0, vfskit.ErrClosed
	}
	return s.it.scanner.Read(p)
}

func (s *entryStream) Close() error { return nil }
