// Package tar reads tar archives, plain or compressed with gzip, bzip2 or
// zstd.
package tar

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/archive/internal/sequential"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the codec wrapped around the tar stream.
type Compression int

const (
	None Compression = iota
	Gzip
	Bzip2
	Zstd
)

// Decompress wraps r with the decompressor for c. Closing the result does
// not close r.
func Decompress(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case Bzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case Zstd:
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return d.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}

// Format returns the tar format for compression c.
func Format(c Compression) *vfskit.ArchiveFormat {
	f := &vfskit.ArchiveFormat{
		Open: func(src vfskit.ArchiveSource, opts vfskit.ArchiveOptions) (vfskit.ArchiveReader, error) {
			return sequential.NewReader(src, opts, opener(c)), nil
		},
	}
	switch c {
	case None:
		f.Name, f.Patterns, f.Signatures = "tar", []string{"*.tar"}, vfskit.SignatureTar
	case Gzip:
		f.Name, f.Patterns = "tgz", []string{"*.tar.gz", "*.tgz", "*.taz"}
	case Bzip2:
		f.Name, f.Patterns = "tbz2", []string{"*.tar.bz2", "*.tbz2", "*.tbz"}
	case Zstd:
		f.Name, f.Patterns = "tzst", []string{"*.tar.zst", "*.tzst"}
	}
	return f
}

// Formats returns the tar formats for every supported compression.
func Formats() []*vfskit.ArchiveFormat {
	return []*vfskit.ArchiveFormat{Format(None), Format(Gzip), Format(Bzip2), Format(Zstd)}
}

func opener(c Compression) sequential.OpenFunc {
	return func(ctx context.Context, src vfskit.ArchiveSource) (sequential.Scanner, error) {
		raw, err := src.OpenStream(ctx)
		if err != nil {
			return nil, err
		}
		dec, err := Decompress(raw, c)
		if err != nil {
			raw.Close()
			return nil, err
		}
		return &scanner{tr: tar.NewReader(dec), dec: dec, raw: raw}, nil
	}
}

type scanner struct {
	tr  *tar.Reader
	dec io.Closer
	raw io.Closer
}

func (s *scanner) Next() (*vfskit.ArchiveEntry, error) {
	for {
		hdr, err := s.tr.Next()
		if err != nil {
			return nil, err
		}
		var dir bool
		switch hdr.Typeflag {
		case tar.TypeReg:
		case tar.TypeDir:
			dir = true
		default:
			// links, devices and fifos have no content of their own
			continue
		}
		e := &vfskit.ArchiveEntry{
			Path:        hdr.Name,
			Dir:         dir,
			ModTime:     hdr.ModTime,
			Size:        hdr.Size,
			Permissions: vfskit.FullPermissions(vfskit.Permissions(hdr.Mode)),
			Owner:       hdr.Uname,
			Group:       hdr.Gname,
			Native:      hdr,
		}
		return e, nil
	}
}

func (s *scanner) Read(p []byte) (int, error) {
	return s.tr.Read(p)
}

func (s *scanner) Close() error {
	return errors.Join(s.dec.Close(), s.raw.Close())
}
