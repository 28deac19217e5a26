// Package compress presents a single compressed file (.gz, .bz2, .zst) as an
// archive holding one entry, the decompressed file.
package compress

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/archive/tar"
	"github.com/klauspost/compress/gzip"
)

type codec struct {
	name string
	ext  string
	c    tar.Compression
	sigs []vfskit.Signature
}

var codecs = []codec{
	{"gz", ".gz", tar.Gzip, vfskit.SignatureGzip},
	{"bz2", ".bz2", tar.Bzip2, vfskit.SignatureBzip2},
	{"zst", ".zst", tar.Zstd, vfskit.SignatureZstd},
}

// Formats returns the gz, bz2 and zst formats.
func Formats() []*vfskit.ArchiveFormat {
	out := make([]*vfskit.ArchiveFormat, 0, len(codecs))
	for _, c := range codecs {
		out = append(out, format(c))
	}
	return out
}

func format(c codec) *vfskit.ArchiveFormat {
	return &vfskit.ArchiveFormat{
		Name:       c.name,
		Patterns:   []string{"*" + c.ext},
		Signatures: c.sigs,
		Open: func(src vfskit.ArchiveSource, opts vfskit.ArchiveOptions) (vfskit.ArchiveReader, error) {
			return &reader{src: src, codec: c}, nil
		},
	}
}

// EntryName is the name of the single entry: the container name without
// its compression extension, or "data" when nothing is left.
func EntryName(container, ext string) string {
	name := container
	if strings.HasSuffix(strings.ToLower(name), ext) {
		name = name[:len(name)-len(ext)]
	}
	if name == "" {
		return "data"
	}
	return name
}

type reader struct {
	src   vfskit.ArchiveSource
	codec codec
}

type stream struct {
	io.ReadCloser
	raw io.Closer
}

func (s *stream) Close() error {
	return errors.Join(s.ReadCloser.Close(), s.raw.Close())
}

func (r *reader) open(ctx context.Context) (*stream, error) {
	raw, err := r.src.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	dec, err := tar.Decompress(raw, r.codec.c)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &stream{ReadCloser: dec, raw: raw}, nil
}

// Entries decompresses the whole stream once to learn the entry size.
func (r *reader) Entries(ctx context.Context) (vfskit.EntryIterator, error) {
	s, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	size, err := io.Copy(io.Discard, s)
	if err != nil {
		return nil, err
	}
	var modTime time.Time
	if gz, ok := s.ReadCloser.(*gzip.Reader); ok {
		modTime = gz.ModTime
	}
	return vfskit.NewSliceIterator([]*vfskit.ArchiveEntry{{
		Path:    EntryName(r.src.Name(), r.codec.ext),
		ModTime: modTime,
		Size:    size,
	}}), nil
}

func (r *reader) OpenEntry(ctx context.Context, entry *vfskit.ArchiveEntry, it vfskit.EntryIterator) (io.ReadCloser, error) {
	return r.open(ctx)
}
