// Package rar reads single volume RAR archives (versions 1.5 to 5) as a
// vfskit archive format. RAR is decoded front to back, so entries are
// served through the sequential reader.
package rar

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/archive/internal/sequential"
	"github.com/nwaples/rardecode/v2"
)

// Name is the format name, also usable as a URL scheme.
const Name = "rar"

// Option configures the format.
type Option func(*config)

type config struct {
	password string
}

// WithPassword decrypts encrypted archives.
func WithPassword(password string) Option {
	return func(c *config) { c.password = password }
}

// Format returns the RAR archive format.
func Format(opts ...Option) *vfskit.ArchiveFormat {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &vfskit.ArchiveFormat{
		Name:       Name,
		Patterns:   []string{"*.rar", "*.cbr"},
		Signatures: vfskit.SignatureRar,
		Open: func(src vfskit.ArchiveSource, opts vfskit.ArchiveOptions) (vfskit.ArchiveReader, error) {
			return sequential.NewReader(src, opts, opener(cfg)), nil
		},
	}
}

func opener(cfg config) sequential.OpenFunc {
	return func(ctx context.Context, src vfskit.ArchiveSource) (sequential.Scanner, error) {
		raw, err := src.OpenStream(ctx)
		if err != nil {
			return nil, err
		}
		var ropts []rardecode.Option
		if cfg.password != "" {
			ropts = append(ropts, rardecode.Password(cfg.password))
		}
		rr, err := rardecode.NewReader(bufio.NewReader(raw), ropts...)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("read rar header: %w", err)
		}
		return &scanner{rr: rr, raw: raw}, nil
	}
}

type scanner struct {
	rr  *rardecode.Reader
	raw io.Closer
}

func (s *scanner) Next() (*vfskit.ArchiveEntry, error) {
	hdr, err := s.rr.Next()
	if err != nil {
		return nil, err
	}
	return &vfskit.ArchiveEntry{
		Path:    hdr.Name,
		Dir:     hdr.IsDir,
		ModTime: hdr.ModificationTime,
		Size:    hdr.UnPackedSize,
		Native:  hdr,
	}, nil
}

func (s *scanner) Read(p []byte) (int, error) {
	return s.rr.Read(p)
}

func (s *scanner) Close() error {
	return s.raw.Close()
}
