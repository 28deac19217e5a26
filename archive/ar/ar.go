// Package ar reads Unix ar archives, including static libraries and
// Debian packages. GNU and BSD long file names are supported.
package ar

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/archive/internal/sequential"
)

// Name is the format name, also usable as a URL scheme.
const Name = "ar"

const magic = "!<arch>\n"

// Format returns the ar archive format.
func Format() *vfskit.ArchiveFormat {
	return &vfskit.ArchiveFormat{
		Name:       Name,
		Patterns:   []string{"*.ar", "*.a", "*.deb", "*.udeb", "*.ipk"},
		Signatures: vfskit.SignatureAr,
		Open: func(src vfskit.ArchiveSource, opts vfskit.ArchiveOptions) (vfskit.ArchiveReader, error) {
			return sequential.NewReader(src, opts, open), nil
		},
	}
}

func open(ctx context.Context, src vfskit.ArchiveSource) (sequential.Scanner, error) {
	raw, err := src.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(raw)
	head, err := br.Peek(len(magic))
	if err != nil || string(head) != magic {
		raw.Close()
		return nil, errors.New("not an ar archive")
	}
	return &scanner{ar: ar.NewReader(br), raw: raw}, nil
}

type scanner struct {
	ar  *ar.Reader
	raw io.Closer
	// names is the GNU long name table ("//" member)
	names []byte
}

func (s *scanner) Next() (*vfskit.ArchiveEntry, error) {
	for {
		hdr, err := s.ar.Next()
		if err != nil {
			return nil, err
		}
		name, size := hdr.Name, hdr.Size

		switch {
		case name == "//":
			if s.names, err = io.ReadAll(s.ar); err != nil {
				return nil, err
			}
			continue
		case name == "/" || name == "/SYM64/" || name == "__.SYMDEF" || name == "__.SYMDEF SORTED":
			// symbol tables
			continue
		case strings.HasPrefix(name, "#1/"):
			n, err := strconv.Atoi(name[3:])
			if err != nil || int64(n) > size {
				return nil, fmt.Errorf("bad BSD name length %q", name)
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(s.ar, buf); err != nil {
				return nil, err
			}
			name = string(bytes.TrimRight(buf, "\x00"))
			size -= int64(n)
		case strings.HasPrefix(name, "/"):
			if name, err = s.longName(name[1:]); err != nil {
				return nil, err
			}
		default:
			name = strings.TrimSuffix(name, "/")
		}

		return &vfskit.ArchiveEntry{
			Path:        name,
			ModTime:     hdr.ModTime,
			Size:        size,
			Permissions: vfskit.FullPermissions(vfskit.Permissions(hdr.Mode)),
			Owner:       strconv.Itoa(hdr.Uid),
			Group:       strconv.Itoa(hdr.Gid),
			Native:      hdr,
		}, nil
	}
}

// longName resolves a GNU "/offset" reference into the name table.
func (s *scanner) longName(ref string) (string, error) {
	off, err := strconv.Atoi(ref)
	if err != nil || off < 0 || off >= len(s.names) {
		return "", fmt.Errorf("bad long name reference /%s", ref)
	}
	name := s.names[off:]
	if i := bytes.IndexByte(name, '\n'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(string(name), "/"), nil
}

func (s *scanner) Read(p []byte) (int, error) {
	return s.ar.Read(p)
}

func (s *scanner) Close() error {
	return s.raw.Close()
}
