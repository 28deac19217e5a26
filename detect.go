package vfskit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
)

// SniffLength is how many leading bytes Sniff looks at. ustar places its
// magic at offset 257.
const SniffLength = 512

// Common archive signatures, for format registrations.
var (
	SignatureZip   = []Signature{{Magic: []byte{0x50, 0x4B, 0x03, 0x04}}, {Magic: []byte{0x50, 0x4B, 0x05, 0x06}}, {Magic: []byte{0x50, 0x4B, 0x07, 0x08}}}
	SignatureGzip  = []Signature{{Magic: []byte{0x1F, 0x8B}}}
	SignatureBzip2 = []Signature{{Magic: []byte("BZh")}}
	SignatureZstd  = []Signature{{Magic: []byte{0x28, 0xB5, 0x2F, 0xFD}}}
	SignatureTar   = []Signature{{Offset: 257, Magic: []byte("ustar")}}
	SignatureRar   = []Signature{{Magic: []byte("Rar!\x1a\x07\x00")}, {Magic: []byte("Rar!\x1a\x07\x01\x00")}}
	Signature7z    = []Signature{{Magic: []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}}}
	SignatureAr    = []Signature{{Magic: []byte("!<arch>\n")}}
)

// Sniff returns the format whose signature matches header, or nil. Longer
// signatures are tried first, so a tar stream is not mistaken for anything
// sharing a shorter prefix.
func (a *ArchiveFormats) Sniff(header []byte) *ArchiveFormat {
	if a == nil {
		return nil
	}
	type candidate struct {
		f   *ArchiveFormat
		sig Signature
	}

	a.mu.RLock()
	var candidates []candidate
	for _, f := range a.formats {
		for _, s := range f.Signatures {
			candidates = append(candidates, candidate{f, s})
		}
	}
	a.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if len(candidates[i].sig.Magic) != len(candidates[j].sig.Magic) {
			return len(candidates[i].sig.Magic) > len(candidates[j].sig.Magic)
		}
		return candidates[i].f.Name < candidates[j].f.Name
	})
	for _, c := range candidates {
		end := c.sig.Offset + len(c.sig.Magic)
		if end <= len(header) && bytes.Equal(header[c.sig.Offset:end], c.sig.Magic) {
			return c.f
		}
	}
	return nil
}

// Detect returns the format of f by file name, falling back to reading its
// first bytes when sniff is true. Directories are never archives.
func (a *ArchiveFormats) Detect(ctx context.Context, f File, sniff bool) (*ArchiveFormat, error) {
	if a == nil || f.IsDir() {
		return nil, nil
	}
	if format := a.Match(f.Name()); format != nil {
		return format, nil
	}
	if !sniff || !f.IsOperationSupported(OpRead) || !f.Exists() {
		return nil, nil
	}

	r, err := f.OpenReader(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header := make([]byte, SniffLength)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return a.Sniff(header[:n]), nil
}
