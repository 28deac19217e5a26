package vfskit

import (
	"context"
	"io"
	"path"
	"time"
)

// ArchiveEntryFile is a file or directory inside an archive. Entries are
// read-only: they can be read and browsed, nothing else.
type ArchiveEntryFile struct {
	FileBase

	archive *ArchiveFile
	entry   *ArchiveEntry
	exists  bool
}

var _ File = (*ArchiveEntryFile)(nil)

func newArchiveEntryFile(a *ArchiveFile, e *ArchiveEntry, exists bool) *ArchiveEntryFile {
	return &ArchiveEntryFile{
		FileBase: NewFileBase(a.URL().Child(e.Path)),
		archive:  a,
		entry:    e,
		exists:   exists,
	}
}

// Archive returns the archive holding the entry.
func (f *ArchiveEntryFile) Archive() *ArchiveFile { return f.archive }

// Entry returns the entry record.
func (f *ArchiveEntryFile) Entry() *ArchiveEntry { return f.entry }

func (f *ArchiveEntryFile) Parent(ctx context.Context) (File, error) {
	return f.CachedParent(ctx, func(ctx context.Context) (File, error) {
		dir := path.Dir(f.entry.Path)
		if dir == "." {
			return f.archive, nil
		}
		return f.archive.Entry(ctx, dir)
	})
}

func (f *ArchiveEntryFile) Exists() bool       { return f.exists }
func (f *ArchiveEntryFile) Size() int64        { return f.entry.Size }
func (f *ArchiveEntryFile) ModTime() time.Time { return f.entry.ModTime }
func (f *ArchiveEntryFile) IsDir() bool        { return f.entry.Dir }
func (f *ArchiveEntryFile) IsBrowsable() bool  { return f.entry.Dir }
func (f *ArchiveEntryFile) Owner() string      { return f.entry.Owner }
func (f *ArchiveEntryFile) CanGetOwner() bool  { return f.entry.Owner != "" }
func (f *ArchiveEntryFile) Group() string      { return f.entry.Group }
func (f *ArchiveEntryFile) CanGetGroup() bool  { return f.entry.Group != "" }
func (f *ArchiveEntryFile) Underlying() any    { return f.entry }

// Permissions returns the recorded permissions, or ReadOnlyOwnerPermissions
// when the format records none.
func (f *ArchiveEntryFile) Permissions() FilePermissions {
	if f.entry.Permissions.Mask == 0 {
		return ReadOnlyOwnerPermissions
	}
	return f.entry.Permissions
}

func (f *ArchiveEntryFile) SupportedOperations() OperationSet {
	return ReadOnlyOperations
}

func (f *ArchiveEntryFile) IsOperationSupported(op Operation) bool {
	return ReadOnlyOperations.Has(op)
}

func (f *ArchiveEntryFile) List(ctx context.Context, filter FileFilter) ([]File, error) {
	if !f.exists {
		return nil, NewPathError("list", f.URL().String(), ErrNotExist)
	}
	if !f.entry.Dir {
		return nil, NewPathError("list", f.URL().String(), ErrNotDir)
	}
	return f.archive.ListEntries(ctx, f.entry.Path, filter)
}

func (f *ArchiveEntryFile) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if !f.exists {
		return nil, NewPathError("read", f.URL().String(), ErrNotExist)
	}
	if offset < 0 {
		return nil, NewPathError("read", f.URL().String(), ErrInvalidOffset)
	}
	rc, err := f.archive.OpenEntry(ctx, f.entry, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, rc, offset); err != nil && err != io.EOF {
			rc.Close()
			return nil, WrapPathErr("read", f.URL().String(), err)
		}
	}
	return rc, nil
}
