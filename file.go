package vfskit

import (
	"context"
	"io"
	"time"
)

// ============================================================================
// Streams
// ============================================================================

// WriteMode selects how OpenWriter treats existing content.
type WriteMode int

const (
	// WriteTruncate replaces the file content.
	WriteTruncate WriteMode = iota
	// WriteAppend writes after the existing content.
	WriteAppend
)

// RandomReader is a seekable input stream.
type RandomReader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer

	// Length returns the current length of the underlying file.
	Length() (int64, error)
}

// RandomWriter is a seekable input/output stream.
type RandomWriter interface {
	RandomReader
	io.Writer
	io.WriterAt

	// Truncate changes the length of the underlying file.
	Truncate(size int64) error
}

// ============================================================================
// File
// ============================================================================

// File is the contract every file kind implements: local files, remote
// files, object store buckets and objects, archive entries and the virtual
// files layered on top of them.
//
// Metadata accessors never block on the network. Remote implementations
// capture metadata when the handle is created; call the Registry again for
// fresh values.
//
// Every operation listed by SupportedOperations is implemented. Every other
// operation fails with ErrNotSupported before touching the underlying
// storage, so callers can filter actions up front with IsOperationSupported.
type File interface {
	// URL returns the address of the file. Callers must not mutate it.
	URL() *FileURL

	// Name returns the last path segment, or "" for a root.
	Name() string

	// Extension returns the extension without the dot, or "".
	Extension() string

	// BaseName returns the name without its extension.
	BaseName() string

	// Parent returns the parent directory, or nil for a root. The result is
	// resolved on first use and cached.
	Parent(ctx context.Context) (File, error)

	Exists() bool
	Size() int64
	ModTime() time.Time
	IsDir() bool
	IsSymlink() bool
	IsSystem() bool
	IsHidden() bool

	// IsBrowsable reports whether List can be called: directories and
	// archives.
	IsBrowsable() bool

	// IsArchive reports whether the file is an archive browsed as a
	// directory.
	IsArchive() bool

	// Owner returns the owner name; only meaningful when CanGetOwner is true.
	Owner() string
	CanGetOwner() bool
	Group() string
	CanGetGroup() bool

	// Permissions returns the permission bits and the mask of bits reported.
	Permissions() FilePermissions

	// ChangeablePermissions returns the bits ChangePermission can alter.
	ChangeablePermissions() Permissions

	// ChangePermission sets or clears one bit.
	ChangePermission(ctx context.Context, access PermissionAccess, kind PermissionKind, enabled bool) error

	// ChangePermissions replaces all bits.
	ChangePermissions(ctx context.Context, perms Permissions) error

	// SetModTime changes the modification time.
	SetModTime(ctx context.Context, t time.Time) error

	// List returns the children accepted by filter; a nil filter accepts
	// everything.
	List(ctx context.Context, filter FileFilter) ([]File, error)

	// Mkdir creates the directory. The parent must exist.
	Mkdir(ctx context.Context) error

	// Mkfile creates an empty file. It fails with ErrExist if the file exists.
	Mkfile(ctx context.Context) error

	// OpenReader returns a stream positioned at offset.
	OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error)

	// OpenWriter returns a stream that truncates or appends.
	OpenWriter(ctx context.Context, mode WriteMode) (io.WriteCloser, error)

	OpenRandomReader(ctx context.Context) (RandomReader, error)
	OpenRandomWriter(ctx context.Context) (RandomWriter, error)

	// Delete removes a file or an empty directory. Use DeleteRecursively
	// for trees.
	Delete(ctx context.Context) error

	// RenameTo moves the file to dst. It fails with ErrCrossRealm when dst
	// is not on the same realm, in which case Move falls back to copying.
	RenameTo(ctx context.Context, dst File) error

	// CopyRemotelyTo copies the file to dst without transferring the bytes
	// through this process. It fails with ErrCrossRealm when dst is not on
	// the same realm.
	CopyRemotelyTo(ctx context.Context, dst File) error

	// FreeSpace and TotalSpace return bytes on the volume holding the file,
	// or -1 when the protocol cannot tell.
	FreeSpace(ctx context.Context) (int64, error)
	TotalSpace(ctx context.Context) (int64, error)

	// SupportedOperations returns the operations this file implements.
	SupportedOperations() OperationSet

	// IsOperationSupported reports whether op is in SupportedOperations.
	IsOperationSupported(op Operation) bool

	// Underlying returns the native object backing the file (an
	// os.FileInfo, an object store attribute struct, an archive entry) or
	// nil.
	Underlying() any
}

// Equal reports whether a and b address the same file. Handles are values;
// never compare them with ==.
func Equal(a, b File) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.URL().Equals(b.URL())
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// CanWatch is implemented by files that can report changes.
//
//	if w, ok := vfskit.Unwrap(f).(vfskit.CanWatch); ok {
//	    token, err := w.Watch(ctx)
//	    ...
//	}
type CanWatch interface {
	Watch(ctx context.Context) (ChangeToken, error)
}

// ChangeToken represents a change notification token.
// It provides a mechanism to be notified when a change occurs.
//
// Consumers can either:
// 1. Poll HasChanged() periodically
// 2. Register a callback via RegisterChangeCallback()
type ChangeToken interface {
	// HasChanged returns true if a change has occurred.
	// Once true, it remains true (tokens are single-use).
	HasChanged() bool

	// ActiveChangeCallbacks indicates if the token proactively raises callbacks.
	ActiveChangeCallbacks() bool

	// RegisterChangeCallback registers a callback to be invoked when change occurs.
	// Returns a function to unregister the callback.
	RegisterChangeCallback(callback func()) (unregister func())
}
