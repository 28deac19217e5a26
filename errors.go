package vfskit

import (
	"errors"
	"fmt"
)

// Common file errors
var (
	ErrNotExist      = errors.New("file does not exist")
	ErrExist         = errors.New("file already exists")
	ErrPermission    = errors.New("permission denied")
	ErrClosed        = errors.New("file already closed")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrNotEmpty      = errors.New("directory not empty")
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidOffset = errors.New("invalid offset")
	ErrInvalidWhence = errors.New("invalid whence")
	ErrNotSupported  = errors.New("operation not supported")
	ErrNoSpace       = errors.New("no space left on device")
)

// Addressing and transport errors
var (
	ErrMalformedURL  = errors.New("malformed file URL")
	ErrUnknownScheme = errors.New("unknown scheme")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrNotConnected  = errors.New("connection closed")
	ErrCrossRealm    = errors.New("source and destination are on different realms")
	ErrArchiveLimit  = errors.New("archive exceeds configured limits")
)

// PathError records an error and the operation and file path that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// NewPathError creates a PathError.
func NewPathError(op, path string, err error) *PathError {
	return &PathError{Op: op, Path: path, Err: err}
}

// WrapPathErr wraps err in a PathError unless it is nil or already one.
func WrapPathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	return &PathError{Op: op, Path: path, Err: err}
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// AuthError reports credentials rejected by a remote protocol. It carries
// the URL so callers can prompt for new credentials and retry.
type AuthError struct {
	URL *FileURL
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrAuthFailed, e.URL)
	}
	return fmt.Sprintf("%v: %s: %v", ErrAuthFailed, e.URL, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAuthFailed) hold for every AuthError.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthFailed
}

// NewAuthError creates an AuthError for u.
func NewAuthError(u *FileURL, err error) *AuthError {
	return &AuthError{URL: u, Err: err}
}

// Unsupported returns the error every File method reports for an operation
// outside its SupportedOperations set.
func Unsupported(op Operation, u *FileURL) error {
	p := ""
	if u != nil {
		p = u.String()
	}
	return &PathError{Op: op.String(), Path: p, Err: ErrNotSupported}
}

// IsNotExist reports whether an error indicates that a file or directory
// does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsExist reports whether an error indicates that a file or directory
// already exists
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsPermission reports whether an error indicates that permission is denied
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsNotSupported reports whether an error indicates an unsupported operation
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// IsAuthFailed reports whether an error indicates rejected credentials
func IsAuthFailed(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
