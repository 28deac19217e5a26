// Package objectfs presents object stores as file systems. A URL addresses
// the store root ("/"), a bucket ("/bucket") or an object below it
// ("/bucket/dir/key"). Directories are inferred from "/" separated keys
// and may also exist as empty marker objects ending in "/".
//
// Store clients plug in through Backend; the s3, minio, gcs and azure
// drivers are Backends.
package objectfs

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gobeaver/vfskit"
)

// ObjectInfo describes an object or, when Prefix is set, a common prefix
// returned by a delimited listing.
type ObjectInfo struct {
	Key         string
	Size        int64
	ModTime     time.Time
	ETag        string
	ContentType string
	Prefix      bool

	// Native is the client library's attribute value.
	Native any
}

// BucketInfo describes a bucket or container.
type BucketInfo struct {
	Name    string
	Created time.Time
	Native  any
}

// Backend is the object store client behind a realm. Errors must match the
// vfskit sentinels: ErrNotExist for missing buckets and objects, ErrExist,
// ErrNotEmpty and ErrPermission where the store reports them, and
// *vfskit.AuthError for rejected credentials.
type Backend interface {
	ListBuckets(ctx context.Context) ([]BucketInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error

	// Stat returns the object stored under key.
	Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// List returns the objects and common prefixes directly below prefix,
	// using "/" as the delimiter. Prefix is "" or ends with "/".
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// Get reads length bytes from offset, or to the end when length < 0.
	Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error)

	// Put stores size bytes read from r under key.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error

	Delete(ctx context.Context, bucket, key string) error

	// Copy copies an object inside the store.
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
}

// BackendFactory creates the Backend for a realm. creds are the URL's
// credentials, or nil.
type BackendFactory func(ctx context.Context, realm *vfskit.FileURL, creds *vfskit.Credentials) (Backend, error)

// DirectoryContentType is stored on directory marker objects.
const DirectoryContentType = "application/x-directory"

// ContentType returns the content type a Backend stores with key.
func ContentType(key string) string {
	if strings.HasSuffix(key, "/") {
		return DirectoryContentType
	}
	return vfskit.GuessContentType(path.Base(key), nil)
}
