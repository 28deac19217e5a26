// Package gcs implements the "gs" scheme over Google Cloud Storage. URLs take
// the form gs:///bucket/key; a host addresses a storage emulator such as
// fake-gcs-server instead of Google.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/objectfs"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Scheme is the URL scheme served by this package.
const Scheme = "gs"

// Config holds client settings. An empty CredentialsFile uses Application
// Default Credentials. ProjectID is required to list and create buckets.
type Config struct {
	CredentialsFile string
	ProjectID       string
}

// NewProvider returns the "gs" provider.
func NewProvider(cfg Config, opts ...objectfs.Option) *objectfs.Provider {
	return objectfs.New(Scheme, Factory(cfg), opts...)
}

// Factory creates one client per realm.
func Factory(cfg Config) objectfs.BackendFactory {
	return func(ctx context.Context, realm *vfskit.FileURL, creds *vfskit.Credentials) (objectfs.Backend, error) {
		client, err := storage.NewClient(ctx, clientOptions(cfg, realm)...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return New(client, realm, cfg.ProjectID), nil
	}
}

func clientOptions(cfg Config, realm *vfskit.FileURL) []option.ClientOption {
	if realm.Host != "" {
		host := realm.Host
		if realm.Port >= 0 {
			host += ":" + strconv.Itoa(realm.Port)
		}
		return []option.ClientOption{
			option.WithEndpoint("http://" + host + "/storage/v1/"),
			option.WithoutAuthentication(),
			storage.WithJSONReads(),
		}
	}
	if cfg.CredentialsFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
	}
	return nil
}

// Backend implements objectfs.Backend over a storage.Client.
type Backend struct {
	client  *storage.Client
	realm   *vfskit.FileURL
	project string
}

var _ objectfs.Backend = (*Backend)(nil)

// New wraps client. project is used for bucket listing and creation.
func New(client *storage.Client, realm *vfskit.FileURL, project string) *Backend {
	return &Backend{client: client, realm: realm, project: project}
}

func (b *Backend) ListBuckets(ctx context.Context) ([]objectfs.BucketInfo, error) {
	if b.project == "" {
		return nil, fmt.Errorf("list buckets: %w: no project configured", vfskit.ErrNotSupported)
	}
	var out []objectfs.BucketInfo
	it := b.client.Buckets(ctx, b.project)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, b.mapError(err)
		}
		out = append(out, objectfs.BucketInfo{Name: attrs.Name, Created: attrs.Created, Native: attrs})
	}
	return out, nil
}

func (b *Backend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := b.client.Bucket(bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, b.mapError(err)
	}
	return true, nil
}

func (b *Backend) CreateBucket(ctx context.Context, bucket string) error {
	return b.mapError(b.client.Bucket(bucket).Create(ctx, b.project, nil))
}

func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	return b.mapError(b.client.Bucket(bucket).Delete(ctx))
}

func (b *Backend) Stat(ctx context.Context, bucket, key string) (*objectfs.ObjectInfo, error) {
	attrs, err := b.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return nil, b.mapError(err)
	}
	return objectInfo(attrs), nil
}

func objectInfo(attrs *storage.ObjectAttrs) *objectfs.ObjectInfo {
	return &objectfs.ObjectInfo{
		Key:         attrs.Name,
		Size:        attrs.Size,
		ModTime:     attrs.Updated,
		ETag:        attrs.Etag,
		ContentType: attrs.ContentType,
		Native:      attrs,
	}
}

func (b *Backend) List(ctx context.Context, bucket, prefix string) ([]objectfs.ObjectInfo, error) {
	var out []objectfs.ObjectInfo
	it := b.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, b.mapError(err)
		}
		if attrs.Prefix != "" {
			out = append(out, objectfs.ObjectInfo{Key: attrs.Prefix, Prefix: true})
			continue
		}
		out = append(out, *objectInfo(attrs))
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := b.client.Bucket(bucket).Object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, b.mapError(err)
	}
	return r, nil
}

func (b *Backend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	w := b.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = objectfs.ContentType(key)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return b.mapError(err)
	}
	return b.mapError(w.Close())
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	return b.mapError(b.client.Bucket(bucket).Object(key).Delete(ctx))
}

func (b *Backend) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := b.client.Bucket(srcBucket).Object(srcKey)
	dst := b.client.Bucket(dstBucket).Object(dstKey)
	_, err := dst.CopierFrom(src).Run(ctx)
	return b.mapError(err)
}

// mapError maps storage sentinels and JSON API status codes to vfskit
// sentinels.
func (b *Backend) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", vfskit.ErrNotExist, err)
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	var sentinel error
	switch apiErr.Code {
	case http.StatusNotFound:
		sentinel = vfskit.ErrNotExist
	case http.StatusConflict:
		sentinel = vfskit.ErrExist
		for _, item := range apiErr.Errors {
			// deleting a bucket that still holds objects
			if strings.Contains(item.Message, "not empty") {
				sentinel = vfskit.ErrNotEmpty
			}
		}
	case http.StatusForbidden:
		sentinel = vfskit.ErrPermission
	case http.StatusNotImplemented:
		sentinel = vfskit.ErrNotSupported
	case http.StatusUnauthorized:
		return vfskit.NewAuthError(b.realm, err)
	}
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
