// Package minio implements the "minio" scheme over MinIO and other S3
// compatible servers using minio-go. URLs take the form
// minio://[access:secret@]host[:port]/bucket/key.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/objectfs"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Scheme is the URL scheme served by this package.
const Scheme = "minio"

// DefaultPort is used when the URL carries no port.
const DefaultPort = 9000

// Config holds the connection defaults. Credentials in the URL take
// precedence over AccessKey and SecretKey.
type Config struct {
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// NewProvider returns the "minio" provider.
func NewProvider(cfg Config, opts ...objectfs.Option) *objectfs.Provider {
	return objectfs.New(Scheme, Factory(cfg), opts...)
}

// Factory creates one client per realm and credentials.
func Factory(cfg Config) objectfs.BackendFactory {
	return func(ctx context.Context, realm *vfskit.FileURL, creds *vfskit.Credentials) (objectfs.Backend, error) {
		client, err := newClient(cfg, realm, creds)
		if err != nil {
			return nil, err
		}
		return New(client, realm, cfg.Region), nil
	}
}

func newClient(cfg Config, realm *vfskit.FileURL, creds *vfskit.Credentials) (*minio.Client, error) {
	if realm.Host == "" {
		return nil, vfskit.NewPathError("connect", realm.String(), vfskit.ErrMalformedURL)
	}
	port := realm.Port
	if port < 0 {
		port = DefaultPort
	}
	access, secret := cfg.AccessKey, cfg.SecretKey
	if creds != nil {
		access, secret = creds.Login, creds.Password
	}
	client, err := minio.New(realm.Host+":"+strconv.Itoa(port), &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// Backend implements objectfs.Backend with minio-go.
type Backend struct {
	client *minio.Client
	realm  *vfskit.FileURL
	region string
}

var _ objectfs.Backend = (*Backend)(nil)

// New wraps client. realm is reported in authentication errors.
func New(client *minio.Client, realm *vfskit.FileURL, region string) *Backend {
	return &Backend{client: client, realm: realm, region: region}
}

func (b *Backend) ListBuckets(ctx context.Context) ([]objectfs.BucketInfo, error) {
	buckets, err := b.client.ListBuckets(ctx)
	if err != nil {
		return nil, b.mapError(err)
	}
	out := make([]objectfs.BucketInfo, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, objectfs.BucketInfo{Name: bucket.Name, Created: bucket.CreationDate, Native: bucket})
	}
	return out, nil
}

func (b *Backend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, b.mapError(err)
	}
	return ok, nil
}

func (b *Backend) CreateBucket(ctx context.Context, bucket string) error {
	return b.mapError(b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.region}))
}

func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	return b.mapError(b.client.RemoveBucket(ctx, bucket))
}

func (b *Backend) Stat(ctx context.Context, bucket, key string) (*objectfs.ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, b.mapError(err)
	}
	return objectInfo(info), nil
}

func objectInfo(info minio.ObjectInfo) *objectfs.ObjectInfo {
	return &objectfs.ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ModTime:     info.LastModified,
		ETag:        strings.Trim(info.ETag, `"`),
		ContentType: info.ContentType,
		Native:      info,
	}
}

func (b *Backend) List(ctx context.Context, bucket, prefix string) ([]objectfs.ObjectInfo, error) {
	var out []objectfs.ObjectInfo
	for info := range b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, b.mapError(info.Err)
		}
		// common prefixes arrive as bare keys ending in the delimiter
		if strings.HasSuffix(info.Key, "/") && info.Key != prefix && info.LastModified.IsZero() {
			out = append(out, objectfs.ObjectInfo{Key: info.Key, Prefix: true})
			continue
		}
		out = append(out, *objectInfo(info))
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	if length == 0 {
		if _, err := b.Stat(ctx, bucket, key); err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	opts := minio.GetObjectOptions{}
	switch {
	case length > 0:
		if err := opts.SetRange(offset, offset+length-1); err != nil {
			return nil, err
		}
	case offset > 0:
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, err
		}
	}
	obj, err := b.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, b.mapError(err)
	}
	// GetObject is lazy; Stat surfaces a missing key now
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, b.mapError(err)
	}
	return obj, nil
}

func (b *Backend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: objectfs.ContentType(key)}
	_, err := b.client.PutObject(ctx, bucket, key, r, size, opts)
	return b.mapError(err)
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	return b.mapError(b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (b *Backend) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	return b.mapError(err)
}

// mapError maps MinIO error codes to vfskit sentinels, keeping the original
// response in the chain.
func (b *Backend) mapError(err error) error {
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return err
	}
	var sentinel error
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchObject":
		sentinel = vfskit.ErrNotExist
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		sentinel = vfskit.ErrExist
	case "BucketNotEmpty":
		sentinel = vfskit.ErrNotEmpty
	case "AccessDenied":
		sentinel = vfskit.ErrPermission
	case "NotImplemented":
		sentinel = vfskit.ErrNotSupported
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return vfskit.NewAuthError(b.realm, err)
	}
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
