// Package azure implements the "azure" scheme over Azure Blob Storage.
// Containers play the role of buckets. URLs take the form
// azure://[account:key@][host[:port]]/container/blob; an empty host
// addresses <account>.blob.core.windows.net, any other host is treated as an
// Azurite style emulator serving http://host:port/<account>/.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/objectfs"
)

// Scheme is the URL scheme served by this package.
const Scheme = "azure"

// copySASExpiry bounds the lifetime of the SAS URL handed to CopyFromURL.
const copySASExpiry = 15 * time.Minute

// Config holds the shared key defaults. Credentials in the URL take
// precedence. Endpoint overrides the service URL derived from the realm.
type Config struct {
	AccountName string
	AccountKey  string
	Endpoint    string
}

// NewProvider returns the "azure" provider.
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
		return New(client, realm), nil
	}
}

func newClient(cfg Config, realm *vfskit.FileURL, creds *vfskit.Credentials) (*azblob.Client, error) {
	account, key := cfg.AccountName, cfg.AccountKey
	if creds != nil {
		account, key = creds.Login, creds.Password
	}
	if account == "" || key == "" {
		return nil, vfskit.NewAuthError(realm, errors.New("azure account name and key are required"))
	}
	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, vfskit.NewAuthError(realm, err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL(cfg, realm, account), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}
	return client, nil
}

func serviceURL(cfg Config, realm *vfskit.FileURL, account string) string {
	switch {
	case cfg.Endpoint != "":
		return cfg.Endpoint
	case realm.Host == "":
		return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}
	host := realm.Host
	if realm.Port >= 0 {
		host += ":" + strconv.Itoa(realm.Port)
	}
	return fmt.Sprintf("http://%s/%s/", host, account)
}

// Backend implements objectfs.Backend over an azblob.Client.
type Backend struct {
	client *azblob.Client
	realm  *vfskit.FileURL
}

var _ objectfs.Backend = (*Backend)(nil)

// New wraps client. realm is reported in authentication errors.
func New(client *azblob.Client, realm *vfskit.FileURL) *Backend {
	return &Backend{client: client, realm: realm}
}

func (b *Backend) containerClient(name string) *container.Client {
	return b.client.ServiceClient().NewContainerClient(name)
}

func (b *Backend) blobClient(containerName, name string) *blob.Client {
	return b.containerClient(containerName).NewBlobClient(name)
}

func (b *Backend) ListBuckets(ctx context.Context) ([]objectfs.BucketInfo, error) {
	var out []objectfs.BucketInfo
	pager := b.client.NewListContainersPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, b.mapError(err)
		}
		for _, item := range page.ContainerItems {
			if item.Name == nil {
				continue
			}
			info := objectfs.BucketInfo{Name: *item.Name, Native: item}
			if item.Properties != nil && item.Properties.LastModified != nil {
				info.Created = *item.Properties.LastModified
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (b *Backend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := b.containerClient(bucket).GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, b.mapError(err)
	}
	return true, nil
}

func (b *Backend) CreateBucket(ctx context.Context, bucket string) error {
	_, err := b.client.CreateContainer(ctx, bucket, nil)
	return b.mapError(err)
}

func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	// Azure deletes non-empty containers; keep directory semantics
	pager := b.client.NewListBlobsFlatPager(bucket, &azblob.ListBlobsFlatOptions{MaxResults: ptr(int32(1))})
	if pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return b.mapError(err)
		}
		if len(page.Segment.BlobItems) > 0 {
			return fmt.Errorf("delete container %s: %w", bucket, vfskit.ErrNotEmpty)
		}
	}
	_, err := b.client.DeleteContainer(ctx, bucket, nil)
	return b.mapError(err)
}

func (b *Backend) Stat(ctx context.Context, bucket, key string) (*objectfs.ObjectInfo, error) {
	props, err := b.blobClient(bucket, key).GetProperties(ctx, nil)
	if err != nil {
		return nil, b.mapError(err)
	}
	return &objectfs.ObjectInfo{
		Key:         key,
		Size:        deref(props.ContentLength),
		ModTime:     deref(props.LastModified),
		ETag:        etag(props.ETag),
		ContentType: deref(props.ContentType),
		Native:      props,
	}, nil
}

func (b *Backend) List(ctx context.Context, bucket, prefix string) ([]objectfs.ObjectInfo, error) {
	opts := &container.ListBlobsHierarchyOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}
	var out []objectfs.ObjectInfo
	pager := b.containerClient(bucket).NewListBlobsHierarchyPager("/", opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, b.mapError(err)
		}
		for _, p := range page.Segment.BlobPrefixes {
			if p.Name != nil {
				out = append(out, objectfs.ObjectInfo{Key: *p.Name, Prefix: true})
			}
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := objectfs.ObjectInfo{Key: *item.Name, Native: item}
			if p := item.Properties; p != nil {
				info.Size = deref(p.ContentLength)
				info.ModTime = deref(p.LastModified)
				info.ETag = etag(p.ETag)
				info.ContentType = deref(p.ContentType)
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	if length == 0 {
		// a zero Count means "to the end" for azblob
		if _, err := b.Stat(ctx, bucket, key); err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	rng := azblob.HTTPRange{Offset: offset}
	if length > 0 {
		rng.Count = length
	}
	resp, err := b.client.DownloadStream(ctx, bucket, key, &azblob.DownloadStreamOptions{Range: rng})
	if err != nil {
		return nil, b.mapError(err)
	}
	return resp.Body, nil
}

func (b *Backend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: ptr(objectfs.ContentType(key))},
	}
	_, err := b.client.UploadStream(ctx, bucket, key, r, opts)
	return b.mapError(err)
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteBlob(ctx, bucket, key, nil)
	return b.mapError(err)
}

// Copy uses a synchronous server-side CopyFromURL. The source is addressed
// through a short lived read-only SAS URL.
func (b *Backend) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src, err := b.blobClient(srcBucket, srcKey).GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(copySASExpiry), nil)
	if err != nil {
		return fmt.Errorf("sign copy source: %w", err)
	}
	_, err = b.blobClient(dstBucket, dstKey).CopyFromURL(ctx, src, nil)
	return b.mapError(err)
}

// mapError maps blob service error codes to vfskit sentinels.
func (b *Backend) mapError(err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ContainerBeingDeleted):
		sentinel = vfskit.ErrNotExist
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ContainerAlreadyExists):
		sentinel = vfskit.ErrExist
	case bloberror.HasCode(err, bloberror.AuthenticationFailed):
		return vfskit.NewAuthError(b.realm, err)
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions):
		sentinel = vfskit.ErrPermission
	}
	if sentinel == nil {
		var respErr *azcore.ResponseError
		if !errors.As(err, &respErr) {
			return err
		}
		switch respErr.StatusCode {
		case http.StatusNotFound:
			sentinel = vfskit.ErrNotExist
		case http.StatusForbidden:
			sentinel = vfskit.ErrPermission
		case http.StatusNotImplemented:
			sentinel = vfskit.ErrNotSupported
		default:
			return err
		}
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func etag(e *azcore.ETag) string {
	if e == nil {
		return ""
	}
	return strings.Trim(string(*e), `"`)
}
