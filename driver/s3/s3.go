// Package s3 implements the "s3" scheme over Amazon S3 and S3 compatible
// endpoints. URLs take the form s3://[key:secret@][endpoint]/bucket/key;
// an empty host addresses AWS.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/objectfs"
)

// Scheme is the URL scheme served by this package.
const Scheme = "s3"

// NewProvider returns the "s3" provider.
func NewProvider(cfg Config, opts ...objectfs.Option) *objectfs.Provider {
	return objectfs.New(Scheme, Factory(cfg), opts...)
}

// Factory creates one client per realm and credentials.
func Factory(cfg Config) objectfs.BackendFactory {
	return func(ctx context.Context, realm *vfskit.FileURL, creds *vfskit.Credentials) (objectfs.Backend, error) {
		client, err := newClient(ctx, cfg, realm, creds)
		if err != nil {
			return nil, err
		}
		return New(client, realm, cfg.Region), nil
	}
}

// Backend implements objectfs.Backend with the AWS SDK.
type Backend struct {
	client *s3.Client
	realm  *vfskit.FileURL
	region string
}

var _ objectfs.Backend = (*Backend)(nil)

// New wraps client. realm is reported in authentication errors.
func New(client *s3.Client, realm *vfskit.FileURL, region string) *Backend {
	return &Backend{client: client, realm: realm, region: region}
}

func (b *Backend) ListBuckets(ctx context.Context) ([]objectfs.BucketInfo, error) {
	var out []objectfs.BucketInfo
	paginator := s3.NewListBucketsPaginator(b.client, &s3.ListBucketsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.mapError(err)
		}
		for _, bucket := range page.Buckets {
			out = append(out, objectfs.BucketInfo{
				Name:    aws.ToString(bucket.Name),
				Created: aws.ToTime(bucket.CreationDate),
				Native:  bucket,
			})
		}
	}
	return out, nil
}

func (b *Backend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		err = b.mapError(err)
		if errors.Is(err, vfskit.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Backend) CreateBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint
	if b.region != "" && b.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	_, err := b.client.CreateBucket(ctx, input)
	return b.mapError(err)
}

func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	return b.mapError(err)
}

func (b *Backend) Stat(ctx context.Context, bucket, key string) (*objectfs.ObjectInfo, error) {
	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.mapError(err)
	}
	return &objectfs.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(resp.ContentLength),
		ModTime:     aws.ToTime(resp.LastModified),
		ETag:        strings.Trim(aws.ToString(resp.ETag), `"`),
		ContentType: aws.ToString(resp.ContentType),
		Native:      resp,
	}, nil
}

func (b *Backend) List(ctx context.Context, bucket, prefix string) ([]objectfs.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Delimiter: aws.String("/"),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var out []objectfs.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.mapError(err)
		}
		for _, p := range page.CommonPrefixes {
			out = append(out, objectfs.ObjectInfo{Key: aws.ToString(p.Prefix), Prefix: true})
		}
		for _, obj := range page.Contents {
			out = append(out, objectfs.ObjectInfo{
				Key:     aws.ToString(obj.Key),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
				ETag:    strings.Trim(aws.ToString(obj.ETag), `"`),
				Native:  obj,
			})
		}
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if r := httpRange(offset, length); r != "" {
		input.Range = aws.String(r)
	}
	resp, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, b.mapError(err)
	}
	return resp.Body, nil
}

// httpRange formats an HTTP Range header value, or "" for the whole object.
func httpRange(offset, length int64) string {
	switch {
	case offset <= 0 && length < 0:
		return ""
	case length < 0:
		return fmt.Sprintf("bytes=%d-", offset)
	default:
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
}

func (b *Backend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(objectfs.ContentType(key)),
	}
	_, err := b.client.PutObject(ctx, input)
	return b.mapError(err)
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return b.mapError(err)
}

func (b *Backend) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	return b.mapError(err)
}

// mapError maps S3 error codes to vfskit sentinels. The SDK error stays in
// the chain.
func (b *Backend) mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	var sentinel error
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		sentinel = vfskit.ErrNotExist
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		sentinel = vfskit.ErrExist
	case "BucketNotEmpty":
		sentinel = vfskit.ErrNotEmpty
	case "AccessDenied", "Forbidden", "AllAccessDisabled":
		sentinel = vfskit.ErrPermission
	case "NotImplemented":
		sentinel = vfskit.ErrNotSupported
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidToken", "ExpiredToken":
		return vfskit.NewAuthError(b.realm, err)
	}
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
