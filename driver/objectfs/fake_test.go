package objectfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/vfskit"
)

// fakeBackend is an in-memory Backend.
type fakeBackend struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	gets    int
}

func newFakeBackend(buckets ...string) *fakeBackend {
	b := &fakeBackend{buckets: make(map[string]map[string][]byte)}
	for _, name := range buckets {
		b.buckets[name] = make(map[string][]byte)
	}
	return b
}

func (b *fakeBackend) bucket(name string) (map[string][]byte, error) {
	objs, ok := b.buckets[name]
	if !ok {
		return nil, fmt.Errorf("%w: bucket %s", vfskit.ErrNotExist, name)
	}
	return objs, nil
}

func (b *fakeBackend) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []BucketInfo
	for name := range b.buckets {
		out = append(out, BucketInfo{Name: name, Created: time.Unix(1700000000, 0)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *fakeBackend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.buckets[bucket]
	return ok, nil
}

func (b *fakeBackend) CreateBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket]; ok {
		return vfskit.ErrExist
	}
	b.buckets[bucket] = make(map[string][]byte)
	return nil
}

func (b *fakeBackend) DeleteBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	objs, err := b.bucket(bucket)
	if err != nil {
		return err
	}
	if len(objs) > 0 {
		return vfskit.ErrNotEmpty
	}
	delete(b.buckets, bucket)
	return nil
}

func (b *fakeBackend) Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	objs, err := b.bucket(bucket)
	if err != nil {
		return nil, err
	}
	data, ok := objs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vfskit.ErrNotExist, key)
	}
	return &ObjectInfo{Key: key, Size: int64(len(data)), ModTime: time.Unix(1700000000, 0), Native: key}, nil
}

func (b *fakeBackend) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	objs, err := b.bucket(bucket)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []ObjectInfo
	for key, data := range objs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			p := prefix + rest[:i+1]
			if !seen[p] {
				seen[p] = true
				out = append(out, ObjectInfo{Key: p, Prefix: true})
			}
			continue
		}
		out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *fakeBackend) Get(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	objs, err := b.bucket(bucket)
	if err != nil {
		return nil, err
	}
	data, ok := objs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vfskit.ErrNotExist, key)
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	data = data[offset:]
	if length >= 0 && length < int64(len(data)) {
		data = data[:length]
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (b *fakeBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: got %d bytes, declared %d", len(data), size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	objs, err := b.bucket(bucket)
	if err != nil {
		return err
	}
	objs[key] = data
	return nil
}

func (b *fakeBackend) Delete(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	objs, err := b.bucket(bucket)
	if err != nil {
		return err
	}
	if _, ok := objs[key]; !ok {
		return fmt.Errorf("%w: %s", vfskit.ErrNotExist, key)
	}
	delete(objs, key)
	return nil
}

func (b *fakeBackend) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, err := b.bucket(srcBucket)
	if err != nil {
		return err
	}
	data, ok := src[srcKey]
	if !ok {
		return fmt.Errorf("%w: %s", vfskit.ErrNotExist, srcKey)
	}
	dst, err := b.bucket(dstBucket)
	if err != nil {
		return err
	}
	dst[dstKey] = bytes.Clone(data)
	return nil
}
