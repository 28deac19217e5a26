package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/googleapi"
)

func TestMapError(t *testing.T) {
	realm := vfskit.MustParseURL("gs:///")
	b := New(nil, realm, "project")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing object", storage.ErrObjectNotExist, vfskit.ErrNotExist},
		{"missing bucket", fmt.Errorf("attrs: %w", storage.ErrBucketNotExist), vfskit.ErrNotExist},
		{"404", &googleapi.Error{Code: http.StatusNotFound}, vfskit.ErrNotExist},
		{"409", &googleapi.Error{Code: http.StatusConflict}, vfskit.ErrExist},
		{"409 not empty", &googleapi.Error{
			Code:   http.StatusConflict,
			Errors: []googleapi.ErrorItem{{Reason: "conflict", Message: "The bucket you tried to delete is not empty."}},
		}, vfskit.ErrNotEmpty},
		{"403", &googleapi.Error{Code: http.StatusForbidden}, vfskit.ErrPermission},
		{"501", &googleapi.Error{Code: http.StatusNotImplemented}, vfskit.ErrNotSupported},
		{"401", &googleapi.Error{Code: http.StatusUnauthorized}, vfskit.ErrAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.mapError(tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("passes other errors through", func(t *testing.T) {
		plain := errors.New("boom")
		assert.Same(t, plain, b.mapError(plain))
		assert.NoError(t, b.mapError(nil))
	})
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(Config{}, vfskit.MustParseURL("gs:///")))
	assert.Len(t, clientOptions(Config{CredentialsFile: "/etc/key.json"}, vfskit.MustParseURL("gs:///")), 1)
	assert.Len(t, clientOptions(Config{CredentialsFile: "/etc/key.json"}, vfskit.MustParseURL("gs://localhost:4443/")), 3)
}

func TestListBucketsNeedsProject(t *testing.T) {
	b := New(nil, vfskit.MustParseURL("gs:///"), "")
	_, err := b.ListBuckets(context.Background())
	assert.ErrorIs(t, err, vfskit.ErrNotSupported)
}

func startEmulator(t *testing.T) *vfskit.FileURL {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "fsouza/fake-gcs-server:latest",
			ExposedPorts: []string{"4443/tcp"},
			Cmd:          []string{"-scheme", "http", "-port", "4443"},
			WaitingFor:   wait.ForHTTP("/storage/v1/b").WithPort("4443/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start fake-gcs-server")
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(endpoint)
	require.NoError(t, err)
	return vfskit.MustParseURL("gs://" + host + ":" + port + "/")
}

func TestEmulatorIntegration(t *testing.T) {
	realm := startEmulator(t)
	ctx := context.Background()
	p := NewProvider(Config{ProjectID: "vfskit-test"})

	root, err := p.NewFile(ctx, realm, nil)
	require.NoError(t, err)
	bucket, err := vfskit.ChildOf(ctx, root, "vfskit")
	require.NoError(t, err)
	require.NoError(t, bucket.Mkdir(ctx))

	t.Run("round trip", func(t *testing.T) {
		vfstest.RoundTrip(t, bucket, "hello.txt", []byte("hello, gcs"))
	})

	t.Run("offset read", func(t *testing.T) {
		f, err := vfskit.ChildOf(ctx, bucket, "digits.txt")
		require.NoError(t, err)
		w, err := f.OpenWriter(ctx, vfskit.WriteTruncate)
		require.NoError(t, err)
		_, err = io.WriteString(w, "0123456789")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		r, err := f.OpenReader(ctx, 7)
		require.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "789", string(data))
	})

	t.Run("remote copy", func(t *testing.T) {
		src, err := vfskit.ChildOf(ctx, bucket, "digits.txt")
		require.NoError(t, err)
		dst, err := vfskit.ChildOf(ctx, bucket, "copy.txt")
		require.NoError(t, err)
		require.NoError(t, src.CopyRemotelyTo(ctx, dst))

		fresh, err := p.NewFile(ctx, realm.Child("vfskit").Child("copy.txt"), nil)
		require.NoError(t, err)
		assert.True(t, fresh.Exists())
		assert.Equal(t, int64(10), fresh.Size())
	})
}
