package azure

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	azuriteAccount = "devstoreaccount1"
	azuriteKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

func TestMapError(t *testing.T) {
	realm := vfskit.MustParseURL("azure:///")
	b := New(nil, realm)

	tests := []struct {
		name string
		err  *azcore.ResponseError
		want error
	}{
		{"blob not found", &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: http.StatusNotFound}, vfskit.ErrNotExist},
		{"container not found", &azcore.ResponseError{ErrorCode: "ContainerNotFound", StatusCode: http.StatusNotFound}, vfskit.ErrNotExist},
		{"container exists", &azcore.ResponseError{ErrorCode: "ContainerAlreadyExists", StatusCode: http.StatusConflict}, vfskit.ErrExist},
		{"authorization", &azcore.ResponseError{ErrorCode: "AuthorizationFailure", StatusCode: http.StatusForbidden}, vfskit.ErrPermission},
		{"bare 403", &azcore.ResponseError{StatusCode: http.StatusForbidden}, vfskit.ErrPermission},
		{"bare 404", &azcore.ResponseError{StatusCode: http.StatusNotFound}, vfskit.ErrNotExist},
		{"authentication", &azcore.ResponseError{ErrorCode: "AuthenticationFailed", StatusCode: http.StatusForbidden}, vfskit.ErrAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.mapError(tt.err)
			assert.ErrorIs(t, err, tt.want)
			var respErr *azcore.ResponseError
			assert.ErrorAs(t, err, &respErr)
		})
	}

	t.Run("passes other errors through", func(t *testing.T) {
		plain := errors.New("boom")
		assert.Same(t, plain, b.mapError(plain))
		unknown := &azcore.ResponseError{StatusCode: http.StatusTeapot}
		assert.Same(t, error(unknown), b.mapError(unknown))
		assert.NoError(t, b.mapError(nil))
	})
}

func TestServiceURL(t *testing.T) {
	assert.Equal(t, "https://acct.blob.core.windows.net/",
		serviceURL(Config{}, vfskit.MustParseURL("azure:///"), "acct"))
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/",
		serviceURL(Config{}, vfskit.MustParseURL("azure://127.0.0.1:10000/"), "devstoreaccount1"))
	assert.Equal(t, "https://custom.example/",
		serviceURL(Config{Endpoint: "https://custom.example/"}, vfskit.MustParseURL("azure://127.0.0.1:10000/"), "acct"))
}

func TestNewClient(t *testing.T) {
	t.Run("requires credentials", func(t *testing.T) {
		_, err := newClient(Config{}, vfskit.MustParseURL("azure:///"), nil)
		assert.ErrorIs(t, err, vfskit.ErrAuthFailed)
	})

	t.Run("rejects a malformed key", func(t *testing.T) {
		_, err := newClient(Config{AccountName: "acct", AccountKey: "not base64!"}, vfskit.MustParseURL("azure:///"), nil)
		assert.ErrorIs(t, err, vfskit.ErrAuthFailed)
	})

	t.Run("prefers URL credentials", func(t *testing.T) {
		creds := &vfskit.Credentials{Login: "urlacct", Password: azuriteKey}
		c, err := newClient(Config{AccountName: "cfg", AccountKey: azuriteKey}, vfskit.MustParseURL("azure:///"), creds)
		require.NoError(t, err)
		assert.Equal(t, "https://urlacct.blob.core.windows.net/", c.URL())
	})
}

func startAzurite(t *testing.T) *vfskit.FileURL {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mcr.microsoft.com/azure-storage/azurite:latest",
			ExposedPorts: []string{"10000/tcp"},
			Cmd:          []string{"azurite-blob", "--blobHost", "0.0.0.0", "--skipApiVersionCheck"},
			WaitingFor:   wait.ForListeningPort("10000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Azurite")
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(endpoint)
	require.NoError(t, err)
	return vfskit.MustParseURL("azure://" + host + ":" + port + "/")
}

func TestAzuriteIntegration(t *testing.T) {
	realm := startAzurite(t)
	ctx := context.Background()
	p := NewProvider(Config{AccountName: azuriteAccount, AccountKey: azuriteKey})

	root, err := p.NewFile(ctx, realm, nil)
	require.NoError(t, err)
	bucket, err := vfskit.ChildOf(ctx, root, "vfskit")
	require.NoError(t, err)
	require.NoError(t, bucket.Mkdir(ctx))

	t.Run("round trip", func(t *testing.T) {
		vfstest.RoundTrip(t, bucket, "hello.txt", []byte("hello, azure"))
	})

	t.Run("range read and copy", func(t *testing.T) {
		f, err := vfskit.ChildOf(ctx, bucket, "digits.txt")
		require.NoError(t, err)
		w, err := f.OpenWriter(ctx, vfskit.WriteTruncate)
		require.NoError(t, err)
		_, err = io.WriteString(w, "0123456789")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		r, err := f.OpenRandomReader(ctx)
		require.NoError(t, err)
		defer r.Close()
		buf := make([]byte, 2)
		_, err = r.ReadAt(buf, 3)
		require.NoError(t, err)
		assert.Equal(t, "34", string(buf))

		dst, err := vfskit.ChildOf(ctx, bucket, "copy.txt")
		require.NoError(t, err)
		require.NoError(t, f.CopyRemotelyTo(ctx, dst))
		fresh, err := p.NewFile(ctx, realm.Child("vfskit").Child("copy.txt"), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(10), fresh.Size())
	})

	t.Run("non-empty container", func(t *testing.T) {
		err := bucket.Delete(ctx)
		assert.ErrorIs(t, err, vfskit.ErrNotEmpty)
	})
}
