package defaults

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gobeaver/vfskit"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *vfskit.Config {
	return &vfskit.Config{
		ArchiveIndexCacheTTL:  300,
		ArchiveIndexCacheSize: 64,
		ExtractBufferSize:     65536,
		ConnectionIdleTimeout: 60,
		ConnectionKeepAlive:   30,
		SFTPTimeout:           30,
		S3Region:              "us-east-1",
		MinIOUseSSL:           true,
		SearchConcurrency:     4,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

func writeTarGz(t *testing.T, p string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	v, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	assert.ElementsMatch(t, Schemes, v.Schemes())
	assert.ElementsMatch(t,
		[]string{"zip", "tar", "tgz", "tbz2", "tzst", "gz", "bz2", "zst", "ar", "7z", "rar"},
		v.Formats().Names())
	require.NotNil(t, v.Bookmarks)

	dir := t.TempDir()
	writeTarGz(t, filepath.Join(dir, "release.tar.gz"), map[string]string{"bin/app": "#!/bin/sh\necho hi\n"})

	t.Run("resolves into archives", func(t *testing.T) {
		f, err := v.Resolve(ctx, "file://"+filepath.ToSlash(dir)+"/release.tar.gz/bin/app", nil)
		require.NoError(t, err)
		require.True(t, f.Exists())
		rc, err := f.OpenReader(ctx, 0)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))
	})

	t.Run("bookmarks and search see the registry", func(t *testing.T) {
		require.NoError(t, v.Bookmarks.Add("work", "file://"+filepath.ToSlash(dir)))
		f, err := v.Resolve(ctx, "bookmark:///work/release.tar.gz", nil)
		require.NoError(t, err)
		assert.True(t, f.IsArchive())

		s, err := v.Resolve(ctx, "search:///?start=bookmark%3A%2F%2F%2Fwork&name=*.gz", nil)
		require.NoError(t, err)
		found, err := s.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "release.tar.gz", found[0].Name())
	})
}

func TestNewSelections(t *testing.T) {
	t.Run("subset", func(t *testing.T) {
		cfg := testConfig()
		cfg.Schemes = "file, MEM"
		cfg.ArchiveFormats = "zip,tgz"
		cfg.ArchiveIndexCacheTTL = 0
		v, err := New(cfg)
		require.NoError(t, err)
		defer v.Close()
		assert.ElementsMatch(t, []string{"file", "mem"}, v.Schemes())
		assert.ElementsMatch(t, []string{"zip", "tgz"}, v.Formats().Names())
		assert.Nil(t, v.IndexCache())
		assert.Nil(t, v.Bookmarks)
	})

	tests := []struct {
		name   string
		modify func(c *vfskit.Config)
	}{
		{"unknown scheme", func(c *vfskit.Config) { c.Schemes = "file,gopher" }},
		{"unknown format", func(c *vfskit.Config) { c.ArchiveFormats = "zip,arj" }},
		{"bad log level", func(c *vfskit.Config) { c.LogLevel = "loud" }},
		{"bad log format", func(c *vfskit.Config) { c.LogFormat = "xml" }},
		{"missing private key", func(c *vfskit.Config) { c.SFTPPrivateKeyFile = filepath.Join(t.TempDir(), "nope") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"
	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log, err = NewLogger(&vfskit.Config{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestGlobalInstance(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("BEAVER_VFSKIT_SCHEMES", "file,mem")
	t.Setenv("BEAVER_VFSKIT_BOOKMARKS_FILE", filepath.Join(t.TempDir(), "bookmarks.yaml"))

	v1, err := Default()
	require.NoError(t, err)
	v2, err := Default()
	require.NoError(t, err)
	assert.Same(t, v1, v2)
	assert.ElementsMatch(t, []string{"file", "mem"}, v1.Schemes())

	Reset()
	v3, err := Default()
	require.NoError(t, err)
	assert.NotSame(t, v1, v3)
}

func TestBuilder(t *testing.T) {
	t.Setenv("APP_VFSKIT_SCHEMES", "mem")
	v, err := WithPrefix("APP_").New()
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, []string{"mem"}, v.Schemes())
}
