package zip

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/driver/local"
	"github.com/gobeaver/vfskit/vfstest"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = map[string]string{
	"readme.txt":          "top level",
	"docs/guide.md":       "# Guide\n",
	"docs/deep/notes.txt": "deeply nested",
	"empty.txt":           "",
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
		hdr.SetMode(0o640)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) vfskit.File {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	f, err := local.New().FromPath(p)
	require.NoError(t, err)
	return f
}

func TestArchive(t *testing.T) {
	container := writeFile(t, "sample.zip", buildZip(t, sample))
	a := vfstest.CheckArchive(t, container, Format(), sample)

	t.Run("unix permissions", func(t *testing.T) {
		e, err := a.Entry(context.Background(), "readme.txt")
		require.NoError(t, err)
		perms := e.Permissions()
		assert.Equal(t, vfskit.AllPermissions, perms.Mask)
		assert.Equal(t, vfskit.Permissions(0o640), perms.Value)
	})

	t.Run("modification time", func(t *testing.T) {
		e, err := a.Entry(context.Background(), "docs/guide.md")
		require.NoError(t, err)
		assert.True(t, e.ModTime().Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	})
}

func TestOpenEntryFromIterator(t *testing.T) {
	ctx := context.Background()
	container := writeFile(t, "sample.zip", buildZip(t, sample))
	a, err := vfskit.NewArchiveFile(container, Format(), vfskit.ArchiveFileOptions{})
	require.NoError(t, err)

	it, err := a.EntryIterator(ctx)
	require.NoError(t, err)
	defer it.Close()

	got := map[string]string{}
	for {
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		rc, err := a.OpenEntry(ctx, e, it)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		got[e.Path] = string(data)
	}
	assert.Equal(t, sample, got)
}

func TestShadowedEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, content := range []string{"first", "second"} {
		w, err := zw.Create("dup.txt")
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	container := writeFile(t, "dup.zip", buf.Bytes())
	a, err := vfskit.NewArchiveFile(container, Format(), vfskit.ArchiveFileOptions{})
	require.NoError(t, err)

	e, err := a.Entry(context.Background(), "dup.txt")
	require.NoError(t, err)
	r, err := e.OpenReader(context.Background(), 0)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestCorruptArchive(t *testing.T) {
	container := writeFile(t, "broken.zip", []byte("this is not a zip file"))
	a, err := vfskit.NewArchiveFile(container, Format(), vfskit.ArchiveFileOptions{})
	require.NoError(t, err, "opening does no I/O")

	_, err = a.List(context.Background(), nil)
	require.Error(t, err)
	var pe *vfskit.PathError
	assert.ErrorAs(t, err, &pe)
}

func TestLimits(t *testing.T) {
	container := writeFile(t, "sample.zip", buildZip(t, sample))
	a, err := vfskit.NewArchiveFile(container, Format(), vfskit.ArchiveFileOptions{
		Limits: vfskit.ArchiveLimits{MaxEntries: 2},
	})
	require.NoError(t, err)
	_, err = a.List(context.Background(), nil)
	assert.ErrorIs(t, err, vfskit.ErrArchiveLimit)
}

func TestNestedResolution(t *testing.T) {
	ctx := context.Background()
	inner := buildZip(t, map[string]string{"inner/hello.txt": "hello from inside"})
	outer := buildZip(t, map[string]string{"lib/inner.jar": string(inner), "top.txt": "top"})
	container := writeFile(t, "outer.zip", outer)

	formats, err := vfskit.NewArchiveFormats(Format())
	require.NoError(t, err)
	reg := vfskit.NewRegistry(vfskit.WithArchiveFormats(formats))
	reg.Register(vfskit.FileScheme, local.New())

	u := container.URL().Child("lib").Child("inner.jar").Child("inner").Child("hello.txt")
	f, err := reg.ResolveURL(ctx, u, nil)
	require.NoError(t, err)
	require.True(t, f.Exists())
	r, err := f.OpenReader(ctx, 6)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "from inside", string(data))

	t.Run("sizes come from the central directory", func(t *testing.T) {
		zr, err := zip.NewReader(bytes.NewReader(inner), int64(len(inner)))
		require.NoError(t, err)
		var want int64 = -1
		for _, zf := range zr.File {
			if zf.Name == "inner/hello.txt" {
				want = int64(zf.UncompressedSize64)
			}
		}
		require.Equal(t, int64(len("hello from inside")), want)
		assert.Equal(t, want, f.Size())

		full, err := f.OpenReader(ctx, 0)
		require.NoError(t, err)
		defer full.Close()
		n, err := io.Copy(io.Discard, full)
		require.NoError(t, err)
		assert.Equal(t, want, n)

		jar, err := reg.ResolveURL(ctx, container.URL().Child("lib").Child("inner.jar"), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(len(inner)), jar.Size())
	})

	t.Run("listing wraps nested archives", func(t *testing.T) {
		lib, err := reg.ResolveURL(ctx, container.URL().Child("lib"), nil)
		require.NoError(t, err)
		children, err := lib.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.True(t, children[0].IsArchive())
		assert.True(t, children[0].IsBrowsable())
	})

	t.Run("format scheme", func(t *testing.T) {
		u := container.URL().Clone()
		u.Scheme = Name
		f, err := reg.ResolveURL(ctx, u.Child("top.txt"), nil)
		require.NoError(t, err)
		assert.True(t, f.Exists())

		u.Host = "local"
		f, err = reg.ResolveURL(ctx, u.Child("top.txt"), nil)
		require.NoError(t, err)
		assert.True(t, f.Exists())
	})
}

func TestPatterns(t *testing.T) {
	formats, err := vfskit.NewArchiveFormats(Format())
	require.NoError(t, err)
	for _, name := range []string{"a.zip", "App.JAR", "book.epub", "report.docx"} {
		assert.NotNil(t, formats.Match(name), name)
	}
	assert.Nil(t, formats.Match("a.tar"))
	assert.Equal(t, Name, formats.Sniff([]byte("PK\x03\x04rest")).Name)
}
