package compress

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobeaver/vfskit"
	vfstar "github.com/gobeaver/vfskit/archive/tar"
	"github.com/gobeaver/vfskit/driver/local"
	"github.com/gobeaver/vfskit/vfstest"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) vfskit.File {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	f, err := local.New().FromPath(p)
	require.NoError(t, err)
	return f
}

func gzipped(t *testing.T, data []byte, modTime time.Time) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.ModTime = modTime
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func formatNamed(t *testing.T, name string) *vfskit.ArchiveFormat {
	t.Helper()
	for _, f := range Formats() {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no format %s", name)
	return nil
}

func TestGzip(t *testing.T) {
	modTime := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	content := "line one\nline two\n"
	container := writeFile(t, "notes.txt.gz", gzipped(t, []byte(content), modTime))

	a := vfstest.CheckArchive(t, container, formatNamed(t, "gz"), map[string]string{"notes.txt": content})
	e, err := a.Entry(context.Background(), "notes.txt")
	require.NoError(t, err)
	assert.True(t, e.ModTime().Equal(modTime))
}

func TestZstd(t *testing.T) {
	content := string(bytes.Repeat([]byte("zstd "), 1000))
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	container := writeFile(t, "words.zst", buf.Bytes())
	vfstest.CheckArchive(t, container, formatNamed(t, "zst"), map[string]string{"words": content})
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "a.txt", EntryName("a.txt.gz", ".gz"))
	assert.Equal(t, "A.TXT", EntryName("A.TXT.GZ", ".gz"))
	assert.Equal(t, "data", EntryName(".gz", ".gz"))
	assert.Equal(t, "blob", EntryName("blob", ".zst"))
}

func TestNestedTar(t *testing.T) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: "top.txt", Size: 3, Mode: 0o644}))
	_, err := io.WriteString(tw, "top")
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	container := writeFile(t, "bundle.tar.gz", gzipped(t, tarBuf.Bytes(), time.Time{}))

	// without the tgz format, the gzip layer and the tar inside it are
	// opened one after the other
	formats, err := vfskit.NewArchiveFormats(append(Formats(), vfstar.Format(vfstar.None))...)
	require.NoError(t, err)
	reg := vfskit.NewRegistry(vfskit.WithArchiveFormats(formats))
	reg.Register(vfskit.FileScheme, local.New())

	f, err := reg.ResolveURL(context.Background(), container.URL().Child("bundle.tar").Child("top.txt"), nil)
	require.NoError(t, err)
	require.True(t, f.Exists())
	assert.Equal(t, int64(3), f.Size())
}

func TestSniff(t *testing.T) {
	formats, err := vfskit.NewArchiveFormats(Formats()...)
	require.NoError(t, err)
	assert.Equal(t, "gz", formats.Sniff([]byte{0x1F, 0x8B, 0x08}).Name)
	assert.Equal(t, "bz2", formats.Sniff([]byte("BZh91AY")).Name)
	assert.Equal(t, "zst", formats.Sniff([]byte{0x28, 0xB5, 0x2F, 0xFD, 0x00}).Name)
}
