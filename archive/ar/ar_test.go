package ar

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/gobeaver/vfskit"
	vfstar "github.com/gobeaver/vfskit/archive/tar"
	"github.com/gobeaver/vfskit/driver/local"
	"github.com/gobeaver/vfskit/vfstest"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	name string
	data string
}

func buildAr(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	require.NoError(t, w.WriteGlobalHeader())
	for _, m := range members {
		require.NoError(t, w.WriteHeader(&ar.Header{
			Name:    m.name,
			ModTime: time.Unix(1700000000, 0),
			Uid:     1000,
			Gid:     100,
			Mode:    0o644,
			Size:    int64(len(m.data)),
		}))
		_, err := w.Write([]byte(m.data))
		require.NoError(t, err)
	}
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
	longName := "a_name_longer_than_sixteen_bytes.o"
	data := buildAr(t,
		member{"/", "symbol table"},
		member{"//", longName + "/\n"},
		member{"short.o/", "odd"},
		member{"/0", "long member"},
		member{"#1/12", "bsd_name.txtbsd content"},
	)
	container := writeFile(t, "libsample.a", data)

	a := vfstest.CheckArchive(t, container, Format(), map[string]string{
		"short.o":      "odd",
		longName:       "long member",
		"bsd_name.txt": "bsd content",
	})

	e, err := a.Entry(context.Background(), "short.o")
	require.NoError(t, err)
	assert.Equal(t, "1000", e.Owner())
	assert.Equal(t, "100", e.Group())
	assert.Equal(t, vfskit.Permissions(0o644), e.Permissions().Value)
	assert.True(t, e.ModTime().Equal(time.Unix(1700000000, 0)))
}

func TestNotAnArchive(t *testing.T) {
	container := writeFile(t, "fake.a", []byte("definitely not ar"))
	a, err := vfskit.NewArchiveFile(container, Format(), vfskit.ArchiveFileOptions{})
	require.NoError(t, err)
	_, err = a.List(context.Background(), nil)
	assert.Error(t, err)
}

func TestBadLongNameReference(t *testing.T) {
	container := writeFile(t, "bad.a", buildAr(t, member{"//", "x/\n"}, member{"/99", "data"}))
	a, err := vfskit.NewArchiveFile(container, Format(), vfskit.ArchiveFileOptions{})
	require.NoError(t, err)
	_, err = a.List(context.Background(), nil)
	assert.Error(t, err)
}

func TestDebianPackage(t *testing.T) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	control := "Package: sample\nVersion: 1.0\n"
	require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: "./control", Size: int64(len(control)), Mode: 0o644}))
	_, err := io.WriteString(tw, control)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err = gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	container := writeFile(t, "sample_1.0_all.deb", buildAr(t,
		member{"debian-binary", "2.0\n"},
		member{"control.tar.gz", gzBuf.String()},
	))

	formats, err := vfskit.NewArchiveFormats(append(vfstar.Formats(), Format())...)
	require.NoError(t, err)
	reg := vfskit.NewRegistry(vfskit.WithArchiveFormats(formats))
	reg.Register(vfskit.FileScheme, local.New())

	ctx := context.Background()
	f, err := reg.ResolveURL(ctx, container.URL().Child("control.tar.gz").Child("control"), nil)
	require.NoError(t, err)
	require.True(t, f.Exists())
	r, err := f.OpenReader(ctx, 0)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, control, string(got))
}

func TestPatterns(t *testing.T) {
	formats, err := vfskit.NewArchiveFormats(Format())
	require.NoError(t, err)
	for _, name := range []string{"libc.a", "pkg.deb", "x.ar"} {
		assert.NotNil(t, formats.Match(name), name)
	}
	assert.Equal(t, Name, formats.Sniff([]byte("!<arch>\ndebian")).Name)
}
