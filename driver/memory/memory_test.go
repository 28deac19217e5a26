package memory

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/gobeaver/vfskit/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, p *Provider, raw string) vfskit.File {
	t.Helper()
	f, err := p.NewFile(context.Background(), vfskit.MustParseURL(raw), nil)
	require.NoError(t, err)
	return f
}

func write(t *testing.T, f vfskit.File, content string) {
	t.Helper()
	w, err := f.OpenWriter(context.Background(), vfskit.WriteTruncate)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func read(t *testing.T, f vfskit.File) string {
	t.Helper()
	r, err := f.OpenReader(context.Background(), 0)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestNew(t *testing.T) {
	t.Run("creates provider with default config", func(t *testing.T) {
		p := New()
		assert.Equal(t, int64(0), p.cfg.MaxSize)
	})

	t.Run("stores are per host", func(t *testing.T) {
		p := New()
		assert.Same(t, p.Store("a"), p.Store("A"))
		assert.NotSame(t, p.Store("a"), p.Store("b"))
	})
}

func TestConformance(t *testing.T) {
	p := New()
	root := resolve(t, p, "mem://test/")

	t.Run("round trip", func(t *testing.T) {
		vfstest.RoundTrip(t, root, "hello.txt", []byte("hello world"))
	})
	t.Run("probe consistency", func(t *testing.T) {
		vfstest.CheckOperationProbeConsistency(t, root)
	})
	t.Run("unsupported operations", func(t *testing.T) {
		vfstest.CheckUnsupportedOperations(t, root)
	})
}

func TestWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("fails without parent directory", func(t *testing.T) {
		p := New()
		_, err := resolve(t, p, "mem://h/missing/file.txt").OpenWriter(ctx, vfskit.WriteTruncate)
		assert.ErrorIs(t, err, vfskit.ErrNotExist)
	})

	t.Run("respects max size limit", func(t *testing.T) {
		p := New(Config{MaxSize: 10})
		w, err := resolve(t, p, "mem://h/large.txt").OpenWriter(ctx, vfskit.WriteTruncate)
		require.NoError(t, err)
		_, err = io.WriteString(w, "this is too large")
		require.NoError(t, err)
		assert.ErrorIs(t, w.Close(), vfskit.ErrNoSpace)
		assert.Equal(t, int64(0), p.Store("h").Size())
	})

	t.Run("append", func(t *testing.T) {
		p := New()
		f := resolve(t, p, "mem://h/log.txt")
		write(t, f, "hello")
		w, err := f.OpenWriter(ctx, vfskit.WriteAppend)
		require.NoError(t, err)
		_, err = io.WriteString(w, " world")
		require.NoError(t, err)
		require.NoError(t, w.Close())
		assert.Equal(t, "hello world", read(t, f))
	})

	t.Run("writing a directory fails", func(t *testing.T) {
		p := New()
		_, err := resolve(t, p, "mem://h/").OpenWriter(ctx, vfskit.WriteTruncate)
		assert.Error(t, err)
	})
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	p := New(Config{MaxSize: 100})
	f := resolve(t, p, "mem://q/file")
	write(t, f, strings.Repeat("x", 40))

	assert.True(t, f.IsOperationSupported(vfskit.OpGetFreeSpace))
	free, err := f.FreeSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), free)
	total, err := f.TotalSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	unlimited := resolve(t, New(), "mem://q/file")
	assert.False(t, unlimited.IsOperationSupported(vfskit.OpGetFreeSpace))
	free, err = unlimited.FreeSpace(ctx)
	assert.ErrorIs(t, err, vfskit.ErrNotSupported)
	assert.Equal(t, int64(-1), free)
}

func TestDirectories(t *testing.T) {
	ctx := context.Background()
	p := New()

	dir := resolve(t, p, "mem://h/dir")
	require.NoError(t, dir.Mkdir(ctx))
	assert.ErrorIs(t, dir.Mkdir(ctx), vfskit.ErrExist)
	assert.ErrorIs(t, resolve(t, p, "mem://h/a/b").Mkdir(ctx), vfskit.ErrNotExist)

	write(t, resolve(t, p, "mem://h/dir/b.txt"), "b")
	write(t, resolve(t, p, "mem://h/dir/a.txt"), "a")
	require.NoError(t, resolve(t, p, "mem://h/dir/sub").Mkdir(ctx))
	write(t, resolve(t, p, "mem://h/dir/sub/deep.txt"), "deep")

	dir = resolve(t, p, "mem://h/dir")
	assert.True(t, dir.IsDir())
	files, err := dir.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.txt", files[0].Name())
	assert.Equal(t, "b.txt", files[1].Name())
	assert.Equal(t, "sub", files[2].Name())

	assert.ErrorIs(t, dir.Delete(ctx), vfskit.ErrNotEmpty)
	require.NoError(t, vfskit.DeleteRecursively(ctx, dir))
	assert.False(t, resolve(t, p, "mem://h/dir").Exists())
	assert.False(t, resolve(t, p, "mem://h/dir/sub/deep.txt").Exists())
	assert.Equal(t, int64(0), p.Store("h").Size())

	_, err = resolve(t, p, "mem://h/dir").List(ctx, nil)
	assert.ErrorIs(t, err, vfskit.ErrNotExist)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	p := New()
	require.NoError(t, resolve(t, p, "mem://h/src").Mkdir(ctx))
	write(t, resolve(t, p, "mem://h/src/file.txt"), "content")

	require.NoError(t, resolve(t, p, "mem://h/src").RenameTo(ctx, resolve(t, p, "mem://h/dst")))
	assert.False(t, resolve(t, p, "mem://h/src").Exists())
	assert.Equal(t, "content", read(t, resolve(t, p, "mem://h/dst/file.txt")))

	t.Run("into itself", func(t *testing.T) {
		err := resolve(t, p, "mem://h/dst").RenameTo(ctx, resolve(t, p, "mem://h/dst/inner"))
		assert.ErrorIs(t, err, vfskit.ErrInvalidName)
	})

	t.Run("across stores", func(t *testing.T) {
		err := resolve(t, p, "mem://h/dst/file.txt").RenameTo(ctx, resolve(t, p, "mem://other/file.txt"))
		assert.ErrorIs(t, err, vfskit.ErrCrossRealm)
	})

	t.Run("move falls back to copy across stores", func(t *testing.T) {
		src := resolve(t, p, "mem://h/dst/file.txt")
		dst := resolve(t, p, "mem://other/file.txt")
		require.NoError(t, vfskit.Move(ctx, src, dst))
		assert.Equal(t, "content", read(t, resolve(t, p, "mem://other/file.txt")))
		assert.False(t, resolve(t, p, "mem://h/dst/file.txt").Exists())
	})
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	p := New()
	require.NoError(t, resolve(t, p, "mem://h/tree").Mkdir(ctx))
	require.NoError(t, resolve(t, p, "mem://h/tree/sub").Mkdir(ctx))
	write(t, resolve(t, p, "mem://h/tree/a.txt"), "a")
	write(t, resolve(t, p, "mem://h/tree/sub/b.txt"), "b")

	t.Run("server side", func(t *testing.T) {
		require.NoError(t, resolve(t, p, "mem://h/tree/a.txt").CopyRemotelyTo(ctx, resolve(t, p, "mem://h/a-copy.txt")))
		assert.Equal(t, "a", read(t, resolve(t, p, "mem://h/a-copy.txt")))
	})

	t.Run("recursive across stores", func(t *testing.T) {
		require.NoError(t, vfskit.Copy(ctx, resolve(t, p, "mem://h/tree"), resolve(t, p, "mem://backup/tree")))
		assert.Equal(t, "a", read(t, resolve(t, p, "mem://backup/tree/a.txt")))
		assert.Equal(t, "b", read(t, resolve(t, p, "mem://backup/tree/sub/b.txt")))
		assert.True(t, resolve(t, p, "mem://h/tree/a.txt").Exists())
	})
}

func TestRandomWriter(t *testing.T) {
	ctx := context.Background()
	p := New()
	f := resolve(t, p, "mem://h/random")
	write(t, f, "0123456789")

	w, err := f.OpenRandomWriter(ctx)
	require.NoError(t, err)
	_, err = w.Seek(2, io.SeekStart)
	require.NoError(t, err)
	_, err = w.Write([]byte("ab"))
	require.NoError(t, err)
	_, err = w.WriteAt([]byte("Z"), 12)
	require.NoError(t, err)
	n, err := w.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
	require.NoError(t, w.Truncate(6))
	require.NoError(t, w.Close())

	assert.Equal(t, "01ab45", read(t, f))

	r, err := f.OpenRandomReader(ctx)
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf))
	require.NoError(t, r.Close())
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, vfskit.ErrClosed)
}

func TestAttributes(t *testing.T) {
	ctx := context.Background()
	p := New()
	f := resolve(t, p, "mem://h/f")
	require.NoError(t, f.Mkfile(ctx))
	assert.ErrorIs(t, f.Mkfile(ctx), vfskit.ErrExist)

	require.NoError(t, f.ChangePermissions(ctx, 0o600))
	require.NoError(t, f.ChangePermission(ctx, vfskit.AccessGroup, vfskit.PermRead, true))
	when := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.SetModTime(ctx, when))

	fresh := resolve(t, p, "mem://h/f")
	assert.Equal(t, vfskit.Permissions(0o640), fresh.Permissions().Value)
	assert.True(t, when.Equal(fresh.ModTime()))

	assert.ErrorIs(t, resolve(t, p, "mem://h/none").SetModTime(ctx, when), vfskit.ErrNotExist)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New()
	root := resolve(t, p, "mem://w/")

	w, ok := root.(vfskit.CanWatch)
	require.True(t, ok)
	token, err := w.Watch(ctx)
	require.NoError(t, err)
	assert.False(t, token.HasChanged())

	write(t, resolve(t, p, "mem://w/new.txt"), "x")
	assert.True(t, token.HasChanged())

	t.Run("deep changes do not fire a directory token", func(t *testing.T) {
		require.NoError(t, resolve(t, p, "mem://w/sub").Mkdir(ctx))
		sub := resolve(t, p, "mem://w/sub").(vfskit.CanWatch)
		rootToken, err := w.Watch(ctx)
		require.NoError(t, err)
		subToken, err := sub.Watch(ctx)
		require.NoError(t, err)

		write(t, resolve(t, p, "mem://w/sub/deep.txt"), "x")
		assert.True(t, subToken.HasChanged())
		assert.False(t, rootToken.HasChanged())
	})
}
