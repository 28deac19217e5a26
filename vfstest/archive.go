package vfstest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"testing"

	"github.com/gobeaver/vfskit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// CheckArchive opens container as format and requires the archive to hold
// exactly files, a map of entry path to content. Directories are inferred
// from the paths. It checks navigation, listing, iterator determinism and
// concurrent extraction, and returns the archive for further checks.
func CheckArchive(t *testing.T, container vfskit.File, format *vfskit.ArchiveFormat, files map[string]string) *vfskit.ArchiveFile {
	t.Helper()
	ctx := context.Background()

	a, err := vfskit.NewArchiveFile(container, format, vfskit.ArchiveFileOptions{})
	require.NoError(t, err)
	assert.True(t, a.IsArchive())
	assert.True(t, a.IsBrowsable())
	assert.True(t, a.IsOperationSupported(vfskit.OpList))

	t.Run("entries", func(t *testing.T) {
		for p, content := range files {
			e, err := a.Entry(ctx, p)
			require.NoError(t, err)
			require.True(t, e.Exists(), "entry %s", p)
			assert.False(t, e.IsDir())
			assert.Equal(t, path.Base(p), e.Name())
			assert.Equal(t, int64(len(content)), e.Size(), "size of %s", p)
			assert.Equal(t, content, readAll(t, e), "content of %s", p)
			CheckUnsupportedOperations(t, e)
		}

		missing, err := a.Entry(ctx, "no/such/entry")
		require.NoError(t, err)
		assert.False(t, missing.Exists())
		_, err = missing.OpenReader(ctx, 0)
		assert.ErrorIs(t, err, vfskit.ErrNotExist)
	})

	t.Run("listing", func(t *testing.T) {
		want := map[string]bool{}
		for p := range files {
			want[strings.SplitN(p, "/", 2)[0]] = true
		}
		children, err := a.List(ctx, nil)
		require.NoError(t, err)
		var got []string
		for _, c := range children {
			got = append(got, c.Name())
		}
		assert.ElementsMatch(t, keys(want), got)

		for p := range files {
			dir := path.Dir(p)
			if dir == "." {
				continue
			}
			d, err := a.Entry(ctx, dir)
			require.NoError(t, err)
			assert.True(t, d.IsDir(), "%s is a directory", dir)
			assert.True(t, d.IsBrowsable())
			_, err = d.OpenReader(ctx, 0)
			assert.Error(t, err)
		}
	})

	t.Run("parent chain", func(t *testing.T) {
		for p := range files {
			e, err := a.Entry(ctx, p)
			require.NoError(t, err)
			for i := strings.Count(p, "/"); i >= 0; i-- {
				e, err = e.Parent(ctx)
				require.NoError(t, err)
				require.NotNil(t, e)
			}
			assert.True(t, vfskit.Equal(a, e), "parent chain of %s ends at the archive", p)
		}
	})

	t.Run("iterator determinism", func(t *testing.T) {
		first := iterate(t, a)
		second := iterate(t, a)
		assert.Equal(t, first, second)
	})

	t.Run("concurrent extraction", func(t *testing.T) {
		want := make(map[string][32]byte, len(files))
		for p, content := range files {
			want[p] = sha256.Sum256([]byte(content))
		}
		g, ctx := errgroup.WithContext(ctx)
		for p, sum := range want {
			g.Go(func() error {
				e, err := a.Entry(ctx, p)
				if err != nil {
					return err
				}
				r, err := e.OpenReader(ctx, 0)
				if err != nil {
					return err
				}
				defer r.Close()
				h := sha256.New()
				if _, err := io.Copy(h, r); err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
				if got := [32]byte(h.Sum(nil)); got != sum {
					return fmt.Errorf("%s: checksum mismatch", p)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
	})

	return a
}

func iterate(t *testing.T, a *vfskit.ArchiveFile) []string {
	t.Helper()
	it, err := a.EntryIterator(context.Background())
	require.NoError(t, err)
	defer it.Close()
	var out []string
	for {
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, e.Path)
	}
}

func readAll(t *testing.T, f vfskit.File) string {
	t.Helper()
	r, err := f.OpenReader(context.Background(), 0)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
