package vfskit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterTree(t *testing.T) File {
	t.Helper()
	fs := newTestFS()
	fs.put("/root/a.txt", "a")
	fs.put("/root/B.TXT", "b")
	fs.put("/root/.hidden", "h")
	fs.put("/root/img/photo.jpg", "p")
	fs.put("/root/img/deep/icon.png", "i")
	fs.put("/root/skip/c.txt", "c")
	f, err := fs.NewFile(context.Background(), MustParseURL("file:///root"), nil)
	require.NoError(t, err)
	return f
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	root := filterTree(t)
	list := func(filter FileFilter) []string {
		files, err := root.List(ctx, filter)
		require.NoError(t, err)
		return names(files)
	}

	assert.Equal(t, []string{".hidden", "B.TXT", "a.txt", "img", "skip"}, list(nil))
	assert.Equal(t, []string{"B.TXT", "a.txt"}, list(MustGlobFilter("*.txt")))
	assert.Equal(t, []string{"B.TXT", "a.txt"}, list(ExtensionFilter(".TXT")))
	assert.Equal(t, []string{"B.TXT", "a.txt", "img", "skip"}, list(VisibleFilter()))
	assert.Equal(t, []string{"img", "skip"}, list(DirFilter()))
	assert.Equal(t, []string{".hidden", "B.TXT", "a.txt"}, list(RegularFilter()))
	assert.Equal(t, []string{"a.txt"}, list(AndFilter(RegularFilter(), VisibleFilter(), MustGlobFilter("a*"))))
	assert.Equal(t, []string{".hidden", "img"}, list(OrFilter(MustGlobFilter("img"), NotFilter(VisibleFilter()))))
	assert.Equal(t, []string{"B.TXT", "a.txt", "img", "skip"}, list(FilterFunc(func(f File) bool { return !f.IsHidden() })))

	t.Run("glob syntax", func(t *testing.T) {
		assert.Equal(t, []string{"a.txt"}, list(MustGlobFilter("a.{txt,md}")))
		assert.Equal(t, []string{"B.TXT", "a.txt"}, list(MustGlobFilter("[a-b].txt")))
		_, err := GlobFilter("[")
		assert.Error(t, err)
		assert.Panics(t, func() { MustGlobFilter("[") })
	})
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	root := filterTree(t)

	var visited []string
	err := Walk(ctx, root, func(f File, depth int) error {
		visited = append(visited, f.URL().Path)
		if f.Name() == "skip" {
			return SkipDir
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/root/.hidden",
		"/root/B.TXT",
		"/root/a.txt",
		"/root/img",
		"/root/img/deep",
		"/root/img/deep/icon.png",
		"/root/img/photo.jpg",
		"/root/skip",
	}, visited)

	t.Run("depth", func(t *testing.T) {
		depths := make(map[string]int)
		require.NoError(t, Walk(ctx, root, func(f File, depth int) error {
			depths[f.Name()] = depth
			return nil
		}))
		assert.Equal(t, 1, depths["img"])
		assert.Equal(t, 2, depths["deep"])
		assert.Equal(t, 3, depths["icon.png"])
	})

	t.Run("stops on error", func(t *testing.T) {
		stop := errors.New("stop")
		n := 0
		err := Walk(ctx, root, func(f File, depth int) error {
			n++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, n)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Walk(cctx, root, func(f File, depth int) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFindFiles(t *testing.T) {
	ctx := context.Background()
	root := filterTree(t)

	images, err := FindFiles(ctx, root, ExtensionFilter("jpg", "png"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"icon.png", "photo.jpg"}, names(images))

	shallow, err := FindFiles(ctx, root, RegularFilter(), NotFilter(MustGlobFilter("{img,skip}")))
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden", "B.TXT", "a.txt"}, names(shallow))
}
