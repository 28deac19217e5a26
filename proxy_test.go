package vfskit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renamed struct {
	*ProxyFile
	name string
}

func (r *renamed) Name() string { return r.name }

type rot13File struct{ *ProxyFile }

func (rot13File) TransformsContent() {}

func TestProxyFile(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS()
	fs.put("/a/b.txt", "content")
	target, err := fs.NewFile(ctx, MustParseURL("file:///a/b.txt"), nil)
	require.NoError(t, err)

	p := &renamed{ProxyFile: NewProxyFile(target), name: "alias"}
	assert.Equal(t, "alias", p.Name())
	assert.Equal(t, target.URL(), p.URL())
	assert.Equal(t, int64(7), p.Size())
	assert.Equal(t, "content", readAll(t, p, 0))
	assert.True(t, Equal(p, target))

	t.Run("delegation chain", func(t *testing.T) {
		outer := NewProxyFile(p)
		assert.Same(t, target, Unwrap(outer))

		got, ok := As[*renamed](outer)
		require.True(t, ok)
		assert.Same(t, p, got)

		tf, ok := As[*testFile](outer)
		require.True(t, ok)
		assert.Same(t, target, tf)

		_, ok = As[*ArchiveFile](outer)
		assert.False(t, ok)
		assert.Same(t, target, Unwrap(target))
	})

	t.Run("content transformers hide their targets", func(t *testing.T) {
		opaque := NewProxyFile(rot13File{NewProxyFile(target)})
		_, ok := As[rot13File](opaque)
		assert.True(t, ok)
		_, ok = As[*testFile](opaque)
		assert.False(t, ok)
		assert.Same(t, target, Unwrap(opaque))
	})

	t.Run("ChildOf needs a resolver", func(t *testing.T) {
		_, err := ChildOf(ctx, p, "x")
		assert.ErrorIs(t, err, ErrNotSupported)
	})

	t.Run("optional operations fail through FileBase", func(t *testing.T) {
		assert.ErrorIs(t, p.Delete(ctx), ErrNotSupported)
		n, err := p.FreeSpace(ctx)
		assert.ErrorIs(t, err, ErrNotSupported)
		assert.Equal(t, int64(-1), n)
		assert.Equal(t, "b", p.BaseName())
		assert.Equal(t, "txt", p.Extension())
	})
}

func TestNameHelpers(t *testing.T) {
	tests := []struct{ name, ext, base string }{
		{"a.txt", "txt", "a"},
		{"a.tar.gz", "gz", "a.tar"},
		{".bashrc", "", ".bashrc"},
		{"trailing.", "", "trailing."},
		{"plain", "", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ext, ExtensionOf(tt.name), tt.name)
		assert.Equal(t, tt.base, BaseNameOf(tt.name), tt.name)
	}
}
