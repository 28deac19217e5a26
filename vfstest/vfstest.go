// Package vfstest provides conformance checks for vfskit.File
// implementations.
package vfstest

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invokers call the File method behind each operation.
var invokers = map[vfskit.Operation]func(ctx context.Context, f vfskit.File) error{
	vfskit.OpRead: func(ctx context.Context, f vfskit.File) error {
		return closeIfOpened(f.OpenReader(ctx, 0))
	},
	vfskit.OpRandomRead: func(ctx context.Context, f vfskit.File) error {
		return closeIfOpened(f.OpenRandomReader(ctx))
	},
	vfskit.OpWrite: func(ctx context.Context, f vfskit.File) error {
		return closeIfOpened(f.OpenWriter(ctx, vfskit.WriteTruncate))
	},
	vfskit.OpAppend: func(ctx context.Context, f vfskit.File) error {
		return closeIfOpened(f.OpenWriter(ctx, vfskit.WriteAppend))
	},
	vfskit.OpRandomWrite: func(ctx context.Context, f vfskit.File) error {
		return closeIfOpened(f.OpenRandomWriter(ctx))
	},
	vfskit.OpList: func(ctx context.Context, f vfskit.File) error {
		_, err := f.List(ctx, nil)
		return err
	},
	vfskit.OpMkdir:  func(ctx context.Context, f vfskit.File) error { return f.Mkdir(ctx) },
	vfskit.OpMkfile: func(ctx context.Context, f vfskit.File) error { return f.Mkfile(ctx) },
	vfskit.OpDelete: func(ctx context.Context, f vfskit.File) error { return f.Delete(ctx) },
	vfskit.OpRename: func(ctx context.Context, f vfskit.File) error { return f.RenameTo(ctx, f) },
	vfskit.OpCopyRemotely: func(ctx context.Context, f vfskit.File) error {
		return f.CopyRemotelyTo(ctx, f)
	},
	vfskit.OpChangeDate: func(ctx context.Context, f vfskit.File) error {
		return f.SetModTime(ctx, time.Now())
	},
	vfskit.OpChangePermission: func(ctx context.Context, f vfskit.File) error {
		return f.ChangePermission(ctx, vfskit.AccessUser, vfskit.PermRead, true)
	},
	vfskit.OpGetFreeSpace: func(ctx context.Context, f vfskit.File) error {
		_, err := f.FreeSpace(ctx)
		return err
	},
	vfskit.OpGetTotalSpace: func(ctx context.Context, f vfskit.File) error {
		_, err := f.TotalSpace(ctx)
		return err
	},
}

type closer interface{ Close() error }

func closeIfOpened[T closer](c T, err error) error {
	if err != nil {
		return err
	}
	return c.Close()
}

// CheckUnsupportedOperations calls every operation f does not declare and
// requires each to fail with vfskit.ErrNotSupported.
func CheckUnsupportedOperations(t *testing.T, f vfskit.File) {
	t.Helper()
	ctx := context.Background()
	for _, op := range vfskit.AllOperations() {
		if f.IsOperationSupported(op) {
			continue
		}
		t.Run("unsupported "+op.String(), func(t *testing.T) {
			err := invokers[op](ctx, f)
			require.Error(t, err)
			assert.ErrorIs(t, err, vfskit.ErrNotSupported)
		})
	}
}

// CheckOperationProbeConsistency requires IsOperationSupported to agree
// with SupportedOperations for every operation.
func CheckOperationProbeConsistency(t *testing.T, f vfskit.File) {
	t.Helper()
	set := f.SupportedOperations()
	for _, op := range vfskit.AllOperations() {
		assert.Equal(t, set.Has(op), f.IsOperationSupported(op), "operation %s", op)
	}
}

// RoundTrip writes content to a new file called name in dir, reads it back,
// checks metadata visible through a fresh handle, and deletes the file.
// dir must support creating children through vfskit.ChildOf.
func RoundTrip(t *testing.T, dir vfskit.File, name string, content []byte) {
	t.Helper()
	ctx := context.Background()

	f, err := vfskit.ChildOf(ctx, dir, name)
	require.NoError(t, err)
	require.True(t, f.IsOperationSupported(vfskit.OpWrite), "file must be writable")

	w, err := f.OpenWriter(ctx, vfskit.WriteTruncate)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	fresh, err := vfskit.ChildOf(ctx, dir, name)
	require.NoError(t, err)
	assert.True(t, fresh.Exists())
	assert.False(t, fresh.IsDir())
	assert.Equal(t, int64(len(content)), fresh.Size())
	assert.True(t, vfskit.Equal(f, fresh))

	r, err := fresh.OpenReader(ctx, 0)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.True(t, bytes.Equal(content, got), "content differs after round trip")

	if len(content) > 1 {
		r, err := fresh.OpenReader(ctx, 1)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		assert.Equal(t, content[1:], got, "reading from an offset")
	}

	if fresh.IsOperationSupported(vfskit.OpDelete) {
		require.NoError(t, fresh.Delete(ctx))
		gone, err := vfskit.ChildOf(ctx, dir, name)
		require.NoError(t, err)
		assert.False(t, gone.Exists())
	}
}

// CheckProxyForwarding requires proxy to report the same metadata as
// target.
func CheckProxyForwarding(t *testing.T, proxy, target vfskit.File) {
	t.Helper()
	assert.True(t, vfskit.Equal(proxy, target))
	assert.Equal(t, target.Name(), proxy.Name())
	assert.Equal(t, target.Exists(), proxy.Exists())
	assert.Equal(t, target.Size(), proxy.Size())
	assert.True(t, target.ModTime().Equal(proxy.ModTime()))
	assert.Equal(t, target.IsDir(), proxy.IsDir())
	assert.Equal(t, target.IsHidden(), proxy.IsHidden())
	assert.Equal(t, target.IsSymlink(), proxy.IsSymlink())
	assert.Equal(t, target.Permissions(), proxy.Permissions())
	assert.Equal(t, target.Owner(), proxy.Owner())
	assert.Equal(t, target.CanGetOwner(), proxy.CanGetOwner())
	assert.Equal(t, target.Underlying(), proxy.Underlying())
}
