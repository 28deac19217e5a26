package vfskit

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractReader(t *testing.T) {
	ctx := context.Background()

	t.Run("streams the extracted bytes", func(t *testing.T) {
		r := NewExtractReader(ctx, 16, func(ctx context.Context, w io.Writer) error {
			for i := 0; i < 100; i++ {
				if _, err := io.WriteString(w, "0123456789"); err != nil {
					return err
				}
			}
			return nil
		})
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("0123456789", 100), string(data))
	})

	t.Run("reports extraction errors after the data", func(t *testing.T) {
		boom := errors.New("crc mismatch")
		r := NewExtractReader(ctx, 0, func(ctx context.Context, w io.Writer) error {
			io.WriteString(w, "partial")
			return boom
		})
		defer r.Close()
		data, err := io.ReadAll(r)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, string(data), "buffered bytes are not flushed on failure")
	})

	t.Run("recovers panics", func(t *testing.T) {
		r := NewExtractReader(ctx, 0, func(ctx context.Context, w io.Writer) error {
			panic("decoder bug")
		})
		defer r.Close()
		_, err := io.ReadAll(r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoder bug")
	})

	t.Run("close cancels the extraction", func(t *testing.T) {
		exited := make(chan error, 1)
		r := NewExtractReader(ctx, 1, func(ctx context.Context, w io.Writer) error {
			for {
				if _, err := w.Write([]byte("xx")); err != nil {
					exited <- err
					return err
				}
			}
		})
		buf := make([]byte, 4)
		_, err := io.ReadFull(r, buf)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())

		select {
		case err := <-exited:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("extraction goroutine still running")
		}

		_, err = r.Read(buf)
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	})

	t.Run("parent context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		started := make(chan struct{})
		r := NewExtractReader(cctx, 1, func(ctx context.Context, w io.Writer) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
		defer r.Close()
		<-started
		cancel()
		_, err := io.ReadAll(r)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
