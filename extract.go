package vfskit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultExtractBufferSize is the buffer between an extraction goroutine
// and the consumer of an entry stream.
const DefaultExtractBufferSize = 64 * 1024

// ExtractFunc writes the content of one entry to w. It must return when
// ctx is done or a write fails.
type ExtractFunc func(ctx context.Context, w io.Writer) error

// NewExtractReader turns a push style extraction into a pull style stream.
// extract runs in its own goroutine and writes into a pipe through a buffer
// of bufSize bytes; the returned reader yields those bytes and then the
// extraction error, if any.
//
// The goroutine always closes its end of the pipe, on success, error or
// panic. Closing the reader before the end cancels the extraction and waits
// for the goroutine to exit.
func NewExtractReader(ctx context.Context, bufSize int, extract ExtractFunc) io.ReadCloser {
	if bufSize <= 0 {
		bufSize = DefaultExtractBufferSize
	}
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	r := &extractReader{pr: pr, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("extraction panic: %v", p)
			}
			pw.CloseWithError(err)
		}()

		bw := bufio.NewWriterSize(pw, bufSize)
		err = extract(ctx, &ctxWriter{ctx: ctx, w: bw})
		if err == nil {
			err = bw.Flush()
		}
	}()
	return r
}

type extractReader struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (r *extractReader) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

func (r *extractReader) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.pr.CloseWithError(ErrClosed)
		<-r.done
	})
	return nil
}

// ctxWriter fails writes once ctx is done, so extractors that only check
// write errors still stop when the consumer goes away.
type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (c *ctxWriter) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.w.Write(p)
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrClosed) {
		return n, context.Canceled
	}
	return n, err
}
