package memory

import (
	"io"
	"sync"

	"github.com/gobeaver/vfskit"
)

// buffer is a growable byte slice with a file position.
type buffer struct {
	mu     sync.Mutex
	data   []byte
	pos    int64
	closed bool
}

func newBuffer(data []byte) *buffer {
	return &buffer{data: data}
}

func (b *buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, vfskit.ErrClosed
	}
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, vfskit.ErrClosed
	}
	if off < 0 {
		return 0, vfskit.ErrInvalidOffset
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *buffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, vfskit.ErrInvalidWhence
	}
	if abs < 0 {
		return 0, vfskit.ErrInvalidOffset
	}
	b.pos = abs
	return abs, nil
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, vfskit.ErrClosed
	}
	n := b.writeAt(p, b.pos)
	b.pos += int64(n)
	return n, nil
}

func (b *buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, vfskit.ErrClosed
	}
	if off < 0 {
		return 0, vfskit.ErrInvalidOffset
	}
	return b.writeAt(p, off), nil
}

func (b *buffer) writeAt(p []byte, off int64) int {
	if end := off + int64(len(p)); end > int64(len(b.data)) {
		b.grow(end)
	}
	return copy(b.data[off:], p)
}

func (b *buffer) grow(size int64) {
	if size <= int64(cap(b.data)) {
		b.data = b.data[:size]
		return
	}
	data := make([]byte, size, size*2)
	copy(data, b.data)
	b.data = data
}

func (b *buffer) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size < 0 {
		return vfskit.ErrInvalidOffset
	}
	if size > int64(len(b.data)) {
		b.grow(size)
	} else {
		clear(b.data[size:])
		b.data = b.data[:size]
	}
	return nil
}

func (b *buffer) Length() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data)), nil
}

// memReader is a read-only view over a snapshot of the content.
type memReader struct {
	*buffer
}

func (r *memReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// memWriter stores its buffer into the file when closed.
type memWriter struct {
	*buffer
	file *File
	op   string
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	data := w.data
	w.mu.Unlock()

	s := w.file.store
	s.mu.Lock()
	err := s.put(w.file.path(), data)
	s.mu.Unlock()
	if err != nil {
		return vfskit.NewPathError(w.op, w.file.URL().String(), err)
	}
	s.notify(w.file.path())
	return nil
}
