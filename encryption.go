package vfskit

import (
	"bufio"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ============================================================================
// EncryptedFile Decorator
// ============================================================================

const (
	encChunkSize = 32 * 1024
	encNonceSize = 12
	encTagSize   = 16
	encFrameSize = encChunkSize + encTagSize
)

// ErrDecrypt is returned when stored content fails authentication.
var ErrDecrypt = errors.New("content cannot be decrypted")

// EncryptedFile stores the content of its target encrypted with AES-GCM.
// Reads decrypt, writes encrypt, and everything else is forwarded. Files
// reached through List, Parent and Child are encrypted with the same key,
// so a directory view encrypts a whole tree.
//
// Content is a random nonce followed by frames of up to 32 KiB sealed
// separately; the last frame is marked so truncated content is rejected.
// Random access and appending are not available.
//
//	vault, err := vfskit.Encrypt(dir, key)
//	f, _ := vfskit.ChildOf(ctx, vault, "secrets.json")
//	err = vfskit.Copy(ctx, plain, f)
type EncryptedFile struct {
	*ProxyFile
	key  []byte
	aead cipher.AEAD
	ops  OperationSet
}

// Encrypt wraps f with a 16, 24 or 32 byte AES key.
func Encrypt(f File, key []byte) (*EncryptedFile, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", f.URL(), err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", f.URL(), err)
	}
	return newEncryptedFile(f, append([]byte(nil), key...), aead), nil
}

func newEncryptedFile(f File, key []byte, aead cipher.AEAD) *EncryptedFile {
	return &EncryptedFile{
		ProxyFile: NewProxyFile(f),
		key:       key,
		aead:      aead,
		ops:       f.SupportedOperations().Without(OpRandomRead, OpRandomWrite, OpAppend),
	}
}

func (e *EncryptedFile) wrap(f File) *EncryptedFile {
	return newEncryptedFile(f, e.key, e.aead)
}

func (e *EncryptedFile) TransformsContent() {}

func (e *EncryptedFile) SupportedOperations() OperationSet      { return e.ops }
func (e *EncryptedFile) IsOperationSupported(op Operation) bool { return e.ops.Has(op) }

// Size returns the plaintext size derived from the stored size.
func (e *EncryptedFile) Size() int64 {
	stored := e.File.Size()
	if e.File.IsDir() || stored <= 0 {
		return stored
	}
	return plaintextSize(stored)
}

func plaintextSize(stored int64) int64 {
	body := stored - encNonceSize
	if body < encTagSize {
		return 0
	}
	frames := (body + encFrameSize - 1) / encFrameSize
	return body - frames*encTagSize
}

func (e *EncryptedFile) Parent(ctx context.Context) (File, error) {
	p, err := e.File.Parent(ctx)
	if err != nil || p == nil {
		return p, err
	}
	return e.wrap(p), nil
}

func (e *EncryptedFile) List(ctx context.Context, filter FileFilter) ([]File, error) {
	children, err := e.File.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i, c := range children {
		children[i] = e.wrap(c)
	}
	return ApplyFilter(children, filter), nil
}

// Child resolves name below the target and encrypts it with the same key.
func (e *EncryptedFile) Child(ctx context.Context, name string) (File, error) {
	c, err := ChildOf(ctx, e.File, name)
	if err != nil {
		return nil, err
	}
	return e.wrap(c), nil
}

func (e *EncryptedFile) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, NewPathError("read", e.URL().String(), ErrInvalidOffset)
	}
	rc, err := e.File.OpenReader(ctx, 0)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, encNonceSize)
	if _, err := io.ReadFull(rc, nonce); err != nil {
		rc.Close()
		if errors.Is(err, io.EOF) {
			// never written through an EncryptedFile
			return io.NopCloser(eofReader{}), nil
		}
		return nil, NewPathError("read", e.URL().String(), fmt.Errorf("%w: %w", ErrDecrypt, err))
	}

	d := &decryptReader{
		src:   bufio.NewReaderSize(rc, encFrameSize),
		close: rc.Close,
		aead:  e.aead,
		nonce: nonce,
		frame: make([]byte, encFrameSize),
		url:   e.URL(),
	}
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, d, offset); err != nil && !errors.Is(err, io.EOF) {
			rc.Close()
			return nil, err
		}
	}
	return d, nil
}

func (e *EncryptedFile) OpenWriter(ctx context.Context, mode WriteMode) (io.WriteCloser, error) {
	if mode == WriteAppend {
		return nil, Unsupported(OpAppend, e.URL())
	}
	nonce := make([]byte, encNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	w, err := e.File.OpenWriter(ctx, WriteTruncate)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(nonce); err != nil {
		w.Close()
		return nil, err
	}
	return &encryptWriter{
		dst:   w,
		aead:  e.aead,
		nonce: nonce,
		buf:   make([]byte, 0, encChunkSize),
	}, nil
}

func (e *EncryptedFile) OpenRandomReader(ctx context.Context) (RandomReader, error) {
	return nil, Unsupported(OpRandomRead, e.URL())
}

func (e *EncryptedFile) OpenRandomWriter(ctx context.Context) (RandomWriter, error) {
	return nil, Unsupported(OpRandomWrite, e.URL())
}

// sameKey returns the target of dst when dst is encrypted with the same key.
func (e *EncryptedFile) sameKey(dst File) (File, bool) {
	other, ok := As[*EncryptedFile](dst)
	if !ok || subtle.ConstantTimeCompare(e.key, other.key) != 1 {
		return nil, false
	}
	return other.File, true
}

// RenameTo renames within the target realm when dst uses the same key.
// Otherwise it fails with ErrCrossRealm and Move re-encrypts by copying.
func (e *EncryptedFile) RenameTo(ctx context.Context, dst File) error {
	target, ok := e.sameKey(dst)
	if !ok {
		return NewPathError("rename", e.URL().String(), ErrCrossRealm)
	}
	return e.File.RenameTo(ctx, target)
}

func (e *EncryptedFile) CopyRemotelyTo(ctx context.Context, dst File) error {
	target, ok := e.sameKey(dst)
	if !ok {
		return NewPathError("copy-remotely", e.URL().String(), ErrCrossRealm)
	}
	return e.File.CopyRemotelyTo(ctx, target)
}

// frameNonce derives the nonce of frame n. The last frame uses a distinct
// nonce so it cannot be replayed elsewhere.
func frameNonce(dst, base []byte, n uint32, last bool) []byte {
	dst = append(dst[:0], base...)
	ctr := binary.BigEndian.Uint32(dst[encNonceSize-4:]) ^ n
	binary.BigEndian.PutUint32(dst[encNonceSize-4:], ctr)
	if last {
		dst[0] ^= 0x80
	}
	return dst
}

type encryptWriter struct {
	dst     io.WriteCloser
	aead    cipher.AEAD
	nonce   []byte
	buf     []byte
	sealed  []byte
	scratch []byte
	counter uint32
	closed  bool
}

func (w *encryptWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	n := 0
	for len(p) > 0 {
		// a full buffer is sealed only once more data proves it is not last
		if len(w.buf) == encChunkSize {
			if err := w.flush(false); err != nil {
				return n, err
			}
		}
		k := copy(w.buf[len(w.buf):encChunkSize], p)
		w.buf = w.buf[:len(w.buf)+k]
		p = p[k:]
		n += k
	}
	return n, nil
}

func (w *encryptWriter) flush(last bool) error {
	w.scratch = frameNonce(w.scratch, w.nonce, w.counter, last)
	w.sealed = w.aead.Seal(w.sealed[:0], w.scratch, w.buf, nil)
	w.counter++
	w.buf = w.buf[:0]
	_, err := w.dst.Write(w.sealed)
	return err
}

func (w *encryptWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flush(true); err != nil {
		w.dst.Close()
		return err
	}
	return w.dst.Close()
}

type decryptReader struct {
	src     *bufio.Reader
	close   func() error
	aead    cipher.AEAD
	nonce   []byte
	scratch []byte
	frame   []byte
	plain   []byte
	counter uint32
	done    bool
	url     *FileURL
}

func (d *decryptReader) Read(p []byte) (int, error) {
	for len(d.plain) == 0 {
		if d.done {
			return 0, io.EOF
		}
		if err := d.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.plain)
	d.plain = d.plain[n:]
	return n, nil
}

func (d *decryptReader) next() error {
	n, err := io.ReadFull(d.src, d.frame)
	last := false
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		last = true
	case errors.Is(err, io.EOF):
		return d.fail(io.ErrUnexpectedEOF)
	case err != nil:
		return err
	default:
		if _, err := d.src.Peek(1); errors.Is(err, io.EOF) {
			last = true
		}
	}
	d.scratch = frameNonce(d.scratch, d.nonce, d.counter, last)
	plain, err := d.aead.Open(d.frame[:0], d.scratch, d.frame[:n], nil)
	if err != nil {
		return d.fail(err)
	}
	d.counter++
	d.plain = plain
	d.done = last
	return nil
}

func (d *decryptReader) fail(err error) error {
	return NewPathError("read", d.url.String(), fmt.Errorf("%w: %w", ErrDecrypt, err))
}

func (d *decryptReader) Close() error {
	return d.close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
