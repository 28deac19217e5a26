package vfskit

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// testFS is a flat in-memory tree for exercising the package without a
// driver. Paths are absolute; directories are implied by their children
// or created explicitly.
type testFS struct {
	mu    sync.Mutex
	files map[string]*testNode
}

type testNode struct {
	data    []byte
	dir     bool
	modTime time.Time
}

func newTestFS() *testFS {
	return &testFS{files: map[string]*testNode{"/": {dir: true}}}
}

func (fs *testFS) put(p, content string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[p] = &testNode{data: []byte(content), modTime: time.Unix(1700000000+int64(len(fs.files)), 0)}
	for d := path.Dir(p); d != "/"; d = path.Dir(d) {
		if _, ok := fs.files[d]; !ok {
			fs.files[d] = &testNode{dir: true}
		}
	}
}

func (fs *testFS) NewFile(ctx context.Context, u *FileURL, params Params) (File, error) {
	return &testFile{FileBase: NewFileBase(u), fs: fs}, nil
}

func (fs *testFS) node(p string) (*testNode, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.files[p]
	return n, ok
}

type testFile struct {
	FileBase
	fs *testFS
}

func (f *testFile) Parent(ctx context.Context) (File, error) {
	return f.CachedParent(ctx, func(ctx context.Context) (File, error) {
		return f.fs.NewFile(ctx, f.URL().Parent(), nil)
	})
}

func (f *testFile) Exists() bool {
	_, ok := f.fs.node(f.URL().Path)
	return ok
}

func (f *testFile) Size() int64 {
	if n, ok := f.fs.node(f.URL().Path); ok {
		return int64(len(n.data))
	}
	return 0
}

func (f *testFile) ModTime() time.Time {
	if n, ok := f.fs.node(f.URL().Path); ok {
		return n.modTime
	}
	return time.Time{}
}

func (f *testFile) IsDir() bool {
	n, ok := f.fs.node(f.URL().Path)
	return ok && n.dir
}

func (f *testFile) IsBrowsable() bool { return f.IsDir() }

func (f *testFile) Permissions() FilePermissions { return FullPermissions(0o644) }

func (f *testFile) SupportedOperations() OperationSet { return ReadOnlyOperations }

func (f *testFile) IsOperationSupported(op Operation) bool { return ReadOnlyOperations.Has(op) }

func (f *testFile) List(ctx context.Context, filter FileFilter) ([]File, error) {
	if !f.IsDir() {
		return nil, NewPathError("list", f.URL().String(), ErrNotDir)
	}
	prefix := strings.TrimSuffix(f.URL().Path, "/") + "/"
	f.fs.mu.Lock()
	var names []string
	for p := range f.fs.files {
		if rest, ok := strings.CutPrefix(p, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	f.fs.mu.Unlock()
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		c, _ := f.fs.NewFile(ctx, f.URL().Child(name), nil)
		files = append(files, c)
	}
	return ApplyFilter(files, filter), nil
}

func (f *testFile) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	n, ok := f.fs.node(f.URL().Path)
	if !ok {
		return nil, NewPathError("read", f.URL().String(), ErrNotExist)
	}
	if n.dir {
		return nil, NewPathError("read", f.URL().String(), ErrIsDir)
	}
	if offset > int64(len(n.data)) {
		offset = int64(len(n.data))
	}
	return io.NopCloser(bytes.NewReader(n.data[offset:])), nil
}

// lineFormat reads "line archives": one entry per line, "path/" for a
// directory and "path=content" for a file. A literal \n in content is a
// newline, so line archives nest.
type lineFormat struct {
	scans atomic.Int32
}

func (lf *lineFormat) format() *ArchiveFormat {
	return &ArchiveFormat{
		Name:            "lines",
		Patterns:        []string{"*.lines"},
		Signatures:      []Signature{{Magic: []byte("#lines\n")}},
		ConcurrentReads: true,
		Open: func(src ArchiveSource, opts ArchiveOptions) (ArchiveReader, error) {
			return &lineReader{src: src, lf: lf}, nil
		},
	}
}

type lineReader struct {
	src ArchiveSource
	lf  *lineFormat
}

func (r *lineReader) Entries(ctx context.Context) (EntryIterator, error) {
	r.lf.scans.Add(1)
	rc, err := r.src.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var entries []*ArchiveEntry
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasSuffix(line, "/"):
			entries = append(entries, &ArchiveEntry{Path: line, Dir: true})
		default:
			name, content, ok := strings.Cut(line, "=")
			if !ok {
				return nil, fmt.Errorf("bad line %q", line)
			}
			content = strings.ReplaceAll(content, `\n`, "\n")
			entries = append(entries, &ArchiveEntry{Path: name, Size: int64(len(content)), Native: content})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return NewSliceIterator(entries), nil
}

func (r *lineReader) OpenEntry(ctx context.Context, entry *ArchiveEntry, it EntryIterator) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(entry.Native.(string))), nil
}
