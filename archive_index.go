package vfskit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// ArchiveLimits bound what indexing an archive may consume. Zero fields are
// unlimited.
type ArchiveLimits struct {
	// MaxEntries is the maximum number of entries.
	MaxEntries int
	// MaxTotalSize is the maximum sum of uncompressed entry sizes.
	MaxTotalSize int64
}

// archiveIndex is the directory tree of one archive, synthesized from the
// flat entry sequence. Intermediate directories the archive does not record
// are inferred from the paths below them.
type archiveIndex struct {
	tree    *iradix.Tree
	ordered []*ArchiveEntry
	modTime time.Time
	size    int64
}

type indexedEntry struct {
	entry    *ArchiveEntry
	implicit bool
}

func buildIndex(ctx context.Context, it EntryIterator, limits ArchiveLimits, modTime time.Time, size int64) (*archiveIndex, error) {
	txn := iradix.New().Txn()
	idx := &archiveIndex{modTime: modTime, size: size}
	var total int64

	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		e = e.Clone()
		e.Path = NormalizeEntryPath(e.Path)
		if e.Path == "" {
			continue
		}
		if e.Dir {
			e.Size = 0
		}

		total += e.Size
		if limits.MaxEntries > 0 && len(idx.ordered) >= limits.MaxEntries {
			return nil, fmt.Errorf("%w: more than %d entries", ErrArchiveLimit, limits.MaxEntries)
		}
		if limits.MaxTotalSize > 0 && total > limits.MaxTotalSize {
			return nil, fmt.Errorf("%w: uncompressed size exceeds %d bytes", ErrArchiveLimit, limits.MaxTotalSize)
		}

		key := []byte(e.Path)
		if prev, ok := txn.Get(key); ok && !e.Dir && prev.(*indexedEntry).entry.Dir {
			// a file shadowing a directory would orphan its children
			continue
		}
		txn.Insert(key, &indexedEntry{entry: e})
		idx.ordered = append(idx.ordered, e)

		for dir := path.Dir(e.Path); dir != "."; dir = path.Dir(dir) {
			if _, ok := txn.Get([]byte(dir)); ok {
				break
			}
			txn.Insert([]byte(dir), &indexedEntry{
				entry:    &ArchiveEntry{Path: dir, Dir: true, ModTime: e.ModTime},
				implicit: true,
			})
		}
	}

	idx.tree = txn.Commit()
	return idx, nil
}

func (i *archiveIndex) stale(modTime time.Time, size int64) bool {
	return !i.modTime.Equal(modTime) || i.size != size
}

func (i *archiveIndex) lookup(p string) (*ArchiveEntry, bool) {
	v, ok := i.tree.Get([]byte(p))
	if !ok {
		return nil, false
	}
	return v.(*indexedEntry).entry, true
}

// children returns the direct children of dir ("" is the root), sorted by
// path.
func (i *archiveIndex) children(dir string) []*ArchiveEntry {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	var out []*ArchiveEntry
	i.tree.Root().WalkPrefix([]byte(prefix), func(k []byte, v interface{}) bool {
		rest := string(k[len(prefix):])
		if rest != "" && !strings.Contains(rest, "/") {
			out = append(out, v.(*indexedEntry).entry)
		}
		return false
	})
	return out
}

// entries returns the recorded entries in archive order, without inferred
// directories.
func (i *archiveIndex) entries() []*ArchiveEntry {
	out := make([]*ArchiveEntry, len(i.ordered))
	for n, e := range i.ordered {
		out[n] = e.Clone()
	}
	return out
}
