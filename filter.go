package vfskit

import (
	"context"
	"errors"
	"strings"

	"github.com/gobwas/glob"
)

// ============================================================================
// FileFilter Interface
// ============================================================================

// FileFilter decides which children List returns. Filters compose with
// AndFilter, OrFilter and NotFilter.
//
//	filter := vfskit.AndFilter(
//	    vfskit.VisibleFilter(),
//	    vfskit.MustGlobFilter("*.{jpg,png}"),
//	)
//	files, err := dir.List(ctx, filter)
type FileFilter interface {
	Accept(f File) bool
}

// FilterFunc adapts a function to FileFilter.
type FilterFunc func(File) bool

func (fn FilterFunc) Accept(f File) bool { return fn(f) }

// ApplyFilter returns the files accepted by filter, reusing the backing
// array. A nil filter accepts everything.
func ApplyFilter(files []File, filter FileFilter) []File {
	if filter == nil {
		return files
	}
	out := files[:0]
	for _, f := range files {
		if filter.Accept(f) {
			out = append(out, f)
		}
	}
	return out
}

// ============================================================================
// Built-in Filters
// ============================================================================

// VisibleFilter rejects hidden and system files.
func VisibleFilter() FileFilter {
	return FilterFunc(func(f File) bool { return !f.IsHidden() && !f.IsSystem() })
}

// DirFilter accepts browsable files only: directories and archives.
func DirFilter() FileFilter {
	return FilterFunc(func(f File) bool { return f.IsBrowsable() })
}

// RegularFilter accepts non-directories, archives included.
func RegularFilter() FileFilter {
	return FilterFunc(func(f File) bool { return !f.IsDir() })
}

type globFilter struct {
	g glob.Glob
}

// GlobFilter matches file names against a case-insensitive glob pattern.
// Supports: *, ?, [abc], [a-z], {a,b}
//
//	GlobFilter("*.txt")
//	GlobFilter("image_????.{jpg,png}")
func GlobFilter(pattern string) (FileFilter, error) {
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, err
	}
	return &globFilter{g: g}, nil
}

// MustGlobFilter is like GlobFilter but panics on an invalid pattern.
func MustGlobFilter(pattern string) FileFilter {
	f, err := GlobFilter(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

func (s *globFilter) Accept(f File) bool {
	return s.g.Match(strings.ToLower(f.Name()))
}

// ExtensionFilter accepts files whose extension is one of exts, ignoring
// case and a leading dot.
func ExtensionFilter(exts ...string) FileFilter {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return FilterFunc(func(f File) bool {
		_, ok := set[strings.ToLower(f.Extension())]
		return ok
	})
}

// ============================================================================
// Composable Filters (And, Or, Not)
// ============================================================================

// AndFilter accepts only if all filters accept.
func AndFilter(filters ...FileFilter) FileFilter {
	return FilterFunc(func(f File) bool {
		for _, flt := range filters {
			if !flt.Accept(f) {
				return false
			}
		}
		return true
	})
}

// OrFilter accepts if any filter accepts.
func OrFilter(filters ...FileFilter) FileFilter {
	return FilterFunc(func(f File) bool {
		for _, flt := range filters {
			if flt.Accept(f) {
				return true
			}
		}
		return false
	})
}

// NotFilter inverts a filter.
func NotFilter(filter FileFilter) FileFilter {
	return FilterFunc(func(f File) bool { return !filter.Accept(f) })
}

// ============================================================================
// Walk
// ============================================================================

// SkipDir returned by a WalkFunc skips the directory's descendants.
var SkipDir = errors.New("skip this directory")

// WalkFunc is called for each file below the walk root. depth is 1 for
// the root's immediate children.
type WalkFunc func(f File, depth int) error

// Walk visits the descendants of dir depth first, in listing order.
// Archives are descended into like directories.
func Walk(ctx context.Context, dir File, fn WalkFunc) error {
	return walk(ctx, dir, 1, fn)
}

func walk(ctx context.Context, dir File, depth int, fn WalkFunc) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	children, err := dir.List(ctx, nil)
	if err != nil {
		return err
	}
	for _, child := range children {
		err := fn(child, depth)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if child.IsBrowsable() && !child.IsSymlink() {
			if err := walk(ctx, child, depth+1, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindFiles returns the descendants of dir accepted by match, descending
// only into directories accepted by traverse. A nil traverse descends
// everywhere.
func FindFiles(ctx context.Context, dir File, match, traverse FileFilter) ([]File, error) {
	var results []File
	err := Walk(ctx, dir, func(f File, _ int) error {
		if match == nil || match.Accept(f) {
			results = append(results, f)
		}
		if f.IsBrowsable() && traverse != nil && !traverse.Accept(f) {
			return SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
