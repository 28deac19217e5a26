package search

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gobeaver/vfskit"
)

// Type restricts results by kind.
type Type int

const (
	TypeAny Type = iota
	TypeFile
	TypeDir
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	default:
		return "any"
	}
}

func parseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return TypeAny, nil
	case "file", "f":
		return TypeFile, nil
	case "dir", "d", "directory":
		return TypeDir, nil
	}
	return TypeAny, fmt.Errorf("unknown type %q", s)
}

// Query describes a search. The zero value matches nothing until Start is
// set; NewQuery fills in the defaults.
type Query struct {
	// Start is the URL of the directory to search.
	Start string
	// Name is a case-insensitive glob matched against file names.
	Name string
	// Text selects files whose content contains it.
	Text string
	// Recursive descends into subdirectories.
	Recursive bool
	// Hidden includes hidden and system files and searches hidden
	// directories.
	Hidden bool
	// Archives descends into archives as if they were directories.
	Archives bool
	Type     Type
	// MaxDepth limits recursion; children of Start are at depth 1. Zero
	// means unlimited.
	MaxDepth int
	// Limit caps the number of results. Zero means unlimited.
	Limit int
}

// NewQuery returns a recursive query for everything below start.
func NewQuery(start string) Query {
	return Query{Start: start, Recursive: true}
}

// ParseQuery reads a query from the raw query string of a search URL:
//
//	start=<url>&name=<glob>&text=<substring>&recursive=<bool>&hidden=<bool>
//	&archives=<bool>&type=file|dir|any&maxdepth=<n>&limit=<n>
func ParseQuery(raw string) (Query, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Query{}, fmt.Errorf("%w: %v", vfskit.ErrMalformedURL, err)
	}
	q := NewQuery(values.Get("start"))
	if q.Start == "" {
		return Query{}, fmt.Errorf("%w: search needs a start parameter", vfskit.ErrMalformedURL)
	}
	q.Name = values.Get("name")
	q.Text = values.Get("text")

	bools := []struct {
		key string
		dst *bool
	}{
		{"recursive", &q.Recursive},
		{"hidden", &q.Hidden},
		{"archives", &q.Archives},
	}
	for _, b := range bools {
		if v := values.Get(b.key); v != "" {
			if *b.dst, err = strconv.ParseBool(v); err != nil {
				return Query{}, fmt.Errorf("%w: %s: %v", vfskit.ErrMalformedURL, b.key, err)
			}
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"maxdepth", &q.MaxDepth},
		{"limit", &q.Limit},
	}
	for _, n := range ints {
		if v := values.Get(n.key); v != "" {
			if *n.dst, err = strconv.Atoi(v); err != nil || *n.dst < 0 {
				return Query{}, fmt.Errorf("%w: %s must be a non-negative integer", vfskit.ErrMalformedURL, n.key)
			}
		}
	}

	if q.Type, err = parseType(values.Get("type")); err != nil {
		return Query{}, fmt.Errorf("%w: %v", vfskit.ErrMalformedURL, err)
	}
	return q, nil
}

// Encode renders q as a raw query string accepted by ParseQuery.
func (q Query) Encode() string {
	values := url.Values{}
	values.Set("start", q.Start)
	if q.Name != "" {
		values.Set("name", q.Name)
	}
	if q.Text != "" {
		values.Set("text", q.Text)
	}
	values.Set("recursive", strconv.FormatBool(q.Recursive))
	if q.Hidden {
		values.Set("hidden", "true")
	}
	if q.Archives {
		values.Set("archives", "true")
	}
	if q.Type != TypeAny {
		values.Set("type", q.Type.String())
	}
	if q.MaxDepth > 0 {
		values.Set("maxdepth", strconv.Itoa(q.MaxDepth))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values.Encode()
}

// URL returns the search URL for q.
func (q Query) URL() *vfskit.FileURL {
	u := vfskit.NewURL(Scheme, "", "/")
	u.Query = q.Encode()
	return u
}
