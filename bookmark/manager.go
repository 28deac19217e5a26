package bookmark

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned for names that are not bookmarked.
	ErrNotFound = fmt.Errorf("bookmark %w", vfskit.ErrNotExist)
	// ErrDuplicate is returned when adding a name that is already in use.
	ErrDuplicate = fmt.Errorf("bookmark %w", vfskit.ErrExist)
)

// Bookmark names a location.
type Bookmark struct {
	Name     string    `yaml:"name"`
	Location string    `yaml:"location"`
	Created  time.Time `yaml:"created,omitempty"`
}

// URL parses the bookmark's location.
func (b Bookmark) URL() (*vfskit.FileURL, error) {
	return vfskit.ParseURL(b.Location)
}

type document struct {
	Bookmarks []Bookmark `yaml:"bookmarks"`
}

// Manager keeps the bookmark list and persists it to a YAML file after
// every change. A Manager without a file keeps bookmarks in memory only.
type Manager struct {
	mu        sync.RWMutex
	file      string
	bookmarks map[string]Bookmark
	log       logrus.FieldLogger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager loads the bookmarks stored in file. A missing file is an empty
// list; it is created on the first change. An empty file name keeps the
// bookmarks in memory.
func NewManager(file string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		file:      file,
		bookmarks: make(map[string]Bookmark),
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if file == "" {
		return m, nil
	}

	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bookmarks: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bookmarks %s: %w", file, err)
	}
	for _, b := range doc.Bookmarks {
		if err := validName(b.Name); err != nil {
			m.log.WithFields(logrus.Fields{"file": file, "name": b.Name}).Warn("skipping bookmark with invalid name")
			continue
		}
		m.bookmarks[b.Name] = b
	}
	m.log.WithFields(logrus.Fields{"file": file, "count": len(m.bookmarks)}).Debug("loaded bookmarks")
	return m, nil
}

// validName accepts names usable as a single URL path segment.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", vfskit.ErrInvalidName, name)
	}
	return nil
}

// Add bookmarks location under name.
func (m *Manager) Add(name, location string) error {
	if err := validName(name); err != nil {
		return err
	}
	u, err := vfskit.ParseURL(location)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookmarks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	m.bookmarks[name] = Bookmark{
		Name:     name,
		Location: u.Format(vfskit.CredentialsFull),
		Created:  time.Now().UTC().Truncate(time.Second),
	}
	return m.saveLocked()
}

// Remove deletes the bookmark called name.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookmarks[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.bookmarks, name)
	return m.saveLocked()
}

// Rename gives the bookmark called from the name to.
func (m *Manager) Rename(from, to string) error {
	if err := validName(to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookmarks[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if from == to {
		return nil
	}
	if _, ok := m.bookmarks[to]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, to)
	}
	delete(m.bookmarks, from)
	b.Name = to
	m.bookmarks[to] = b
	return m.saveLocked()
}

// Get returns the bookmark called name.
func (m *Manager) Get(name string) (Bookmark, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookmarks[name]
	return b, ok
}

// List returns all bookmarks sorted by name.
func (m *Manager) List() []Bookmark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

func (m *Manager) sortedLocked() []Bookmark {
	out := make([]Bookmark, 0, len(m.bookmarks))
	for _, b := range m.bookmarks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// saveLocked writes the list through a temporary file so a crash never
// leaves a truncated file behind. Must be called with the lock held.
func (m *Manager) saveLocked() error {
	if m.file == "" {
		return nil
	}
	data, err := yaml.Marshal(document{Bookmarks: m.sortedLocked()})
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.file)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save bookmarks: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bookmarks-*")
	if err != nil {
		return fmt.Errorf("save bookmarks: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save bookmarks: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save bookmarks: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.file); err != nil {
		return fmt.Errorf("save bookmarks: %w", err)
	}
	m.log.WithFields(logrus.Fields{"file": m.file, "count": len(m.bookmarks)}).Debug("saved bookmarks")
	return nil
}
