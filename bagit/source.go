package bagit

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"rocrate.dev/rocrate/archive"
)

// Source is the file tree a Bag reads from. Names are slash-separated and
// relative to the bag root.
type Source interface {
	Names() []string
	Has(name string) bool
	ReadFile(name string) ([]byte, error)
}

var _ Source = (*archive.Archive)(nil)

// FromArchive reads a bag laid out at the root of a ZIP archive.
func FromArchive(a *archive.Archive) *Bag {
	return New(a)
}

// FromFiles reads a bag from an in-memory file map.
func FromFiles(files map[string][]byte) *Bag {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return New(&fileMap{names: names, files: files})
}

// OpenDir reads a bag stored as a directory tree on disk.
func OpenDir(root string) (*Bag, error) {
	var names []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, wrapError(KindIO, root, "walk bag directory", err)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return New(&dirSource{root: root, names: names, set: set}), nil
}

type fileMap struct {
	names []string
	files map[string][]byte
}

func (m *fileMap) Names() []string { return append([]string(nil), m.names...) }

func (m *fileMap) Has(name string) bool {
	_, ok := m.files[name]
	return ok
}

func (m *fileMap) ReadFile(name string) ([]byte, error) {
	b, ok := m.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), b...), nil
}

type dirSource struct {
	root  string
	names []string
	set   map[string]struct{}
}

func (d *dirSource) Names() []string { return append([]string(nil), d.names...) }

func (d *dirSource) Has(name string) bool {
	_, ok := d.set[name]
	return ok
}

func (d *dirSource) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, filepath.FromSlash(name)))
}
