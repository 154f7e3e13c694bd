// Package archive provides read access to ZIP archives held in memory.
//
// An Archive is an index over a byte buffer: entries can be looked up by name
// or by position, and their contents are decompressed only when read.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

var (
	ErrNotZip        = errors.New("archive: not a zip archive")
	ErrEntryNotFound = errors.New("archive: entry not found")
	ErrInvalidIndex  = errors.New("archive: invalid entry index")
	ErrClosed        = errors.New("archive: closed")
	ErrEntryTooLarge = errors.New("archive: entry exceeds size limit")
)

var magics = [][]byte{
	[]byte("PK\x03\x04"), // local file header
	[]byte("PK\x05\x06"), // empty archive
	[]byte("PK\x07\x08"), // spanned archive
}

// IsZip reports whether b starts with a ZIP signature.
func IsZip(b []byte) bool {
	for _, m := range magics {
		if bytes.HasPrefix(b, m) {
			return true
		}
	}
	return false
}

// Archive is an in-memory ZIP archive. Directory entries are not indexed.
type Archive struct {
	files    []*zip.File
	index    map[string]int
	maxEntry int64
}

// Open indexes the ZIP archive in b. The buffer must not be modified while
// the Archive is in use.
func Open(b []byte) (*Archive, error) {
	return OpenLimited(b, 0)
}

// OpenLimited is Open with a cap on the decompressed size of any single
// entry; reading a larger entry fails with ErrEntryTooLarge. A cap <= 0
// means no limit.
func OpenLimited(b []byte, maxEntry int64) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZip, err)
	}
	a := &Archive{index: make(map[string]int, len(zr.File)), maxEntry: maxEntry}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, dup := a.index[f.Name]; dup {
			continue
		}
		a.index[f.Name] = len(a.files)
		a.files = append(a.files, f)
	}
	return a, nil
}

// Len returns the number of file entries.
func (a *Archive) Len() int {
	if a == nil {
		return 0
	}
	return len(a.files)
}

// Names returns the entry names in archive order.
func (a *Archive) Names() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.files))
	for _, f := range a.files {
		out = append(out, f.Name)
	}
	return out
}

// Has reports whether an entry with exactly this name exists.
func (a *Archive) Has(name string) bool {
	if a == nil || a.index == nil {
		return false
	}
	_, ok := a.index[name]
	return ok
}

// ReadFile returns the decompressed contents of the named entry.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if a == nil || a.index == nil {
		return nil, ErrClosed
	}
	i, ok := a.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return a.ReadIndex(i)
}

// ReadIndex returns the decompressed contents of the i-th entry.
func (a *Archive) ReadIndex(i int) ([]byte, error) {
	if a == nil || a.index == nil {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(a.files) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, i)
	}
	f := a.files[i]
	if a.maxEntry > 0 && f.UncompressedSize64 > uint64(a.maxEntry) {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if a.maxEntry <= 0 {
		return io.ReadAll(rc)
	}
	// The header size is not trusted: count what actually inflates.
	b, err := io.ReadAll(io.LimitReader(rc, a.maxEntry+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > a.maxEntry {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, f.Name)
	}
	return b, nil
}

// Find returns the first entry name, in archive order, accepted by match.
func (a *Archive) Find(match func(name string) bool) (string, bool) {
	if a == nil {
		return "", false
	}
	for _, f := range a.files {
		if match(f.Name) {
			return f.Name, true
		}
	}
	return "", false
}

// Close drops the archive's references to its buffer. Further reads fail
// with ErrClosed.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	a.files = nil
	a.index = nil
	return nil
}
