// Package bagit reads and verifies BagIt bags (RFC 8493).
//
// A Bag is read-only. It can be backed by a ZIP archive, an in-memory file
// map or a directory on disk; see Source.
package bagit

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"rocrate.dev/rocrate/checksum"
)

const (
	DeclarationFile = "bagit.txt"
	InfoFile        = "bag-info.txt"
	FetchFile       = "fetch.txt"
	PayloadDir      = "data/"
)

// Bag is a BagIt bag over a Source.
type Bag struct {
	src Source
}

// New wraps src as a Bag.
func New(src Source) *Bag {
	return &Bag{src: src}
}

// Declaration is the content of bagit.txt.
type Declaration struct {
	Version  string
	Encoding string
}

// ManifestEntry is one line of a (tag) manifest.
type ManifestEntry struct {
	Checksum string
	Path     string
}

// FetchEntry is one line of fetch.txt. Length is -1 when unspecified.
type FetchEntry struct {
	URL    string
	Length int64
	Path   string
}

// Metadata holds bag-info.txt fields. Keys are lower-cased; a label may
// repeat, so each key maps to every value in file order.
type Metadata map[string][]string

// Get returns all values for key (case-insensitive).
func (m Metadata) Get(key string) []string { return m[strings.ToLower(key)] }

// First returns the first value for key, or "".
func (m Metadata) First(key string) string {
	if v := m.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Len returns the number of files in the bag.
func (b *Bag) Len() int { return len(b.src.Names()) }

// Names returns all file names in source order.
func (b *Bag) Names() []string { return b.src.Names() }

// Has reports whether the bag contains name.
func (b *Bag) Has(name string) bool { return b.src.Has(name) }

// ReadFile returns the contents of a bag file.
func (b *Bag) ReadFile(name string) ([]byte, error) {
	if !b.src.Has(name) {
		return nil, newError(KindFileNotFound, name, "file not found")
	}
	data, err := b.src.ReadFile(name)
	if err != nil {
		return nil, wrapError(KindIO, name, "read file", err)
	}
	return data, nil
}

// ReadIndex returns the name and contents of the i-th file.
func (b *Bag) ReadIndex(i int) (string, []byte, error) {
	names := b.src.Names()
	if i < 0 || i >= len(names) {
		return "", nil, newError(KindInvalidStructure, "", fmt.Sprintf("invalid index %d", i))
	}
	data, err := b.ReadFile(names[i])
	return names[i], data, err
}

// IsPayload reports whether name lives under the payload directory.
func IsPayload(name string) bool { return strings.HasPrefix(name, PayloadDir) }

// Close releases the underlying source when it holds resources.
func (b *Bag) Close() error {
	if c, ok := b.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *Bag) lines(name string) ([]string, error) {
	data, err := b.ReadFile(name)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(data), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		out = append(out, strings.TrimRight(l, "\r"))
	}
	return out, nil
}

// Declaration parses bagit.txt.
func (b *Bag) Declaration() (Declaration, error) {
	var d Declaration
	lines, err := b.lines(DeclarationFile)
	if err != nil {
		return d, err
	}
	var haveVersion, haveEncoding bool
	for _, l := range lines {
		key, val, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "BagIt-Version":
			d.Version, haveVersion = strings.TrimSpace(val), true
		case "Tag-File-Character-Encoding":
			d.Encoding, haveEncoding = strings.TrimSpace(val), true
		}
	}
	if !haveVersion || d.Version == "" {
		return d, newError(KindInvalidDeclaration, DeclarationFile, "missing BagIt-Version")
	}
	if !haveEncoding || d.Encoding == "" {
		return d, newError(KindInvalidDeclaration, DeclarationFile, "missing Tag-File-Character-Encoding")
	}
	return d, nil
}

// Manifest parses manifest-<algorithm>.txt.
func (b *Bag) Manifest(algorithm string) ([]ManifestEntry, error) {
	return b.parseManifest("manifest-" + algorithm + ".txt")
}

// TagManifest parses tagmanifest-<algorithm>.txt.
func (b *Bag) TagManifest(algorithm string) ([]ManifestEntry, error) {
	return b.parseManifest("tagmanifest-" + algorithm + ".txt")
}

func (b *Bag) parseManifest(name string) ([]ManifestEntry, error) {
	lines, err := b.lines(name)
	if err != nil {
		return nil, err
	}
	var out []ManifestEntry
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		i := strings.IndexFunc(l, unicode.IsSpace)
		if i <= 0 {
			return nil, newError(KindInvalidManifest, name, fmt.Sprintf("invalid line %q", l))
		}
		path := strings.TrimSpace(l[i:])
		if path == "" {
			return nil, newError(KindInvalidManifest, name, fmt.Sprintf("invalid line %q", l))
		}
		out = append(out, ManifestEntry{
			Checksum: strings.ToLower(l[:i]),
			Path:     DecodeFilepath(path),
		})
	}
	return out, nil
}

// Metadata parses bag-info.txt. A missing file yields empty metadata.
// Lines starting with whitespace continue the previous value.
func (b *Bag) Metadata() (Metadata, error) {
	md := Metadata{}
	if !b.src.Has(InfoFile) {
		return md, nil
	}
	lines, err := b.lines(InfoFile)
	if err != nil {
		return nil, err
	}
	var key, val string
	flush := func() {
		if key != "" {
			k := strings.ToLower(key)
			md[k] = append(md[k], val)
		}
	}
	for _, l := range lines {
		if l != "" && unicode.IsSpace(rune(l[0])) {
			val += " " + strings.TrimSpace(l)
			continue
		}
		k, v, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		flush()
		key, val = strings.TrimSpace(k), strings.TrimSpace(v)
	}
	flush()
	return md, nil
}

// FetchEntries parses fetch.txt. A missing file yields no entries.
func (b *Bag) FetchEntries() ([]FetchEntry, error) {
	if !b.src.Has(FetchFile) {
		return nil, nil
	}
	lines, err := b.lines(FetchFile)
	if err != nil {
		return nil, err
	}
	var out []FetchEntry
	for _, l := range lines {
		fields := strings.Fields(l)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, newError(KindInvalidManifest, FetchFile, fmt.Sprintf("invalid line %q", l))
		}
		e := FetchEntry{URL: fields[0], Length: -1, Path: DecodeFilepath(strings.Join(fields[2:], " "))}
		if fields[1] != "-" {
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || n < 0 {
				return nil, newError(KindInvalidManifest, FetchFile, fmt.Sprintf("invalid length %q", fields[1]))
			}
			e.Length = n
		}
		out = append(out, e)
	}
	return out, nil
}

// ManifestAlgorithms lists the algorithms of the payload manifests present.
func (b *Bag) ManifestAlgorithms() []string { return b.algorithms("manifest-") }

// TagManifestAlgorithms lists the algorithms of the tag manifests present.
func (b *Bag) TagManifestAlgorithms() []string { return b.algorithms("tagmanifest-") }

func (b *Bag) algorithms(prefix string) []string {
	var out []string
	for _, n := range b.src.Names() {
		if strings.Contains(n, "/") || !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ".txt") {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(n, prefix), ".txt"))
	}
	return out
}

// VerifyFile checks a bag file against an expected digest.
func (b *Bag) VerifyFile(path, expected, algorithm string) error {
	data, err := b.ReadFile(path)
	if err != nil {
		return err
	}
	if err := checksum.Verify(path, data, expected, algorithm); err != nil {
		if errors.Is(err, checksum.ErrUnsupportedAlgorithm) {
			return wrapError(KindUnsupportedAlgorithm, path, "unsupported algorithm", err)
		}
		return wrapError(KindChecksumMismatch, path, "checksum mismatch", err)
	}
	return nil
}

// VerifyManifest checks every payload file listed in manifest-<algorithm>.txt.
func (b *Bag) VerifyManifest(algorithm string) error {
	entries, err := b.Manifest(algorithm)
	if err != nil {
		return err
	}
	return b.verifyEntries(entries, algorithm)
}

// VerifyTagManifest checks every tag file listed in tagmanifest-<algorithm>.txt.
func (b *Bag) VerifyTagManifest(algorithm string) error {
	entries, err := b.TagManifest(algorithm)
	if err != nil {
		return err
	}
	return b.verifyEntries(entries, algorithm)
}

func (b *Bag) verifyEntries(entries []ManifestEntry, algorithm string) error {
	for _, e := range entries {
		if err := b.VerifyFile(e.Path, e.Checksum, algorithm); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the manifest entry for the first of paths listed in
// manifest-<algorithm>.txt. It returns ErrNotListed when the manifest is
// absent or lists none of them.
func (b *Bag) Lookup(algorithm string, paths ...string) (ManifestEntry, error) {
	if !b.src.Has("manifest-" + algorithm + ".txt") {
		return ManifestEntry{}, ErrNotListed
	}
	entries, err := b.Manifest(algorithm)
	if err != nil {
		return ManifestEntry{}, err
	}
	for _, p := range paths {
		for _, e := range entries {
			if e.Path == p {
				return e, nil
			}
		}
	}
	return ManifestEntry{}, ErrNotListed
}

// VerifyListed verifies path against its entry in manifest-<algorithm>.txt.
func (b *Bag) VerifyListed(path, algorithm string) error {
	e, err := b.Lookup(algorithm, path)
	if err != nil {
		return err
	}
	return b.VerifyFile(path, e.Checksum, algorithm)
}

// IsComplete reports whether the bag is complete: it has a declaration and
// at least one payload manifest, every manifest lists the same files, every
// listed file is present and every payload file is listed.
func (b *Bag) IsComplete() (bool, error) {
	if !b.src.Has(DeclarationFile) {
		return false, nil
	}
	algs := b.ManifestAlgorithms()
	if len(algs) == 0 {
		return false, nil
	}
	var listed map[string]struct{}
	for _, alg := range algs {
		entries, err := b.Manifest(alg)
		if err != nil {
			return false, err
		}
		files := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			files[e.Path] = struct{}{}
		}
		if listed == nil {
			listed = files
			continue
		}
		if !sameSet(listed, files) {
			return false, nil
		}
	}
	for p := range listed {
		if !b.src.Has(p) {
			return false, nil
		}
	}
	for _, n := range b.src.Names() {
		if !IsPayload(n) {
			continue
		}
		if _, ok := listed[n]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Validate checks the declaration and verifies every payload manifest and
// every tag manifest.
func (b *Bag) Validate() error {
	d, err := b.Declaration()
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.ReplaceAll(d.Encoding, "-", ""), "utf8") {
		return newError(KindEncoding, DeclarationFile, fmt.Sprintf("unsupported tag file encoding %q", d.Encoding))
	}
	algs := b.ManifestAlgorithms()
	if len(algs) == 0 {
		return newError(KindMissingFile, "", "no payload manifest found")
	}
	for _, alg := range algs {
		if err := b.VerifyManifest(alg); err != nil {
			return err
		}
	}
	for _, alg := range b.TagManifestAlgorithms() {
		if err := b.VerifyTagManifest(alg); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFilepath turns %XX escapes into raw bytes. Malformed escapes are
// kept literally.
func DecodeFilepath(p string) string {
	if !strings.Contains(p, "%") {
		return p
	}
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '%' && i+2 < len(p) {
			if v, err := strconv.ParseUint(p[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(v))
				i += 2
				continue
			}
		}
		out = append(out, p[i])
	}
	return string(out)
}
