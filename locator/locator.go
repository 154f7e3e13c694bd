// Package locator classifies the strings that point at subcrate metadata:
// remote URLs, local filesystem paths, and identifiers that cannot be
// resolved at all.
package locator

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Kind is how a locator gets resolved.
type Kind int

const (
	Unsupported Kind = iota
	Local
	Remote
	Fragment
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Fragment:
		return "fragment"
	default:
		return "unsupported"
	}
}

const metadataFile = "ro-crate-metadata.json"

// IsNotURL reports whether s should be treated as something other than an
// absolute URL.
//
// Strings naming a metadata document, and "./", are never reported as
// non-URLs. Windows extended and UNC paths, drive letters, absolute and
// dot-relative paths and file: URIs always are. Anything else is a non-URL
// unless it parses as an absolute URL with a scheme.
func IsNotURL(s string) bool {
	if strings.Contains(s, metadataFile) || s == "./" {
		return false
	}
	if hasPathPrefix(s) {
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return true
	}
	return u.Scheme == ""
}

func hasPathPrefix(s string) bool {
	switch {
	case strings.HasPrefix(s, `\\?\`), strings.HasPrefix(s, `\\`):
		return true
	case isDriveLetter(s):
		return true
	case strings.HasPrefix(s, "/"), strings.HasPrefix(s, "."):
		return true
	case strings.HasPrefix(s, "file:"):
		return true
	}
	return false
}

func isDriveLetter(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Classify decides how s is resolved. Only http and https URLs with a host
// are remote; file: URIs and path-like strings are local; other schemes are
// unsupported.
func Classify(s string) Kind {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Unsupported
	case strings.HasPrefix(s, "#"):
		return Fragment
	case hasPathPrefix(s):
		return Local
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return Local
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return Unsupported
		}
		return Remote
	case "file":
		return Local
	default:
		return Unsupported
	}
}

// FilePath converts a local locator to a filesystem path. file: URIs are
// decoded; everything else is returned unchanged.
func FilePath(s string) string {
	if !strings.HasPrefix(s, "file:") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return strings.TrimPrefix(s, "file:")
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if isDriveLetter(strings.TrimPrefix(p, "/")) {
		p = strings.TrimPrefix(p, "/")
	}
	return filepath.FromSlash(p)
}

// Join resolves ref against base, the locator of the crate that declared
// it. Absolute URLs and absolute paths are returned unchanged; an empty
// base leaves ref as is.
func Join(base, ref string) string {
	if base == "" || ref == "" {
		return ref
	}
	switch Classify(ref) {
	case Remote, Unsupported, Fragment:
		return ref
	}
	if Classify(base) == Remote {
		b, err := url.Parse(base)
		if err != nil {
			return ref
		}
		r, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return b.ResolveReference(r).String()
	}
	p := FilePath(ref)
	if filepath.IsAbs(p) {
		return ref
	}
	joined := filepath.Join(FilePath(base), p)
	if strings.HasSuffix(ref, "/") || strings.HasSuffix(ref, string(filepath.Separator)) {
		joined += string(filepath.Separator)
	}
	return joined
}

// Base returns the locator that relative references inside the crate at
// source resolve against: the containing directory of a metadata document,
// or the URL itself.
func Base(source string) string {
	if Classify(source) == Remote {
		u, err := url.Parse(source)
		if err != nil {
			return source
		}
		u.RawQuery, u.Fragment, u.RawFragment = "", "", ""
		if u.Path == "" {
			u.Path = "/"
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path = path.Dir(u.Path) + "/"
			if u.Path == "//" {
				u.Path = "/"
			}
		}
		return u.String()
	}
	p := FilePath(source)
	return filepath.Dir(p) + string(filepath.Separator)
}

// Canonical returns the key under which s is deduplicated: URLs with the
// scheme and host lower-cased and the fragment removed, paths cleaned and
// made absolute. A directory and its metadata document share a key.
func Canonical(s string) string {
	s = strings.TrimSpace(s)
	if Classify(s) == Remote {
		u, err := url.Parse(s)
		if err != nil {
			return s
		}
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.Fragment, u.RawFragment = "", ""
		if u.Path == "" {
			u.Path = "/"
		}
		return u.String()
	}
	if Classify(s) != Local {
		return s
	}
	p := FilePath(s)
	if strings.HasSuffix(p, string(filepath.Separator)) || strings.HasSuffix(p, "/") {
		p = filepath.Join(p, metadataFile)
	} else if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		p = filepath.Join(p, metadataFile)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
