package fetch

import (
	"strings"

	"rocrate.dev/rocrate/rocrate"
)

// Link is one link-value of an HTTP Link header (RFC 8288).
type Link struct {
	URL    string
	Params map[string]string
}

// Rels returns the link relation types, lower-cased.
func (l Link) Rels() []string {
	return strings.Fields(strings.ToLower(l.Params["rel"]))
}

// HasRel reports whether the link carries relation rel (case-insensitive).
func (l Link) HasRel(rel string) bool {
	rel = strings.ToLower(rel)
	for _, r := range l.Rels() {
		if r == rel {
			return true
		}
	}
	return false
}

// HasProfile reports whether any profile URI of the link starts with p.
func (l Link) HasProfile(p string) bool {
	for _, v := range strings.Fields(l.Params["profile"]) {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

// ParseLinkHeader parses Link header values. A value may hold several
// comma-separated links. Targets are normally enclosed in angle brackets;
// a bare target up to the first ';' is accepted too.
func ParseLinkHeader(values ...string) []Link {
	var out []Link
	for _, v := range values {
		for _, part := range splitOutside(v, ',') {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if l, ok := parseLink(part); ok {
				out = append(out, l)
			}
		}
	}
	return out
}

func parseLink(s string) (Link, bool) {
	l := Link{Params: map[string]string{}}
	var rest string
	if strings.HasPrefix(s, "<") {
		end := strings.IndexByte(s, '>')
		if end < 0 {
			return l, false
		}
		l.URL = strings.TrimSpace(s[1:end])
		rest = s[end+1:]
	} else {
		target, params, _ := strings.Cut(s, ";")
		l.URL = strings.TrimSpace(target)
		rest = ";" + params
	}
	if l.URL == "" {
		return l, false
	}
	for _, p := range splitOutside(rest, ';') {
		key, val, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.Trim(strings.TrimSpace(val), `"`)
		if _, dup := l.Params[key]; !dup {
			l.Params[key] = val
		}
	}
	return l, true
}

// splitOutside splits s on sep, ignoring separators inside quotes or angle
// brackets.
func splitOutside(s string, sep byte) []string {
	var out []string
	var quoted, bracketed bool
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' && !bracketed:
			quoted = !quoted
		case c == '<' && !quoted:
			bracketed = true
		case c == '>' && !quoted:
			bracketed = false
		case c == sep && !quoted && !bracketed:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// SelectCrateLink picks the link to follow: a link with the RO-Crate
// profile wins regardless of position; otherwise the first describedby or
// item link.
func SelectCrateLink(links []Link) (Link, bool) {
	for _, l := range links {
		if l.HasProfile(rocrate.Profile) {
			return l, true
		}
	}
	for _, l := range links {
		if l.HasRel("describedby") || l.HasRel("item") {
			return l, true
		}
	}
	return Link{}, false
}
