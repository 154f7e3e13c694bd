// Package subcrate finds the nested crates a crate declares and resolves
// them, optionally recursively.
package subcrate

import (
	"strings"

	"rocrate.dev/rocrate/rocrate"
)

// Locate returns the identifier to resolve for a subcrate reference:
// subjectOf, then distribution, then the entity's own @id. A property only
// counts when it holds a single identifier (a string or {"@id": ...}).
func Locate(e *rocrate.Entity) string {
	for _, key := range []string{"subjectOf", "distribution"} {
		if v, ok := e.Get(key); ok {
			if id, ok := v.Identifier(); ok {
				return id
			}
		}
	}
	return e.ID
}

// Enumerate returns, in graph order, the Dataset entities of c that stand
// for nested crates: those that declare conformance to an RO-Crate profile,
// and parts of the root that point at their own metadata through subjectOf
// or distribution. The root entity and the metadata descriptor never
// qualify.
func Enumerate(c *rocrate.Crate) []*rocrate.Entity {
	if c == nil {
		return nil
	}
	rootID := c.RootID()
	var descID string
	if d := c.Descriptor(); d != nil {
		descID = d.ID
	}

	parts := map[string]struct{}{}
	if root := c.Root(); root != nil {
		if v, ok := root.Get("hasPart"); ok {
			for _, id := range v.Refs() {
				parts[id] = struct{}{}
			}
		}
	}

	var out []*rocrate.Entity
	for _, e := range c.Graph {
		if e.ID == rootID || e.ID == descID || !e.HasType("Dataset") {
			continue
		}
		if e.ConformsToPrefix(rocrate.Profile) {
			out = append(out, e)
			continue
		}
		if _, ok := parts[e.ID]; ok && pointsAtMetadata(e) {
			out = append(out, e)
		}
	}
	return out
}

func pointsAtMetadata(e *rocrate.Entity) bool {
	for _, key := range []string{"subjectOf", "distribution"} {
		if v, ok := e.Get(key); ok {
			if id, ok := v.Identifier(); ok && strings.TrimSpace(id) != "" {
				return true
			}
		}
	}
	return false
}
