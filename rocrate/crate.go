// Package rocrate models RO-Crate metadata documents (ro-crate-metadata.json)
// as far as crate resolution needs: parse, serialize, and read the
// identifying properties of graph entities.
package rocrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// MetadataFile is the conventional name of a crate's metadata document.
	MetadataFile = "ro-crate-metadata.json"

	// Profile is the RO-Crate specification identifier used in conformsTo
	// values, signposting profiles and content negotiation.
	Profile = "https://w3id.org/ro/crate"
)

var ErrInvalidCrate = errors.New("rocrate: invalid crate")

// Crate is a parsed metadata document. Graph order is preserved.
type Crate struct {
	Context json.RawMessage
	Graph   []*Entity
}

type crateJSON struct {
	Context json.RawMessage `json:"@context"`
	Graph   []*Entity       `json:"@graph"`
}

// Parse decodes a metadata document.
func Parse(b []byte) (*Crate, error) {
	var raw crateJSON
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCrate, err)
	}
	if len(raw.Context) == 0 {
		return nil, fmt.Errorf("%w: missing @context", ErrInvalidCrate)
	}
	if raw.Graph == nil {
		return nil, fmt.Errorf("%w: missing @graph", ErrInvalidCrate)
	}
	for i, e := range raw.Graph {
		if e == nil {
			return nil, fmt.Errorf("%w: @graph[%d] is not an object", ErrInvalidCrate, i)
		}
	}
	return &Crate{Context: raw.Context, Graph: raw.Graph}, nil
}

// Marshal encodes the crate. Output is deterministic: entity properties are
// written in key order.
func (c *Crate) Marshal() ([]byte, error) {
	graph := c.Graph
	if graph == nil {
		graph = []*Entity{}
	}
	return json.Marshal(crateJSON{Context: c.Context, Graph: graph})
}

// Equal reports whether two crates serialize identically.
func (c *Crate) Equal(o *Crate) bool {
	if c == nil || o == nil {
		return c == o
	}
	a, err := c.Marshal()
	if err != nil {
		return false
	}
	b, err := o.Marshal()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Entity returns the graph entity with the given @id, or nil.
func (c *Crate) Entity(id string) *Entity {
	for _, e := range c.Graph {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Descriptor returns the metadata descriptor entity, or nil.
func (c *Crate) Descriptor() *Entity {
	if e := c.Entity(MetadataFile); e != nil {
		return e
	}
	for _, e := range c.Graph {
		if strings.HasSuffix(e.ID, "/"+MetadataFile) && e.Has("about") {
			return e
		}
	}
	return nil
}

// RootID returns the @id of the root data entity: the descriptor's about
// target, or "./" when there is no descriptor.
func (c *Crate) RootID() string {
	if d := c.Descriptor(); d != nil {
		if v, ok := d.Get("about"); ok {
			if id, ok := v.Identifier(); ok {
				return id
			}
		}
	}
	return "./"
}

// Root returns the root data entity, or nil.
func (c *Crate) Root() *Entity {
	return c.Entity(c.RootID())
}

// Name returns the root entity's name, or "".
func (c *Crate) Name() string {
	if r := c.Root(); r != nil {
		if v, ok := r.Get("name"); ok {
			s, _ := v.Str()
			return s
		}
	}
	return ""
}
