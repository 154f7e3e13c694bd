package rocrate

import (
	"encoding/json"
	"strings"
)

// Entity is one node of a crate's @graph.
type Entity struct {
	ID         string
	Types      []string
	Properties map[string]Value
}

// Get returns a property value.
func (e *Entity) Get(key string) (Value, bool) {
	if e == nil || e.Properties == nil {
		return Value{}, false
	}
	v, ok := e.Properties[key]
	return v, ok
}

// Has reports whether the entity carries key.
func (e *Entity) Has(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// HasType reports whether @type includes t.
func (e *Entity) HasType(t string) bool {
	if e == nil {
		return false
	}
	for _, have := range e.Types {
		if have == t {
			return true
		}
	}
	return false
}

// ConformsTo returns the identifiers listed in conformsTo, whether given as
// strings or references.
func (e *Entity) ConformsTo() []string {
	v, ok := e.Get("conformsTo")
	if !ok {
		return nil
	}
	out := v.Refs()
	out = append(out, v.Strings()...)
	return out
}

// ConformsToPrefix reports whether any conformsTo identifier starts with
// prefix.
func (e *Entity) ConformsToPrefix(prefix string) bool {
	for _, id := range e.ConformsTo() {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

func (e *Entity) UnmarshalJSON(b []byte) error {
	var raw map[string]Value
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Entity{Properties: make(map[string]Value, len(raw))}
	for k, v := range raw {
		switch k {
		case "@id":
			out.ID, _ = v.Identifier()
		case "@type":
			out.Types = v.Strings()
		default:
			out.Properties[k] = v
		}
	}
	*e = out
	return nil
}

func (e Entity) MarshalJSON() ([]byte, error) {
	raw := make(map[string]Value, len(e.Properties)+2)
	for k, v := range e.Properties {
		raw[k] = v
	}
	if e.ID != "" {
		raw["@id"] = StringValue(e.ID)
	}
	switch len(e.Types) {
	case 0:
	case 1:
		raw["@type"] = StringValue(e.Types[0])
	default:
		items := make([]Value, 0, len(e.Types))
		for _, t := range e.Types {
			items = append(items, StringValue(t))
		}
		raw["@type"] = ListValue(items...)
	}
	return json.Marshal(raw)
}
