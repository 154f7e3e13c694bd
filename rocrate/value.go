package rocrate

import (
	"bytes"
	"encoding/json"
)

// ValueKind tags the shape of a property value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindRef
	KindNumber
	KindBool
	KindList
	KindObject
	KindRaw
)

// Value is a JSON-LD property value. Exactly one of the payload fields is
// meaningful, selected by Kind. Shapes that are not modelled keep their raw
// JSON so they survive a round trip.
type Value struct {
	Kind   ValueKind
	String string
	Number json.Number
	Bool   bool
	List   []Value
	Object map[string]Value
	Raw    json.RawMessage
}

func StringValue(s string) Value { return Value{Kind: KindString, String: s} }

// RefValue builds an {"@id": id} reference.
func RefValue(id string) Value { return Value{Kind: KindRef, String: id} }

func ListValue(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// Str returns the value when it is a plain string.
func (v Value) Str() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.String, true
}

// Ref returns the target of an {"@id": ...} reference.
func (v Value) Ref() (string, bool) {
	if v.Kind != KindRef {
		return "", false
	}
	return v.String, true
}

// Identifier returns the single identifier held by v: a plain string or a
// reference. Lists never qualify.
func (v Value) Identifier() (string, bool) {
	switch v.Kind {
	case KindString, KindRef:
		return v.String, v.String != ""
	default:
		return "", false
	}
}

// Refs returns every reference target in v, flattening one level of list.
func (v Value) Refs() []string {
	switch v.Kind {
	case KindRef:
		return []string{v.String}
	case KindList:
		var out []string
		for _, item := range v.List {
			if id, ok := item.Ref(); ok {
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}

// Strings returns the string members of v: v itself when it is a string, or
// the string items of a list.
func (v Value) Strings() []string {
	switch v.Kind {
	case KindString:
		return []string{v.String}
	case KindList:
		var out []string
		for _, item := range v.List {
			if s, ok := item.Str(); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		*v = Value{}
		return nil
	}
	switch b[0] {
	case 'n':
		*v = Value{Kind: KindNull}
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var x bool
		if err := json.Unmarshal(b, &x); err != nil {
			return err
		}
		*v = Value{Kind: KindBool, Bool: x}
	case '[':
		var items []Value
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*v = Value{Kind: KindList, List: items}
	case '{':
		var obj map[string]Value
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if id, ok := obj["@id"]; ok && len(obj) == 1 && id.Kind == KindString {
			*v = RefValue(id.String)
			return nil
		}
		*v = Value{Kind: KindObject, Object: obj}
	default:
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			*v = Value{Kind: KindRaw, Raw: append(json.RawMessage(nil), b...)}
			return nil
		}
		*v = Value{Kind: KindNumber, Number: n}
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.String)
	case KindRef:
		return json.Marshal(map[string]string{"@id": v.String})
	case KindNumber:
		if v.Number == "" {
			return []byte("0"), nil
		}
		return []byte(v.Number), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindObject:
		return json.Marshal(v.Object)
	default:
		if len(v.Raw) == 0 {
			return []byte("null"), nil
		}
		return v.Raw, nil
	}
}
