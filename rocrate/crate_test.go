package rocrate

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sample = `{
  "@context": "https://w3id.org/ro/crate/1.1/context",
  "@graph": [
    {"@id": "ro-crate-metadata.json", "@type": "CreativeWork",
     "about": {"@id": "./"}, "conformsTo": {"@id": "https://w3id.org/ro/crate/1.1"}},
    {"@id": "./", "@type": "Dataset", "name": "Root", "hasPart": [{"@id": "sub/"}, {"@id": "data.csv"}]},
    {"@id": "sub/", "@type": "Dataset", "conformsTo": {"@id": "https://w3id.org/ro/crate"},
     "subjectOf": {"@id": "sub/ro-crate-metadata.json"}},
    {"@id": "data.csv", "@type": ["File", "Dataset"], "contentSize": 42, "public": true, "notes": null}
  ]
}`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(c.Graph) != 4 {
		t.Fatalf("graph size: got %d want 4", len(c.Graph))
	}
	ids := make([]string, 0, len(c.Graph))
	for _, e := range c.Graph {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]string{"ro-crate-metadata.json", "./", "sub/", "data.csv"}, ids); diff != "" {
		t.Fatalf("graph order mismatch (-want +got):\n%s", diff)
	}

	if c.RootID() != "./" || c.Root() == nil || c.Name() != "Root" {
		t.Fatalf("unexpected root: id=%q name=%q", c.RootID(), c.Name())
	}

	root := c.Root()
	hasPart, _ := root.Get("hasPart")
	if diff := cmp.Diff([]string{"sub/", "data.csv"}, hasPart.Refs()); diff != "" {
		t.Fatalf("hasPart mismatch (-want +got):\n%s", diff)
	}

	sub := c.Entity("sub/")
	if !sub.HasType("Dataset") || !sub.ConformsToPrefix(Profile) {
		t.Fatalf("sub/ should be a Dataset conforming to the crate profile")
	}
	v, _ := sub.Get("subjectOf")
	if id, ok := v.Identifier(); !ok || id != "sub/ro-crate-metadata.json" {
		t.Fatalf("subjectOf identifier: got %q, %v", id, ok)
	}

	data := c.Entity("data.csv")
	if diff := cmp.Diff([]string{"File", "Dataset"}, data.Types); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}
	size, _ := data.Get("contentSize")
	if size.Kind != KindNumber || size.Number.String() != "42" {
		t.Fatalf("contentSize: got %+v", size)
	}
	if pub, _ := data.Get("public"); pub.Kind != KindBool || !pub.Bool {
		t.Fatalf("public: got %+v", pub)
	}
	if notes, _ := data.Get("notes"); notes.Kind != KindNull {
		t.Fatalf("notes: got %+v", notes)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	b, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	again, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse(Marshal) failed: %v", err)
	}
	if !c.Equal(again) {
		t.Fatalf("round trip changed the crate:\n%s", b)
	}
	if diff := cmp.Diff(c.Graph, again.Graph); diff != "" {
		t.Fatalf("graph mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		``,
		`not json`,
		`{"@graph": []}`,
		`{"@context": "x"}`,
		`{"@context": "x", "@graph": ["nope"]}`,
	}
	for _, in := range cases {
		if _, err := Parse([]byte(in)); !errors.Is(err, ErrInvalidCrate) {
			t.Fatalf("Parse(%q): expected ErrInvalidCrate, got %v", in, err)
		}
	}
}
