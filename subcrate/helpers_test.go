package subcrate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"rocrate.dev/rocrate/fetch"
	"rocrate.dev/rocrate/rocrate"
)

// crateDoc renders crate metadata whose root has the given nested crates,
// each declared as a Dataset conforming to the RO-Crate profile.
func crateDoc(t *testing.T, name string, children ...string) []byte {
	t.Helper()
	parts := make([]map[string]string, 0, len(children))
	graph := []any{
		map[string]any{
			"@id":        "ro-crate-metadata.json",
			"@type":      "CreativeWork",
			"about":      map[string]string{"@id": "./"},
			"conformsTo": map[string]string{"@id": "https://w3id.org/ro/crate/1.2"},
		},
	}
	for _, c := range children {
		parts = append(parts, map[string]string{"@id": c})
	}
	graph = append(graph, map[string]any{"@id": "./", "@type": "Dataset", "name": name, "hasPart": parts})
	for _, c := range children {
		graph = append(graph, map[string]any{
			"@id":        c,
			"@type":      "Dataset",
			"conformsTo": map[string]string{"@id": rocrate.Profile},
		})
	}
	b, err := json.Marshal(map[string]any{
		"@context": "https://w3id.org/ro/crate/1.2/context",
		"@graph":   graph,
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return b
}

func crateWith(t *testing.T, name string, children ...string) *rocrate.Crate {
	t.Helper()
	c, err := rocrate.Parse(crateDoc(t, name, children...))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return c
}

// fakeResolver serves crates from a map and records every call.
type fakeResolver struct {
	crates map[string]*rocrate.Crate
	delay  map[string]time.Duration

	mu    sync.Mutex
	calls []string
}

func (f *fakeResolver) Resolve(ctx context.Context, loc string) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, loc)
	f.mu.Unlock()

	if d := f.delay[loc]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, &fetch.Error{Kind: fetch.KindTransport, Locator: loc, Message: "cancelled", Cause: ctx.Err()}
		}
	}
	c, ok := f.crates[loc]
	if !ok {
		return nil, &fetch.Error{Kind: fetch.KindNotFound, Locator: loc, Message: "could not retrieve subcrate"}
	}
	return &fetch.Result{Crate: c, Locator: loc, Source: loc, Strategy: fetch.StrategyDirect}, nil
}

func (f *fakeResolver) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func locators(subs []Subcrate) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Locator)
	}
	return out
}
