package compliance

import "testing"

func TestParseMode(t *testing.T) {
	cases := map[string]ComplianceMode{
		"strict":      Strict,
		" Strict ":    Strict,
		"permissive":  Permissive,
		"best-effort": Permissive,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseMode(%q): got %s want %s", in, got, want)
		}
	}
	if _, err := ParseMode("lenient"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
