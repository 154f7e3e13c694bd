package fetch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rocrate.dev/rocrate/archive"
	"rocrate.dev/rocrate/checksum"
	"rocrate.dev/rocrate/storage/localfs"
)

func TestResolveRemote_DirectUsesSingleRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/sub", serveBytes("application/ld+json", []byte(crateJSON("direct"))))
	srv := newRecorder(t, mux)

	res, err := New().ResolveRemote(context.Background(), srv.URL+"/sub")
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if res.Strategy != StrategyDirect {
		t.Fatalf("strategy: got %s want %s", res.Strategy, StrategyDirect)
	}
	if res.Crate.Name() != "direct" {
		t.Fatalf("unexpected crate name %q", res.Crate.Name())
	}
	if !res.CID.Defined() {
		t.Fatalf("expected a content id")
	}
	if srv.Total() != 1 {
		t.Fatalf("expected exactly one request, got %d", srv.Total())
	}
}

func TestResolveRemote_ZipResponses(t *testing.T) {
	body := crateJSON("zipped")
	cases := []struct {
		name      string
		zip       []entry
		wantEntry string
	}{
		{"root", []entry{{"ro-crate-metadata.json", body}}, "ro-crate-metadata.json"},
		{"root-beside-folder", []entry{{"base_folder/", ""}, {"ro-crate-metadata.json", body}}, "ro-crate-metadata.json"},
		{"nested-only", []entry{{"folder/", ""}, {"folder/ro-crate-metadata.json", body}}, "folder/ro-crate-metadata.json"},
		{"unbagged-manifest", []entry{{"data/", ""}, {"manifest-sha256.txt", "abc ro-crate-metadata.json"}, {"ro-crate-metadata.json", body}}, "ro-crate-metadata.json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.Handle("/sub", serveBytes("application/zip", buildZip(t, tc.zip...)))
			srv := newRecorder(t, mux)

			res, err := New().ResolveRemote(context.Background(), srv.URL+"/sub")
			if err != nil {
				t.Fatalf("ResolveRemote failed: %v", err)
			}
			if res.Strategy != StrategyArchive {
				t.Fatalf("strategy: got %s want %s", res.Strategy, StrategyArchive)
			}
			if res.Entry != tc.wantEntry {
				t.Fatalf("entry: got %q want %q", res.Entry, tc.wantEntry)
			}
			if res.Crate.Name() != "zipped" {
				t.Fatalf("unexpected crate name %q", res.Crate.Name())
			}
			if srv.Total() != 1 {
				t.Fatalf("expected the body to be reused, got %d requests", srv.Total())
			}
		})
	}
}

func TestResolveRemote_SniffedZipWithoutContentType(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/sub", serveBytes("application/octet-stream", buildZip(t, entry{"ro-crate-metadata.json", crateJSON("sniffed")})))
	srv := newRecorder(t, mux)

	res, err := New().ResolveRemote(context.Background(), srv.URL+"/sub")
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if res.Strategy != StrategyArchive || res.Crate.Name() != "sniffed" {
		t.Fatalf("unexpected result: strategy=%s name=%q", res.Strategy, res.Crate.Name())
	}
}

func TestResolveRemote_BagIt(t *testing.T) {
	body := crateJSON("bagged")
	decl := "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n"

	t.Run("sha256", func(t *testing.T) {
		z := buildZip(t,
			entry{"bagit.txt", decl},
			entry{"manifest-sha256.txt", digest(t, body, "sha256") + "  data/ro-crate-metadata.json\n"},
			entry{"data/ro-crate-metadata.json", body},
		)
		mux := http.NewServeMux()
		mux.Handle("/bag", serveBytes("application/zip", z))
		srv := newRecorder(t, mux)

		res, err := New().ResolveRemote(context.Background(), srv.URL+"/bag")
		if err != nil {
			t.Fatalf("ResolveRemote failed: %v", err)
		}
		if res.Entry != "data/ro-crate-metadata.json" || res.Crate.Name() != "bagged" {
			t.Fatalf("unexpected result: entry=%q name=%q", res.Entry, res.Crate.Name())
		}
	})

	t.Run("sha512-listed-at-root", func(t *testing.T) {
		z := buildZip(t,
			entry{"bagit.txt", decl},
			entry{"manifest-sha512.txt", digest(t, body, "sha512") + " ro-crate-metadata.json\n"},
			entry{"data/ro-crate-metadata.json", body},
		)
		mux := http.NewServeMux()
		mux.Handle("/bag", serveBytes("application/zip", z))
		srv := newRecorder(t, mux)

		if _, err := New().ResolveRemote(context.Background(), srv.URL+"/bag"); err != nil {
			t.Fatalf("ResolveRemote failed: %v", err)
		}
	})

	t.Run("mismatch-is-fatal", func(t *testing.T) {
		z := buildZip(t,
			entry{"bagit.txt", decl},
			entry{"manifest-sha256.txt", strings.Repeat("0", 64) + " data/ro-crate-metadata.json\n"},
			entry{"data/ro-crate-metadata.json", body},
		)
		mux := http.NewServeMux()
		mux.Handle("/bag", serveBytes("application/zip", z))
		srv := newRecorder(t, mux)

		_, err := New().ResolveRemote(context.Background(), srv.URL+"/bag")
		if !IsKind(err, KindChecksumMismatch) {
			t.Fatalf("expected ChecksumMismatch, got %v", err)
		}
		var m *checksum.MismatchError
		if !errors.As(err, &m) {
			t.Fatalf("expected *checksum.MismatchError in chain, got %v", err)
		}
		if m.Path != "data/ro-crate-metadata.json" || m.Expected != strings.Repeat("0", 64) || m.Actual != digest(t, body, "sha256") {
			t.Fatalf("unexpected mismatch detail: %+v", m)
		}
		if srv.Total() != 1 {
			t.Fatalf("chain should stop at the mismatch, got %d requests", srv.Total())
		}
	})

	t.Run("unlisted", func(t *testing.T) {
		z := buildZip(t,
			entry{"bagit.txt", decl},
			entry{"manifest-sha256.txt", digest(t, "other", "sha256") + " data/other.txt\n"},
			entry{"data/ro-crate-metadata.json", body},
		)
		mux := http.NewServeMux()
		mux.Handle("/bag", serveBytes("application/zip", z))
		srv := newRecorder(t, mux)

		_, err := New().ResolveRemote(context.Background(), srv.URL+"/bag")
		if !IsKind(err, KindChecksumMismatch) {
			t.Fatalf("expected ChecksumMismatch for unlisted metadata, got %v", err)
		}
	})
}

func TestResolveRemote_Signposting(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sub1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Link", "http://"+r.Host+`/sub1-link; rel="describedBy"`)
	})
	mux.HandleFunc("/sub2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Link", `</sub2-item>; rel="item", </sub2-profile>; rel="describedby"; profile="https://w3id.org/ro/crate"`)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	})
	mux.Handle("/sub1-link", serveBytes("application/ld+json", []byte(crateJSON("linked"))))
	mux.Handle("/sub2-item", serveBytes("application/ld+json", []byte(crateJSON("item"))))
	mux.Handle("/sub2-profile", serveBytes("application/ld+json", []byte(crateJSON("profile"))))
	srv := newRecorder(t, mux)

	f := New()
	res, err := f.ResolveRemote(context.Background(), srv.URL+"/sub1")
	if err != nil {
		t.Fatalf("ResolveRemote(sub1) failed: %v", err)
	}
	if res.Strategy != StrategySignposting || res.Crate.Name() != "linked" {
		t.Fatalf("sub1: strategy=%s name=%q", res.Strategy, res.Crate.Name())
	}

	res, err = f.ResolveRemote(context.Background(), srv.URL+"/sub2")
	if err != nil {
		t.Fatalf("ResolveRemote(sub2) failed: %v", err)
	}
	if res.Crate.Name() != "profile" {
		t.Fatalf("profile link should win, got %q", res.Crate.Name())
	}
	if srv.Hits("/sub2-item") != 0 {
		t.Fatalf("item link should not have been fetched")
	}
}

func TestResolveRemote_ContentNegotiationRetriesWithZip(t *testing.T) {
	mux := http.NewServeMux()
	z := buildZip(t, entry{"ro-crate-metadata.json", crateJSON("negotiated")})
	var (
		mu      sync.Mutex
		accepts []string
	)
	mux.HandleFunc("/sub", func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		mu.Lock()
		accepts = append(accepts, accept)
		mu.Unlock()
		switch {
		case strings.HasPrefix(accept, "application/ld+json"):
			w.WriteHeader(http.StatusMultipleChoices)
		case strings.HasPrefix(accept, "application/zip"):
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write(z)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	})
	srv := newRecorder(t, mux)

	res, err := New().ResolveRemote(context.Background(), srv.URL+"/sub")
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if res.Strategy != StrategyNegotiation || res.Crate.Name() != "negotiated" {
		t.Fatalf("unexpected result: strategy=%s name=%q", res.Strategy, res.Crate.Name())
	}
	want := []string{"", AcceptCrate, AcceptZip}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(accepts, "|") != strings.Join(want, "|") {
		t.Fatalf("accept sequence: got %q want %q", accepts, want)
	}
}

func TestResolveRemote_ContentNegotiationDirectHit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sub", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Accept"), "application/ld+json") {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		w.Header().Set("Content-Type", "application/ld+json")
		_, _ = w.Write([]byte(crateJSON("negotiated")))
	})
	srv := newRecorder(t, mux)

	res, err := New().ResolveRemote(context.Background(), srv.URL+"/sub")
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if res.Strategy != StrategyNegotiation {
		t.Fatalf("strategy: got %s", res.Strategy)
	}
}

func TestResolveRemote_GuessAfterRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sub", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/sub/index.html", http.StatusPermanentRedirect)
	})
	mux.Handle("/sub/index.html", serveBytes("text/html", []byte("<html>landing</html>")))
	mux.Handle("/sub/ro-crate-metadata.json", serveBytes("application/ld+json", []byte(crateJSON("guessed"))))
	srv := newRecorder(t, mux)

	res, err := New().ResolveRemote(context.Background(), srv.URL+"/sub")
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if res.Strategy != StrategyGuess || res.Crate.Name() != "guessed" {
		t.Fatalf("unexpected result: strategy=%s name=%q", res.Strategy, res.Crate.Name())
	}
	if res.Source != srv.URL+"/sub/ro-crate-metadata.json" {
		t.Fatalf("source: got %q", res.Source)
	}
	if res.Locator != srv.URL+"/sub" {
		t.Fatalf("locator: got %q", res.Locator)
	}
}

func TestResolveRemote_NotFoundCarriesDiagnostics(t *testing.T) {
	srv := newRecorder(t, http.NotFoundHandler())
	loc := srv.URL + "/missing"

	_, err := New().ResolveRemote(context.Background(), loc)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Locator != loc {
		t.Fatalf("locator: got %q want %q", fe.Locator, loc)
	}
	got := make([]Strategy, 0, len(fe.Attempts))
	for _, a := range fe.Attempts {
		got = append(got, a.Strategy)
	}
	want := []Strategy{StrategyDirect, StrategySignposting, StrategyNegotiation, StrategyGuess}
	if len(got) != len(want) {
		t.Fatalf("attempts: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempts: got %v want %v", got, want)
		}
	}
	if !strings.Contains(err.Error(), "could not retrieve subcrate `"+loc+"`") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestResolveRemote_Timeout(t *testing.T) {
	srv := newRecorder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))

	start := time.Now()
	_, err := New(WithTimeout(50*time.Millisecond)).ResolveRemote(context.Background(), srv.URL+"/slow")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected NotFound after timeouts, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout was not applied")
	}
}

func TestResolveRemote_CancelledContext(t *testing.T) {
	srv := newRecorder(t, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().ResolveRemote(ctx, srv.URL+"/x")
	if !IsKind(err, KindTransport) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled transport error, got %v", err)
	}
}

func TestResolveRemote_StoresMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/sub", serveBytes("application/ld+json", []byte(crateJSON("stored"))))
	srv := newRecorder(t, mux)

	store, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New failed: %v", err)
	}
	ctx := context.Background()
	res, err := New(WithStore(store)).ResolveRemote(ctx, srv.URL+"/sub")
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	got, err := store.Get(ctx, res.CID)
	if err != nil {
		t.Fatalf("store.Get failed: %v", err)
	}
	if string(got) != crateJSON("stored") {
		t.Fatalf("stored bytes differ from the fetched document")
	}
}

func TestResolve_InvalidIdentifier(t *testing.T) {
	for _, loc := range []string{"mailto:someone@example.com", "#frag", ""} {
		if _, err := New().Resolve(context.Background(), loc); !IsKind(err, KindInvalidIdentifier) {
			t.Fatalf("Resolve(%q): expected InvalidIdentifier, got %v", loc, err)
		}
	}
}

func TestGuessMetadataURL(t *testing.T) {
	cases := map[string]string{
		"https://example.org/wf/1.0/index.html": "https://example.org/wf/1.0/ro-crate-metadata.json",
		"https://example.org/wf/1.0/":           "https://example.org/wf/1.0/ro-crate-metadata.json",
		"https://example.org/wf?version=2":      "https://example.org/ro-crate-metadata.json",
		"https://example.org":                   "https://example.org/ro-crate-metadata.json",
	}
	for in, want := range cases {
		got, err := GuessMetadataURL(in)
		if err != nil {
			t.Fatalf("GuessMetadataURL(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("GuessMetadataURL(%q): got %q want %q", in, got, want)
		}
	}
}

func TestResolveRemote_BagItSha512MismatchFallsBack(t *testing.T) {
	body := crateJSON("fallback")
	z := buildZip(t,
		entry{"bagit.txt", "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n"},
		entry{"manifest-sha512.txt", strings.Repeat("f", 128) + " data/ro-crate-metadata.json\n"},
		entry{"manifest-sha256.txt", digest(t, body, "sha256") + " data/ro-crate-metadata.json\n"},
		entry{"data/ro-crate-metadata.json", body},
	)
	mux := http.NewServeMux()
	mux.Handle("/bag", serveBytes("application/zip", z))
	srv := newRecorder(t, mux)

	res, err := New().ResolveRemote(context.Background(), srv.URL+"/bag")
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if res.Crate.Name() != "fallback" {
		t.Fatalf("unexpected crate name %q", res.Crate.Name())
	}
}

func TestResolveRemote_ZipEntryOverLimit(t *testing.T) {
	big := crateJSON(strings.Repeat("x", 4<<20))
	mux := http.NewServeMux()
	mux.Handle("/sub", serveBytes("application/zip", buildZip(t, entry{"ro-crate-metadata.json", big})))
	srv := newRecorder(t, mux)

	_, err := New(WithMaxBodyBytes(64<<10)).ResolveRemote(context.Background(), srv.URL+"/sub")
	if err == nil {
		t.Fatalf("expected the oversized archive entry to be rejected")
	}
	if !errors.Is(err, archive.ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge among the attempts, got %v", err)
	}
}

func TestResolveRemote_BagItMalformedSha512FallsBack(t *testing.T) {
	body := crateJSON("fallback")
	decl := "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n"
	serve := func(t *testing.T, z []byte) string {
		mux := http.NewServeMux()
		mux.Handle("/bag", serveBytes("application/zip", z))
		return newRecorder(t, mux).URL + "/bag"
	}

	res, err := New().ResolveRemote(context.Background(), serve(t, buildZip(t,
		entry{"bagit.txt", decl},
		entry{"manifest-sha512.txt", "garbage-line-without-path\n"},
		entry{"manifest-sha256.txt", digest(t, body, "sha256") + " data/ro-crate-metadata.json\n"},
		entry{"data/ro-crate-metadata.json", body},
	)))
	if err != nil {
		t.Fatalf("ResolveRemote failed: %v", err)
	}
	if res.Crate.Name() != "fallback" || res.Entry != "data/ro-crate-metadata.json" {
		t.Fatalf("unexpected result: entry=%q name=%q", res.Entry, res.Crate.Name())
	}

	_, err = New().ResolveRemote(context.Background(), serve(t, buildZip(t,
		entry{"bagit.txt", decl},
		entry{"manifest-sha512.txt", "garbage-line-without-path\n"},
		entry{"manifest-sha256.txt", strings.Repeat("0", 64) + " data/ro-crate-metadata.json\n"},
		entry{"data/ro-crate-metadata.json", body},
	)))
	if !IsKind(err, KindChecksumMismatch) {
		t.Fatalf("expected ChecksumMismatch from the sha256 manifest, got %v", err)
	}
}

func TestResolveRemote_Idempotent(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/crate", serveBytes("application/ld+json", []byte(crateJSON("stable"))))
	srv := newRecorder(t, mux)
	f := New()

	first, err := f.ResolveRemote(context.Background(), srv.URL+"/crate")
	if err != nil {
		t.Fatalf("ResolveRemote(1) failed: %v", err)
	}
	second, err := f.ResolveRemote(context.Background(), srv.URL+"/crate")
	if err != nil {
		t.Fatalf("ResolveRemote(2) failed: %v", err)
	}
	if !first.Crate.Equal(second.Crate) {
		t.Fatalf("crates differ between resolutions")
	}
	type summary struct {
		Source, Entry, Strategy, CID string
		Raw                          string
	}
	sum := func(r *Result) summary {
		return summary{r.Source, r.Entry, string(r.Strategy), r.CID.String(), string(r.Raw)}
	}
	if diff := cmp.Diff(sum(first), sum(second)); diff != "" {
		t.Fatalf("results differ (-first +second):\n%s", diff)
	}
}
