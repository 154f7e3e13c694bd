package bagit

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"

	"rocrate.dev/rocrate/archive"
	"rocrate.dev/rocrate/checksum"
)

const helloSHA256 = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func basicFiles() map[string][]byte {
	return map[string][]byte{
		"bagit.txt":           []byte("BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n"),
		"manifest-sha256.txt": []byte(helloSHA256 + " data/hello.txt\n"),
		"data/hello.txt":      []byte("hello world"),
	}
}

func TestDecodeFilepath(t *testing.T) {
	cases := map[string]string{
		"data/file.txt":         "data/file.txt",
		"data/file%20name.txt":  "data/file name.txt",
		"data/file%0D%0A.txt":   "data/file\r\n.txt",
		"data/100%":             "data/100%",
		"data/%zz.txt":          "data/%zz.txt",
		"data/%25literal%2.txt": "data/%literal%2.txt",
	}
	for in, want := range cases {
		if got := DecodeFilepath(in); got != want {
			t.Fatalf("DecodeFilepath(%q): got %q want %q", in, got, want)
		}
	}
}

func TestBasicBag(t *testing.T) {
	bag := FromFiles(basicFiles())
	if bag.Len() != 3 {
		t.Fatalf("Len: got %d want 3", bag.Len())
	}

	d, err := bag.Declaration()
	if err != nil {
		t.Fatalf("Declaration failed: %v", err)
	}
	if d.Version != "1.0" || d.Encoding != "UTF-8" {
		t.Fatalf("unexpected declaration: %+v", d)
	}

	m, err := bag.Manifest("sha256")
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	want := []ManifestEntry{{Checksum: helloSHA256, Path: "data/hello.txt"}}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("Manifest mismatch (-want +got):\n%s", diff)
	}

	if err := bag.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	complete, err := bag.IsComplete()
	if err != nil {
		t.Fatalf("IsComplete failed: %v", err)
	}
	if !complete {
		t.Fatalf("expected complete bag")
	}
	if diff := cmp.Diff([]string{"sha256"}, bag.ManifestAlgorithms()); diff != "" {
		t.Fatalf("ManifestAlgorithms mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	files := basicFiles()
	files["data/hello.txt"] = []byte("tampered")
	err := FromFiles(files).Validate()
	if !IsKind(err, KindChecksumMismatch) {
		t.Fatalf("expected ChecksumMismatch, got %v", err)
	}
	var m *checksum.MismatchError
	if !errors.As(err, &m) {
		t.Fatalf("expected wrapped *checksum.MismatchError, got %v", err)
	}
	if m.Path != "data/hello.txt" || m.Expected != helloSHA256 {
		t.Fatalf("unexpected mismatch detail: %+v", m)
	}
}

func TestValidate_MissingPieces(t *testing.T) {
	files := basicFiles()
	delete(files, "manifest-sha256.txt")
	if err := FromFiles(files).Validate(); !IsKind(err, KindMissingFile) {
		t.Fatalf("expected MissingFile, got %v", err)
	}

	files = basicFiles()
	files["bagit.txt"] = []byte("BagIt-Version: 1.0\n")
	if err := FromFiles(files).Validate(); !IsKind(err, KindInvalidDeclaration) {
		t.Fatalf("expected InvalidDeclaration, got %v", err)
	}

	files = basicFiles()
	delete(files, "data/hello.txt")
	if err := FromFiles(files).Validate(); !IsKind(err, KindFileNotFound) {
		t.Fatalf("expected FileNotFound, got %v", err)
	}

	files = basicFiles()
	files["manifest-crc32.txt"] = []byte("abcd data/hello.txt\n")
	if err := FromFiles(files).Validate(); !IsKind(err, KindUnsupportedAlgorithm) {
		t.Fatalf("expected UnsupportedAlgorithm, got %v", err)
	}
}

func TestManifest_InvalidLine(t *testing.T) {
	files := basicFiles()
	files["manifest-sha256.txt"] = []byte("justonefield\n")
	if _, err := FromFiles(files).Manifest("sha256"); !IsKind(err, KindInvalidManifest) {
		t.Fatalf("expected InvalidManifest, got %v", err)
	}
}

func TestIsComplete_UnlistedPayload(t *testing.T) {
	files := basicFiles()
	files["data/extra.txt"] = []byte("extra")
	complete, err := FromFiles(files).IsComplete()
	if err != nil {
		t.Fatalf("IsComplete failed: %v", err)
	}
	if complete {
		t.Fatalf("bag with an unlisted payload file reported complete")
	}
}

func TestMetadataAndFetch(t *testing.T) {
	files := basicFiles()
	files["bag-info.txt"] = []byte("Source-Organization: Example Org\n" +
		"External-Description: A long\n  description\n" +
		"Contact-Name: Ada\n" +
		"contact-name: Grace\n")
	files["fetch.txt"] = []byte("https://example.org/a.bin 1024 data/a.bin\n" +
		"https://example.org/b%20c.bin - data/b%20c.bin\n")

	bag := FromFiles(files)
	md, err := bag.Metadata()
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if got := md.First("Source-Organization"); got != "Example Org" {
		t.Fatalf("Source-Organization: got %q", got)
	}
	if got := md.First("external-description"); got != "A long description" {
		t.Fatalf("continuation: got %q", got)
	}
	if diff := cmp.Diff([]string{"Ada", "Grace"}, md.Get("Contact-Name")); diff != "" {
		t.Fatalf("Contact-Name mismatch (-want +got):\n%s", diff)
	}

	entries, err := bag.FetchEntries()
	if err != nil {
		t.Fatalf("FetchEntries failed: %v", err)
	}
	want := []FetchEntry{
		{URL: "https://example.org/a.bin", Length: 1024, Path: "data/a.bin"},
		{URL: "https://example.org/b%20c.bin", Length: -1, Path: "data/b c.bin"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("FetchEntries mismatch (-want +got):\n%s", diff)
	}

	files["fetch.txt"] = []byte("https://example.org/a.bin many data/a.bin\n")
	if _, err := FromFiles(files).FetchEntries(); !IsKind(err, KindInvalidManifest) {
		t.Fatalf("expected InvalidManifest for bad length, got %v", err)
	}
}

func TestLookupAndVerifyListed(t *testing.T) {
	bag := FromFiles(basicFiles())
	if err := bag.VerifyListed("data/hello.txt", "sha256"); err != nil {
		t.Fatalf("VerifyListed failed: %v", err)
	}
	if err := bag.VerifyListed("data/hello.txt", "sha512"); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed without a sha512 manifest, got %v", err)
	}
	if _, err := bag.Lookup("sha256", "data/other.txt"); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed for unlisted path, got %v", err)
	}
	e, err := bag.Lookup("sha256", "missing.txt", "data/hello.txt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if e.Path != "data/hello.txt" {
		t.Fatalf("Lookup returned %+v", e)
	}
}

func TestFromArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"bagit.txt", "manifest-sha256.txt", "data/hello.txt"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := w.Write(basicFiles()[name]); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	a, err := archive.Open(buf.Bytes())
	if err != nil {
		t.Fatalf("archive.Open failed: %v", err)
	}
	bag := FromArchive(a)
	defer bag.Close()

	if err := bag.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	name, data, err := bag.ReadIndex(2)
	if err != nil {
		t.Fatalf("ReadIndex failed: %v", err)
	}
	if name != "data/hello.txt" || string(data) != "hello world" {
		t.Fatalf("ReadIndex: got %s %q", name, data)
	}
}

func TestOpenDir(t *testing.T) {
	dir := t.TempDir()
	for name, data := range basicFiles() {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	bag, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir failed: %v", err)
	}
	if err := bag.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !bag.Has("data/hello.txt") {
		t.Fatalf("expected payload file to be indexed")
	}
}
