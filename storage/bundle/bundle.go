// Package bundle moves cached crate metadata between stores as a single
// TAR file, optionally zstd-compressed. Each document is stored under
// blocks/<cid>; an optional index.json maps locators to CIDs.
package bundle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"

	"rocrate.dev/rocrate/checksum"
	"rocrate.dev/rocrate/storage"
)

// FormatVersion is the current index.json schema version.
const FormatVersion = 1

const indexFile = "index.json"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// epoch0 keeps TAR headers independent of wall-clock time.
var epoch0 = time.Unix(0, 0).UTC()

type ExportOptions struct {
	// Labels maps locators to the CIDs of their metadata documents. Every
	// labelled CID is exported too.
	Labels map[string]cid.Cid
	// IncludeIndex writes index.json.
	IncludeIndex bool
	// Compress wraps the TAR stream in zstd.
	Compress bool
}

// Index is the decoded index.json of a bundle.
type Index struct {
	Version int
	Blocks  []cid.Cid
	Labels  map[string]cid.Cid
}

// Export writes the documents ids (and every labelled CID) from cas to w.
// Output is deterministic: entries are sorted and headers normalized. Every
// document is checked against its CID before it is written.
func Export(ctx context.Context, w io.Writer, cas storage.CAS, ids []cid.Cid, opts ExportOptions) (err error) {
	if cas == nil {
		return errors.New("bundle: nil store")
	}

	uniq := make(map[string]cid.Cid, len(ids)+len(opts.Labels))
	for _, id := range ids {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	for name, id := range opts.Labels {
		if name == "" {
			return errors.New("bundle: empty label")
		}
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	keys := make([]string, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if opts.Compress {
		zw, zerr := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zerr != nil {
			return zerr
		}
		defer func() {
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
		}()
		w = zw
	}

	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	blocks := make([]indexBlock, 0, len(keys))
	for _, k := range keys {
		id := uniq[k]
		b, err := cas.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("bundle: get %s: %w", k, err)
		}
		if err := verify(id, b); err != nil {
			return err
		}
		if err := writeFile(tw, "blocks/"+k, b); err != nil {
			return err
		}
		blocks = append(blocks, indexBlock{CID: k, Size: len(b)})
	}

	if !opts.IncludeIndex {
		return nil
	}
	idx := indexJSON{
		Version:   FormatVersion,
		CIDCodec:  "raw",
		Multihash: "sha2-256",
		Blocks:    blocks,
	}
	names := make([]string, 0, len(opts.Labels))
	for n := range opts.Labels {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		idx.Labels = append(idx.Labels, indexLabel{Name: n, CID: opts.Labels[n].String()})
	}
	b, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return writeFile(tw, indexFile, append(b, '\n'))
}

type ImportOptions struct {
	// IgnoreUnknown skips entries other than blocks/ and index.json
	// instead of failing.
	IgnoreUnknown bool
}

// Import reads a bundle (compressed or not) into cas. Every block must
// match the CID it is filed under. The returned Index lists the imported
// blocks and, when the bundle carries index.json, its labels.
func Import(ctx context.Context, r io.Reader, cas storage.CAS, opts ImportOptions) (*Index, error) {
	if cas == nil {
		return nil, errors.New("bundle: nil store")
	}

	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	} else {
		r = br
	}

	out := &Index{Version: FormatVersion, Labels: map[string]cid.Cid{}}
	seen := map[string]struct{}{}
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("bundle: read: %w", err)
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unexpected entry type %v (%s)", h.Typeflag, name)
		}

		switch {
		case name == indexFile:
			if err := readIndex(tr, out); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, "blocks/"):
			id, err := cid.Decode(strings.TrimPrefix(name, "blocks/"))
			if err != nil || !id.Defined() {
				return nil, storage.ErrInvalidCID
			}
			if _, dup := seen[id.String()]; dup {
				return nil, fmt.Errorf("bundle: duplicate block %s", id)
			}
			seen[id.String()] = struct{}{}

			payload, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			if err := verify(id, payload); err != nil {
				return nil, err
			}
			got, err := cas.Put(ctx, payload)
			if err != nil {
				return nil, fmt.Errorf("bundle: put %s: %w", id, err)
			}
			if !got.Equals(id) {
				return nil, storage.ErrCIDMismatch
			}
			out.Blocks = append(out.Blocks, id)
		default:
			if !opts.IgnoreUnknown {
				return nil, fmt.Errorf("bundle: unknown entry %s", name)
			}
		}
	}
}

func readIndex(r io.Reader, out *Index) error {
	var idx indexJSON
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return fmt.Errorf("bundle: decode %s: %w", indexFile, err)
	}
	if idx.Version != FormatVersion {
		return fmt.Errorf("bundle: unsupported index version %d", idx.Version)
	}
	for _, l := range idx.Labels {
		id, err := cid.Decode(l.CID)
		if err != nil {
			return fmt.Errorf("bundle: label %q: %w", l.Name, storage.ErrInvalidCID)
		}
		out.Labels[l.Name] = id
	}
	return nil
}

func verify(id cid.Cid, b []byte) error {
	got, err := checksum.ContentID(b)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return fmt.Errorf("bundle: %s: %w", id, storage.ErrCIDMismatch)
	}
	return nil
}

type indexJSON struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Blocks    []indexBlock `json:"blocks"`
	Labels    []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

// cleanTarPath normalizes an entry name and rejects empty, "." and ".."
// segments.
func cleanTarPath(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
