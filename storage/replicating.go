package storage

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"rocrate.dev/rocrate/checksum"
)

// NamedCAS associates a CAS with the backend id it was configured under.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// ReplicatingCAS writes crate metadata to every backend and reads from the
// first backend that has it.
//
// Every backend must return the CID computed locally from the bytes;
// otherwise Put fails with ErrCIDMismatch.
type ReplicatingCAS struct {
	Backends []NamedCAS
}

var _ CAS = ReplicatingCAS{}

// PutAll writes data to all backends and returns the expected CID together
// with the CID each backend reported, keyed by backend name.
func (r ReplicatingCAS) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := checksum.ContentID(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, fmt.Errorf("storage: ReplicatingCAS has no backends")
	}

	out := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil CAS for backend %q", b.Name)
		}
		got, err := b.CAS.Put(ctx, data)
		if err != nil {
			return cid.Undef, out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if !got.Equals(want) {
			return cid.Undef, out, fmt.Errorf("storage: backend %q returned %s: %w", b.Name, got, ErrCIDMismatch)
		}
	}
	return want, out, nil
}

func (r ReplicatingCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r ReplicatingCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	adapters := make([]CAS, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS != nil {
			adapters = append(adapters, b.CAS)
		}
	}
	return MultiCAS{Adapters: adapters}.Get(ctx, id)
}

func (r ReplicatingCAS) Has(ctx context.Context, id cid.Cid) bool {
	for _, b := range r.Backends {
		if b.CAS != nil && b.CAS.Has(ctx, id) {
			return true
		}
	}
	return false
}
