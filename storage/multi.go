package storage

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// MultiCAS reads through several stores in a fixed order and writes to the
// first one only. It backs the read side of "store get", where the configured
// backends are consulted in declaration order.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, errors.New("storage: MultiCAS has no adapters")
	}
	return m.Adapters[0].Put(ctx, data)
}

// Get returns the first hit. A backend error other than ErrNotFound stops
// the walk.
func (m MultiCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	for _, cas := range m.Adapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := cas.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (m MultiCAS) Has(ctx context.Context, id cid.Cid) bool {
	for _, cas := range m.Adapters {
		if cas.Has(ctx, id) {
			return true
		}
	}
	return false
}
