// Package storage defines the content-addressed store that keeps fetched
// crate metadata, keyed by CIDv1 raw + sha2-256, and combinators over
// several backends.
package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS is a minimal content-addressable store for fetched crate metadata.
//
// Contract:
// - Put MUST be idempotent.
// - Stored objects MUST be immutable.
// - CIDs MUST be derived from the bytes written (see checksum.ContentID).
// - Get MUST return ErrNotFound when the CID is absent.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
}
