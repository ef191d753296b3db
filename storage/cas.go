package storage

import "github.com/ipfs/go-cid"

// CAS is a minimal content-addressable blob store.
//
// Contract:
// - CIDs are CIDv1 raw + blake3, derived from the bytes written.
// - Put MUST be idempotent; stored blobs MUST be immutable.
// - Get MUST return ErrNotFound when the CID is absent and MUST verify
//   the returned bytes against the CID.
// - Has MUST be cheap; the sync layer probes it before fetching.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
