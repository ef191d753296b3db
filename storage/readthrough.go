package storage

import (
	"github.com/ipfs/go-cid"

	"skiff.dev/skiff/cidutil"
)

// ReadThrough layers a local CAS over a remote one.
//
// Get serves from Local first and falls back to Remote; bytes fetched
// remotely are verified and written back into Local so the next read is
// local. Put and Has-after-Put always land in Local. Remote may be nil,
// in which case ReadThrough degrades to Local alone.
//
// The content serving path uses this with Remote wired to the peers a
// document is syncing with, so a read can succeed before the background
// fetcher has caught up.
type ReadThrough struct {
	Local  CAS
	Remote CAS
}

var _ CAS = (*ReadThrough)(nil)

func (r ReadThrough) Put(bytes []byte) (cid.Cid, error) {
	return r.Local.Put(bytes)
}

func (r ReadThrough) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	b, err := r.Local.Get(id)
	if err == nil {
		return b, nil
	}
	if !IsNotFound(err) || r.Remote == nil {
		return nil, err
	}

	b, err = r.Remote.Get(id)
	if err != nil {
		return nil, err
	}
	// Never trust remote bytes without recomputing the CID.
	if verr := cidutil.Verify(id.String(), b); verr != nil {
		return nil, ErrCIDMismatch
	}
	// A failed write-back only costs the next read; the fetch succeeded.
	_, _ = r.Local.Put(b)
	return b, nil
}

func (r ReadThrough) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	if r.Local.Has(id) {
		return true
	}
	return r.Remote != nil && r.Remote.Has(id)
}
