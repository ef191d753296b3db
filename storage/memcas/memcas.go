package memcas

import (
	"sync"

	"github.com/ipfs/go-cid"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/storage"
)

// CAS is an in-memory content-addressable blob store.
//
// It honors the same contract as the filesystem store and exists for
// tests and throwaway daemons; nothing survives the process.
type CAS struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func New() *CAS {
	return &CAS{blobs: map[string][]byte{}}
}

func (c *CAS) Put(bytes []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawBlake3CID(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blobs[id.String()]; !ok {
		stored := make([]byte, len(bytes))
		copy(stored, bytes)
		c.blobs[id.String()] = stored
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	c.mu.RLock()
	stored, ok := c.blobs[id.String()]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blobs[id.String()]
	return ok
}

// Len reports the number of stored blobs.
func (c *CAS) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blobs)
}
