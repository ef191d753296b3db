package memcas

import (
	"testing"

	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/testkit"
)

func TestMemCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		return New()
	})
}

func TestMemCAS_CopiesOnPutAndGet(t *testing.T) {
	cas := New()
	data := []byte("mutable caller buffer")
	id, err := cas.Put(data)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Mutating the caller's buffer must not reach the store.
	data[0] = 'X'
	got, err := cas.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got[0] == 'X' {
		t.Fatalf("store shares memory with the caller")
	}

	// Mutating a returned buffer must not corrupt later reads.
	got[0] = 'Y'
	again, err := cas.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if again[0] == 'Y' {
		t.Fatalf("store shares memory with readers")
	}
	if cas.Len() != 1 {
		t.Fatalf("Len: got %d want 1", cas.Len())
	}
}
