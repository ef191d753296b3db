package docstore

import (
	"bytes"
	"testing"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/keys"
)

type countingReader struct{ b byte }

func (r *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func signedEntry(t *testing.T, key string, ts uint64) (Entry, keys.Identity, keys.Identity) {
	t.Helper()
	author, err := keys.Generate(&countingReader{b: 1})
	if err != nil {
		t.Fatalf("generate author: %v", err)
	}
	namespace, err := keys.Generate(&countingReader{b: 101})
	if err != nil {
		t.Fatalf("generate namespace: %v", err)
	}
	content := []byte("the content behind " + key)
	e := Entry{
		Namespace: namespace.ID(),
		Author:    author.ID(),
		Key:       []byte(key),
		Content:   cidutil.CIDv1RawBlake3(content),
		Length:    uint64(len(content)),
		Timestamp: ts,
	}
	if err := e.sign(author, namespace); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return e, author, namespace
}

func TestEntrySignAndValidate(t *testing.T) {
	e, _, _ := signedEntry(t, "greeting", 42)
	if err := e.Validate(); err != nil {
		t.Fatalf("validate signed entry: %v", err)
	}

	tampered := e
	tampered.Length++
	if err := tampered.Validate(); err == nil {
		t.Fatal("validate accepted a tampered length")
	}

	tampered = e
	tampered.Key = []byte("other")
	if err := tampered.Validate(); err == nil {
		t.Fatal("validate accepted a tampered key")
	}

	tampered = e
	tampered.AuthorSig = append([]byte(nil), e.AuthorSig...)
	tampered.AuthorSig[0] ^= 0x01
	if err := tampered.Validate(); err == nil {
		t.Fatal("validate accepted a corrupted author signature")
	}

	tampered = e
	tampered.NamespaceSig = append([]byte(nil), e.NamespaceSig...)
	tampered.NamespaceSig[0] ^= 0x01
	if err := tampered.Validate(); err == nil {
		t.Fatal("validate accepted a corrupted namespace signature")
	}
}

func TestEntrySignRejectsMismatchedIdentity(t *testing.T) {
	e, author, _ := signedEntry(t, "greeting", 1)
	other, err := keys.Generate(&countingReader{b: 200})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := e.sign(author, other); err == nil {
		t.Fatal("sign accepted a namespace identity that does not match the entry")
	}
	if err := e.sign(other, author); err == nil {
		t.Fatal("sign accepted an author identity that does not match the entry")
	}
}

func TestEntryValidateShape(t *testing.T) {
	e, author, namespace := signedEntry(t, "greeting", 1)

	noKey := e
	noKey.Key = nil
	if err := noKey.Validate(); err == nil {
		t.Fatal("validate accepted an empty key")
	}

	long := Entry{
		Namespace: e.Namespace,
		Author:    e.Author,
		Key:       bytes.Repeat([]byte{'k'}, MaxKeySize+1),
		Content:   e.Content,
		Length:    e.Length,
		Timestamp: e.Timestamp,
	}
	if err := long.sign(author, namespace); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := long.Validate(); err == nil {
		t.Fatalf("validate accepted a %d byte key", MaxKeySize+1)
	}

	badCID := e
	badCID.Content = "not-a-cid"
	if err := badCID.Validate(); err == nil {
		t.Fatal("validate accepted a malformed content CID")
	}
}

func TestEntryNewer(t *testing.T) {
	older, _, _ := signedEntry(t, "greeting", 10)
	newer := older
	newer.Timestamp = 11
	if !newer.Newer(&older) {
		t.Fatal("higher timestamp is not newer")
	}
	if older.Newer(&newer) {
		t.Fatal("lower timestamp considered newer")
	}
	if older.Newer(&older) {
		t.Fatal("an entry is newer than itself")
	}

	// Same timestamp, different content: exactly one direction wins,
	// and the choice is stable.
	a := older
	b := older
	b.Content = cidutil.CIDv1RawBlake3([]byte("alternative"))
	if a.Newer(&b) == b.Newer(&a) {
		t.Fatal("timestamp tie must pick exactly one winner")
	}
	first := a.Newer(&b)
	for i := 0; i < 10; i++ {
		if a.Newer(&b) != first {
			t.Fatal("tie-break flipped between calls")
		}
	}
}

func TestEntryDigestCoversAllSignedFields(t *testing.T) {
	base, _, _ := signedEntry(t, "greeting", 5)
	mutations := []func(*Entry){
		func(e *Entry) { e.Namespace = e.Namespace[:len(e.Namespace)-1] + "x" },
		func(e *Entry) { e.Author = e.Author[:len(e.Author)-1] + "x" },
		func(e *Entry) { e.Key = []byte("changed") },
		func(e *Entry) { e.Content = cidutil.CIDv1RawBlake3([]byte("changed")) },
		func(e *Entry) { e.Length++ },
		func(e *Entry) { e.Timestamp++ },
	}
	for i, mutate := range mutations {
		changed := base
		mutate(&changed)
		if bytes.Equal(base.Digest(), changed.Digest()) {
			t.Fatalf("mutation %d did not change the digest", i)
		}
	}
}
