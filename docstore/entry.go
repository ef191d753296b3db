package docstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/keys"
)

// MaxKeySize bounds entry keys. Keys are short identifiers, not
// payloads; content rides in the blob store.
const MaxKeySize = 512

// Entry is one signed row of a replicated document: this author's
// value for this key, pointing at content by CID.
//
// Entries are dually signed. The author signature proves who wrote the
// row; the namespace signature proves the writer held the document's
// secret. A replica imported read-only has no namespace secret and
// therefore cannot mint entries of its own.
type Entry struct {
	Namespace    string `json:"namespace" msgpack:"namespace"`
	Author       string `json:"author" msgpack:"author"`
	Key          []byte `json:"key" msgpack:"key"`
	Content      string `json:"content" msgpack:"content"`
	Length       uint64 `json:"length" msgpack:"length"`
	Timestamp    uint64 `json:"timestamp" msgpack:"timestamp"`
	AuthorSig    []byte `json:"author_sig" msgpack:"author_sig"`
	NamespaceSig []byte `json:"namespace_sig" msgpack:"namespace_sig"`
}

// signablePrefix domain-separates entry digests from any other signed
// material in the system.
const signablePrefix = "skiff/entry/v1"

// signableBytes renders the signed fields in a fixed order with length
// framing, so no two distinct entries share a byte form.
func (e *Entry) signableBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(signablePrefix)
	buf.WriteByte(0)
	for _, field := range [][]byte{
		[]byte(e.Namespace),
		[]byte(e.Author),
		e.Key,
		[]byte(e.Content),
	} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		buf.Write(n[:])
		buf.Write(field)
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], e.Length)
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], e.Timestamp)
	buf.Write(n[:])
	return buf.Bytes()
}

// Digest returns the blake2b-256 digest both signatures cover. It also
// serves as the deterministic tie-breaker when two entries carry the
// same timestamp.
func (e *Entry) Digest() []byte {
	sum := blake2b.Sum256(e.signableBytes())
	return sum[:]
}

// sign fills both signatures. The author and namespace identities must
// match the entry's string ids.
func (e *Entry) sign(author, namespace keys.Identity) error {
	if author.ID() != e.Author {
		return fmt.Errorf("docstore: author identity %s does not match entry author %s", author.ID(), e.Author)
	}
	if namespace.ID() != e.Namespace {
		return fmt.Errorf("docstore: namespace identity %s does not match entry namespace %s", namespace.ID(), e.Namespace)
	}
	digest := e.Digest()
	e.AuthorSig = author.Sign(digest)
	e.NamespaceSig = namespace.Sign(digest)
	return nil
}

// Validate checks an entry's shape and both signatures. It does not
// consult the store; callers decide whether the namespace is known.
func (e *Entry) Validate() error {
	if e == nil {
		return errors.New("docstore: nil entry")
	}
	if e.Namespace == "" || e.Author == "" {
		return errors.New("docstore: entry missing namespace or author")
	}
	if len(e.Key) == 0 {
		return errors.New("docstore: entry key is empty")
	}
	if len(e.Key) > MaxKeySize {
		return fmt.Errorf("docstore: entry key exceeds %d bytes", MaxKeySize)
	}
	if _, err := cidutil.Parse(e.Content); err != nil {
		return fmt.Errorf("docstore: entry content: %w", err)
	}
	digest := e.Digest()
	if err := keys.VerifyID(e.Author, digest, e.AuthorSig); err != nil {
		return fmt.Errorf("docstore: author signature: %w", err)
	}
	if err := keys.VerifyID(e.Namespace, digest, e.NamespaceSig); err != nil {
		return fmt.Errorf("docstore: namespace signature: %w", err)
	}
	return nil
}

// Newer reports whether e should replace old under newer-wins: higher
// timestamp first, digest order breaking exact ties so every replica
// picks the same winner.
func (e *Entry) Newer(old *Entry) bool {
	if e.Timestamp != old.Timestamp {
		return e.Timestamp > old.Timestamp
	}
	return bytes.Compare(e.Digest(), old.Digest()) > 0
}
