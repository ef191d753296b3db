package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawBlake3 returns a CIDv1 string using the "raw" multicodec
// and a blake3 multihash. All content stored by skiff is addressed in
// this form.
func CIDv1RawBlake3(data []byte) string {
	sum, err := multihash.Sum(data, multihash.BLAKE3, -1)
	if err != nil {
		// multihash.Sum only errors for unknown codes; BLAKE3 with the
		// default digest length cannot fail.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// CIDv1RawBlake3CID returns a CIDv1 (raw + blake3) derived from data.
func CIDv1RawBlake3CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.BLAKE3, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Parse decodes s into a CID.
func Parse(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: parse %q: %w", s, err)
	}
	return c, nil
}

// Verify checks that data hashes to the CID s. Stored and transferred
// content is always raw + blake3, so a strict recompute-and-compare is
// the whole check.
func Verify(s string, data []byte) error {
	got := CIDv1RawBlake3(data)
	if got != s {
		return fmt.Errorf("cidutil: content mismatch: have %s, computed %s", s, got)
	}
	return nil
}
