package keys

import (
	"crypto/ed25519"
	"fmt"

	"github.com/multiformats/go-multibase"
)

// EncodeID renders an ed25519 public key as a lower-case base32
// multibase string. Node, author and namespace identifiers all use
// this form.
func EncodeID(pub ed25519.PublicKey) string {
	s, err := multibase.Encode(multibase.Base32, pub)
	if err != nil {
		// Base32 is a registered encoding; Encode cannot fail for it.
		return ""
	}
	return s
}

// DecodeID parses an identifier back into its public key.
func DecodeID(id string) (ed25519.PublicKey, error) {
	_, data, err := multibase.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("keys: decode id %q: %w", id, err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keys: id %q decodes to %d bytes, want %d", id, len(data), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(data), nil
}

// VerifyID checks sig over message against the public key encoded in id.
func VerifyID(id string, message, sig []byte) error {
	pub, err := DecodeID(id)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, message, sig) {
		return fmt.Errorf("keys: signature by %s does not verify", id)
	}
	return nil
}
