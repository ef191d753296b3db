package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
)

// Identity is a single ed25519 keypair.
type Identity struct {
	priv ed25519.PrivateKey
}

// Generate creates a new random identity. A nil reader falls back to
// crypto/rand.
func Generate(r io.Reader) (Identity, error) {
	if r == nil {
		r = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return Identity{}, err
	}
	return Identity{priv: priv}, nil
}

// FromSeed rebuilds an identity from its 32-byte seed.
func FromSeed(seed []byte) (Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("keys: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return Identity{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// ID returns the multibase base32 identifier for the public key.
func (id Identity) ID() string { return EncodeID(id.Public()) }

func (id Identity) Public() ed25519.PublicKey {
	return id.priv.Public().(ed25519.PublicKey)
}

// Seed returns the 32-byte seed the identity can be rebuilt from.
func (id Identity) Seed() []byte { return id.priv.Seed() }

// Sign signs message with the private key.
func (id Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.priv, message)
}

// Zero reports whether the identity is the unset zero value.
func (id Identity) Zero() bool { return id.priv == nil }
