// Package keys manages the ed25519 identities a skiff node works with:
// the node key, author keys, and namespace keys. All three are plain
// ed25519 keypairs whose public halves are rendered as multibase base32
// strings and passed around as opaque identifiers.
//
// Persistent nodes keep seeds as hex files under <dir>/keys. Ephemeral
// nodes never touch the KeyStore and hold identities in memory only.
package keys
