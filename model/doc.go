// Package model defines stable boundary types for the skiff API surface.
//
// These are the only types intended for direct JSON/msgpack serialization by
// consumers: live events, counter statistics, share modes, and the coded
// errors every public operation returns. Store-internal types (entries,
// replicas) live in their own packages and are projected into these shapes
// at the RPC boundary.
package model
