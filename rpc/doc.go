// Package rpc carries skiff's two gRPC services without a codegen
// toolchain: skiff.v1.Docs, the node facade surface, and skiff.v1.Sync,
// the peer replication surface. Service descs and handlers are written
// by hand in the shape protoc would emit; every body is a msgpack
// struct inside a protobuf BytesValue (see wire.go).
//
// Docs is what embedders and the CLI speak, in-process over bufconn or
// to a daemon over TCP. Sync is what replicas speak to each other:
// knowledge of a namespace id is the read capability, carried to peers
// by tickets.
package rpc
