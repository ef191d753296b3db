package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/model"
)

// Request and reply bodies are msgpack structs carried in protobuf
// BytesValue frames. wrapperspb keeps the transport free of a
// protoc/codegen toolchain; msgpack keeps the bodies rich.

type CreateDocReply struct {
	Namespace string `msgpack:"namespace"`
}

type ImportDocRequest struct {
	Ticket string `msgpack:"ticket"`
}

type ImportDocReply struct {
	Namespace string `msgpack:"namespace"`
	Writable  bool   `msgpack:"writable"`
}

type ListDocsReply struct {
	Docs []docstore.NamespaceInfo `msgpack:"docs"`
}

type CreateAuthorReply struct {
	Author string `msgpack:"author"`
}

type ListAuthorsReply struct {
	Authors []string `msgpack:"authors"`
}

type SetBytesRequest struct {
	Namespace string `msgpack:"namespace"`
	Author    string `msgpack:"author"`
	Key       []byte `msgpack:"key"`
	Value     []byte `msgpack:"value"`
}

type SetBytesReply struct {
	Entry docstore.Entry `msgpack:"entry"`
}

type GetLatestRequest struct {
	Namespace string `msgpack:"namespace"`
	Key       []byte `msgpack:"key"`
}

type GetLatestReply struct {
	Entry docstore.Entry `msgpack:"entry"`
}

type EntriesRequest struct {
	Namespace string `msgpack:"namespace"`
	// LatestOnly collapses multi-writer rows to one winner per key.
	LatestOnly bool `msgpack:"latest_only"`
}

type EntriesReply struct {
	Entries []docstore.Entry `msgpack:"entries"`
}

type GetContentRequest struct {
	// Namespace scopes the wait for not-yet-fetched content; empty
	// means fail immediately when the blob is absent.
	Namespace     string `msgpack:"namespace"`
	Content       string `msgpack:"content"`
	TimeoutMillis uint64 `msgpack:"timeout_millis"`
}

type GetContentReply struct {
	Data []byte `msgpack:"data"`
}

type ShareRequest struct {
	Namespace string          `msgpack:"namespace"`
	Mode      model.ShareMode `msgpack:"mode"`
}

type ShareReply struct {
	Ticket string `msgpack:"ticket"`
}

type NodeInfoReply struct {
	Peer  string   `msgpack:"peer"`
	Addrs []string `msgpack:"addrs"`
}

type StatsReply struct {
	Counters map[string]model.CounterStats `msgpack:"counters"`
}

type SubscribeRequest struct {
	Namespace string `msgpack:"namespace"`
}

// Sync service bodies.

type PingReply struct {
	Peer string `msgpack:"peer"`
}

type SyncEntriesRequest struct {
	Namespace string `msgpack:"namespace"`
	// After is the cursor from the previous session against this
	// replica; zero pulls everything.
	After uint64 `msgpack:"after"`
}

type BlobRequest struct {
	Content string `msgpack:"content"`
}

type BlobReply struct {
	Data []byte `msgpack:"data"`
}

type HasBlobReply struct {
	Has bool `msgpack:"has"`
}

func marshalWire(v any) (*wrapperspb.BytesValue, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "rpc: encode %T: %v", v, err)
	}
	return wrapperspb.Bytes(b), nil
}

func unmarshalWire(in *wrapperspb.BytesValue, v any) error {
	if err := msgpack.Unmarshal(in.GetValue(), v); err != nil {
		return status.Errorf(codes.InvalidArgument, "rpc: decode %T: %v", v, err)
	}
	return nil
}

var emptyBody = &wrapperspb.BytesValue{}
