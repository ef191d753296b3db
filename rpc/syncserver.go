package rpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/internal/metrics"
	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/storage"
)

// SyncService implements skiff.v1.Sync. It serves rows and blobs this
// replica already holds; it never reaches out on a peer's behalf, so
// two replicas proxying each other cannot loop.
type SyncService struct {
	UnimplementedSyncServer

	Store *docstore.Store
	// Blobs must be the node's local store, not a read-through stack.
	Blobs    storage.CAS
	Node     keys.Identity
	Registry *metrics.Registry
}

func (s *SyncService) check() error {
	if s == nil || s.Store == nil || s.Blobs == nil {
		return status.Error(codes.FailedPrecondition, "sync service not configured")
	}
	return nil
}

func (s *SyncService) counter(name, description string) *metrics.Counter {
	if s.Registry == nil {
		return nil
	}
	return s.Registry.Counter(name, description)
}

func incCounter(c *metrics.Counter) {
	if c != nil {
		c.Inc()
	}
}

func (s *SyncService) Ping(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return marshalWire(&PingReply{Peer: s.Node.ID()})
}

func (s *SyncService) FetchBlob(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req BlobRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	id, err := cidutil.Parse(req.Content)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	b, err := s.Blobs.Get(id)
	if err != nil {
		return nil, mapErr(err)
	}
	incCounter(s.counter("sync_blobs_sent", "blobs served to peers"))
	return marshalWire(&BlobReply{Data: b})
}

func (s *SyncService) HasBlob(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req BlobRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	id, err := cidutil.Parse(req.Content)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	return marshalWire(&HasBlobReply{Has: s.Blobs.Has(id)})
}

// SyncEntries streams the namespace's rows after the caller's cursor,
// then tails new rows as they are applied. The subscription is taken
// before the backfill and deduplicated by seq, so no row can fall in
// the gap between snapshot and tail.
func (s *SyncService) SyncEntries(in *wrapperspb.BytesValue, stream Sync_SyncEntriesServer) error {
	if err := s.check(); err != nil {
		return err
	}
	var req SyncEntriesRequest
	if err := unmarshalWire(in, &req); err != nil {
		return err
	}

	sub, err := s.Store.SubscribeRows(req.Namespace)
	if err != nil {
		return mapErr(err)
	}
	defer sub.Cancel()

	rows, _, err := s.Store.RowsSince(req.Namespace, req.After)
	if err != nil {
		return mapErr(err)
	}
	sent := s.counter("sync_rows_sent", "rows streamed to peers")
	last := req.After
	send := func(row docstore.Row) error {
		body, err := marshalWire(&row)
		if err != nil {
			return err
		}
		if err := stream.Send(body); err != nil {
			return err
		}
		incCounter(sent)
		last = row.Seq
		return nil
	}
	for _, row := range rows {
		if err := send(row); err != nil {
			return err
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case row, ok := <-sub.C:
			if !ok {
				// Closed feed: the store shut down or this stream
				// lagged. Either way the caller reconnects from its
				// cursor.
				return status.Error(codes.DataLoss, "row feed interrupted, resume from cursor")
			}
			if row.Seq <= last {
				continue
			}
			if err := send(row); err != nil {
				return err
			}
		}
	}
}
