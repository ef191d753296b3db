package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/internal/metrics"
	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/model"
	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/ticket"
)

// SyncStarter is notified when an imported document names a peer worth
// syncing from. The node wires the live sync manager in here; a nil
// starter imports documents that only converge through explicit pulls.
type SyncStarter interface {
	StartSync(ns, peer string, addrs []string)
}

// defaultContentWait bounds GetContent when the request carries no
// timeout of its own.
const defaultContentWait = 15 * time.Second

// contentPollInterval is the backstop poll for content waits.
// Subscriptions drop events under load, so the wait also polls.
const contentPollInterval = 250 * time.Millisecond

// DocsService implements skiff.v1.Docs on top of the store and blob
// stack.
type DocsService struct {
	UnimplementedDocsServer

	Store *docstore.Store
	// Blobs is the node's read stack. When it is a ReadThrough over
	// peers, GetContent fetches missing content on demand.
	Blobs    storage.CAS
	Node     keys.Identity
	Addrs    []string
	Registry *metrics.Registry
	Sync     SyncStarter
	// ContentWait overrides defaultContentWait when non-zero.
	ContentWait time.Duration
}

func (s *DocsService) check() error {
	if s == nil || s.Store == nil || s.Blobs == nil {
		return status.Error(codes.FailedPrecondition, "docs service not configured")
	}
	return nil
}

func (s *DocsService) CreateDoc(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ns, err := s.Store.CreateNamespace()
	if err != nil {
		return nil, mapErr(err)
	}
	return marshalWire(&CreateDocReply{Namespace: ns})
}

func (s *DocsService) ImportDoc(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req ImportDocRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	tk, err := ticket.Parse(req.Ticket)
	if err != nil {
		return nil, mapErr(err)
	}
	secret, err := tk.SecretIdentity()
	if err != nil {
		return nil, mapErr(err)
	}
	if err := s.Store.ImportNamespace(tk.Namespace, secret); err != nil {
		return nil, mapErr(err)
	}
	writable, err := s.Store.Writable(tk.Namespace)
	if err != nil {
		return nil, mapErr(err)
	}
	if s.Sync != nil && tk.Peer != s.Node.ID() && len(tk.Addrs) > 0 {
		s.Sync.StartSync(tk.Namespace, tk.Peer, tk.Addrs)
	}
	return marshalWire(&ImportDocReply{Namespace: tk.Namespace, Writable: writable})
}

func (s *DocsService) ListDocs(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return marshalWire(&ListDocsReply{Docs: s.Store.Namespaces()})
}

func (s *DocsService) CreateAuthor(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	author, err := s.Store.CreateAuthor()
	if err != nil {
		return nil, mapErr(err)
	}
	return marshalWire(&CreateAuthorReply{Author: author})
}

func (s *DocsService) ListAuthors(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return marshalWire(&ListAuthorsReply{Authors: s.Store.Authors()})
}

func (s *DocsService) SetBytes(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req SetBytesRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	// Content first, then the row that references it. An entry must
	// never name content the node cannot serve.
	id, err := s.Blobs.Put(req.Value)
	if err != nil {
		return nil, mapErr(err)
	}
	entry, err := s.Store.InsertLocal(req.Namespace, req.Author, req.Key, id.String(), uint64(len(req.Value)))
	if err != nil {
		return nil, mapErr(err)
	}
	return marshalWire(&SetBytesReply{Entry: entry})
}

func (s *DocsService) GetLatest(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req GetLatestRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	entry, err := s.Store.GetLatest(req.Namespace, req.Key)
	if err != nil {
		return nil, mapErr(err)
	}
	return marshalWire(&GetLatestReply{Entry: entry})
}

func (s *DocsService) Entries(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req EntriesRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	var (
		entries []docstore.Entry
		err     error
	)
	if req.LatestOnly {
		entries, err = s.Store.Latest(req.Namespace)
	} else {
		entries, err = s.Store.Entries(req.Namespace)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return marshalWire(&EntriesReply{Entries: entries})
}

func (s *DocsService) GetContent(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req GetContentRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	id, err := cidutil.Parse(req.Content)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidCID.Error())
	}
	if s.Blobs.Has(id) {
		b, err := s.Blobs.Get(id)
		if err != nil {
			return nil, mapErr(err)
		}
		return marshalWire(&GetContentReply{Data: b})
	}
	if req.Namespace == "" {
		return nil, status.Error(codes.NotFound, storage.ErrNotFound.Error())
	}

	sub, err := s.Store.Subscribe(req.Namespace)
	if err != nil {
		return nil, mapErr(err)
	}
	defer sub.Cancel()

	wait := s.ContentWait
	if wait <= 0 {
		wait = defaultContentWait
	}
	if req.TimeoutMillis > 0 {
		wait = time.Duration(req.TimeoutMillis) * time.Millisecond
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	poll := time.NewTicker(contentPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		case <-deadline.C:
			return nil, status.Error(codes.DeadlineExceeded, "content not available in time")
		case ev, ok := <-sub.C:
			if !ok {
				return nil, status.Error(codes.Unavailable, docstore.ErrClosed.Error())
			}
			if ev.Kind != model.EventContentReady || ev.Content != req.Content {
				continue
			}
		case <-poll.C:
		}
		if s.Blobs.Has(id) {
			b, err := s.Blobs.Get(id)
			if err != nil {
				return nil, mapErr(err)
			}
			return marshalWire(&GetContentReply{Data: b})
		}
	}
}

func (s *DocsService) Share(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var req ShareRequest
	if err := unmarshalWire(in, &req); err != nil {
		return nil, err
	}
	var tk *ticket.Doc
	switch req.Mode {
	case model.ShareWrite:
		secret, err := s.Store.NamespaceSecret(req.Namespace)
		if err != nil {
			return nil, mapErr(err)
		}
		tk, err = ticket.NewWrite(req.Namespace, secret, s.Node.ID(), s.Addrs)
		if err != nil {
			return nil, mapErr(err)
		}
	case model.ShareRead:
		if !s.Store.HasNamespace(req.Namespace) {
			return nil, mapErr(docstore.ErrUnknownNamespace)
		}
		tk = ticket.NewRead(req.Namespace, s.Node.ID(), s.Addrs)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown share mode %q", req.Mode)
	}
	text, err := tk.Encode()
	if err != nil {
		return nil, mapErr(err)
	}
	return marshalWire(&ShareReply{Ticket: text})
}

func (s *DocsService) NodeInfo(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return marshalWire(&NodeInfoReply{Peer: s.Node.ID(), Addrs: s.Addrs})
}

func (s *DocsService) Stats(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	counters := map[string]model.CounterStats{}
	if s.Registry != nil {
		counters = s.Registry.Snapshot()
	}
	return marshalWire(&StatsReply{Counters: counters})
}

func (s *DocsService) Subscribe(in *wrapperspb.BytesValue, stream Docs_SubscribeServer) error {
	if err := s.check(); err != nil {
		return err
	}
	var req SubscribeRequest
	if err := unmarshalWire(in, &req); err != nil {
		return err
	}
	sub, err := s.Store.Subscribe(req.Namespace)
	if err != nil {
		return mapErr(err)
	}
	defer sub.Cancel()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return status.Error(codes.Unavailable, docstore.ErrClosed.Error())
			}
			body, err := marshalWire(&ev)
			if err != nil {
				return err
			}
			if err := stream.Send(body); err != nil {
				return err
			}
		}
	}
}
