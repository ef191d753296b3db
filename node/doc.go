package node

import (
	"context"
	"time"

	"github.com/golang/glog"

	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/internal/bridge"
	"skiff.dev/skiff/model"
	"skiff.dev/skiff/rpc"
	"skiff.dev/skiff/ticket"
)

// subscribeRetryDelay paces stream reopen attempts after a transport
// error.
const subscribeRetryDelay = 500 * time.Millisecond

// Doc is a handle to one replicated document. Handles are views, not
// owners: any number may exist for the same document, dropping one
// changes nothing, and every one stays valid until the node closes.
type Doc struct {
	node *Node
	id   string
}

// ID returns the document's stable identifier.
func (d *Doc) ID() string { return d.id }

// Latest materializes the current result set of most recent entry per
// (author, key). Each call re-queries the store; a concurrent write may
// or may not be reflected.
func (d *Doc) Latest() ([]docstore.Entry, error) {
	entries, err := bridgeEntries(d, true)
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return entries, nil
}

// Entries returns every live entry, including ones another (author,
// key) write has not superseded but Latest would fold away.
func (d *Doc) Entries() ([]docstore.Entry, error) {
	entries, err := bridgeEntries(d, false)
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return entries, nil
}

func bridgeEntries(d *Doc, latestOnly bool) ([]docstore.Entry, error) {
	return bridge.BlockOn(d.node.br, func(ctx context.Context) ([]docstore.Entry, error) {
		return d.node.client.Entries(ctx, d.id, latestOnly)
	})
}

// SetBytes writes one entry authored by author. The author must have
// been created on this node and the replica must be writable. The
// returned entry carries the assigned content id and timestamp.
func (d *Doc) SetBytes(author string, key, value []byte) (docstore.Entry, error) {
	entry, err := bridge.BlockOn(d.node.br, func(ctx context.Context) (docstore.Entry, error) {
		return d.node.client.SetBytes(ctx, d.id, author, key, value)
	})
	if err != nil {
		return docstore.Entry{}, wrapOp(model.ErrDoc, err)
	}
	return entry, nil
}

// GetLatest returns the most recent entry for key across all authors.
func (d *Doc) GetLatest(key []byte) (docstore.Entry, error) {
	entry, err := bridge.BlockOn(d.node.br, func(ctx context.Context) (docstore.Entry, error) {
		return d.node.client.GetLatest(ctx, d.id, key)
	})
	if err != nil {
		return docstore.Entry{}, wrapOp(model.ErrDoc, err)
	}
	return entry, nil
}

// GetContentBytes resolves an entry to its full content. Local content
// returns immediately; content still in flight from a peer blocks until
// it lands or the node's content timeout passes.
func (d *Doc) GetContentBytes(e docstore.Entry) ([]byte, error) {
	n := d.node
	data, err := bridge.RunBlocking(n.br, func(ctx context.Context) ([]byte, error) {
		return n.client.GetContent(ctx, d.id, e.Content, n.contentTimeout)
	})
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return data, nil
}

// ShareRead mints a read ticket for this document carrying the node's
// advertised addresses.
func (d *Doc) ShareRead() (*ticket.Doc, error) {
	return d.share(model.ShareRead)
}

// ShareWrite mints a write ticket. It fails on a read-only replica,
// which does not hold the namespace secret the ticket must carry.
func (d *Doc) ShareWrite() (*ticket.Doc, error) {
	return d.share(model.ShareWrite)
}

func (d *Doc) share(mode model.ShareMode) (*ticket.Doc, error) {
	text, err := bridge.BlockOn(d.node.br, func(ctx context.Context) (string, error) {
		return d.node.client.Share(ctx, d.id, mode)
	})
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	t, err := ticket.Parse(text)
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return t, nil
}

// SubscribeCallback receives live events on a background task. OnEvent
// runs concurrently with the subscriber's own threads and must be safe
// for that. A returned error is logged; it does not stop the
// subscription.
type SubscribeCallback interface {
	OnEvent(model.LiveEvent) error
}

// OnEventFunc adapts a function to SubscribeCallback.
type OnEventFunc func(model.LiveEvent) error

func (f OnEventFunc) OnEvent(ev model.LiveEvent) error { return f(ev) }

// Subscription is one active event forwarding task.
type Subscription struct {
	cancel context.CancelFunc
}

// Cancel stops the forwarding task. Safe to call more than once; the
// node's Close cancels every outstanding subscription itself.
func (s *Subscription) Cancel() { s.cancel() }

// Subscribe starts a forwarding task that delivers this document's live
// events to cb. Every call starts an independent task receiving the
// full stream; delivery is asynchronous, so an event for a write may
// arrive after the write call has already returned. Stream errors are
// logged and the stream reopened; they never reach cb.
func (d *Doc) Subscribe(cb SubscribeCallback) (*Subscription, error) {
	if cb == nil {
		return nil, model.NewError(model.ErrDoc, "nil subscribe callback")
	}
	n := d.node

	ctx, cancel := context.WithCancel(n.br.Context())
	stream, err := bridge.BlockOn(n.br, func(context.Context) (*rpc.EventStream, error) {
		return n.client.Subscribe(ctx, d.id)
	})
	if err != nil {
		cancel()
		return nil, wrapOp(model.ErrDoc, err)
	}

	if err := n.br.Go("subscribe "+d.id, func(context.Context) {
		n.subsActive.Add(1)
		defer n.subsActive.Add(-1)
		defer cancel()
		d.forward(ctx, stream, cb)
	}); err != nil {
		stream.Close()
		cancel()
		return nil, wrapOp(model.ErrDoc, err)
	}
	return &Subscription{cancel: cancel}, nil
}

// forward pumps events from the stream into cb until ctx is cancelled.
// Callback errors are logged and skipped. On a stream error it reopens
// after a short delay; the store replays nothing, so events emitted
// while disconnected are missed, matching best-effort delivery.
func (d *Doc) forward(ctx context.Context, stream *rpc.EventStream, cb SubscribeCallback) {
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		if stream == nil {
			s, err := d.node.client.Subscribe(ctx, d.id)
			if err != nil {
				glog.Warningf("doc %s: subscribe reopen: %v", d.id, err)
				if !sleepCtx(ctx, subscribeRetryDelay) {
					return
				}
				continue
			}
			stream = s
		}
		ev, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Warningf("doc %s: event stream: %v", d.id, err)
			stream.Close()
			stream = nil
			if !sleepCtx(ctx, subscribeRetryDelay) {
				return
			}
			continue
		}
		if err := cb.OnEvent(ev); err != nil {
			glog.Warningf("doc %s: event callback: %v", d.id, err)
		}
	}
}

// sleepCtx waits for d, returning false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
