package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/model"
)

// Client is the typed facade over the Docs service. The node uses one
// over an in-process bufconn; the CLI uses one over TCP to a daemon.
type Client struct {
	cc   *grpc.ClientConn
	docs DocsClient

	// Timeout applies per unary RPC when non-zero. Subscribe streams
	// are exempt; they live until closed.
	Timeout time.Duration
}

// DialOptions controls Dial.
type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

// Dial connects to a Docs endpoint. The transport is plaintext; skiff
// daemons bind loopback or private interfaces.
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return Wrap(cc), nil
}

// Wrap builds a Client over an established connection. Close closes
// the connection.
func Wrap(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, docs: NewDocsClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func (c *Client) CreateDoc(ctx context.Context) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.CreateDoc(ctx, emptyBody)
	if err != nil {
		return "", mapRPC(err)
	}
	var reply CreateDocReply
	if err := unmarshalWire(out, &reply); err != nil {
		return "", err
	}
	return reply.Namespace, nil
}

func (c *Client) ImportDoc(ctx context.Context, ticketText string) (ImportDocReply, error) {
	var reply ImportDocReply
	body, err := marshalWire(&ImportDocRequest{Ticket: ticketText})
	if err != nil {
		return reply, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.ImportDoc(ctx, body)
	if err != nil {
		return reply, mapRPC(err)
	}
	err = unmarshalWire(out, &reply)
	return reply, err
}

func (c *Client) ListDocs(ctx context.Context) ([]docstore.NamespaceInfo, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.ListDocs(ctx, emptyBody)
	if err != nil {
		return nil, mapRPC(err)
	}
	var reply ListDocsReply
	if err := unmarshalWire(out, &reply); err != nil {
		return nil, err
	}
	return reply.Docs, nil
}

func (c *Client) CreateAuthor(ctx context.Context) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.CreateAuthor(ctx, emptyBody)
	if err != nil {
		return "", mapRPC(err)
	}
	var reply CreateAuthorReply
	if err := unmarshalWire(out, &reply); err != nil {
		return "", err
	}
	return reply.Author, nil
}

func (c *Client) ListAuthors(ctx context.Context) ([]string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.ListAuthors(ctx, emptyBody)
	if err != nil {
		return nil, mapRPC(err)
	}
	var reply ListAuthorsReply
	if err := unmarshalWire(out, &reply); err != nil {
		return nil, err
	}
	return reply.Authors, nil
}

func (c *Client) SetBytes(ctx context.Context, ns, author string, key, value []byte) (docstore.Entry, error) {
	var reply SetBytesReply
	body, err := marshalWire(&SetBytesRequest{Namespace: ns, Author: author, Key: key, Value: value})
	if err != nil {
		return reply.Entry, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.SetBytes(ctx, body)
	if err != nil {
		return reply.Entry, mapRPC(err)
	}
	err = unmarshalWire(out, &reply)
	return reply.Entry, err
}

func (c *Client) GetLatest(ctx context.Context, ns string, key []byte) (docstore.Entry, error) {
	var reply GetLatestReply
	body, err := marshalWire(&GetLatestRequest{Namespace: ns, Key: key})
	if err != nil {
		return reply.Entry, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.GetLatest(ctx, body)
	if err != nil {
		return reply.Entry, mapRPC(err)
	}
	err = unmarshalWire(out, &reply)
	return reply.Entry, err
}

func (c *Client) Entries(ctx context.Context, ns string, latestOnly bool) ([]docstore.Entry, error) {
	body, err := marshalWire(&EntriesRequest{Namespace: ns, LatestOnly: latestOnly})
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.Entries(ctx, body)
	if err != nil {
		return nil, mapRPC(err)
	}
	var reply EntriesReply
	if err := unmarshalWire(out, &reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}

// GetContent fetches blob bytes, waiting up to timeout for content a
// peer has announced but not yet delivered. The per-RPC Timeout does
// not apply; the wait is the timeout.
func (c *Client) GetContent(ctx context.Context, ns, content string, timeout time.Duration) ([]byte, error) {
	var millis uint64
	if timeout > 0 {
		millis = uint64(timeout / time.Millisecond)
	}
	body, err := marshalWire(&GetContentRequest{Namespace: ns, Content: content, TimeoutMillis: millis})
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	out, err := c.docs.GetContent(ctx, body)
	if err != nil {
		return nil, mapRPC(err)
	}
	var reply GetContentReply
	if err := unmarshalWire(out, &reply); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

func (c *Client) Share(ctx context.Context, ns string, mode model.ShareMode) (string, error) {
	body, err := marshalWire(&ShareRequest{Namespace: ns, Mode: mode})
	if err != nil {
		return "", err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.Share(ctx, body)
	if err != nil {
		return "", mapRPC(err)
	}
	var reply ShareReply
	if err := unmarshalWire(out, &reply); err != nil {
		return "", err
	}
	return reply.Ticket, nil
}

func (c *Client) NodeInfo(ctx context.Context) (NodeInfoReply, error) {
	var reply NodeInfoReply
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.NodeInfo(ctx, emptyBody)
	if err != nil {
		return reply, mapRPC(err)
	}
	err = unmarshalWire(out, &reply)
	return reply, err
}

func (c *Client) Stats(ctx context.Context) (map[string]model.CounterStats, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.docs.Stats(ctx, emptyBody)
	if err != nil {
		return nil, mapRPC(err)
	}
	var reply StatsReply
	if err := unmarshalWire(out, &reply); err != nil {
		return nil, err
	}
	return reply.Counters, nil
}

// EventStream delivers live events for one namespace until closed.
type EventStream struct {
	stream Docs_SubscribeClient
	cancel context.CancelFunc
}

// Subscribe opens an event stream for the namespace. The stream is
// independent of the per-RPC Timeout; Close tears it down.
func (c *Client) Subscribe(ctx context.Context, ns string) (*EventStream, error) {
	body, err := marshalWire(&SubscribeRequest{Namespace: ns})
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.docs.Subscribe(ctx, body)
	if err != nil {
		cancel()
		return nil, mapRPC(err)
	}
	return &EventStream{stream: stream, cancel: cancel}, nil
}

// Recv blocks for the next event. After Close (or a server shutdown)
// it returns an error; io.EOF never carries an event.
func (e *EventStream) Recv() (model.LiveEvent, error) {
	var ev model.LiveEvent
	body, err := e.stream.Recv()
	if err != nil {
		return ev, mapRPC(err)
	}
	err = unmarshalWire(body, &ev)
	return ev, err
}

// Close cancels the stream. Safe to call more than once.
func (e *EventStream) Close() {
	e.cancel()
}
