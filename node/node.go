// Package node is the embeddable skiff node. It stands up the document
// store, the blob store, the sync services, and a small fixed executor,
// then exposes them as plain blocking methods returning coded errors.
//
// Every facade call is dispatched onto the executor and waited on, even
// though caller and store share the process. The node talks to itself
// the way a remote client would, over the Docs service on an in-process
// listener, so the facade and a daemon client behave identically. The
// Sync service listens on TCP for peers holding tickets to this node's
// documents.
package node

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/internal/bridge"
	"skiff.dev/skiff/internal/dirlock"
	"skiff.dev/skiff/internal/metrics"
	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/livesync"
	"skiff.dev/skiff/model"
	"skiff.dev/skiff/rpc"
	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/localcas"
	"skiff.dev/skiff/storage/memcas"
	"skiff.dev/skiff/ticket"
)

// DefaultBindAddr is where the Sync service listens unless overridden.
const DefaultBindAddr = "0.0.0.0:11220"

const defaultContentTimeout = 30 * time.Second

type config struct {
	dir            string
	bindAddr       string
	advertiseAddrs []string
	workers        int
	auxWorkers     int
	contentTimeout time.Duration
	blobs          storage.CAS
}

// Option configures New.
type Option func(*config)

// WithDir roots the node at dir and makes it persistent: identity,
// documents and blobs survive restarts. Without it the node lives in a
// fresh temporary directory that Close deletes.
func WithDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithBindAddr sets the TCP address the Sync service listens on. An
// empty address disables the listener; the node can then import and
// pull but peers cannot sync from it.
func WithBindAddr(addr string) Option {
	return func(c *config) { c.bindAddr = addr }
}

// WithAdvertiseAddrs sets the addresses minted tickets carry. The
// default is the sync listener's own address, with an unspecified host
// rewritten to loopback.
func WithAdvertiseAddrs(addrs ...string) Option {
	return func(c *config) { c.advertiseAddrs = addrs }
}

// WithWorkers sets the executor pool size.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithAuxWorkers sets the auxiliary pool size, used for calls that may
// park for a long time.
func WithAuxWorkers(n int) Option {
	return func(c *config) { c.auxWorkers = n }
}

// WithContentTimeout bounds how long GetContentBytes waits for content
// a peer has announced but not yet delivered.
func WithContentTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.contentTimeout = d
		}
	}
}

// WithBlobStore overrides the blob store. The default is a directory
// store under the node dir for persistent nodes and an in-memory store
// for ephemeral ones.
func WithBlobStore(cas storage.CAS) Option {
	return func(c *config) { c.blobs = cas }
}

// Node owns the stores, the executor, both gRPC services, and the sync
// manager. One per directory; a second Node on the same directory fails
// at the lock. All methods are safe for concurrent use.
type Node struct {
	dir       string
	ephemeral bool
	lock      *dirlock.Lock

	identity keys.Identity
	store    *docstore.Store
	blobs    storage.CAS
	registry *metrics.Registry
	br       *bridge.Bridge
	syncer   *livesync.Manager

	docsSrv *grpc.Server
	syncSrv *grpc.Server
	cc      *grpc.ClientConn
	client  *rpc.Client

	addrs          []string
	contentTimeout time.Duration
	subsActive     atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New builds and starts a node. Construction is all or nothing: any
// failure tears down whatever was already started and surfaces a single
// NODE_CREATE error, leaving no partial node behind.
func New(opts ...Option) (*Node, error) {
	cfg := config{
		bindAddr:       DefaultBindAddr,
		contentTimeout: defaultContentTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	n := &Node{contentTimeout: cfg.contentTimeout}
	fail := func(err error) (*Node, error) {
		n.teardown()
		return nil, model.Wrap(model.ErrNodeCreate, err)
	}

	if cfg.dir == "" {
		dir, err := os.MkdirTemp("", "skiff-node-*")
		if err != nil {
			return fail(err)
		}
		n.dir, n.ephemeral = dir, true
	} else {
		if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
			return fail(err)
		}
		n.dir = cfg.dir
	}

	lock, err := dirlock.Acquire(n.dir)
	if err != nil {
		return fail(err)
	}
	n.lock = lock

	ks, err := keys.CreateKeyStore(filepath.Join(n.dir, "keys"))
	if err != nil {
		return fail(err)
	}
	identity, fresh, err := ks.EnsureNode(nil)
	if err != nil {
		return fail(err)
	}
	n.identity = identity
	if fresh {
		glog.V(1).Infof("node: generated identity %s", identity.ID())
	}

	n.registry = metrics.NewRegistry()

	store, err := docstore.Open(filepath.Join(n.dir, "docs"), ks, docstore.WithMetrics(n.registry))
	if err != nil {
		return fail(err)
	}
	n.store = store

	n.blobs = cfg.blobs
	if n.blobs == nil {
		if n.ephemeral {
			n.blobs = memcas.New()
		} else {
			cas, err := localcas.New(filepath.Join(n.dir, "blobs"))
			if err != nil {
				return fail(err)
			}
			n.blobs = cas
		}
	}

	n.br = bridge.New("skiff-node",
		bridge.WithWorkers(cfg.workers),
		bridge.WithAuxWorkers(cfg.auxWorkers),
	)
	n.syncer = livesync.New(store, n.blobs, n.br, livesync.WithMetrics(n.registry))
	n.syncer.Recover()

	var syncLis net.Listener
	if cfg.bindAddr != "" {
		syncLis, err = net.Listen("tcp", cfg.bindAddr)
		if err != nil {
			return fail(err)
		}
		n.syncSrv = grpc.NewServer()
		rpc.RegisterSyncServer(n.syncSrv, &rpc.SyncService{
			Store:    store,
			Blobs:    n.blobs,
			Node:     identity,
			Registry: n.registry,
		})
		go serveUntilStopped(n.syncSrv, syncLis)
	}

	n.addrs = cfg.advertiseAddrs
	if len(n.addrs) == 0 && syncLis != nil {
		n.addrs = []string{advertiseAddr(syncLis.Addr().String())}
	}

	buf := bufconn.Listen(1 << 20)
	n.docsSrv = grpc.NewServer()
	rpc.RegisterDocsServer(n.docsSrv, &rpc.DocsService{
		Store: store,
		// Reads fall through to whichever peers the sync loops are
		// connected to right now, then cache locally.
		Blobs:       storage.ReadThrough{Local: n.blobs, Remote: n.syncer.PeerBlobs()},
		Node:        identity,
		Addrs:       n.addrs,
		Registry:    n.registry,
		Sync:        n.syncer,
		ContentWait: cfg.contentTimeout,
	})
	go serveUntilStopped(n.docsSrv, buf)

	cc, err := grpc.DialContext(
		context.Background(),
		"bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return buf.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fail(err)
	}
	n.cc = cc
	n.client = rpc.Wrap(cc)

	n.registerRuntimeStats()

	glog.Infof("node %s: serving (dir %s, sync %v)", identity.ID(), n.dir, n.addrs)
	return n, nil
}

func serveUntilStopped(srv *grpc.Server, lis net.Listener) {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		glog.Warningf("node: serve: %v", err)
	}
}

// advertiseAddr rewrites an unspecified listen host to loopback so a
// minted ticket is at least dialable on the issuing machine.
func advertiseAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return net.JoinHostPort("127.0.0.1", port)
	}
	return addr
}

func (n *Node) registerRuntimeStats() {
	for name, desc := range map[string]string{
		"bridge_tasks_run":  "facade calls run on runtime workers",
		"bridge_aux_run":    "blocking calls run on aux workers",
		"bridge_inline_run": "calls run on the caller under pool saturation",
		"bridge_bg_started": "background tasks started",
	} {
		// The registered closure outlives the iteration; pin the loop
		// variable, which go.mod's pre-1.22 directive makes shared.
		name := name
		n.registry.RegisterFunc(name, desc, func() uint64 { return n.br.Counters()[name] })
	}
	n.registry.RegisterFunc("subscriptions_active", "event forwarding tasks currently running", func() uint64 {
		v := n.subsActive.Load()
		if v < 0 {
			v = 0
		}
		return uint64(v)
	})
}

// wrapOp maps an operation failure onto its public error kind. Calls
// made after Close surface RUNTIME; an error already carrying a code
// keeps it.
func wrapOp(code model.ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bridge.ErrClosed) {
		return model.Wrap(model.ErrRuntime, err)
	}
	return model.Wrap(code, err)
}

// PeerID reports the node's stable network identity.
func (n *Node) PeerID() string {
	reply, err := bridge.BlockOn(n.br, func(ctx context.Context) (rpc.NodeInfoReply, error) {
		return n.client.NodeInfo(ctx)
	})
	if err != nil {
		// The identity is known locally even once the executor is gone.
		return n.identity.ID()
	}
	return reply.Peer
}

// Addrs returns the addresses minted tickets carry.
func (n *Node) Addrs() []string {
	out := make([]string, len(n.addrs))
	copy(out, n.addrs)
	return out
}

// Dir returns the node's working directory.
func (n *Node) Dir() string { return n.dir }

// CreateDoc creates a new empty replicated document and returns a
// handle to it.
func (n *Node) CreateDoc() (*Doc, error) {
	ns, err := bridge.BlockOn(n.br, func(ctx context.Context) (string, error) {
		return n.client.CreateDoc(ctx)
	})
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return &Doc{node: n, id: ns}, nil
}

// ImportDoc begins tracking the document a ticket describes and starts
// syncing from the ticket's peer. The handle returns immediately;
// population is asynchronous.
func (n *Node) ImportDoc(t *ticket.Doc) (*Doc, error) {
	if t == nil {
		return nil, model.NewError(model.ErrTicketParse, "nil ticket")
	}
	text, err := t.Encode()
	if err != nil {
		return nil, err
	}
	reply, err := bridge.BlockOn(n.br, func(ctx context.Context) (rpc.ImportDocReply, error) {
		return n.client.ImportDoc(ctx, text)
	})
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return &Doc{node: n, id: reply.Namespace}, nil
}

// Doc returns a handle to a document this node already tracks.
func (n *Node) Doc(id string) (*Doc, error) {
	docs, err := bridge.BlockOn(n.br, func(ctx context.Context) ([]docstore.NamespaceInfo, error) {
		return n.client.ListDocs(ctx)
	})
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	for _, info := range docs {
		if info.ID == id {
			return &Doc{node: n, id: id}, nil
		}
	}
	return nil, wrapOp(model.ErrDoc, docstore.ErrUnknownNamespace)
}

// ListDocs reports every document the node tracks.
func (n *Node) ListDocs() ([]docstore.NamespaceInfo, error) {
	docs, err := bridge.BlockOn(n.br, func(ctx context.Context) ([]docstore.NamespaceInfo, error) {
		return n.client.ListDocs(ctx)
	})
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return docs, nil
}

// CreateAuthor mints a new writer identity on this node and returns its
// id.
func (n *Node) CreateAuthor() (string, error) {
	author, err := bridge.BlockOn(n.br, func(ctx context.Context) (string, error) {
		return n.client.CreateAuthor(ctx)
	})
	if err != nil {
		return "", wrapOp(model.ErrAuthor, err)
	}
	return author, nil
}

// ListAuthors reports the writer identities this node holds keys for.
func (n *Node) ListAuthors() ([]string, error) {
	authors, err := bridge.BlockOn(n.br, func(ctx context.Context) ([]string, error) {
		return n.client.ListAuthors(ctx)
	})
	if err != nil {
		return nil, wrapOp(model.ErrAuthor, err)
	}
	return authors, nil
}

// Stats snapshots every node counter with its description.
func (n *Node) Stats() (map[string]model.CounterStats, error) {
	stats, err := bridge.BlockOn(n.br, func(ctx context.Context) (map[string]model.CounterStats, error) {
		return n.client.Stats(ctx)
	})
	if err != nil {
		return nil, wrapOp(model.ErrDoc, err)
	}
	return stats, nil
}

// Close shuts the node down: sync loops and subscriptions stop, both
// services stop, the stores close, the directory lock is released. An
// ephemeral node's directory is deleted. Idempotent; calls issued after
// Close fail with the RUNTIME code.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		glog.V(1).Infof("node %s: closing", n.identity.ID())
		n.closeErr = n.teardown()
	})
	return n.closeErr
}

// teardown stops whatever New managed to start, in reverse dependency
// order. Every field is nil-checked so it also serves the construction
// failure path.
func (n *Node) teardown() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if n.syncer != nil {
		n.syncer.Close()
	}
	if n.br != nil {
		// Waits for in-flight calls and background tasks, so both
		// servers must still be up here.
		n.br.Close()
	}
	if n.docsSrv != nil {
		n.docsSrv.Stop()
	}
	if n.syncSrv != nil {
		n.syncSrv.Stop()
	}
	if n.cc != nil {
		keep(n.cc.Close())
	}
	if n.store != nil {
		keep(n.store.Close())
	}
	if n.lock != nil {
		keep(n.lock.Release())
	}
	if n.ephemeral && n.dir != "" {
		keep(os.RemoveAll(n.dir))
	}
	return firstErr
}
