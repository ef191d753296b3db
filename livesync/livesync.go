// Package livesync keeps imported documents converging with their
// peers. One pull loop runs per (namespace, peer); each loop keeps a
// row stream open against the peer, applies rows newer-wins, fetches
// the content they name into the local blob store, and marks it ready
// so waiting readers wake. Loops reconnect with backoff and resume
// from their seq cursor; a lagged feed resumes immediately.
package livesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/internal/bridge"
	"skiff.dev/skiff/internal/metrics"
	"skiff.dev/skiff/rpc"
	"skiff.dev/skiff/storage"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultFetchTimeout = 30 * time.Second
	pingTimeout         = 5 * time.Second
	backoffFloor        = time.Second
	backoffCeil         = 30 * time.Second
)

// Manager owns the pull loops. It satisfies rpc.SyncStarter so ticket
// imports start syncing without the RPC layer knowing how.
type Manager struct {
	store *docstore.Store
	blobs storage.CAS
	br    *bridge.Bridge

	dial         func(addr string) (*rpc.SyncConn, error)
	fetchTimeout time.Duration

	rowsApplied  *metrics.Counter
	rowsStale    *metrics.Counter
	rowsRejected *metrics.Counter
	blobsFetched *metrics.Counter
	fetchFailed  *metrics.Counter
	reconnects   *metrics.Counter

	mu      sync.Mutex
	loops   map[loopKey]*loop
	remotes map[loopKey]*rpc.RemoteBlobs
	closed  bool
}

var _ rpc.SyncStarter = (*Manager)(nil)

type loopKey struct {
	ns   string
	peer string
}

type loop struct {
	ns     string
	peer   string
	cancel context.CancelFunc

	mu     sync.Mutex
	addrs  []string
	next   int
	cursor uint64
}

func (l *loop) addAddrs(addrs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range addrs {
		if a == "" || slices.Contains(l.addrs, a) {
			continue
		}
		l.addrs = append(l.addrs, a)
	}
}

func (l *loop) nextAddr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.addrs) == 0 {
		return ""
	}
	a := l.addrs[l.next%len(l.addrs)]
	l.next++
	return a
}

func (l *loop) after() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

func (l *loop) advance(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq > l.cursor {
		l.cursor = seq
	}
}

type Option func(*Manager)

// WithDialer replaces the peer dialer. Tests wire bufconn through it.
func WithDialer(dial func(addr string) (*rpc.SyncConn, error)) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// WithFetchTimeout bounds each blob fetch against a peer.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// WithMetrics registers the manager's counters on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(m *Manager) {
		if reg == nil {
			return
		}
		m.rowsApplied = reg.Counter("sync_rows_applied", "peer rows applied locally")
		m.rowsStale = reg.Counter("sync_rows_stale", "peer rows superseded on arrival")
		m.rowsRejected = reg.Counter("sync_rows_rejected", "peer rows that failed validation")
		m.blobsFetched = reg.Counter("sync_blobs_fetched", "blobs fetched from peers")
		m.fetchFailed = reg.Counter("sync_blob_fetch_failures", "blob fetches that failed")
		m.reconnects = reg.Counter("sync_reconnects", "sync stream reconnects")
	}
}

// New builds a manager over the store and the node's local blob store.
// Loops run as background tasks of br and stop when it closes.
func New(store *docstore.Store, blobs storage.CAS, br *bridge.Bridge, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		blobs:        blobs,
		br:           br,
		fetchTimeout: defaultFetchTimeout,
		loops:        make(map[loopKey]*loop),
		remotes:      make(map[loopKey]*rpc.RemoteBlobs),
	}
	m.dial = func(addr string) (*rpc.SyncConn, error) {
		return rpc.DialSync(addr, rpc.DialOptions{Timeout: defaultDialTimeout})
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StartSync ensures a pull loop exists for ns against peer. New
// addresses merge into a running loop's rotation. Never blocks on the
// network; RPC handlers call it inline.
func (m *Manager) StartSync(ns, peer string, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	key := loopKey{ns: ns, peer: peer}
	if l, ok := m.loops[key]; ok {
		m.mu.Unlock()
		l.addAddrs(addrs)
		return
	}
	ctx, cancel := context.WithCancel(m.br.Context())
	l := &loop{ns: ns, peer: peer, cancel: cancel, addrs: slices.Clone(addrs)}
	m.loops[key] = l
	m.mu.Unlock()

	if err := m.br.Go("sync "+ns, func(context.Context) { m.run(ctx, l) }); err != nil {
		m.drop(l)
		cancel()
	}
}

// Active reports how many pull loops are running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// Recover rebuilds each namespace's pending-content set against the
// local blob store. Call once after reopening a store; loops then
// re-fetch whatever is still missing.
func (m *Manager) Recover() {
	for _, info := range m.store.Namespaces() {
		missing, err := m.store.RecomputePending(info.ID, func(content string) bool {
			id, err := cidutil.Parse(content)
			return err == nil && m.blobs.Has(id)
		})
		if err != nil {
			glog.Warningf("livesync %s: recover: %v", info.ID, err)
			continue
		}
		if len(missing) > 0 {
			glog.V(1).Infof("livesync %s: %d blobs missing after restart", info.ID, len(missing))
		}
	}
}

// Close stops every loop. The bridge waits for the goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	loops := make([]*loop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()
	for _, l := range loops {
		l.cancel()
	}
}

func (m *Manager) drop(l *loop) {
	m.mu.Lock()
	delete(m.loops, loopKey{ns: l.ns, peer: l.peer})
	m.mu.Unlock()
}

func (m *Manager) setRemote(key loopKey, remote *rpc.RemoteBlobs) {
	m.mu.Lock()
	if remote == nil {
		delete(m.remotes, key)
	} else {
		m.remotes[key] = remote
	}
	m.mu.Unlock()
}

func (m *Manager) snapshotRemotes() []*rpc.RemoteBlobs {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*rpc.RemoteBlobs, 0, len(m.remotes))
	for _, r := range m.remotes {
		out = append(out, r)
	}
	return out
}

// PeerBlobs is a read-only storage.CAS over every peer this manager is
// currently connected to. It backs the node's read-through stack so a
// content read can be served before the background fetcher catches up.
func (m *Manager) PeerBlobs() storage.CAS {
	return peerBlobs{m: m}
}

var errPeerBlobsReadOnly = errors.New("livesync: peer blobs are read-only")

type peerBlobs struct {
	m *Manager
}

func (p peerBlobs) Put([]byte) (cid.Cid, error) {
	return cid.Undef, errPeerBlobsReadOnly
}

func (p peerBlobs) Get(id cid.Cid) ([]byte, error) {
	for _, remote := range p.m.snapshotRemotes() {
		b, err := remote.Get(id)
		if err == nil {
			return b, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (p peerBlobs) Has(id cid.Cid) bool {
	for _, remote := range p.m.snapshotRemotes() {
		if remote.Has(id) {
			return true
		}
	}
	return false
}

func (m *Manager) run(ctx context.Context, l *loop) {
	defer m.drop(l)
	backoff := backoffFloor
	for {
		if ctx.Err() != nil {
			return
		}
		addr := l.nextAddr()
		if addr == "" {
			return
		}
		progress, err := m.syncOnce(ctx, l, addr)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			glog.Warningf("livesync %s: %s: %v", l.ns, addr, err)
		}
		inc(m.reconnects)
		if progress {
			backoff = backoffFloor
		}
		if isLag(err) {
			// The feed was dropped for lagging, not for failing.
			// Reconnect straight away from the cursor.
			continue
		}
		wait := backoff
		backoff = min(backoff*2, backoffCeil)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// syncOnce runs one connection worth of work: verify the peer, clear
// the pending-content backlog, then stream rows from the cursor until
// the stream breaks.
func (m *Manager) syncOnce(ctx context.Context, l *loop, addr string) (bool, error) {
	conn, err := m.dial(addr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := m.checkPeer(ctx, conn, l.peer); err != nil {
		return false, err
	}

	remote := conn.Blobs(m.fetchTimeout)
	key := loopKey{ns: l.ns, peer: l.peer}
	m.setRemote(key, remote)
	defer m.setRemote(key, nil)

	progress := m.fetchPending(ctx, l.ns, remote) > 0

	stream, err := conn.SyncEntries(ctx, l.ns, l.after())
	if err != nil {
		return progress, err
	}
	glog.V(1).Infof("livesync %s: streaming from %s after seq %d", l.ns, addr, l.after())
	for {
		row, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return progress, nil
			}
			return progress, err
		}
		if err := m.applyRow(l.ns, remote, row); err != nil {
			return progress, err
		}
		l.advance(row.Seq)
		progress = true
	}
}

// checkPeer verifies the dialed address answers as the expected node.
func (m *Manager) checkPeer(ctx context.Context, conn *rpc.SyncConn, want string) error {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	got, err := conn.Ping(pctx)
	if err != nil {
		return err
	}
	if want != "" && got != want {
		return fmt.Errorf("livesync: peer at this address is %s, expected %s", got, want)
	}
	return nil
}

// fetchPending retries the namespace's pending backlog against this
// peer. Content the peer does not hold stays pending for other peers.
func (m *Manager) fetchPending(ctx context.Context, ns string, remote *rpc.RemoteBlobs) int {
	pending, err := m.store.PendingContent(ns)
	if err != nil || len(pending) == 0 {
		return 0
	}
	done := 0
	for _, content := range pending {
		if ctx.Err() != nil {
			return done
		}
		id, err := cidutil.Parse(content)
		if err != nil {
			continue
		}
		if m.blobs.Has(id) {
			if m.store.MarkContentReady(ns, content) == nil {
				done++
			}
			continue
		}
		if !remote.Has(id) {
			continue
		}
		if err := m.fetchContent(ns, remote, content, id); err == nil {
			done++
		}
	}
	return done
}

// applyRow lands one peer row. Rows that fail validation are logged
// and skipped; stalling every row behind a bad one would wedge the
// namespace on a single defective peer.
func (m *Manager) applyRow(ns string, remote *rpc.RemoteBlobs, row docstore.Row) error {
	id, err := cidutil.Parse(row.Entry.Content)
	if err != nil {
		inc(m.rowsRejected)
		glog.Warningf("livesync %s: dropping row seq %d: %v", ns, row.Seq, err)
		return nil
	}
	ready := m.blobs.Has(id)
	applied, err := m.store.InsertRemote(row.Entry, ready)
	switch {
	case errors.Is(err, docstore.ErrClosed), errors.Is(err, docstore.ErrUnknownNamespace):
		return err
	case err != nil:
		inc(m.rowsRejected)
		glog.Warningf("livesync %s: dropping row seq %d: %v", ns, row.Seq, err)
		return nil
	case !applied:
		inc(m.rowsStale)
		return nil
	}
	inc(m.rowsApplied)
	if ready {
		return nil
	}
	if err := m.fetchContent(ns, remote, row.Entry.Content, id); err != nil {
		// Leave the CID pending; the next connection retries it.
		glog.Warningf("livesync %s: fetch %s: %v", ns, row.Entry.Content, err)
	}
	return nil
}

func (m *Manager) fetchContent(ns string, remote *rpc.RemoteBlobs, content string, id cid.Cid) error {
	b, err := remote.Get(id)
	if err != nil {
		inc(m.fetchFailed)
		return err
	}
	if _, err := m.blobs.Put(b); err != nil {
		inc(m.fetchFailed)
		return err
	}
	inc(m.blobsFetched)
	return m.store.MarkContentReady(ns, content)
}

func isLag(err error) bool {
	return status.Code(err) == codes.DataLoss
}

func inc(c *metrics.Counter) {
	if c != nil {
		c.Inc()
	}
}
