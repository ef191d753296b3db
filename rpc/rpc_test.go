package rpc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"skiff.dev/skiff/cidutil"
	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/internal/metrics"
	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/model"
	"skiff.dev/skiff/storage"
	"skiff.dev/skiff/storage/memcas"
)

type recordingStarter struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingStarter) StartSync(ns, peer string, addrs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ns+" "+peer)
}

func (r *recordingStarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type harness struct {
	store    *docstore.Store
	blobs    *memcas.CAS
	node     keys.Identity
	addrs    []string
	registry *metrics.Registry
	starts   *recordingStarter
	client   *Client
	sync     SyncClient
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	ks, err := keys.CreateKeyStore(filepath.Join(dir, "keys"))
	if err != nil {
		t.Fatalf("create keystore: %v", err)
	}
	registry := metrics.NewRegistry()
	store, err := docstore.Open(dir, ks, docstore.WithMetrics(registry))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	node, _, err := ks.EnsureNode(nil)
	if err != nil {
		t.Fatalf("ensure node key: %v", err)
	}

	h := &harness{
		store:    store,
		blobs:    memcas.New(),
		node:     node,
		addrs:    []string{"127.0.0.1:4242"},
		registry: registry,
		starts:   &recordingStarter{},
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterDocsServer(srv, &DocsService{
		Store:       h.store,
		Blobs:       h.blobs,
		Node:        h.node,
		Addrs:       h.addrs,
		Registry:    h.registry,
		Sync:        h.starts,
		ContentWait: 2 * time.Second,
	})
	RegisterSyncServer(srv, &SyncService{
		Store:    h.store,
		Blobs:    h.blobs,
		Node:     h.node,
		Registry: h.registry,
	})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	t.Cleanup(func() { cc.Close() })

	h.client = Wrap(cc)
	h.client.Timeout = 5 * time.Second
	h.sync = NewSyncClient(cc)
	return h
}

func (h *harness) newDoc(t *testing.T) (ns, author string) {
	t.Helper()
	ctx := context.Background()
	ns, err := h.client.CreateDoc(ctx)
	if err != nil {
		t.Fatalf("CreateDoc: %v", err)
	}
	author, err = h.client.CreateAuthor(ctx)
	if err != nil {
		t.Fatalf("CreateAuthor: %v", err)
	}
	return ns, author
}

func TestDocsRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ns, author := h.newDoc(t)

	payload := []byte("hello wire")
	entry, err := h.client.SetBytes(ctx, ns, author, []byte("greeting"), payload)
	if err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	if entry.Namespace != ns || entry.Author != author {
		t.Fatalf("entry ids mismatch: %+v", entry)
	}
	if entry.Length != uint64(len(payload)) {
		t.Fatalf("entry length = %d, want %d", entry.Length, len(payload))
	}

	got, err := h.client.GetLatest(ctx, ns, []byte("greeting"))
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got.Content != entry.Content || got.Timestamp != entry.Timestamp {
		t.Fatalf("GetLatest mismatch: got %+v want %+v", got, entry)
	}

	data, err := h.client.GetContent(ctx, ns, entry.Content, 0)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("GetContent = %q, want %q", data, payload)
	}

	entries, err := h.client.Entries(ctx, ns, false)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Entries len = %d, want 1", len(entries))
	}

	docs, err := h.client.ListDocs(ctx)
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != ns || !docs[0].Writable || docs[0].Entries != 1 {
		t.Fatalf("ListDocs = %+v", docs)
	}
	authors, err := h.client.ListAuthors(ctx)
	if err != nil {
		t.Fatalf("ListAuthors: %v", err)
	}
	if len(authors) != 1 || authors[0] != author {
		t.Fatalf("ListAuthors = %v", authors)
	}

	info, err := h.client.NodeInfo(ctx)
	if err != nil {
		t.Fatalf("NodeInfo: %v", err)
	}
	if info.Peer != h.node.ID() {
		t.Fatalf("NodeInfo peer = %q, want %q", info.Peer, h.node.ID())
	}
	if len(info.Addrs) != 1 || info.Addrs[0] != h.addrs[0] {
		t.Fatalf("NodeInfo addrs = %v", info.Addrs)
	}

	stats, err := h.client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := stats["docs_inserted_local"].Value; got != 1 {
		t.Fatalf("docs_inserted_local = %d, want 1", got)
	}
}

func TestShareAndImportAcrossNodes(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	ctx := context.Background()
	ns, author := a.newDoc(t)
	if _, err := a.client.SetBytes(ctx, ns, author, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}

	writeTicket, err := a.client.Share(ctx, ns, model.ShareWrite)
	if err != nil {
		t.Fatalf("Share write: %v", err)
	}
	imported, err := b.client.ImportDoc(ctx, writeTicket)
	if err != nil {
		t.Fatalf("ImportDoc: %v", err)
	}
	if imported.Namespace != ns || !imported.Writable {
		t.Fatalf("import reply = %+v", imported)
	}
	if b.starts.count() != 1 {
		t.Fatalf("sync starts = %d, want 1", b.starts.count())
	}

	// The importing node holds the secret now; it can write.
	bAuthor, err := b.client.CreateAuthor(ctx)
	if err != nil {
		t.Fatalf("CreateAuthor: %v", err)
	}
	if _, err := b.client.SetBytes(ctx, ns, bAuthor, []byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("SetBytes after write import: %v", err)
	}

	readTicket, err := a.client.Share(ctx, ns, model.ShareRead)
	if err != nil {
		t.Fatalf("Share read: %v", err)
	}
	c := newHarness(t)
	imported, err = c.client.ImportDoc(ctx, readTicket)
	if err != nil {
		t.Fatalf("ImportDoc read: %v", err)
	}
	if imported.Writable {
		t.Fatalf("read import reports writable")
	}
	cAuthor, err := c.client.CreateAuthor(ctx)
	if err != nil {
		t.Fatalf("CreateAuthor: %v", err)
	}
	_, err = c.client.SetBytes(ctx, ns, cAuthor, []byte("k"), []byte("nope"))
	if !errors.Is(err, docstore.ErrReadOnly) {
		t.Fatalf("SetBytes on read-only import: %v", err)
	}

	// Importing a ticket that points at ourselves must not start sync.
	if _, err := a.client.ImportDoc(ctx, writeTicket); err != nil {
		t.Fatalf("self import: %v", err)
	}
	if a.starts.count() != 0 {
		t.Fatalf("self import started sync")
	}
}

func TestErrorsSurviveTheWire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ghost, err := keys.Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := h.client.GetLatest(ctx, ghost.ID(), []byte("k")); !errors.Is(err, docstore.ErrUnknownNamespace) {
		t.Fatalf("unknown namespace: %v", err)
	}

	ns, _ := h.newDoc(t)
	if _, err := h.client.GetLatest(ctx, ns, []byte("missing")); !errors.Is(err, docstore.ErrEntryNotFound) {
		t.Fatalf("missing key: %v", err)
	}
	if _, err := h.client.SetBytes(ctx, ns, ghost.ID(), []byte("k"), []byte("v")); !errors.Is(err, docstore.ErrUnknownAuthor) {
		t.Fatalf("unknown author: %v", err)
	}

	if _, err := h.client.ImportDoc(ctx, "not a ticket"); !model.IsCode(err, model.ErrTicketParse) {
		t.Fatalf("garbage ticket: %v", err)
	}
	if _, err := h.client.Share(ctx, ghost.ID(), model.ShareRead); !errors.Is(err, docstore.ErrUnknownNamespace) {
		t.Fatalf("share unknown namespace: %v", err)
	}
	if _, err := h.client.GetContent(ctx, ns, "not-a-cid", 0); !errors.Is(err, storage.ErrInvalidCID) {
		t.Fatalf("bad cid: %v", err)
	}
}

func TestSubscribeDeliversOverTheWire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ns, author := h.newDoc(t)

	es, err := h.client.Subscribe(ctx, ns)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer es.Close()
	// Stream setup is lazy; the server registers the subscription when
	// the handler runs, not when Subscribe returns.
	time.Sleep(200 * time.Millisecond)

	payload := []byte("event payload")
	entry, err := h.client.SetBytes(ctx, ns, author, []byte("greeting"), payload)
	if err != nil {
		t.Fatalf("SetBytes: %v", err)
	}

	ev, err := es.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != model.EventInsertLocal {
		t.Fatalf("event kind = %q", ev.Kind)
	}
	if ev.Namespace != ns || ev.Author != author || string(ev.Key) != "greeting" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Content != entry.Content {
		t.Fatalf("event content = %q, want %q", ev.Content, entry.Content)
	}

	es.Close()
	if _, err := es.Recv(); err == nil {
		t.Fatalf("Recv after Close succeeded")
	}

	// A stream against an unknown namespace fails at the first Recv;
	// stream setup is lazy.
	ghost, err := keys.Generate(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	bad, err := h.client.Subscribe(ctx, ghost.ID())
	if err != nil {
		t.Fatalf("Subscribe unknown: %v", err)
	}
	defer bad.Close()
	if _, err := bad.Recv(); !errors.Is(err, docstore.ErrUnknownNamespace) {
		t.Fatalf("Recv unknown namespace: %v", err)
	}
}

func recvRow(t *testing.T, stream Sync_SyncEntriesClient) docstore.Row {
	t.Helper()
	body, err := stream.Recv()
	if err != nil {
		t.Fatalf("stream recv: %v", err)
	}
	var row docstore.Row
	if err := unmarshalWire(body, &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	return row
}

func TestSyncEntriesBackfillAndTail(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ns, author := h.newDoc(t)

	if _, err := h.client.SetBytes(ctx, ns, author, []byte("a"), []byte("one")); err != nil {
		t.Fatalf("SetBytes a: %v", err)
	}
	if _, err := h.client.SetBytes(ctx, ns, author, []byte("b"), []byte("two")); err != nil {
		t.Fatalf("SetBytes b: %v", err)
	}

	body, err := marshalWire(&SyncEntriesRequest{Namespace: ns, After: 0})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	stream, err := h.sync.SyncEntries(ctx, body)
	if err != nil {
		t.Fatalf("SyncEntries: %v", err)
	}

	first := recvRow(t, stream)
	second := recvRow(t, stream)
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("backfill seqs = %d, %d", first.Seq, second.Seq)
	}
	if string(first.Entry.Key) != "a" || string(second.Entry.Key) != "b" {
		t.Fatalf("backfill keys = %q, %q", first.Entry.Key, second.Entry.Key)
	}

	// The stream stays open and tails new writes.
	if _, err := h.client.SetBytes(ctx, ns, author, []byte("c"), []byte("three")); err != nil {
		t.Fatalf("SetBytes c: %v", err)
	}
	third := recvRow(t, stream)
	if third.Seq != 3 || string(third.Entry.Key) != "c" {
		t.Fatalf("tail row = %+v", third)
	}

	// Resuming from a cursor skips what the caller already has.
	body, err = marshalWire(&SyncEntriesRequest{Namespace: ns, After: 2})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resumed, err := h.sync.SyncEntries(ctx, body)
	if err != nil {
		t.Fatalf("SyncEntries resume: %v", err)
	}
	row := recvRow(t, resumed)
	if row.Seq != 3 {
		t.Fatalf("resume seq = %d, want 3", row.Seq)
	}
}

func TestRemoteBlobsAdapter(t *testing.T) {
	h := newHarness(t)
	payload := []byte("remote blob bytes")
	id, err := h.blobs.Put(payload)
	if err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	rb := NewRemoteBlobs(h.sync)
	rb.Timeout = 5 * time.Second

	if !rb.Has(id) {
		t.Fatalf("Has = false for present blob")
	}
	got, err := rb.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get = %q, want %q", got, payload)
	}

	absent, err := cidutil.CIDv1RawBlake3CID([]byte("never stored"))
	if err != nil {
		t.Fatalf("cid: %v", err)
	}
	if rb.Has(absent) {
		t.Fatalf("Has = true for absent blob")
	}
	if _, err := rb.Get(absent); !storage.IsNotFound(err) {
		t.Fatalf("Get absent: %v", err)
	}

	if _, err := rb.Put(payload); err == nil {
		t.Fatalf("Put on peer blobs succeeded")
	}

	// ReadThrough over the adapter pulls the blob into the local store.
	local := memcas.New()
	rt := storage.ReadThrough{Local: local, Remote: rb}
	got, err = rt.Get(id)
	if err != nil {
		t.Fatalf("read-through Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read-through Get = %q", got)
	}
	if !local.Has(id) {
		t.Fatalf("read-through did not backfill local store")
	}
}

func TestSyncPing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out, err := h.sync.Ping(ctx, emptyBody)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	var reply PingReply
	if err := unmarshalWire(out, &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Peer != h.node.ID() {
		t.Fatalf("Ping peer = %q, want %q", reply.Peer, h.node.ID())
	}
}

func TestErrorMappingRoundTrip(t *testing.T) {
	for _, sentinel := range wireSentinels {
		restored := mapRPC(mapErr(sentinel))
		if !errors.Is(restored, sentinel) {
			t.Fatalf("sentinel %v came back as %v", sentinel, restored)
		}
	}

	coded := model.NewError(model.ErrDoc, "boom")
	restored := mapRPC(mapErr(coded))
	if !model.IsCode(restored, model.ErrDoc) {
		t.Fatalf("coded error came back as %v", restored)
	}
	if restored.Error() != coded.Error() {
		t.Fatalf("coded message = %q, want %q", restored.Error(), coded.Error())
	}

	if mapErr(nil) != nil || mapRPC(nil) != nil {
		t.Fatalf("nil error mapped to non-nil")
	}
	plain := errors.New("not a status")
	if mapRPC(plain) != plain {
		t.Fatalf("non-status error rewritten")
	}
}
