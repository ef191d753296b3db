package node_test

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skiff.dev/skiff/docstore"
	"skiff.dev/skiff/model"
	"skiff.dev/skiff/node"
	"skiff.dev/skiff/ticket"
)

// newNode builds a node on an ephemeral port so parallel test runs
// cannot collide on the default bind address.
func newNode(t *testing.T, opts ...node.Option) *node.Node {
	t.Helper()
	opts = append([]node.Option{node.WithBindAddr("127.0.0.1:0")}, opts...)
	n, err := node.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// eventuallyHasKey polls Latest until an entry for key shows up.
func eventuallyHasKey(t *testing.T, d *node.Doc, key []byte) docstore.Entry {
	t.Helper()
	var got docstore.Entry
	require.Eventually(t, func() bool {
		entries, err := d.Latest()
		if err != nil {
			return false
		}
		for _, e := range entries {
			if bytes.Equal(e.Key, key) {
				got = e
				return true
			}
		}
		return false
	}, 15*time.Second, 50*time.Millisecond, "entry %q never appeared", key)
	return got
}

func TestNodeLifecycle(t *testing.T) {
	n, err := node.New(node.WithBindAddr("127.0.0.1:0"))
	require.NoError(t, err)

	id := n.PeerID()
	require.NotEmpty(t, id)
	assert.Equal(t, id, n.PeerID())
	assert.NotEmpty(t, n.Addrs())

	dir := n.Dir()
	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "ephemeral dir should be deleted on close")

	// The identity is still answerable locally.
	assert.Equal(t, id, n.PeerID())

	_, err = n.CreateDoc()
	assert.True(t, model.IsCode(err, model.ErrRuntime), "got %v", err)
	_, err = n.CreateAuthor()
	assert.True(t, model.IsCode(err, model.ErrRuntime), "got %v", err)
}

func TestSingleNodeWriteAndRead(t *testing.T) {
	n := newNode(t)

	d, err := n.CreateDoc()
	require.NoError(t, err)
	require.NotEmpty(t, d.ID())

	author, err := n.CreateAuthor()
	require.NoError(t, err)

	entry, err := d.SetBytes(author, []byte("greeting"), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, author, entry.Author)
	assert.Equal(t, uint64(5), entry.Length)

	entries, err := d.Latest()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("greeting"), entries[0].Key)
	assert.Equal(t, entry.Content, entries[0].Content)

	data, err := d.GetContentBytes(entries[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	latest, err := d.GetLatest([]byte("greeting"))
	require.NoError(t, err)
	assert.Equal(t, entry.Content, latest.Content)

	// A second handle to the same document sees the same state.
	d2, err := n.Doc(d.ID())
	require.NoError(t, err)
	entries2, err := d2.Latest()
	require.NoError(t, err)
	assert.Equal(t, entries, entries2)

	_, err = n.Doc("missing")
	assert.True(t, model.IsCode(err, model.ErrDoc), "got %v", err)
	assert.ErrorIs(t, err, docstore.ErrUnknownNamespace)

	_, err = d.GetLatest([]byte("absent"))
	assert.ErrorIs(t, err, docstore.ErrEntryNotFound)
}

func TestAuthorsAreDistinctAndListed(t *testing.T) {
	n := newNode(t)

	a, err := n.CreateAuthor()
	require.NoError(t, err)
	b, err := n.CreateAuthor()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	authors, err := n.ListAuthors()
	require.NoError(t, err)
	assert.Contains(t, authors, a)
	assert.Contains(t, authors, b)

	d, err := n.CreateDoc()
	require.NoError(t, err)
	_, err = d.SetBytes("not-an-author", []byte("k"), []byte("v"))
	assert.True(t, model.IsCode(err, model.ErrDoc), "got %v", err)
}

func TestTicketRoundTrip(t *testing.T) {
	n := newNode(t)
	d, err := n.CreateDoc()
	require.NoError(t, err)

	read, err := d.ShareRead()
	require.NoError(t, err)
	assert.Equal(t, model.ShareRead, read.Mode())
	assert.Equal(t, d.ID(), read.Namespace)
	assert.Equal(t, n.PeerID(), read.Peer)
	assert.Equal(t, n.Addrs(), read.Addrs)

	write, err := d.ShareWrite()
	require.NoError(t, err)
	assert.Equal(t, model.ShareWrite, write.Mode())

	for _, tk := range []*ticket.Doc{read, write} {
		text, err := tk.Encode()
		require.NoError(t, err)
		parsed, err := ticket.Parse(text)
		require.NoError(t, err)
		text2, err := parsed.Encode()
		require.NoError(t, err)
		assert.Equal(t, text, text2)
	}

	_, err = n.ImportDoc(nil)
	assert.True(t, model.IsCode(err, model.ErrTicketParse), "got %v", err)
}

func TestReadTicketDoesNotGrantWrite(t *testing.T) {
	a := newNode(t)
	b := newNode(t)

	doc, err := a.CreateDoc()
	require.NoError(t, err)
	read, err := doc.ShareRead()
	require.NoError(t, err)

	replica, err := b.ImportDoc(read)
	require.NoError(t, err)
	require.Equal(t, doc.ID(), replica.ID())

	author, err := b.CreateAuthor()
	require.NoError(t, err)
	_, err = replica.SetBytes(author, []byte("k"), []byte("v"))
	assert.True(t, model.IsCode(err, model.ErrDoc), "got %v", err)
	assert.ErrorIs(t, err, docstore.ErrReadOnly)

	// Without the namespace secret the replica cannot mint write
	// capability either.
	_, err = replica.ShareWrite()
	assert.Error(t, err)
}

func TestTwoNodesConverge(t *testing.T) {
	a := newNode(t, node.WithContentTimeout(10*time.Second))
	b := newNode(t, node.WithContentTimeout(10*time.Second))

	docA, err := a.CreateDoc()
	require.NoError(t, err)
	authorA, err := a.CreateAuthor()
	require.NoError(t, err)
	_, err = docA.SetBytes(authorA, []byte("greeting"), []byte("hello"))
	require.NoError(t, err)

	write, err := docA.ShareWrite()
	require.NoError(t, err)

	docB, err := b.ImportDoc(write)
	require.NoError(t, err)

	got := eventuallyHasKey(t, docB, []byte("greeting"))
	assert.Equal(t, authorA, got.Author)
	data, err := docB.GetContentBytes(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// The write ticket made B's replica writable. A pulls B's write
	// back over a ticket of its own; sync is pull-based on both ends.
	authorB, err := b.CreateAuthor()
	require.NoError(t, err)
	_, err = docB.SetBytes(authorB, []byte("reply"), []byte("world"))
	require.NoError(t, err)

	fromB, err := docB.ShareWrite()
	require.NoError(t, err)
	_, err = a.ImportDoc(fromB)
	require.NoError(t, err)

	got = eventuallyHasKey(t, docA, []byte("reply"))
	assert.Equal(t, authorB, got.Author)
	data, err = docA.GetContentBytes(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)
}

// collector buffers events and optionally fails every delivery.
type collector struct {
	mu     sync.Mutex
	events []model.LiveEvent
	fail   bool
}

func (c *collector) OnEvent(ev model.LiveEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	if c.fail {
		return errors.New("callback refused the event")
	}
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) last() model.LiveEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func TestSubscriptionDeliversAndSurvivesCallbackErrors(t *testing.T) {
	n := newNode(t)
	d, err := n.CreateDoc()
	require.NoError(t, err)
	author, err := n.CreateAuthor()
	require.NoError(t, err)

	flaky := &collector{fail: true}
	quiet := &collector{}

	subFlaky, err := d.Subscribe(flaky)
	require.NoError(t, err)
	defer subFlaky.Cancel()
	subQuiet, err := d.Subscribe(quiet)
	require.NoError(t, err)

	// Stream setup is lazy; the server registers the subscription when
	// the handler runs, not when Subscribe returns.
	time.Sleep(200 * time.Millisecond)

	_, err = d.SetBytes(author, []byte("k1"), []byte("v1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return quiet.count() >= 1 }, 5*time.Second, 20*time.Millisecond)
	ev := quiet.last()
	assert.Equal(t, model.EventInsertLocal, ev.Kind)
	assert.Equal(t, d.ID(), ev.Namespace)
	assert.Equal(t, []byte("k1"), ev.Key)

	// A failing callback keeps its subscription: it still sees the
	// second write.
	_, err = d.SetBytes(author, []byte("k2"), []byte("v2"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return flaky.count() >= 2 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return quiet.count() >= 2 }, 5*time.Second, 20*time.Millisecond)

	subQuiet.Cancel()
	subQuiet.Cancel()
	time.Sleep(100 * time.Millisecond)
	base := quiet.count()

	_, err = d.SetBytes(author, []byte("k3"), []byte("v3"))
	require.NoError(t, err)
	assert.Never(t, func() bool { return quiet.count() > base }, time.Second, 50*time.Millisecond,
		"cancelled subscription kept delivering")
	require.Eventually(t, func() bool { return flaky.count() >= 3 }, 5*time.Second, 20*time.Millisecond,
		"remaining subscription should be unaffected by the cancel")
}

func TestPersistentNodeSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	n1, err := node.New(node.WithDir(dir), node.WithBindAddr("127.0.0.1:0"))
	require.NoError(t, err)
	peer := n1.PeerID()

	d, err := n1.CreateDoc()
	require.NoError(t, err)
	author, err := n1.CreateAuthor()
	require.NoError(t, err)
	_, err = d.SetBytes(author, []byte("k"), []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, n1.Close())

	n2 := newNode(t, node.WithDir(dir))
	assert.Equal(t, peer, n2.PeerID(), "identity should survive a restart")

	docs, err := n2.ListDocs()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, docs[0].Writable)

	d2, err := n2.Doc(d.ID())
	require.NoError(t, err)
	entries, err := d2.Latest()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := d2.GetContentBytes(entries[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
}

func TestSecondNodeOnSameDirFails(t *testing.T) {
	dir := t.TempDir()
	_ = newNode(t, node.WithDir(dir))

	_, err := node.New(node.WithDir(dir), node.WithBindAddr("127.0.0.1:0"))
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrNodeCreate), "got %v", err)
}

func TestStatsSnapshot(t *testing.T) {
	n := newNode(t)
	d, err := n.CreateDoc()
	require.NoError(t, err)
	author, err := n.CreateAuthor()
	require.NoError(t, err)
	_, err = d.SetBytes(author, []byte("k"), []byte("v"))
	require.NoError(t, err)

	stats, err := n.Stats()
	require.NoError(t, err)
	require.NotEmpty(t, stats)
	require.Contains(t, stats, "bridge_tasks_run")
	assert.Positive(t, stats["bridge_tasks_run"].Value)
	require.Contains(t, stats, "subscriptions_active")
	for name, c := range stats {
		assert.NotEmpty(t, c.Description, "counter %s has no description", name)
	}
}
