// Package docstore keeps replicated multi-writer documents.
//
// A document is a namespace of (author, key) rows, each row a signed
// Entry pointing at blob content by CID. Rows converge across replicas
// by newer-wins: higher timestamp first, entry digest as the
// deterministic tie-breaker. The store persists through a checksummed
// write-ahead log folded periodically into a compressed snapshot, and
// fans live events out to per-namespace subscribers.
//
// The store holds no blob storage. Callers put content into their CAS
// before inserting the entry that references it; the sync layer calls
// MarkContentReady once a remote entry's content has been fetched.
package docstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"skiff.dev/skiff/internal/metrics"
	"skiff.dev/skiff/keys"
	"skiff.dev/skiff/model"
)

var (
	ErrClosed           = errors.New("docstore: closed")
	ErrUnknownNamespace = errors.New("docstore: unknown namespace")
	ErrUnknownAuthor    = errors.New("docstore: unknown author")
	ErrReadOnly         = errors.New("docstore: namespace is read-only")
	ErrEntryNotFound    = errors.New("docstore: entry not found")
)

const defaultCompactEvery = 4096

// NamespaceInfo describes one replicated document held by the store.
type NamespaceInfo struct {
	ID       string `json:"id" msgpack:"id"`
	Writable bool   `json:"writable" msgpack:"writable"`
	Entries  int    `json:"entries" msgpack:"entries"`
}

type rowKey struct {
	author string
	key    string
}

type namespaceState struct {
	id       string
	secret   keys.Identity
	writable bool
	rows     map[rowKey]Row

	// pending tracks CIDs referenced by remote entries whose content
	// has not landed locally yet. In-memory only; after a restart the
	// sync layer re-derives missing content by scanning rows against
	// the blob store.
	pending map[string]struct{}
}

// Store is a collection of replicated documents backed by one
// directory. Safe for concurrent use.
type Store struct {
	dir          string
	ks           *keys.KeyStore
	now          func() time.Time
	compactEvery int

	mu         sync.RWMutex
	closed     bool
	log        *wal
	seq        uint64
	namespaces map[string]*namespaceState
	authors    map[string]keys.Identity

	events *hub[model.LiveEvent]
	rows   *hub[Row]

	insertedLocal  *metrics.Counter
	insertedRemote *metrics.Counter
	contentReady   *metrics.Counter
	compactions    *metrics.Counter
	droppedEvents  *metrics.Counter
	nsCreated      *metrics.Counter
	nsImported     *metrics.Counter
	authorsCreated *metrics.Counter
}

type config struct {
	now          func() time.Time
	compactEvery int
	eventBuffer  int
	registry     *metrics.Registry
}

type Option func(*config)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithCompactEvery sets how many log records accumulate before the log
// is folded into a snapshot.
func WithCompactEvery(n int) Option {
	return func(c *config) { c.compactEvery = n }
}

// WithEventBuffer sets the per-subscriber channel depth.
func WithEventBuffer(n int) Option {
	return func(c *config) { c.eventBuffer = n }
}

// WithMetrics registers the store's counters on the given registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *config) { c.registry = r }
}

// Open loads the store under dir, replaying the snapshot and log. The
// keystore supplies the secrets for every author and writable
// namespace the store knows; a missing secret fails the open rather
// than leaving the store silently unable to sign.
func Open(dir string, ks *keys.KeyStore, opts ...Option) (*Store, error) {
	if ks == nil {
		return nil, errors.New("docstore: nil keystore")
	}
	cfg := config{
		now:          time.Now,
		compactEvery: defaultCompactEvery,
		eventBuffer:  defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create %s: %w", dir, err)
	}

	s := &Store{
		dir:          dir,
		ks:           ks,
		now:          cfg.now,
		compactEvery: cfg.compactEvery,
		namespaces:   make(map[string]*namespaceState),
		authors:      make(map[string]keys.Identity),
	}
	if cfg.registry != nil {
		s.insertedLocal = cfg.registry.Counter("docs_inserted_local", "entries written by this node")
		s.insertedRemote = cfg.registry.Counter("docs_inserted_remote", "entries applied from peers")
		s.contentReady = cfg.registry.Counter("docs_content_ready", "remote blobs that finished downloading")
		s.compactions = cfg.registry.Counter("docs_wal_compactions", "log folds into a snapshot")
		s.droppedEvents = cfg.registry.Counter("docs_events_dropped", "events dropped on full subscriber buffers")
		s.nsCreated = cfg.registry.Counter("docs_namespaces_created", "documents created locally")
		s.nsImported = cfg.registry.Counter("docs_namespaces_imported", "documents learned from tickets or bundles")
		s.authorsCreated = cfg.registry.Counter("docs_authors_created", "author keypairs minted")
	}
	s.events = newHub[model.LiveEvent](cfg.eventBuffer, dropOnOverflow, s.dropWarning("event"))
	s.rows = newHub[Row](cfg.eventBuffer, closeOnOverflow, s.dropWarning("row"))

	snap, err := readSnapshot(filepath.Join(dir, snapFileName))
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if err := s.loadSnapshot(snap); err != nil {
			return nil, err
		}
	}

	walPath := filepath.Join(dir, walFileName)
	applied, err := replayWAL(walPath, s.applyRecord)
	if err != nil {
		return nil, err
	}
	log, err := openWAL(walPath)
	if err != nil {
		return nil, err
	}
	log.records = applied
	s.log = log
	glog.V(1).Infof("docstore: opened %s with %d namespaces, %d log records", dir, len(s.namespaces), applied)
	return s, nil
}

func (s *Store) loadSnapshot(snap *snapshotFile) error {
	for _, ns := range snap.Namespaces {
		if err := s.applyNamespace(ns); err != nil {
			return err
		}
	}
	for _, id := range snap.Authors {
		if err := s.applyAuthor(id); err != nil {
			return err
		}
	}
	for _, row := range snap.Rows {
		if _, err := s.applyRow(row); err != nil {
			return err
		}
	}
	if snap.Seq > s.seq {
		s.seq = snap.Seq
	}
	return nil
}

// applyRecord folds one log record into state. Records were verified
// by checksum on read and by signature on first insert; replay trusts
// them rather than paying an ed25519 verify per row.
func (s *Store) applyRecord(rec *walRecord) error {
	switch rec.Kind {
	case recordKindNamespace:
		if rec.NS == nil {
			return errors.New("docstore: namespace record without body")
		}
		return s.applyNamespace(*rec.NS)
	case recordKindAuthor:
		return s.applyAuthor(rec.Author)
	case recordKindEntry:
		if rec.Entry == nil {
			return errors.New("docstore: entry record without body")
		}
		_, err := s.applyRow(Row{Seq: rec.Seq, Entry: *rec.Entry})
		return err
	default:
		return fmt.Errorf("docstore: unknown record kind %q", rec.Kind)
	}
}

func (s *Store) applyNamespace(rec nsRecord) error {
	ns, ok := s.namespaces[rec.ID]
	if !ok {
		ns = &namespaceState{
			id:      rec.ID,
			rows:    make(map[rowKey]Row),
			pending: make(map[string]struct{}),
		}
		s.namespaces[rec.ID] = ns
	}
	if rec.Writable && !ns.writable {
		secret, err := s.ks.LoadNamespace(rec.ID)
		if err != nil {
			return fmt.Errorf("docstore: namespace %s is writable but its secret is missing: %w", rec.ID, err)
		}
		ns.secret = secret
		ns.writable = true
	}
	return nil
}

func (s *Store) applyAuthor(id string) error {
	if _, ok := s.authors[id]; ok {
		return nil
	}
	identity, err := s.ks.LoadAuthor(id)
	if err != nil {
		return fmt.Errorf("docstore: author %s has no secret: %w", id, err)
	}
	s.authors[id] = identity
	return nil
}

// applyRow upserts under newer-wins and returns whether the row
// replaced (or created) state.
func (s *Store) applyRow(row Row) (bool, error) {
	ns, ok := s.namespaces[row.Entry.Namespace]
	if !ok {
		return false, fmt.Errorf("docstore: row for unknown namespace %s", row.Entry.Namespace)
	}
	k := rowKey{author: row.Entry.Author, key: string(row.Entry.Key)}
	if old, ok := ns.rows[k]; ok && !row.Entry.Newer(&old.Entry) {
		return false, nil
	}
	ns.rows[k] = row
	if row.Seq > s.seq {
		s.seq = row.Seq
	}
	return true, nil
}

// CreateNamespace mints a new writable document and returns its id.
func (s *Store) CreateNamespace() (string, error) {
	secret, err := keys.Generate(nil)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	id := secret.ID()
	if err := s.ks.SaveNamespace(secret, false); err != nil {
		return "", err
	}
	rec := nsRecord{ID: id, Writable: true}
	if err := s.log.append(&walRecord{Kind: recordKindNamespace, NS: &rec}); err != nil {
		return "", err
	}
	s.namespaces[id] = &namespaceState{
		id:       id,
		secret:   secret,
		writable: true,
		rows:     make(map[rowKey]Row),
		pending:  make(map[string]struct{}),
	}
	inc(s.nsCreated)
	return id, nil
}

// ImportNamespace registers a document learned from a ticket. A zero
// secret imports read-only; a non-zero secret makes the replica
// writable. Importing an already known namespace is idempotent and
// upgrades read-only to writable when a secret arrives later.
func (s *Store) ImportNamespace(id string, secret keys.Identity) error {
	if !secret.Zero() && secret.ID() != id {
		return fmt.Errorf("docstore: secret is for %s, not %s", secret.ID(), id)
	}
	if _, err := keys.DecodeID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	ns, known := s.namespaces[id]
	writable := !secret.Zero()
	if known && (ns.writable || !writable) {
		return nil
	}
	if writable {
		if err := s.ks.SaveNamespace(secret, false); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	rec := nsRecord{ID: id, Writable: writable}
	if err := s.log.append(&walRecord{Kind: recordKindNamespace, NS: &rec}); err != nil {
		return err
	}
	if !known {
		ns = &namespaceState{
			id:      id,
			rows:    make(map[rowKey]Row),
			pending: make(map[string]struct{}),
		}
		s.namespaces[id] = ns
		inc(s.nsImported)
	}
	if writable {
		ns.secret = secret
		ns.writable = true
	}
	return nil
}

// Namespaces lists every document, sorted by id.
func (s *Store) Namespaces() []NamespaceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NamespaceInfo, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, NamespaceInfo{ID: ns.id, Writable: ns.writable, Entries: len(ns.rows)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) HasNamespace(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaces[id]
	return ok
}

// Writable reports whether this replica holds the namespace secret.
func (s *Store) Writable(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[id]
	if !ok {
		return false, ErrUnknownNamespace
	}
	return ns.writable, nil
}

// NamespaceSecret returns the signing identity for a writable
// namespace, for minting write tickets.
func (s *Store) NamespaceSecret(id string) (keys.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[id]
	if !ok {
		return keys.Identity{}, ErrUnknownNamespace
	}
	if !ns.writable {
		return keys.Identity{}, ErrReadOnly
	}
	return ns.secret, nil
}

// CreateAuthor mints a new author identity and returns its id.
func (s *Store) CreateAuthor() (string, error) {
	identity, err := keys.Generate(nil)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	id := identity.ID()
	if err := s.ks.SaveAuthor(identity, false); err != nil {
		return "", err
	}
	if err := s.log.append(&walRecord{Kind: recordKindAuthor, Author: id}); err != nil {
		return "", err
	}
	s.authors[id] = identity
	inc(s.authorsCreated)
	return id, nil
}

// Authors lists local author ids, sorted.
func (s *Store) Authors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.authors))
	for id := range s.authors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) HasAuthor(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authors[id]
	return ok
}

// InsertLocal writes one row on behalf of a local author. The content
// CID must already be resolvable in the caller's blob store. The entry
// is signed with the author secret and the namespace secret, stamped
// with a timestamp strictly above the author's previous row for the
// key, logged, applied, and announced to subscribers.
func (s *Store) InsertLocal(nsID, author string, key []byte, content string, length uint64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}
	ns, ok := s.namespaces[nsID]
	if !ok {
		return Entry{}, ErrUnknownNamespace
	}
	if !ns.writable {
		return Entry{}, ErrReadOnly
	}
	identity, ok := s.authors[author]
	if !ok {
		return Entry{}, ErrUnknownAuthor
	}

	ts := uint64(s.now().UnixMicro())
	if old, ok := ns.rows[rowKey{author: author, key: string(key)}]; ok && ts <= old.Entry.Timestamp {
		ts = old.Entry.Timestamp + 1
	}
	e := Entry{
		Namespace: nsID,
		Author:    author,
		Key:       bytes.Clone(key),
		Content:   content,
		Length:    length,
		Timestamp: ts,
	}
	if err := e.sign(identity, ns.secret); err != nil {
		return Entry{}, err
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if err := s.commitRow(ns, e); err != nil {
		return Entry{}, err
	}
	inc(s.insertedLocal)
	s.events.publish(nsID, model.LiveEvent{
		Kind:      model.EventInsertLocal,
		Namespace: nsID,
		Author:    author,
		Key:       e.Key,
		Content:   content,
		Timestamp: ts,
	})
	return e, nil
}

// InsertRemote applies one row received from a peer. Both signatures
// are verified before anything is written. Returns false when the row
// is stale under newer-wins, and records the content CID as pending
// when contentReady is false.
func (s *Store) InsertRemote(e Entry, contentReady bool) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	ns, ok := s.namespaces[e.Namespace]
	if !ok {
		return false, ErrUnknownNamespace
	}
	k := rowKey{author: e.Author, key: string(e.Key)}
	if old, ok := ns.rows[k]; ok && !e.Newer(&old.Entry) {
		return false, nil
	}
	if err := s.commitRow(ns, e); err != nil {
		return false, err
	}
	if !contentReady {
		ns.pending[e.Content] = struct{}{}
	}
	inc(s.insertedRemote)
	s.events.publish(e.Namespace, model.LiveEvent{
		Kind:      model.EventInsertRemote,
		Namespace: e.Namespace,
		Author:    e.Author,
		Key:       e.Key,
		Content:   e.Content,
		Timestamp: e.Timestamp,
	})
	return true, nil
}

// commitRow logs the row, applies it, and feeds the row tail. Callers
// hold the write lock and have already decided the row wins.
func (s *Store) commitRow(ns *namespaceState, e Entry) error {
	row := Row{Seq: s.seq + 1, Entry: e}
	rec := walRecord{Kind: recordKindEntry, Seq: row.Seq, Entry: &e}
	if err := s.log.append(&rec); err != nil {
		return err
	}
	s.seq = row.Seq
	ns.rows[rowKey{author: e.Author, key: string(e.Key)}] = row
	// Row sends never block, so publishing under the lock is safe and
	// keeps the tail in seq order.
	s.rows.publish(ns.id, row)
	if s.log.records >= s.compactEvery {
		if err := s.compactLocked(); err != nil {
			glog.Warningf("docstore: compaction failed: %v", err)
		}
	}
	return nil
}

// MarkContentReady records that the blob for cid is now locally
// readable and wakes subscribers waiting on it. Safe to call for
// content that was never pending; the event still fires so late
// waiters are not stranded.
func (s *Store) MarkContentReady(nsID, cid string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	ns, ok := s.namespaces[nsID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownNamespace
	}
	delete(ns.pending, cid)
	s.mu.Unlock()

	inc(s.contentReady)
	s.events.publish(nsID, model.LiveEvent{
		Kind:      model.EventContentReady,
		Namespace: nsID,
		Content:   cid,
	})
	return nil
}

// PendingContent lists CIDs referenced by remote rows whose blobs have
// not been marked ready, sorted.
func (s *Store) PendingContent(nsID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[nsID]
	if !ok {
		return nil, ErrUnknownNamespace
	}
	out := make([]string, 0, len(ns.pending))
	for cid := range ns.pending {
		out = append(out, cid)
	}
	sort.Strings(out)
	return out, nil
}

// RecomputePending rebuilds the pending set for nsID by probing has
// with each live row's content CID. The pending set is not persisted,
// so a reopened store calls this before resuming sync. has runs under
// the store lock; keep it cheap. Returns the CIDs now pending, sorted.
func (s *Store) RecomputePending(nsID string, has func(cid string) bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ns, ok := s.namespaces[nsID]
	if !ok {
		return nil, ErrUnknownNamespace
	}
	ns.pending = make(map[string]struct{})
	for _, row := range ns.rows {
		if !has(row.Entry.Content) {
			ns.pending[row.Entry.Content] = struct{}{}
		}
	}
	out := make([]string, 0, len(ns.pending))
	for cid := range ns.pending {
		out = append(out, cid)
	}
	sort.Strings(out)
	return out, nil
}

// Entries returns every live row of the namespace, sorted by key then
// author. Superseded rows are gone; this is the full multi-writer
// state.
func (s *Store) Entries(nsID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[nsID]
	if !ok {
		return nil, ErrUnknownNamespace
	}
	out := make([]Entry, 0, len(ns.rows))
	for _, row := range ns.rows {
		out = append(out, row.Entry)
	}
	sortEntries(out)
	return out, nil
}

// Latest returns one winning row per key across all authors, sorted by
// key.
func (s *Store) Latest(nsID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[nsID]
	if !ok {
		return nil, ErrUnknownNamespace
	}
	winners := make(map[string]Entry)
	for _, row := range ns.rows {
		k := string(row.Entry.Key)
		if w, ok := winners[k]; !ok || row.Entry.Newer(&w) {
			winners[k] = row.Entry
		}
	}
	out := make([]Entry, 0, len(winners))
	for _, e := range winners {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// GetLatest returns the winning row for one key across all authors.
func (s *Store) GetLatest(nsID string, key []byte) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[nsID]
	if !ok {
		return Entry{}, ErrUnknownNamespace
	}
	var winner Entry
	found := false
	for _, row := range ns.rows {
		if !bytes.Equal(row.Entry.Key, key) {
			continue
		}
		if !found || row.Entry.Newer(&winner) {
			winner = row.Entry
			found = true
		}
	}
	if !found {
		return Entry{}, ErrEntryNotFound
	}
	return winner, nil
}

// GetExact returns one author's row for a key, ignoring other authors.
func (s *Store) GetExact(nsID, author string, key []byte) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[nsID]
	if !ok {
		return Entry{}, ErrUnknownNamespace
	}
	row, ok := ns.rows[rowKey{author: author, key: string(key)}]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return row.Entry, nil
}

// RowsSince returns rows of the namespace applied after the given
// sequence, in seq order, plus the store's current sequence. Peers use
// it to resume a sync from their last cursor.
func (s *Store) RowsSince(nsID string, after uint64) ([]Row, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[nsID]
	if !ok {
		return nil, 0, ErrUnknownNamespace
	}
	var out []Row
	for _, row := range ns.rows {
		if row.Seq > after {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, s.seq, nil
}

// Seq returns the store's current apply sequence.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Compact folds the log into a fresh snapshot and empties it.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *Store) compactLocked() error {
	snap := snapshotFile{Version: snapshotVersion, Seq: s.seq}
	for _, ns := range s.namespaces {
		snap.Namespaces = append(snap.Namespaces, nsRecord{ID: ns.id, Writable: ns.writable})
		for _, row := range ns.rows {
			snap.Rows = append(snap.Rows, row)
		}
	}
	sort.Slice(snap.Namespaces, func(i, j int) bool { return snap.Namespaces[i].ID < snap.Namespaces[j].ID })
	sort.Slice(snap.Rows, func(i, j int) bool { return snap.Rows[i].Seq < snap.Rows[j].Seq })
	for id := range s.authors {
		snap.Authors = append(snap.Authors, id)
	}
	sort.Strings(snap.Authors)

	if err := writeSnapshot(filepath.Join(s.dir, snapFileName), &snap); err != nil {
		return err
	}
	if err := s.log.reset(); err != nil {
		return err
	}
	inc(s.compactions)
	glog.V(1).Infof("docstore: compacted %d rows into snapshot", len(snap.Rows))
	return nil
}

// Close folds state into a snapshot, closes the log, and closes every
// subscriber channel. Operations after Close return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.compactLocked()
	if cerr := s.log.close(); err == nil {
		err = cerr
	}
	s.mu.Unlock()

	s.events.closeAll()
	s.rows.closeAll()
	return err
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].Key, entries[j].Key); c != 0 {
			return c < 0
		}
		return entries[i].Author < entries[j].Author
	})
}

func inc(c *metrics.Counter) {
	if c != nil {
		c.Inc()
	}
}
