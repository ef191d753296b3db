package docstore

import (
	"sync"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"skiff.dev/skiff/model"
)

// defaultEventBuffer is the per-subscriber channel depth. Slow
// consumers fall behind rather than stalling the write path.
const defaultEventBuffer = 256

// overflowPolicy decides what happens to a subscriber whose buffer is
// full when a value arrives.
type overflowPolicy int

const (
	// dropOnOverflow loses the value for that subscriber. Live events
	// are notifications; a laggard misses some.
	dropOnOverflow overflowPolicy = iota
	// closeOnOverflow closes the subscriber's channel. Row tails must
	// never have silent gaps; a closed channel tells the consumer to
	// resubscribe from its cursor.
	closeOnOverflow
)

// hub fans values out to per-namespace subscribers. Sends never block.
type hub[T any] struct {
	mu       sync.RWMutex
	subs     map[string]map[string]chan T
	buffer   int
	overflow overflowPolicy
	onDrop   func(ns, id string)
}

func newHub[T any](buffer int, overflow overflowPolicy, onDrop func(ns, id string)) *hub[T] {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &hub[T]{
		subs:     make(map[string]map[string]chan T),
		buffer:   buffer,
		overflow: overflow,
		onDrop:   onDrop,
	}
}

// subscribe registers a new subscriber for ns and returns its id and
// channel. The channel is closed by unsubscribe, closeAll, or a
// closeOnOverflow hub when the subscriber lags; never by the consumer.
func (h *hub[T]) subscribe(ns string) (string, chan T) {
	id := ulid.Make().String()
	ch := make(chan T, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.subs[ns]
	if !ok {
		m = make(map[string]chan T)
		h.subs[ns] = m
	}
	m[id] = ch
	return id, ch
}

func (h *hub[T]) unsubscribe(ns, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.subs[ns]
	if !ok {
		return
	}
	ch, ok := m[id]
	if !ok {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(h.subs, ns)
	}
	close(ch)
}

func (h *hub[T]) publish(ns string, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[ns]
	for id, ch := range m {
		select {
		case ch <- v:
			continue
		default:
		}
		if h.onDrop != nil {
			h.onDrop(ns, id)
		}
		if h.overflow == closeOnOverflow {
			delete(m, id)
			close(ch)
		}
	}
	if len(m) == 0 {
		delete(h.subs, ns)
	}
}

func (h *hub[T]) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ns, m := range h.subs {
		for id, ch := range m {
			delete(m, id)
			close(ch)
		}
		delete(h.subs, ns)
	}
}

// Subscription delivers live events for one namespace. Cancel releases
// it; after Cancel the channel is closed.
type Subscription struct {
	ID string
	C  <-chan model.LiveEvent

	once   sync.Once
	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Subscribe starts delivering events for the namespace: local and
// remote inserts as they are applied, and content-ready notices as
// blobs referenced by remote entries land in local storage. A slow
// consumer loses events, never blocks writers.
func (s *Store) Subscribe(ns string) (*Subscription, error) {
	if err := s.checkSubscribable(ns); err != nil {
		return nil, err
	}
	id, ch := s.events.subscribe(ns)
	return &Subscription{
		ID:     id,
		C:      ch,
		cancel: func() { s.events.unsubscribe(ns, id) },
	}, nil
}

// RowSubscription tails applied rows of one namespace in seq order. If
// the consumer lags behind the buffer the channel is closed; the
// consumer resubscribes and backfills with RowsSince from its last
// seen seq.
type RowSubscription struct {
	ID string
	C  <-chan Row

	once   sync.Once
	cancel func()
}

func (s *RowSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// SubscribeRows starts tailing applied rows for the sync feed.
func (s *Store) SubscribeRows(ns string) (*RowSubscription, error) {
	if err := s.checkSubscribable(ns); err != nil {
		return nil, err
	}
	id, ch := s.rows.subscribe(ns)
	return &RowSubscription{
		ID:     id,
		C:      ch,
		cancel: func() { s.rows.unsubscribe(ns, id) },
	}, nil
}

func (s *Store) checkSubscribable(ns string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.namespaces[ns]; !ok {
		return ErrUnknownNamespace
	}
	return nil
}

func (s *Store) dropWarning(kind string) func(ns, id string) {
	return func(ns, id string) {
		if s.droppedEvents != nil {
			s.droppedEvents.Inc()
		}
		glog.Warningf("docstore: %s subscriber %s on %s is full, dropping", kind, id, ns)
	}
}
