package model

// EventKind tags a LiveEvent.
type EventKind string

const (
	// EventInsertLocal: a write committed on this node.
	EventInsertLocal EventKind = "insert-local"
	// EventInsertRemote: a write received from a peer.
	EventInsertRemote EventKind = "insert-remote"
	// EventContentReady: blob content referenced by a previously received
	// entry has finished downloading and is now readable.
	EventContentReady EventKind = "content-ready"
)

// LiveEvent is one replication event delivered to document subscribers.
//
// Events are transient notifications; they are never persisted. Namespace,
// Author and Content carry the multibase/CID string forms so the event is
// loggable without further lookups.
type LiveEvent struct {
	Kind      EventKind `json:"kind" msgpack:"kind"`
	Namespace string    `json:"namespace" msgpack:"namespace"`
	Author    string    `json:"author,omitempty" msgpack:"author"`
	Key       []byte    `json:"key,omitempty" msgpack:"key"`
	Content   string    `json:"content,omitempty" msgpack:"content"`
	Timestamp uint64    `json:"timestamp,omitempty" msgpack:"timestamp"`
}

// ShareMode selects the capability carried by a minted document ticket.
type ShareMode string

const (
	ShareRead  ShareMode = "read"
	ShareWrite ShareMode = "write"
)

// CounterStats is a read-only snapshot of one node counter.
type CounterStats struct {
	Value       uint64 `json:"value" msgpack:"value"`
	Description string `json:"description" msgpack:"description"`
}
