package docstore

import "testing"

func TestHubDropOnOverflow(t *testing.T) {
	dropped := 0
	h := newHub[int](1, dropOnOverflow, func(ns, id string) { dropped++ })
	_, ch := h.subscribe("ns")

	h.publish("ns", 1)
	h.publish("ns", 2)
	h.publish("ns", 3)

	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if got := <-ch; got != 1 {
		t.Fatalf("buffered value = %d, want 1", got)
	}
	// The subscriber survives the overflow and keeps receiving.
	h.publish("ns", 4)
	if got := <-ch; got != 4 {
		t.Fatalf("post-overflow value = %d, want 4", got)
	}
}

func TestHubCloseOnOverflow(t *testing.T) {
	h := newHub[int](1, closeOnOverflow, nil)
	_, ch := h.subscribe("ns")

	h.publish("ns", 1)
	h.publish("ns", 2)

	if got := <-ch; got != 1 {
		t.Fatalf("buffered value = %d, want 1", got)
	}
	if _, ok := <-ch; ok {
		t.Fatal("lagged subscriber channel still open")
	}
	// The laggard is gone; publishing again must not panic on a
	// closed channel.
	h.publish("ns", 3)
}

func TestHubUnsubscribe(t *testing.T) {
	h := newHub[int](4, dropOnOverflow, nil)
	id, ch := h.subscribe("ns")
	h.unsubscribe("ns", id)
	if _, ok := <-ch; ok {
		t.Fatal("channel open after unsubscribe")
	}
	h.unsubscribe("ns", id)
	h.publish("ns", 1)
}

func TestHubIsolatesNamespaces(t *testing.T) {
	h := newHub[int](4, dropOnOverflow, nil)
	_, a := h.subscribe("a")
	_, b := h.subscribe("b")
	h.publish("a", 7)
	if got := <-a; got != 7 {
		t.Fatalf("a received %d", got)
	}
	select {
	case v := <-b:
		t.Fatalf("b received %d for a's namespace", v)
	default:
	}
}
