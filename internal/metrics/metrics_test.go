package metrics

import (
	"sync"
	"testing"
)

func TestRegistry_CounterAndSnapshot(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("entries_inserted_local", "entries written by local authors")
	c.Inc()
	c.Add(2)

	// Second lookup must return the same counter.
	r.Counter("entries_inserted_local", "ignored").Inc()

	snap := r.Snapshot()
	got, ok := snap["entries_inserted_local"]
	if !ok {
		t.Fatalf("counter missing from snapshot")
	}
	if got.Value != 4 {
		t.Fatalf("value: got %d want 4", got.Value)
	}
	if got.Description != "entries written by local authors" {
		t.Fatalf("description: got %q", got.Description)
	}
}

func TestRegistry_RegisterFunc(t *testing.T) {
	r := NewRegistry()
	v := uint64(7)
	r.RegisterFunc("bridge_tasks_run", "facade calls executed", func() uint64 { return v })

	if got := r.Snapshot()["bridge_tasks_run"].Value; got != 7 {
		t.Fatalf("got %d want 7", got)
	}
	v = 9
	if got := r.Snapshot()["bridge_tasks_run"].Value; got != 9 {
		t.Fatalf("func metric not resampled: got %d want 9", got)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Counter("zeta", "")
	r.Counter("alpha", "")
	r.RegisterFunc("mid", "", func() uint64 { return 0 })

	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("names: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d]: got %q want %q", i, names[i], want[i])
		}
	}
}

func TestRegistry_ConcurrentInc(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Counter("races", "").Inc()
			}
		}()
	}
	wg.Wait()
	if got := r.Counter("races", "").Value(); got != 8000 {
		t.Fatalf("got %d want 8000", got)
	}
}
