package bridge

import (
	"context"
	"sync/atomic"
)

type result[T any] struct {
	v   T
	err error
}

// BlockOn runs fn on the runtime pool and blocks the caller until it
// returns. fn receives the bridge context, which is cancelled once
// Close begins.
func BlockOn[T any](b *Bridge, fn func(ctx context.Context) (T, error)) (T, error) {
	return blockOn(b, b.tasks, &b.ranInline, fn)
}

// RunBlocking is BlockOn for work that may park for a long time; it
// runs on the aux pool so slow calls cannot starve the runtime pool.
func RunBlocking[T any](b *Bridge, fn func(ctx context.Context) (T, error)) (T, error) {
	return blockOn(b, b.aux, &b.ranInline, fn)
}

// Run is BlockOn for calls with no result.
func Run(b *Bridge, fn func(ctx context.Context) error) error {
	_, err := BlockOn(b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func blockOn[T any](b *Bridge, q chan func(), inline *atomic.Uint64, fn func(ctx context.Context) (T, error)) (T, error) {
	done := make(chan result[T], 1)
	job := func() {
		v, err := fn(b.ctx)
		done <- result[T]{v: v, err: err}
	}
	if err := b.dispatch(q, inline, job); err != nil {
		var zero T
		return zero, err
	}
	r := <-done
	return r.v, r.err
}
