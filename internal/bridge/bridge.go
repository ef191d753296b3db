// Package bridge runs facade calls on a small fixed pool of runtime
// goroutines, mirroring a foreign-callable boundary: callers block
// while the work happens on dedicated workers, background tasks are
// tracked and torn down as a group, and everything stops together on
// Close.
//
// Two pools exist. The runtime pool serves facade calls (BlockOn) and
// is deliberately small. The aux pool (RunBlocking) serves work that
// may park for a long time, such as waiting for content to arrive.
// Both pools run jobs caller-side when saturated, so a call made from
// inside a worker can never deadlock the pool; it simply lends its own
// goroutine, the way a blocking section demotes its runtime thread.
package bridge

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

var ErrClosed = errors.New("bridge: closed")

const defaultWorkers = 2

type Bridge struct {
	name string

	tasks chan func()
	aux   chan func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	workerWG sync.WaitGroup
	auxWG    sync.WaitGroup
	bgWG     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	closeOnce sync.Once

	ranTasks  atomic.Uint64
	ranAux    atomic.Uint64
	ranInline atomic.Uint64
	bgStarted atomic.Uint64
}

type Option func(*config)

type config struct {
	workers    int
	auxWorkers int
}

// WithWorkers sets the runtime pool size.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithAuxWorkers sets the aux pool size.
func WithAuxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.auxWorkers = n
		}
	}
}

// New starts a bridge named name. The name only appears in logs.
func New(name string, opts ...Option) *Bridge {
	cfg := config{
		workers:    defaultWorkers,
		auxWorkers: runtime.NumCPU(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		name:   name,
		tasks:  make(chan func()),
		aux:    make(chan func()),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.workerWG.Add(cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		go b.worker(&b.workerWG, b.tasks, &b.ranTasks)
	}
	b.auxWG.Add(cfg.auxWorkers)
	for i := 0; i < cfg.auxWorkers; i++ {
		go b.worker(&b.auxWG, b.aux, &b.ranAux)
	}

	glog.V(1).Infof("bridge %s: started (%d workers, %d aux)", name, cfg.workers, cfg.auxWorkers)
	return b
}

func (b *Bridge) worker(wg *sync.WaitGroup, q chan func(), ran *atomic.Uint64) {
	defer wg.Done()
	for job := range q {
		job()
		ran.Add(1)
	}
}

// Context returns the bridge's root context. It is cancelled when
// Close begins.
func (b *Bridge) Context() context.Context { return b.ctx }

// Go starts a tracked background task. The task receives the bridge
// context and must return promptly once it is cancelled; Close waits
// for every task to finish.
func (b *Bridge) Go(name string, fn func(ctx context.Context)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.bgWG.Add(1)
	b.mu.Unlock()

	b.bgStarted.Add(1)
	go func() {
		defer b.bgWG.Done()
		glog.V(2).Infof("bridge %s: task %s started", b.name, name)
		fn(b.ctx)
		glog.V(2).Infof("bridge %s: task %s finished", b.name, name)
	}()
	return nil
}

// dispatch hands job to q, running it caller-side when every worker is
// busy. It returns ErrClosed without running the job once Close has
// begun.
func (b *Bridge) dispatch(q chan<- func(), inline *atomic.Uint64, job func()) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.inflight.Add(1)
	b.mu.Unlock()
	defer b.inflight.Done()

	select {
	case q <- job:
		return nil
	case <-b.done:
		return ErrClosed
	default:
	}

	// Pool saturated: lend the caller's goroutine.
	inline.Add(1)
	job()
	return nil
}

// Close tears the bridge down: background tasks are cancelled and
// awaited, then both pools drain and stop. Close is idempotent;
// submissions after it begins fail with ErrClosed.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.cancel()
		close(b.done)

		b.bgWG.Wait()
		b.inflight.Wait()

		close(b.tasks)
		b.workerWG.Wait()
		close(b.aux)
		b.auxWG.Wait()

		glog.V(1).Infof("bridge %s: closed (tasks=%d aux=%d inline=%d bg=%d)",
			b.name, b.ranTasks.Load(), b.ranAux.Load(), b.ranInline.Load(), b.bgStarted.Load())
	})
}

// Counters reports how much work the bridge has run, for stats
// surfaces.
func (b *Bridge) Counters() map[string]uint64 {
	return map[string]uint64{
		"bridge_tasks_run":  b.ranTasks.Load(),
		"bridge_aux_run":    b.ranAux.Load(),
		"bridge_inline_run": b.ranInline.Load(),
		"bridge_bg_started": b.bgStarted.Load(),
	}
}
