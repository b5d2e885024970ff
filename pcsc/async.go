package pcsc

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// dispatcher runs blocking PC/SC calls on worker goroutines so the calling
// goroutine (typically the host's single event loop) never stalls inside
// a syscall: one blocking call per task, no reordering of tasks submitted
// for the same handle (callers serialize those themselves, see Card's
// mutex), and no queue cap — backpressure is the caller's responsibility.
type dispatcher struct {
	sem    chan struct{}
	logger Logger
}

// newDispatcher returns a dispatcher that runs at most workers blocking
// calls concurrently. workers <= 0 defaults to GOMAXPROCS, mirroring the
// sizing the teacher's worker-goroutine-per-device pattern implicitly
// assumed (one goroutine per physical device is normally well within a
// handful of CPUs). A nil logger disables the per-task trace log.
func newDispatcher(workers int, logger Logger) *dispatcher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &dispatcher{sem: make(chan struct{}, workers), logger: logger}
}

// result is what a Future resolves to.
type result struct {
	val any
	err error
}

// Future is a handle to a blocking call running on a dispatcher worker.
// It has no cancel method of its own: for GetStatusChange, cancellation
// goes through the owning Context's Cancel(), which unblocks the worker
// from the PC/SC side; for everything else PC/SC offers no generic
// cancel, so a Future is simply awaited or abandoned.
type Future struct {
	id   string
	done chan struct{}
	res  result
}

// Wait blocks until the call completes and returns its result.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.res.val, f.res.err
}

// WaitContext blocks until the call completes or ctx is done, whichever
// comes first. If ctx is done first, the underlying call is NOT
// interrupted (PC/SC calls other than GetStatusChange cannot be
// interrupted); the caller simply stops waiting on it.
func (f *Future) WaitContext(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.res.val, f.res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ID is a correlation id for logging, generated once per submitted task.
func (f *Future) ID() string { return f.id }

// submit runs fn on a worker goroutine, bounded by the dispatcher's
// concurrency limit, and returns a Future for its result.
func (d *dispatcher) submit(fn func() (any, error)) *Future {
	f := &Future{id: uuid.NewString(), done: make(chan struct{})}
	if d.logger != nil {
		d.logger.Printf("dispatch %s: submitted", f.id)
	}
	go func() {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		val, err := fn()
		f.res = result{val: val, err: err}
		close(f.done)
		if d.logger != nil {
			d.logger.Printf("dispatch %s: done err=%v", f.id, err)
		}
	}()
	return f
}

// once is a small helper Context/Card use to make Close/Disconnect
// idempotent without a separate bool-plus-mutex pattern repeated at every
// call site.
type once struct {
	mu   sync.Mutex
	done bool
}

func (o *once) do(fn func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return nil
	}
	o.done = true
	return fn()
}

func (o *once) isDone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
