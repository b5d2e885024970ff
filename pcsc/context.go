package pcsc

import (
	"errors"
	"sync"
	"time"

	"github.com/ebfe/scard"
)

// ReaderState is a reader snapshot passed into WaitForChange and handed
// back out of it. On the way in, State is the last-known baseline
// (CurrentState in PC/SC terms); on the way out, State is the reader's
// new EventState, Atr is populated if a card is present, and Changed
// reports whether this entry differs from the baseline the caller sent.
type ReaderState struct {
	Reader  string
	State   scard.StateFlag
	Atr     []byte
	Changed bool
}

// HasCard reports whether the StatePresent bit is set.
func (s ReaderState) HasCard() bool { return s.State&StatePresent != 0 }

// Acked returns a copy of s with StateChanged cleared, suitable as the
// next call's baseline — PC/SC otherwise reports the same change forever.
func (s ReaderState) Acked() ReaderState {
	s.State &^= StateChanged
	return s
}

func toScardStates(in []ReaderState) []scard.ReaderState {
	out := make([]scard.ReaderState, len(in))
	for i, r := range in {
		out[i] = scard.ReaderState{Reader: r.Reader, CurrentState: r.State}
	}
	return out
}

func fromScardStates(in []scard.ReaderState) []ReaderState {
	out := make([]ReaderState, len(in))
	for i, r := range in {
		out[i] = ReaderState{
			Reader:  r.Reader,
			State:   r.EventState,
			Atr:     r.Atr,
			Changed: r.EventState&StateChanged != 0,
		}
	}
	return out
}

// Context is a handle to a PC/SC resource-manager session. It exclusively
// owns the native handle obtained from the binding; once closed, every
// Reader or Card obtained from it fails subsequent operations with
// ErrCodeInvalidHandle/ErrCodeNotConnected.
type Context struct {
	binding    ScardContext
	dispatcher *dispatcher

	mu        sync.Mutex
	closed    bool
	waiting   bool
	closeOnce once
}

// OpenContext establishes a new PC/SC resource-manager session against the
// live platform service.
func OpenContext(opts ...Option) (*Context, error) {
	binding, err := establishContext()
	if err != nil {
		return nil, err
	}
	return NewContext(binding, opts...), nil
}

// NewContext wraps an already-established ScardContext binding into a
// Context. This is the seam pcsctest uses to hand a fake binding to
// everything above the raw PC/SC binding, so the rest of the package can
// be exercised without a physical reader.
func NewContext(binding ScardContext, opts ...Option) *Context {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newContext(binding, newDispatcher(cfg.dispatcherWorkers, cfg.logger))
}

func newContext(binding ScardContext, d *dispatcher) *Context {
	return &Context{binding: binding, dispatcher: d}
}

// IsValid reports whether the context has not been closed.
func (c *Context) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close releases the native handle. It is idempotent: calling Close twice
// is a no-op the second time. Close is equivalent to Cancel-then-release
// if a WaitForChange is pending.
func (c *Context) Close() error {
	return c.closeOnce.do(func() error {
		_ = c.binding.Cancel()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if err := c.binding.Release(); err != nil {
			return mapScardErr("Close", err)
		}
		return nil
	})
}

// Cancel interrupts any GetStatusChange currently pending on this context
// from any thread. It is safe to call repeatedly and from a goroutine
// other than the one blocked in WaitForChange.
func (c *Context) Cancel() error {
	if err := c.binding.Cancel(); err != nil {
		return mapScardErr("Cancel", err)
	}
	return nil
}

func (c *Context) checkOpen(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return newErr(ErrCodeInvalidHandle, op, ErrClosed)
	}
	return nil
}

// ListReaders returns the names of every reader currently visible to this
// context.
func (c *Context) ListReaders() ([]string, error) {
	fut, err := c.ListReadersAsync()
	if err != nil {
		return nil, err
	}
	val, err := fut.Wait()
	if err != nil {
		return nil, err
	}
	return val.([]string), nil
}

// ListReadersAsync runs ListReaders on a dispatcher worker.
func (c *Context) ListReadersAsync() (*Future, error) {
	if err := c.checkOpen("ListReaders"); err != nil {
		return nil, err
	}
	binding := c.binding
	return c.dispatcher.submit(func() (any, error) {
		names, err := binding.ListReaders()
		if err != nil {
			return nil, mapScardErr("ListReaders", err)
		}
		return names, nil
	}), nil
}

// WaitForChange blocks until one of readers' states changes, timeout
// elapses, or Cancel is called, whichever comes first.
//
// timeout == 0 returns immediately with the current state of every
// reader. timeout < 0 blocks indefinitely. timeout > 0 blocks for at most
// that long. A timeout expiry is reported as a result where every entry
// has Changed == false, distinct from cancellation, which is reported as
// an ErrCodeCancelled error.
func (c *Context) WaitForChange(readers []ReaderState, timeout time.Duration) ([]ReaderState, error) {
	fut, err := c.WaitForChangeAsync(readers, timeout)
	if err != nil {
		return nil, err
	}
	val, err := fut.Wait()
	if err != nil {
		return nil, err
	}
	return val.([]ReaderState), nil
}

// WaitForChangeAsync runs WaitForChange on a dispatcher worker. Only one
// such call may be outstanding per Context; a second call while one is
// pending fails immediately with ErrCodeBusy.
func (c *Context) WaitForChangeAsync(readers []ReaderState, timeout time.Duration) (*Future, error) {
	if err := c.checkOpen("WaitForChange"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.waiting {
		c.mu.Unlock()
		return nil, newErr(ErrCodeBusy, "WaitForChange", ErrBusy)
	}
	c.waiting = true
	c.mu.Unlock()

	binding := c.binding
	states := toScardStates(readers)

	return c.dispatcher.submit(func() (any, error) {
		err := binding.GetStatusChange(states, timeout)
		c.mu.Lock()
		c.waiting = false
		c.mu.Unlock()
		if errors.Is(err, scard.ErrTimeout) {
			out := make([]ReaderState, len(states))
			for i, s := range states {
				out[i] = ReaderState{Reader: s.Reader, State: s.CurrentState}
			}
			return out, nil
		}
		if err != nil {
			return nil, mapScardErr("WaitForChange", err)
		}
		return fromScardStates(states), nil
	}), nil
}

// ListDevices lists readers and wraps the Reader value type around each
// name, ready for Connect.
func (c *Context) ListDevices() ([]Reader, error) {
	names, err := c.ListReaders()
	if err != nil {
		return nil, err
	}
	readers := make([]Reader, len(names))
	for i, n := range names {
		readers[i] = Reader{Name: n, ctx: c}
	}
	return readers, nil
}
