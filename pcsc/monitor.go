package pcsc

import (
	"bytes"
	"time"

	"github.com/ebfe/scard"
)

// monitorEventBuffer sizes the internal event channel so a burst of
// attach/insert events during startup does not stall the loop waiting for
// a slow consumer.
const monitorEventBuffer = 32

// readerEntry is the monitor's per-reader baseline: the last acknowledged
// state bits handed back to GetStatusChange, whether the monitor last saw
// a card present, and the ATR from the last observed state (used by the
// ATR-differs-means-swap check below).
type readerEntry struct {
	state   scard.StateFlag
	hasCard bool
	atr     []byte
}

// Monitor is a long-running loop that watches reader attach/detach and
// per-reader card presence, emitting a typed Event stream. It owns a
// private Context used for GetStatusChange and for re-listing readers
// after a pnp change. Grounded on the
// teacher's worker-loop shape in nfc/reader.go's worker() and
// nfc/device_manager.go's reconnect/backoff state machine, generalized
// from one tracked device to an arbitrary set of readers keyed by name.
type Monitor struct {
	ctx    *Context
	cfg    config
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}

	startOnce once
	stopOnce  once

	backoffCur time.Duration
}

// NewMonitor builds a Monitor over ctx, which it owns exclusively for its
// whole lifetime (GetStatusChange and reader re-listing).
func NewMonitor(ctx *Context, opts ...Option) *Monitor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Monitor{
		ctx:    ctx,
		cfg:    cfg,
		events: make(chan Event, monitorEventBuffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Events returns the monitor's event stream. It is closed once the loop
// exits, after Stop (or a fatal error) has been handled.
func (m *Monitor) Events() <-chan Event { return m.events }

// Start launches the monitor loop in its own goroutine. Idempotent.
func (m *Monitor) Start() {
	m.startOnce.do(func() error {
		go m.loop()
		return nil
	})
}

// Stop cancels the monitor's context, which unblocks its pending
// GetStatusChange with Cancelled, and waits for the loop to exit.
// Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.do(func() error {
		close(m.stopCh)
		_ = m.ctx.Cancel()
		<-m.doneCh
		return nil
	})
}

func (m *Monitor) emit(e Event) {
	select {
	case m.events <- e:
	case <-m.stopCh:
	}
}

func (m *Monitor) loop() {
	defer close(m.doneCh)
	defer close(m.events)

	baseline := map[string]*readerEntry{pnpNotification: {}}

	for {
		snapshot := make([]ReaderState, 0, len(baseline))
		for name, e := range baseline {
			snapshot = append(snapshot, ReaderState{Reader: name, State: e.state})
		}

		updated, err := m.ctx.WaitForChange(snapshot, -1)
		if err != nil {
			if CodeOf(err) == ErrCodeCancelled {
				return
			}
			m.cfg.logger.Printf("WaitForChange failed: %v", err)
			m.emit(Event{Kind: EventError, Err: err})
			if isFatalMonitorError(CodeOf(err)) {
				m.cfg.logger.Printf("fatal error, stopping monitor loop")
				return
			}
			if !m.sleepBackoff() {
				return
			}
			continue
		}

		m.backoffCur = 0
		m.applyChanges(updated, baseline)
	}
}

func isFatalMonitorError(code ErrorCode) bool {
	switch code {
	case ErrCodeServiceNotRunning, ErrCodeInvalidHandle:
		return true
	default:
		return false
	}
}

func (m *Monitor) sleepBackoff() bool {
	d := m.backoffCur
	if d <= 0 {
		d = m.cfg.backoffInitial
	}
	m.cfg.logger.Printf("backing off %s before retrying", d)
	timer := m.cfg.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		next := d * 2
		if next > m.cfg.backoffMax {
			next = m.cfg.backoffMax
		}
		m.backoffCur = next
		return true
	case <-m.stopCh:
		return false
	}
}

func (m *Monitor) applyChanges(updated []ReaderState, baseline map[string]*readerEntry) {
	for _, u := range updated {
		if u.Reader == pnpNotification {
			baseline[pnpNotification].state = u.Acked().State
			if u.Changed {
				m.reconcileReaders(baseline)
			}
			continue
		}

		entry, ok := baseline[u.Reader]
		if !ok || !u.Changed {
			continue
		}
		m.applyReaderChange(u, entry)
	}
}

// reconcileReaders re-lists readers after the pnp pseudo-entry reports a
// change, emitting reader-attached/reader-detached and, for a reader
// that attaches already holding a card, the card-inserted that must
// follow it — and updates baseline in place.
func (m *Monitor) reconcileReaders(baseline map[string]*readerEntry) {
	names, err := m.ctx.ListReaders()
	if err != nil {
		m.emit(Event{Kind: EventError, Err: err})
		return
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		if _, ok := baseline[name]; ok {
			continue
		}

		entry := &readerEntry{}
		baseline[name] = entry
		m.cfg.logger.Printf("reader attached: %s", name)
		m.emit(Event{Kind: EventReaderAttached, Reader: name})

		state, err := m.queryInitialState(name)
		if err != nil {
			m.emit(Event{Kind: EventError, Reader: name, Err: err})
			continue
		}
		entry.state = state.Acked().State
		entry.atr = state.Atr
		if state.HasCard() {
			entry.hasCard = true
			m.emit(Event{Kind: EventCardInserted, Reader: name, Atr: state.Atr})
		}
	}

	for name, entry := range baseline {
		if name == pnpNotification || seen[name] {
			continue
		}
		if entry.hasCard {
			m.emit(Event{Kind: EventCardRemoved, Reader: name})
		}
		m.cfg.logger.Printf("reader detached: %s", name)
		m.emit(Event{Kind: EventReaderDetached, Reader: name})
		delete(baseline, name)
	}
}

// queryInitialState reads a just-discovered reader's current state
// without waiting for a future transition, via a zero-timeout
// WaitForChange, which returns immediately with whatever state the
// reader is already in.
func (m *Monitor) queryInitialState(name string) (ReaderState, error) {
	updated, err := m.ctx.WaitForChange([]ReaderState{{Reader: name}}, 0)
	if err != nil {
		return ReaderState{}, err
	}
	if len(updated) == 0 {
		return ReaderState{Reader: name}, nil
	}
	return updated[0], nil
}

// applyReaderChange diffs card presence against the baseline entry,
// including the ATR-differs-means-swap rule: a card swapped in behind the
// reader's back without an intervening empty reading emits removed then
// inserted, in order.
func (m *Monitor) applyReaderChange(u ReaderState, entry *readerEntry) {
	oldHasCard := entry.hasCard
	newHasCard := u.HasCard()
	atrSwap := oldHasCard && newHasCard && !bytes.Equal(entry.atr, u.Atr)

	if oldHasCard && (!newHasCard || atrSwap) {
		m.emit(Event{Kind: EventCardRemoved, Reader: u.Reader})
	}
	if (!oldHasCard && newHasCard) || atrSwap {
		m.emit(Event{Kind: EventCardInserted, Reader: u.Reader, Atr: u.Atr})
	}

	entry.state = u.Acked().State
	entry.hasCard = newHasCard
	entry.atr = u.Atr
}
