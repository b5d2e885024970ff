package pcsc

import "sync"

// devicesEventBuffer sizes the facade's public event channel, mirroring
// monitorEventBuffer.
const devicesEventBuffer = 32

// Devices is the high-level facade that subscribes to a Monitor, connects
// to cards on insert (with protocol fallback), tracks a map of live
// cards, and republishes a typed Event stream with connected Card handles
// attached. Grounded on the teacher's DeviceManager/NFCReader worker loop
// (nfc/device_manager.go, nfc/reader.go), generalized from tracking one
// device to one entry per reader name.
type Devices struct {
	ctx     *Context
	monitor *Monitor
	cfg     config

	mu    sync.Mutex
	cards map[string]*Card

	events chan Event
	doneCh chan struct{}

	startOnce once
	stopOnce  once
}

// NewDevices builds a Devices facade. monitorCtx is handed to an internal
// Monitor and used only by it (GetStatusChange and reader re-listing); ctx
// is the facade's own
// Context, used for listing readers and connecting to cards — kept
// separate so the facade's Connect calls never contend with the
// monitor's outstanding wait: only one WaitForChange may be outstanding
// per Context at a time.
func NewDevices(monitorCtx, ctx *Context, opts ...Option) *Devices {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Devices{
		ctx:     ctx,
		monitor: NewMonitor(monitorCtx, opts...),
		cfg:     cfg,
		cards:   make(map[string]*Card),
		events:  make(chan Event, devicesEventBuffer),
		doneCh:  make(chan struct{}),
	}
}

// Events returns the facade's public event stream.
func (d *Devices) Events() <-chan Event { return d.events }

// Start launches the monitor and the facade's single-consumer serial
// event chain. Idempotent.
func (d *Devices) Start() {
	d.startOnce.do(func() error {
		d.monitor.Start()
		go d.consume()
		return nil
	})
}

// Stop cancels the monitor, drains the serial chain, disconnects every
// tracked card best-effort, and clears state. Idempotent.
func (d *Devices) Stop() {
	d.stopOnce.do(func() error {
		d.monitor.Stop()
		<-d.doneCh

		d.mu.Lock()
		for name, card := range d.cards {
			_ = card.Disconnect(LeaveCard)
			delete(d.cards, name)
		}
		d.mu.Unlock()
		return nil
	})
}

// ListReaders returns the current reader listing via the facade's own
// Context.
func (d *Devices) ListReaders() ([]string, error) {
	return d.ctx.ListReaders()
}

// GetCard returns the live card for reader, if one is tracked.
func (d *Devices) GetCard(reader string) (*Card, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cards[reader]
	return c, ok
}

// GetCards returns a snapshot of every currently tracked card, keyed by
// reader name.
func (d *Devices) GetCards() map[string]*Card {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*Card, len(d.cards))
	for k, v := range d.cards {
		out[k] = v
	}
	return out
}

// consume is the facade's single-consumer serial chain: every event the
// monitor emits is fully processed (including its blocking Connect)
// before the next is read, so the facade never processes two monitor
// events concurrently and ordering between them is preserved.
func (d *Devices) consume() {
	defer close(d.events)
	defer close(d.doneCh)

	for ev := range d.monitor.Events() {
		switch ev.Kind {
		case EventCardInserted:
			d.handleInsert(ev)
		case EventCardRemoved:
			d.handleRemove(ev)
		default:
			d.emit(ev)
		}
	}
}

func (d *Devices) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.doneCh:
	}
}

// handleInsert connects to a just-inserted card: try SHARED with the
// preferred protocol set, and on Unresponsive retry once with T0 alone.
// Any other failure is surfaced as an error event without retry.
func (d *Devices) handleInsert(ev Event) {
	reader := Reader{Name: ev.Reader, ctx: d.ctx}

	card, err := reader.Connect(d.cfg.shareMode, d.cfg.preferredProtocols)
	if err != nil && CodeOf(err) == ErrCodeUnresponsive {
		d.cfg.logger.Printf("reader %s: unresponsive with preferred protocols, retrying with T0", ev.Reader)
		card, err = reader.Connect(d.cfg.shareMode, ProtocolT0)
	}
	if err != nil {
		d.cfg.logger.Printf("reader %s: connect failed: %v", ev.Reader, err)
		d.emit(Event{Kind: EventError, Reader: ev.Reader, Err: err})
		return
	}

	d.mu.Lock()
	d.cards[ev.Reader] = card
	d.mu.Unlock()

	d.cfg.logger.Printf("reader %s: card connected, protocol=%v", ev.Reader, card.Protocol())
	d.emit(Event{Kind: EventCardInserted, Reader: ev.Reader, Card: card, Atr: ev.Atr})
}

// handleRemove disconnects the stored card for a just-removed reader
// (best-effort) and emits card-removed with it, or with a nil Card if
// none was held.
func (d *Devices) handleRemove(ev Event) {
	d.mu.Lock()
	card := d.cards[ev.Reader]
	delete(d.cards, ev.Reader)
	d.mu.Unlock()

	if card != nil {
		_ = card.Disconnect(LeaveCard)
	}
	d.cfg.logger.Printf("reader %s: card removed", ev.Reader)
	d.emit(Event{Kind: EventCardRemoved, Reader: ev.Reader, Card: card})
}
