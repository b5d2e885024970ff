package pcsc

import (
	"testing"
	"time"

	"github.com/ebfe/scard"
)

// countingContext is a minimal ScardContext fake local to this file (an
// internal test, so it cannot import pcsctest without creating an import
// cycle). It exists solely to count Connect attempts and their requested
// protocol, mirroring the teacher's MockManager call-counting style.
type countingContext struct {
	connectCalls []scard.Protocol
}

func (c *countingContext) ListReaders() ([]string, error) { return []string{"ACR"}, nil }

func (c *countingContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return nil
}

func (c *countingContext) Cancel() error { return nil }

func (c *countingContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (ScardCard, error) {
	c.connectCalls = append(c.connectCalls, proto)
	if proto == ProtocolT0|ProtocolT1 {
		return nil, &PCSCError{Code: ErrCodeUnresponsive, Op: "Connect"}
	}
	return &stubCard{}, nil
}

func (c *countingContext) Release() error { return nil }

type stubCard struct{}

func (s *stubCard) Status() (*scard.CardStatus, error) {
	return &scard.CardStatus{ActiveProtocol: ProtocolT0}, nil
}
func (s *stubCard) Transmit(cmd []byte) ([]byte, error) { return []byte{0x90, 0x00}, nil }
func (s *stubCard) Control(ioctl uint32, in []byte) ([]byte, error) { return nil, nil }
func (s *stubCard) Reconnect(mode scard.ShareMode, proto scard.Protocol, disposition scard.Disposition) error {
	return nil
}
func (s *stubCard) Disconnect(disposition scard.Disposition) error { return nil }
func (s *stubCard) ActiveProtocol() scard.Protocol                 { return ProtocolT0 }

// TestDevicesHandleInsertUnresponsiveFallback checks that a first connect
// attempt with the preferred protocol set failing Unresponsive triggers a
// retry with T0 alone, and that exactly one card-inserted event reaches
// the facade's public stream.
func TestDevicesHandleInsertUnresponsiveFallback(t *testing.T) {
	cctx := &countingContext{}
	ctx := newContext(cctx, newDispatcher(1, nil))
	monitorCtx := newContext(&countingContext{}, newDispatcher(1, nil))
	d := NewDevices(monitorCtx, ctx)

	d.handleInsert(Event{Kind: EventCardInserted, Reader: "ACR", Atr: []byte{0x3b}})

	if len(cctx.connectCalls) != 2 {
		t.Fatalf("expected exactly 2 connect attempts, got %d", len(cctx.connectCalls))
	}
	if cctx.connectCalls[0] != ProtocolT0|ProtocolT1 {
		t.Fatalf("first attempt should request T0|T1, got %v", cctx.connectCalls[0])
	}
	if cctx.connectCalls[1] != ProtocolT0 {
		t.Fatalf("second attempt should request T0 only, got %v", cctx.connectCalls[1])
	}

	select {
	case ev := <-d.Events():
		if ev.Kind != EventCardInserted || ev.Card == nil {
			t.Fatalf("expected a single card-inserted event with a connected card, got %+v", ev)
		}
	default:
		t.Fatalf("expected an event to have been emitted")
	}

	if _, ok := d.GetCard("ACR"); !ok {
		t.Fatalf("expected ACR's card to be tracked after connect")
	}
}

// TestDevicesHandleRemoveDisconnectsTrackedCard checks that a card-removed
// event disconnects and untracks the stored card.
func TestDevicesHandleRemoveDisconnectsTrackedCard(t *testing.T) {
	cctx := &countingContext{}
	ctx := newContext(cctx, newDispatcher(1, nil))
	monitorCtx := newContext(&countingContext{}, newDispatcher(1, nil))
	d := NewDevices(monitorCtx, ctx)

	d.handleInsert(Event{Kind: EventCardInserted, Reader: "ACR"})
	<-d.Events()

	d.handleRemove(Event{Kind: EventCardRemoved, Reader: "ACR"})

	if _, ok := d.GetCard("ACR"); ok {
		t.Fatalf("expected ACR to no longer be tracked after removal")
	}

	select {
	case ev := <-d.Events():
		if ev.Kind != EventCardRemoved || ev.Card == nil {
			t.Fatalf("expected card-removed carrying the disconnected card, got %+v", ev)
		}
	default:
		t.Fatalf("expected a card-removed event")
	}
}
