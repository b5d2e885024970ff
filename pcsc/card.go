package pcsc

import (
	"sync"

	"github.com/ebfe/scard"
)

// TransmitOptions configures Card.Transmit.
type TransmitOptions struct {
	// MaxRecvLength is accepted but not applied: the ScardCard binding's
	// Transmit sizes its own receive buffer, so a response is returned
	// whole whatever this value is.
	MaxRecvLength int
	// AutoGetResponse enables the T=0 GET RESPONSE / re-issue-with-Le
	// convenience.
	AutoGetResponse bool
}

const defaultMaxRecvLength = 258

// Card is a connected session to whatever is currently in a reader. It
// exclusively owns its native card handle; once Disconnected, every
// further operation fails with ErrCodeNotConnected.
type Card struct {
	ctx        *Context
	readerName string
	binding    ScardCard

	mu       sync.Mutex
	protocol scard.Protocol
	atr      []byte

	disconnectOnce once
}

func newCard(ctx *Context, readerName string, binding ScardCard, status *scard.CardStatus) *Card {
	return &Card{
		ctx:        ctx,
		readerName: readerName,
		binding:    binding,
		protocol:   status.ActiveProtocol,
		atr:        status.Atr,
	}
}

func (c *Card) checkConnected(op string) error {
	if c.disconnectOnce.isDone() {
		return newErr(ErrCodeNotConnected, op, ErrDisconnected)
	}
	if c.ctx != nil && !c.ctx.IsValid() {
		return newErr(ErrCodeInvalidHandle, op, ErrClosed)
	}
	return nil
}

// ReaderName returns the name of the reader this card is connected through.
func (c *Card) ReaderName() string { return c.readerName }

// Protocol returns the protocol negotiated at connect (or reconnect) time.
func (c *Card) Protocol() scard.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

// Atr returns the ATR captured at connect (or reconnect) time.
func (c *Card) Atr() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.atr...)
}

// Transmit sends command to the card and returns its response. On
// success the response is never shorter than two bytes; the last two
// bytes are always the status word — this holds even when
// opts.AutoGetResponse is set, since the auto-GET-RESPONSE loop always
// terminates on a non-0x61/0x6C status word.
func (c *Card) Transmit(command []byte, opts TransmitOptions) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkConnected("Transmit"); err != nil {
		return nil, err
	}
	if len(command) == 0 {
		return nil, newErrf(ErrCodeInvalidParameter, "Transmit", "empty command")
	}

	if opts.AutoGetResponse {
		return autoGetResponse(c.binding, command)
	}
	resp, err := c.binding.Transmit(command)
	if err != nil {
		return nil, mapScardErr("Transmit", err)
	}
	if len(resp) < 2 {
		return nil, newErrf(ErrCodeInvalidResponse, "Transmit", "response shorter than 2 bytes (%d)", len(resp))
	}
	return resp, nil
}

// Control issues an IOCTL to the reader (not the card) and returns the
// raw response bytes.
func (c *Card) Control(code uint32, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkConnected("Control"); err != nil {
		return nil, err
	}
	resp, err := c.binding.Control(code, data)
	if err != nil {
		return nil, mapScardErr("Control", err)
	}
	return resp, nil
}

// CardStatus is the result of Card.GetStatus.
type CardStatus struct {
	State    scard.State
	Protocol scard.Protocol
	Atr      []byte
}

// GetStatus reads the card's current state, protocol, and ATR. It is
// synchronous: it does not block on the bus beyond PC/SC's own
// bookkeeping.
func (c *Card) GetStatus() (CardStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkConnected("GetStatus"); err != nil {
		return CardStatus{}, err
	}
	status, err := c.binding.Status()
	if err != nil {
		return CardStatus{}, mapScardErr("GetStatus", err)
	}
	c.protocol = status.ActiveProtocol
	c.atr = status.Atr
	return CardStatus{State: status.State, Protocol: status.ActiveProtocol, Atr: status.Atr}, nil
}

// Reconnect re-negotiates the session without dropping the Card handle.
// initialization must be one of LeaveCard, ResetCard (warm) or
// UnpowerCard (cold) — EjectCard is not a valid Reconnect initialization.
func (c *Card) Reconnect(shareMode scard.ShareMode, preferredProtocols scard.Protocol, initialization scard.Disposition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkConnected("Reconnect"); err != nil {
		return err
	}
	if initialization == EjectCard {
		return newErrf(ErrCodeInvalidParameter, "Reconnect", "eject is not a valid reconnect initialization")
	}
	if shareMode == 0 {
		shareMode = ShareShared
	}
	if preferredProtocols == 0 {
		preferredProtocols = ProtocolAny
	}

	if err := c.binding.Reconnect(shareMode, preferredProtocols, initialization); err != nil {
		return mapScardErr("Reconnect", err)
	}
	c.protocol = c.binding.ActiveProtocol()
	if status, err := c.binding.Status(); err == nil {
		c.atr = status.Atr
	}
	return nil
}

// Disconnect ends the card session with the given disposition. It is
// idempotent; subsequent operations fail with ErrCodeNotConnected.
func (c *Card) Disconnect(disposition scard.Disposition) error {
	return c.disconnectOnce.do(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.binding.Disconnect(disposition); err != nil {
			return mapScardErr("Disconnect", err)
		}
		return nil
	})
}
