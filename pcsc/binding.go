package pcsc

import (
	"time"

	"github.com/ebfe/scard"
)

// ScardContext is the seam the raw PC/SC binding is built behind. It is
// satisfied by *scard.Context for production use and by a fake in
// pcsctest for everything above it. Narrowing the real winscard/PCSC/
// pcsclite FFI down to this interface is the same technique the
// ZaparooProject-zaparoo-core acr122pcsc reader uses to test an
// ebfe/scard-backed reader without a physical card present.
type ScardContext interface {
	ListReaders() ([]string, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Cancel() error
	Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (ScardCard, error)
	Release() error
}

// ScardCard is the seam for an individual card connection.
type ScardCard interface {
	Status() (*scard.CardStatus, error)
	Transmit(cmd []byte) ([]byte, error)
	Control(ioctl uint32, in []byte) ([]byte, error)
	Reconnect(mode scard.ShareMode, proto scard.Protocol, disposition scard.Disposition) error
	Disconnect(disposition scard.Disposition) error
	ActiveProtocol() scard.Protocol
}

// establishContext opens a live PC/SC resource-manager session.
func establishContext() (ScardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, mapScardErr("EstablishContext", err)
	}
	return &liveContext{ctx: ctx}, nil
}

// liveContext adapts *scard.Context to ScardContext.
type liveContext struct {
	ctx *scard.Context
}

func (c *liveContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

// maxScardTimeout stands in for "block forever": PC/SC's own INFINITE
// sentinel is a 32-bit millisecond count, and ebfe/scard takes a
// time.Duration, so the closest faithful "forever" is the largest
// duration that survives the ms conversion without wrapping.
const maxScardTimeout = time.Duration(1<<31-1) * time.Millisecond

// scardTimeout converts this package's waitForChange convention (0 =
// return immediately, negative = block indefinitely, positive = that
// many milliseconds) into the time.Duration ebfe/scard expects.
func scardTimeout(timeout time.Duration) time.Duration {
	if timeout < 0 {
		return maxScardTimeout
	}
	return timeout
}

func (c *liveContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	return c.ctx.GetStatusChange(states, scardTimeout(timeout))
}

func (c *liveContext) Cancel() error {
	return c.ctx.Cancel()
}

func (c *liveContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (ScardCard, error) {
	card, err := c.ctx.Connect(reader, mode, proto)
	if err != nil {
		return nil, err
	}
	return &liveCard{card: card}, nil
}

func (c *liveContext) Release() error {
	return c.ctx.Release()
}

// liveCard adapts *scard.Card to ScardCard.
type liveCard struct {
	card *scard.Card
}

func (c *liveCard) Status() (*scard.CardStatus, error) { return c.card.Status() }
func (c *liveCard) Transmit(cmd []byte) ([]byte, error) { return c.card.Transmit(cmd) }
func (c *liveCard) Control(ioctl uint32, in []byte) ([]byte, error) {
	return c.card.Control(ioctl, in)
}
func (c *liveCard) Reconnect(mode scard.ShareMode, proto scard.Protocol, disposition scard.Disposition) error {
	return c.card.Reconnect(mode, proto, disposition)
}
func (c *liveCard) Disconnect(disposition scard.Disposition) error {
	return c.card.Disconnect(disposition)
}
func (c *liveCard) ActiveProtocol() scard.Protocol { return c.card.ActiveProtocol() }
