// Package pcsctest provides in-memory fakes for pcsc.ScardContext and
// pcsc.ScardCard so the monitor, facade, and helper logic can be tested
// without a physical reader or CGO. Modeled on the teacher's
// MockManager/MockDevice pair (nfc/manager_mock.go, nfc/device_mock.go)
// and on the mockScardContext/mockScardCard fakes in
// ZaparooProject-zaparoo-core's pkg/readers/acr122pcsc integration tests,
// which fake the same github.com/ebfe/scard surface this package fakes.
package pcsctest

import (
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/dotside-studios/go-pcsc/pcsc"
)

// MockContext is a pcsc.ScardContext fake. Every method call is recorded
// in CallLog; behavior is supplied per-test by setting the *Func fields,
// mirroring MockManager's configurable-error-field style.
type MockContext struct {
	mu      sync.Mutex
	CallLog []string

	ListReadersFunc     func() ([]string, error)
	GetStatusChangeFunc func(states []scard.ReaderState, timeout time.Duration) error
	CancelFunc          func() error
	ConnectFunc         func(reader string, mode scard.ShareMode, proto scard.Protocol) (pcsc.ScardCard, error)
	ReleaseFunc         func() error
}

func (m *MockContext) log(call string) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, call)
	m.mu.Unlock()
}

// GetCallLog returns a copy of the calls made so far.
func (m *MockContext) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.CallLog))
	copy(out, m.CallLog)
	return out
}

// ClearCallLog resets the recorded call log.
func (m *MockContext) ClearCallLog() {
	m.mu.Lock()
	m.CallLog = nil
	m.mu.Unlock()
}

func (m *MockContext) ListReaders() ([]string, error) {
	m.log("ListReaders")
	if m.ListReadersFunc != nil {
		return m.ListReadersFunc()
	}
	return nil, nil
}

func (m *MockContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	m.log("GetStatusChange")
	if m.GetStatusChangeFunc != nil {
		return m.GetStatusChangeFunc(states, timeout)
	}
	return nil
}

func (m *MockContext) Cancel() error {
	m.log("Cancel")
	if m.CancelFunc != nil {
		return m.CancelFunc()
	}
	return nil
}

func (m *MockContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (pcsc.ScardCard, error) {
	m.log("Connect")
	if m.ConnectFunc != nil {
		return m.ConnectFunc(reader, mode, proto)
	}
	return NewMockCard(nil, proto), nil
}

func (m *MockContext) Release() error {
	m.log("Release")
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc()
	}
	return nil
}

// MockCard is a pcsc.ScardCard fake.
type MockCard struct {
	mu      sync.Mutex
	CallLog []string

	atr      []byte
	protocol scard.Protocol

	StatusFunc     func() (*scard.CardStatus, error)
	TransmitFunc   func(cmd []byte) ([]byte, error)
	ControlFunc    func(ioctl uint32, in []byte) ([]byte, error)
	ReconnectFunc  func(mode scard.ShareMode, proto scard.Protocol, disposition scard.Disposition) error
	DisconnectFunc func(disposition scard.Disposition) error
}

// NewMockCard returns a MockCard reporting atr and protocol from Status
// and ActiveProtocol until overridden via *Func fields.
func NewMockCard(atr []byte, protocol scard.Protocol) *MockCard {
	return &MockCard{atr: atr, protocol: protocol}
}

func (c *MockCard) log(call string) {
	c.mu.Lock()
	c.CallLog = append(c.CallLog, call)
	c.mu.Unlock()
}

// GetCallLog returns a copy of the calls made so far.
func (c *MockCard) GetCallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.CallLog))
	copy(out, c.CallLog)
	return out
}

func (c *MockCard) Status() (*scard.CardStatus, error) {
	c.log("Status")
	if c.StatusFunc != nil {
		return c.StatusFunc()
	}
	return &scard.CardStatus{ActiveProtocol: c.protocol, Atr: c.atr}, nil
}

func (c *MockCard) Transmit(cmd []byte) ([]byte, error) {
	c.log("Transmit")
	if c.TransmitFunc != nil {
		return c.TransmitFunc(cmd)
	}
	return []byte{0x90, 0x00}, nil
}

func (c *MockCard) Control(ioctl uint32, in []byte) ([]byte, error) {
	c.log("Control")
	if c.ControlFunc != nil {
		return c.ControlFunc(ioctl, in)
	}
	return nil, nil
}

func (c *MockCard) Reconnect(mode scard.ShareMode, proto scard.Protocol, disposition scard.Disposition) error {
	c.log("Reconnect")
	if c.ReconnectFunc != nil {
		return c.ReconnectFunc(mode, proto, disposition)
	}
	c.protocol = proto
	return nil
}

func (c *MockCard) Disconnect(disposition scard.Disposition) error {
	c.log("Disconnect")
	if c.DisconnectFunc != nil {
		return c.DisconnectFunc(disposition)
	}
	return nil
}

func (c *MockCard) ActiveProtocol() scard.Protocol { return c.protocol }

// StatusChangeStep is one scripted outcome of a GetStatusChange call.
type StatusChangeStep struct {
	// Mutate, if set, is applied to the caller's states slice in place
	// (e.g. setting EventState/Atr for a specific reader) before the call
	// returns successfully.
	Mutate func(states []scard.ReaderState)
	// Err, if set, is returned instead of applying Mutate.
	Err error
}

// ScriptedStatusChange returns a GetStatusChangeFunc that plays back steps
// in order, one per call, and becomes a no-op (returns nil, unchanged)
// once exhausted — the same call-count-based sequencing technique
// ZaparooProject-zaparoo-core's acr122pcsc integration tests use to drive
// a mock binding through a scenario.
func ScriptedStatusChange(steps []StatusChangeStep) func(states []scard.ReaderState, timeout time.Duration) error {
	var mu sync.Mutex
	i := 0
	return func(states []scard.ReaderState, timeout time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(steps) {
			return nil
		}
		step := steps[i]
		i++
		if step.Err != nil {
			return step.Err
		}
		if step.Mutate != nil {
			step.Mutate(states)
		}
		return nil
	}
}
