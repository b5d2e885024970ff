package pcsc

import (
	"time"

	"github.com/ebfe/scard"
)

// config carries the knobs Monitor and Devices accept. Functional options
// are the idiomatic Go replacement for this library's missing config
// file/env surface: the teacher's NewNFCReader takes a handful of
// positional args because its surface is small, but this facade has
// enough knobs (backoff, logger, connect defaults) to warrant the same
// small-explicit-constructor idiom generalized to options.
type config struct {
	logger             Logger
	clock              Clock
	backoffInitial     time.Duration
	backoffMax         time.Duration
	shareMode          scard.ShareMode
	preferredProtocols scard.Protocol
	dispatcherWorkers  int
}

func defaultConfig() config {
	return config{
		logger:             defaultLogger(),
		clock:              NewRealClock(),
		backoffInitial:     250 * time.Millisecond,
		backoffMax:         5 * time.Second,
		shareMode:          ShareShared,
		preferredProtocols: ProtocolT0 | ProtocolT1,
	}
}

// Option configures a Monitor or Devices facade.
type Option func(*config)

// WithLogger overrides the default stderr logger.
func WithLogger(l Logger) Option { return func(c *config) { c.logger = l } }

// WithClock overrides the default real-time Clock, e.g. with a FakeClock
// in tests.
func WithClock(clk Clock) Option { return func(c *config) { c.clock = clk } }

// WithBackoff overrides the initial and maximum delay the monitor waits
// before resuming after a recoverable error.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *config) { c.backoffInitial, c.backoffMax = initial, max }
}

// WithShareMode overrides the share mode Devices uses on connect-on-insert.
func WithShareMode(mode scard.ShareMode) Option { return func(c *config) { c.shareMode = mode } }

// WithPreferredProtocols overrides the protocol set Devices first attempts
// on connect-on-insert before falling back to T0 alone.
func WithPreferredProtocols(p scard.Protocol) Option {
	return func(c *config) { c.preferredProtocols = p }
}

// WithDispatcherWorkers overrides the async dispatcher's worker count for
// a Context opened via OpenContext.
func WithDispatcherWorkers(n int) Option { return func(c *config) { c.dispatcherWorkers = n } }
