package pcsc_test

import (
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/require"

	pcsc "github.com/dotside-studios/go-pcsc/pcsc"
	"github.com/dotside-studios/go-pcsc/pcsc/pcsctest"
)

// TestContextInvalidAfterClose checks that every reader/card obtained
// from a context becomes inert once that context is closed.
func TestContextInvalidAfterClose(t *testing.T) {
	card := pcsctest.NewMockCard([]byte{0x3b}, scard.ProtocolT0)
	mock := &pcsctest.MockContext{
		ListReadersFunc: func() ([]string, error) { return []string{"R1"}, nil },
		ConnectFunc: func(reader string, mode scard.ShareMode, proto scard.Protocol) (pcsc.ScardCard, error) {
			return card, nil
		},
	}

	ctx := pcsc.NewContext(mock)
	readers, err := ctx.ListDevices()
	require.NoError(t, err)
	require.Len(t, readers, 1)

	connected, err := readers[0].Connect(pcsc.ShareShared, pcsc.ProtocolAny)
	require.NoError(t, err)

	require.NoError(t, ctx.Close())
	require.False(t, ctx.IsValid())

	_, err = ctx.ListReaders()
	require.Equal(t, pcsc.ErrCodeInvalidHandle, pcsc.CodeOf(err))

	_, err = readers[0].Connect(pcsc.ShareShared, pcsc.ProtocolAny)
	require.Equal(t, pcsc.ErrCodeInvalidHandle, pcsc.CodeOf(err))

	_, err = connected.Transmit([]byte{0x00, 0xa4, 0x04, 0x00}, pcsc.TransmitOptions{})
	require.Equal(t, pcsc.ErrCodeInvalidHandle, pcsc.CodeOf(err))
}

// TestWaitForChangeZeroTimeoutNeverReturnsNil checks that a zero-timeout
// wait with no pending changes returns every reader with Changed ==
// false, never nil.
func TestWaitForChangeZeroTimeoutNeverReturnsNil(t *testing.T) {
	mock := &pcsctest.MockContext{
		GetStatusChangeFunc: func(states []scard.ReaderState, timeout time.Duration) error {
			return nil // no mutation: nothing changed
		},
	}
	ctx := pcsc.NewContext(mock)

	result, err := ctx.WaitForChange([]pcsc.ReaderState{{Reader: "R1"}}, 0)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result, 1)
	require.False(t, result[0].Changed)
}

// TestCancelResolvesPendingWaitExactlyOnce checks that Cancel unblocks a
// pending WaitForChange with Cancelled promptly, and that a subsequent
// zero-timeout wait behaves normally afterward.
func TestCancelResolvesPendingWaitExactlyOnce(t *testing.T) {
	release := make(chan struct{})
	mock := &pcsctest.MockContext{
		GetStatusChangeFunc: func(states []scard.ReaderState, timeout time.Duration) error {
			if timeout == 0 {
				return nil
			}
			<-release
			return scard.ErrCancelled
		},
		CancelFunc: func() error {
			close(release)
			return nil
		},
	}
	ctx := pcsc.NewContext(mock)

	fut, err := ctx.WaitForChangeAsync([]pcsc.ReaderState{{Reader: "R1"}}, -1)
	require.NoError(t, err)

	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ctx.Cancel())

	_, err = fut.Wait()
	require.Equal(t, pcsc.ErrCodeCancelled, pcsc.CodeOf(err))
	require.Less(t, time.Since(start), 200*time.Millisecond)

	result, err := ctx.WaitForChange([]pcsc.ReaderState{{Reader: "R1"}}, 0)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.False(t, result[0].Changed)
}

// TestWaitForChangeBusyOnSecondConcurrentWait checks that only one
// WaitForChange may be outstanding per Context.
func TestWaitForChangeBusyOnSecondConcurrentWait(t *testing.T) {
	block := make(chan struct{})
	mock := &pcsctest.MockContext{
		GetStatusChangeFunc: func(states []scard.ReaderState, timeout time.Duration) error {
			<-block
			return scard.ErrCancelled
		},
		CancelFunc: func() error {
			close(block)
			return nil
		},
	}
	ctx := pcsc.NewContext(mock)

	fut1, err := ctx.WaitForChangeAsync([]pcsc.ReaderState{{Reader: "R1"}}, -1)
	require.NoError(t, err)

	_, err = ctx.WaitForChangeAsync([]pcsc.ReaderState{{Reader: "R1"}}, -1)
	require.Equal(t, pcsc.ErrCodeBusy, pcsc.CodeOf(err))

	require.NoError(t, ctx.Cancel())
	_, err = fut1.Wait()
	require.Equal(t, pcsc.ErrCodeCancelled, pcsc.CodeOf(err))
}
