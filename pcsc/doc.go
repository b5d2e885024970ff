// Package pcsc is a cross-platform wrapper around the host PC/SC service
// (winscard on Windows, the PCSC framework on macOS, pcsclite on Linux).
//
// It exposes two layers. The low-level surface (Context, Reader, Card)
// mirrors PC/SC primitives one-to-one: establishing a resource-manager
// session, listing readers, waiting for status changes, connecting to a
// card, and transmitting APDUs. The high-level surface (Devices) runs a
// reader-monitor loop in the background and hands the application
// already-connected Card handles as readers and cards come and go.
//
// The blocking calls made through Context and Reader (ListReaders,
// WaitForChange, Connect) are executed on a worker goroutine; the Async
// variants on Context return a result that can be waited on with or
// without a context.Context deadline, so a host event loop need not stall
// on a GetStatusChange call. Card operations (Transmit, Control,
// GetStatus, Reconnect, Disconnect) are not dispatched: they call the
// binding on the caller's goroutine.
package pcsc
