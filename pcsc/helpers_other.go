//go:build !windows

package pcsc

// controlCode mirrors pcsclite's SCARD_CTL_CODE on Linux/macOS, which tags
// every ioctl with the 0x42000000 base rather than Windows' device/method
// encoding.
func controlCode(code uint32) uint32 {
	return 0x42000000 | code
}
