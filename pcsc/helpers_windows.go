//go:build windows

package pcsc

// controlCode mirrors the Windows SCARD_CTL_CODE macro: FILE_DEVICE_SMARTCARD
// (0x31) shifted into the device-type field, METHOD_BUFFERED access in the
// low bits.
func controlCode(code uint32) uint32 {
	return (0x31 << 16) | (code << 2)
}
