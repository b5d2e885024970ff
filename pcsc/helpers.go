package pcsc

// Small conveniences layered on top of Card.Transmit/Control: auto
// GET-RESPONSE, the CCID feature TLV decoder, and the control-code
// composer. Ported from the teacher's nfc/apdu.go (SW1/SW2 handling) and
// nfc/tlv.go (length-field parsing), generalized from NDEF TLV framing to
// CM_IOCTL_GET_FEATURE_REQUEST tag-length-value records.

const (
	sw1MoreData61 = 0x61
	sw1WrongLe6c  = 0x6c
)

// maxAutoGetResponseBytes caps the total accumulated response of an
// auto-GET-RESPONSE loop; a card that never terminates is an error rather
// than an unbounded allocation.
const maxAutoGetResponseBytes = 65536

// autoGetResponse drives the T=0 GET RESPONSE convenience: a 0x61 status
// asks for SW2 more bytes via GET RESPONSE, a 0x6C status asks the
// original command be reissued with Le=SW2. Every other status word is
// terminal, and the returned buffer always ends in it.
func autoGetResponse(binding ScardCard, command []byte) ([]byte, error) {
	resp, err := binding.Transmit(command)
	if err != nil {
		return nil, mapScardErr("Transmit", err)
	}

	var total []byte
	for {
		if len(resp) < 2 {
			return nil, newErrf(ErrCodeInvalidResponse, "Transmit", "response shorter than 2 bytes (%d)", len(resp))
		}
		n := len(resp)
		sw1, sw2 := resp[n-2], resp[n-1]
		body := resp[:n-2]

		if len(total)+len(body) > maxAutoGetResponseBytes {
			return nil, newErrf(ErrCodeInvalidResponse, "Transmit", "auto GET-RESPONSE exceeded %d bytes", maxAutoGetResponseBytes)
		}
		total = append(total, body...)

		switch sw1 {
		case sw1MoreData61:
			resp, err = binding.Transmit(buildGetResponse(sw2))
			if err != nil {
				return nil, mapScardErr("Transmit", err)
			}
		case sw1WrongLe6c:
			resp, err = binding.Transmit(reissueWithLe(command, sw2))
			if err != nil {
				return nil, mapScardErr("Transmit", err)
			}
		default:
			return append(total, sw1, sw2), nil
		}
	}
}

// buildGetResponse builds "00 C0 00 00 <le>"; le == 0 is interpreted by
// the card as a request for 256 bytes, per ISO 7816-4 — the byte value
// itself is unchanged, only its meaning is.
func buildGetResponse(le byte) []byte {
	return []byte{0x00, 0xc0, 0x00, 0x00, le}
}

// reissueWithLe rebuilds command with Le set to le. A 4-byte (case 2,
// no Le present) command gets Le appended; anything longer is assumed to
// already carry a trailing Le byte, which is overwritten.
func reissueWithLe(command []byte, le byte) []byte {
	if len(command) == 4 {
		out := make([]byte, 5)
		copy(out, command)
		out[4] = le
		return out
	}
	out := make([]byte, len(command))
	copy(out, command)
	out[len(out)-1] = le
	return out
}

// DecodeFeatureTLV parses the response to CM_IOCTL_GET_FEATURE_REQUEST:
// repeated tag(1)·length(1)·value(length, big-endian unsigned) records,
// producing a tag → control-code map. A truncated record or a declared
// length that runs past the end of data fails with ErrCodeInvalidResponse.
func DecodeFeatureTLV(data []byte) (map[byte]uint32, error) {
	out := make(map[byte]uint32)
	i := 0
	for i < len(data) {
		if i+2 > len(data) {
			return nil, newErrf(ErrCodeInvalidResponse, "DecodeFeatureTLV", "truncated record at offset %d", i)
		}
		tag := data[i]
		length := int(data[i+1])
		start := i + 2
		end := start + length
		if end > len(data) {
			return nil, newErrf(ErrCodeInvalidResponse, "DecodeFeatureTLV", "record at offset %d declares length %d past end of data", i, length)
		}

		var value uint32
		for _, b := range data[start:end] {
			value = value<<8 | uint32(b)
		}
		out[tag] = value
		i = end
	}
	return out, nil
}

// ControlCode composes the platform-specific IOCTL control code for a CCID
// feature code, wired through a build-tag-split implementation (see
// helpers_windows.go / helpers_other.go) since the composition formula
// differs per platform.
func ControlCode(code uint32) uint32 {
	return controlCode(code)
}
