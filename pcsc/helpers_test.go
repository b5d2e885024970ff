package pcsc

import (
	"testing"

	"github.com/ebfe/scard"
)

// TestDecodeFeatureTLV decodes a two-record CCID feature response into
// its tag -> control-code map.
func TestDecodeFeatureTLV(t *testing.T) {
	data := []byte{0x06, 0x04, 0x00, 0x31, 0x20, 0x30, 0x07, 0x04, 0x00, 0x31, 0x20, 0x34}

	got, err := DecodeFeatureTLV(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[byte]uint32{0x06: 0x00312030, 0x07: 0x00312034}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for tag, v := range want {
		if got[tag] != v {
			t.Errorf("tag %#x: got %#x, want %#x", tag, got[tag], v)
		}
	}
}

// TestDecodeFeatureTLVTruncated checks that a missing length byte or a
// declared length running past the end of data both fail with
// InvalidResponse rather than panicking or silently truncating.
func TestDecodeFeatureTLVTruncated(t *testing.T) {
	cases := [][]byte{
		{0x06},                   // missing length byte
		{0x06, 0x04, 0x00, 0x31}, // declared length runs past end
	}
	for _, data := range cases {
		_, err := DecodeFeatureTLV(data)
		if CodeOf(err) != ErrCodeInvalidResponse {
			t.Errorf("DecodeFeatureTLV(%x): got code %v, want InvalidResponse", data, CodeOf(err))
		}
	}
}

// TestAutoGetResponse checks that a SELECT answered with 61 1C is
// followed by exactly one GET RESPONSE, and that the combined result is
// the 28 data bytes plus the terminal 90 00.
func TestAutoGetResponse(t *testing.T) {
	selectAID := []byte{0x00, 0xa4, 0x04, 0x00, 0x07}
	data28 := make([]byte, 28)
	for i := range data28 {
		data28[i] = byte(i)
	}

	var calls [][]byte
	binding := &autoGetResponseStub{
		transmit: func(cmd []byte) ([]byte, error) {
			calls = append(calls, cmd)
			switch len(calls) {
			case 1:
				return []byte{0x61, 0x1c}, nil
			case 2:
				want := []byte{0x00, 0xc0, 0x00, 0x00, 0x1c}
				if !bytesEqual(cmd, want) {
					t.Fatalf("GET RESPONSE command = % x, want % x", cmd, want)
				}
				return append(append([]byte{}, data28...), 0x90, 0x00), nil
			default:
				t.Fatalf("unexpected extra Transmit call: % x", cmd)
				return nil, nil
			}
		},
	}

	resp, err := autoGetResponse(binding, selectAID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("issued %d commands, want exactly 2", len(calls))
	}
	want := append(append([]byte{}, data28...), 0x90, 0x00)
	if !bytesEqual(resp, want) {
		t.Fatalf("got % x, want % x", resp, want)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// autoGetResponseStub implements ScardCard, exercising only Transmit —
// the only method autoGetResponse calls.
type autoGetResponseStub struct {
	transmit func(cmd []byte) ([]byte, error)
}

func (s *autoGetResponseStub) Status() (*scard.CardStatus, error) { return &scard.CardStatus{}, nil }
func (s *autoGetResponseStub) Transmit(cmd []byte) ([]byte, error) { return s.transmit(cmd) }
func (s *autoGetResponseStub) Control(ioctl uint32, in []byte) ([]byte, error) { return nil, nil }
func (s *autoGetResponseStub) Reconnect(mode scard.ShareMode, proto scard.Protocol, disposition scard.Disposition) error {
	return nil
}
func (s *autoGetResponseStub) Disconnect(disposition scard.Disposition) error { return nil }
func (s *autoGetResponseStub) ActiveProtocol() scard.Protocol                 { return scard.ProtocolT0 }
