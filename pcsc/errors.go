package pcsc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ebfe/scard"
)

// ErrorCode identifies one member of the closed error taxonomy a PC/SC
// operation can fail with.
type ErrorCode int

const (
	ErrCodeServiceNotRunning ErrorCode = iota + 1
	ErrCodeNoReaders
	ErrCodeReaderUnavailable
	ErrCodeCardRemoved
	ErrCodeUnresponsive
	ErrCodeSharingViolation
	ErrCodeProtocolMismatch
	ErrCodeTimeout
	ErrCodeCancelled
	ErrCodeInvalidHandle
	ErrCodeInvalidParameter
	ErrCodeInvalidResponse
	ErrCodeNotConnected
	ErrCodeBusy
	ErrCodeOther
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeServiceNotRunning:
		return "ServiceNotRunning"
	case ErrCodeNoReaders:
		return "NoReaders"
	case ErrCodeReaderUnavailable:
		return "ReaderUnavailable"
	case ErrCodeCardRemoved:
		return "CardRemoved"
	case ErrCodeUnresponsive:
		return "Unresponsive"
	case ErrCodeSharingViolation:
		return "SharingViolation"
	case ErrCodeProtocolMismatch:
		return "ProtocolMismatch"
	case ErrCodeTimeout:
		return "Timeout"
	case ErrCodeCancelled:
		return "Cancelled"
	case ErrCodeInvalidHandle:
		return "InvalidHandle"
	case ErrCodeInvalidParameter:
		return "InvalidParameter"
	case ErrCodeInvalidResponse:
		return "InvalidResponse"
	case ErrCodeNotConnected:
		return "NotConnected"
	case ErrCodeBusy:
		return "Busy"
	default:
		return "Other"
	}
}

// PCSCError is the single error type every exported operation in this
// package returns. It carries the closed-taxonomy Code, the operation
// that failed, the raw platform code when one was available, and the
// underlying cause.
type PCSCError struct {
	Code    ErrorCode
	Op      string
	Raw     int64 // raw platform return code, 0 if not applicable
	Message string
	Cause   error
}

func (e *PCSCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Code.String())
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *PCSCError) Unwrap() error { return e.Cause }

func (e *PCSCError) Is(target error) bool {
	t, ok := target.(*PCSCError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newErr(code ErrorCode, op string, cause error) *PCSCError {
	return &PCSCError{Code: code, Op: op, Cause: cause}
}

func newErrf(code ErrorCode, op, format string, args ...any) *PCSCError {
	return &PCSCError{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a *PCSCError,
// and ErrCodeOther otherwise.
func CodeOf(err error) ErrorCode {
	var pe *PCSCError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeOther
}

// mapScardErr translates a github.com/ebfe/scard error (or any error that
// has bubbled up through this package) into a *PCSCError. Typed scard
// sentinel errors are checked first; a substring match on the message is
// kept only as a last resort for platform codes scard itself does not
// type, mirroring the fallback the teacher's isCardRemovedPCSCError used
// for the same reason (nfc/device_pcsc.go).
func mapScardErr(op string, err error) (mapped *PCSCError) {
	if err == nil {
		return nil
	}
	defer func() {
		var code scard.Error
		if mapped.Raw == 0 && errors.As(err, &code) {
			mapped.Raw = int64(code)
		}
	}()

	var pe *PCSCError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, scard.ErrCancelled), errors.Is(err, scard.ErrSystemCancelled):
		return newErr(ErrCodeCancelled, op, err)
	case errors.Is(err, scard.ErrNoService), errors.Is(err, scard.ErrServiceStopped):
		return newErr(ErrCodeServiceNotRunning, op, err)
	case errors.Is(err, scard.ErrNoReadersAvailable):
		return newErr(ErrCodeNoReaders, op, err)
	case errors.Is(err, scard.ErrReaderUnavailable), errors.Is(err, scard.ErrUnknownReader):
		return newErr(ErrCodeReaderUnavailable, op, err)
	case errors.Is(err, scard.ErrRemovedCard):
		return newErr(ErrCodeCardRemoved, op, err)
	case errors.Is(err, scard.ErrResetCard), errors.Is(err, scard.ErrUnpoweredCard), errors.Is(err, scard.ErrUnresponsiveCard):
		return newErr(ErrCodeUnresponsive, op, err)
	case errors.Is(err, scard.ErrSharingViolation):
		return newErr(ErrCodeSharingViolation, op, err)
	case errors.Is(err, scard.ErrProtoMismatch), errors.Is(err, scard.ErrCardUnsupported), errors.Is(err, scard.ErrUnsupportedCard):
		return newErr(ErrCodeProtocolMismatch, op, err)
	case errors.Is(err, scard.ErrTimeout):
		return newErr(ErrCodeTimeout, op, err)
	case errors.Is(err, scard.ErrInvalidHandle):
		return newErr(ErrCodeInvalidHandle, op, err)
	case errors.Is(err, scard.ErrInvalidParameter), errors.Is(err, scard.ErrInvalidValue):
		return newErr(ErrCodeInvalidParameter, op, err)
	case errors.Is(err, scard.ErrNoSmartcard):
		return newErr(ErrCodeCardRemoved, op, err)
	}

	// Fallback: the platform occasionally surfaces conditions as plain
	// strings scard has no sentinel for (notably on macOS). Keep the
	// mapping best-effort and preserve the raw message.
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "cancelled") || strings.Contains(lower, "canceled"):
		return newErr(ErrCodeCancelled, op, err)
	case strings.Contains(lower, "no service") || strings.Contains(lower, "not running"):
		return newErr(ErrCodeServiceNotRunning, op, err)
	case strings.Contains(lower, "no smart card") || strings.Contains(lower, "removed"):
		return newErr(ErrCodeCardRemoved, op, err)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return newErr(ErrCodeTimeout, op, err)
	case strings.Contains(lower, "sharing"):
		return newErr(ErrCodeSharingViolation, op, err)
	}

	return &PCSCError{Code: ErrCodeOther, Op: op, Cause: err, Message: err.Error()}
}

var (
	// ErrClosed is returned (wrapped in a *PCSCError with ErrCodeInvalidHandle)
	// when an operation is attempted on a Context that has been closed.
	ErrClosed = errors.New("pcsc: context closed")
	// ErrDisconnected is returned (wrapped with ErrCodeNotConnected) when an
	// operation is attempted on a Card that has been disconnected.
	ErrDisconnected = errors.New("pcsc: card disconnected")
	// ErrBusy is returned (wrapped with ErrCodeBusy) when a second
	// WaitForChange is attempted on a Context that already has one pending.
	ErrBusy = errors.New("pcsc: wait already pending on this context")
)
