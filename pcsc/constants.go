package pcsc

import "github.com/ebfe/scard"

// Share modes for Reader.Connect, bit-exact with the PC/SC workgroup spec
// and with github.com/ebfe/scard's own constants.
const (
	ShareExclusive = scard.ShareExclusive
	ShareShared    = scard.ShareShared
	ShareDirect    = scard.ShareDirect
)

// Protocols negotiable on Connect/Reconnect.
const (
	ProtocolUndefined = scard.ProtocolUndefined
	ProtocolT0        = scard.ProtocolT0
	ProtocolT1        = scard.ProtocolT1
	ProtocolRaw       = scard.ProtocolRaw
	ProtocolAny       = scard.ProtocolAny
)

// Dispositions for Card.Disconnect and the initialization argument of
// Card.Reconnect.
const (
	LeaveCard   = scard.LeaveCard
	ResetCard   = scard.ResetCard
	UnpowerCard = scard.UnpowerCard
	EjectCard   = scard.EjectCard
)

// Reader/card event-state flags as reported by GetStatusChange.
const (
	StateUnaware     = scard.StateUnaware
	StateIgnore      = scard.StateIgnore
	StateChanged     = scard.StateChanged
	StateUnknown     = scard.StateUnknown
	StateUnavailable = scard.StateUnavailable
	StateEmpty       = scard.StateEmpty
	StatePresent     = scard.StatePresent
	StateAtrmatch    = scard.StateAtrmatch
	StateExclusive   = scard.StateExclusive
	StateInuse       = scard.StateInuse
	StateMute        = scard.StateMute
	StateUnpowered   = scard.StateUnpowered
)

// pnpNotification is the pseudo-reader name the monitor adds to every
// GetStatusChange call so the platform tells it about reader hot-plug
// without a separate polling loop.
const pnpNotification = `\\?PnP?\Notification`

// CCID feature tags decoded by DecodeFeatureTLV. Values are the tag
// bytes defined by the PC/SC workgroup's CCID specification for the
// response to CM_IOCTL_GET_FEATURE_REQUEST.
const (
	FeatureVerifyPINDirect      = 0x06
	FeatureModifyPINDirect      = 0x07
	FeatureGetKeyPressed        = 0x05
	FeatureIFDPinProperties     = 0x0A
	FeatureMCTReaderDirect      = 0x08
	FeatureMCTUniversal         = 0x09
	FeatureIFDDisplayProperties = 0x11
	FeatureExecutePACE          = 0x20
)
