package pcsc

import "github.com/ebfe/scard"

// Reader is a named device visible to a Context. It does not own any OS
// resource itself — it is a value that can be re-identified across
// listings by name, which stays stable while the device remains attached.
type Reader struct {
	Name  string
	State scard.StateFlag
	Atr   []byte

	ctx *Context
}

// HasCard reports whether the last observed state includes StatePresent.
func (r Reader) HasCard() bool { return r.State&StatePresent != 0 }

// Connect opens a Card session to whatever is currently in the reader.
// shareMode defaults to ShareShared and preferredProtocols to ProtocolAny
// when zero-valued.
func (r Reader) Connect(shareMode scard.ShareMode, preferredProtocols scard.Protocol) (*Card, error) {
	if r.ctx == nil {
		return nil, newErrf(ErrCodeInvalidParameter, "Connect", "reader %q was not obtained from a Context", r.Name)
	}
	if shareMode == 0 {
		shareMode = ShareShared
	}
	if preferredProtocols == 0 {
		preferredProtocols = ProtocolAny
	}

	fut, err := r.connectAsync(shareMode, preferredProtocols)
	if err != nil {
		return nil, err
	}
	val, err := fut.Wait()
	if err != nil {
		return nil, err
	}
	return val.(*Card), nil
}

func (r Reader) connectAsync(shareMode scard.ShareMode, preferredProtocols scard.Protocol) (*Future, error) {
	if err := r.ctx.checkOpen("Connect"); err != nil {
		return nil, err
	}
	ctx := r.ctx
	name := r.Name
	return ctx.dispatcher.submit(func() (any, error) {
		card, err := ctx.binding.Connect(name, shareMode, preferredProtocols)
		if err != nil {
			return nil, mapScardErr("Connect", err)
		}
		status, err := card.Status()
		if err != nil {
			_ = card.Disconnect(LeaveCard)
			return nil, mapScardErr("Connect", err)
		}
		return newCard(ctx, name, card, status), nil
	}), nil
}
