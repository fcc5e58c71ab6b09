package htlc

import (
	"io"

	"github.com/lightningnetwork/plasma-sim/internal/wire"
)

// Ref is the wire.Message carried in an event's payload in place of a
// full payment: an 8-byte reference into a Store. See Store's doc comment
// for why routes make a full in-payload encoding impractical.
type Ref struct {
	PaymentID ID
}

func (r *Ref) Encode(w io.Writer) error {
	return wire.WriteUint64(w, uint64(r.PaymentID))
}

func (r *Ref) Decode(rd io.Reader) error {
	var v uint64
	if err := wire.ReadUint64(rd, &v); err != nil {
		return err
	}
	r.PaymentID = ID(v)
	return nil
}

// Pack wraps p.ID into a fixed-size event payload.
func Pack(p *Payment) ([wire.PayloadSize]byte, error) {
	return wire.Pack(&Ref{PaymentID: p.ID})
}

// Unpack retrieves the payment a payload refers to from store.
func Unpack(buf []byte, store *Store) (*Payment, bool) {
	var ref Ref
	if err := wire.Unpack(buf, &ref); err != nil {
		return nil, false
	}
	return store.Get(ref.PaymentID)
}
