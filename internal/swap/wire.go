package swap

import (
	"io"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/wire"
)

// Encode implements wire.Message. ID is deliberately omitted: it is a
// local Store key, meaningless to the node on the other end of a
// SWAP_REQUEST event, which allocates its own.
func (s *Swap) Encode(w io.Writer) error {
	if err := wire.WriteInt64(w, int64(s.Sender)); err != nil {
		return err
	}
	if err := wire.WriteInt64(w, int64(s.Receiver)); err != nil {
		return err
	}
	if err := wire.WriteUint64(w, uint64(s.Amount)); err != nil {
		return err
	}
	if err := wire.WriteUint64(w, s.TriggerPaymentID); err != nil {
		return err
	}
	if err := wire.WriteInt64(w, s.StartTime); err != nil {
		return err
	}
	return wire.WriteUint8(w, uint8(s.State))
}

// Decode implements wire.Message.
func (s *Swap) Decode(r io.Reader) error {
	var i64 int64
	if err := wire.ReadInt64(r, &i64); err != nil {
		return err
	}
	s.Sender = network.NodeID(i64)

	if err := wire.ReadInt64(r, &i64); err != nil {
		return err
	}
	s.Receiver = network.NodeID(i64)

	var u64 uint64
	if err := wire.ReadUint64(r, &u64); err != nil {
		return err
	}
	s.Amount = money.Sat(u64)

	if err := wire.ReadUint64(r, &s.TriggerPaymentID); err != nil {
		return err
	}
	if err := wire.ReadInt64(r, &s.StartTime); err != nil {
		return err
	}

	var u8 uint8
	if err := wire.ReadUint8(r, &u8); err != nil {
		return err
	}
	s.State = State(u8)
	return nil
}

// Pack serializes sw into a fixed-size event payload.
func Pack(sw *Swap) ([wire.PayloadSize]byte, error) {
	return wire.Pack(sw)
}

// Unpack decodes a Swap's content fields from a payload previously built
// with Pack. The returned Swap's ID is always zero; the caller assigns one
// via Store.New once it decides to keep a local copy.
func Unpack(buf []byte) (*Swap, error) {
	var sw Swap
	if err := wire.Unpack(buf, &sw); err != nil {
		return nil, err
	}
	return &sw, nil
}
