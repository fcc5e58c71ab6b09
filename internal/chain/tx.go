package chain

import (
	"io"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/wire"
)

// TxType classifies an on-chain transaction.
type TxType uint8

const (
	PrepareHTLC TxType = iota
	ClaimHTLC
)

// String names the tx type for logs and CSV output.
func (t TxType) String() string {
	switch t {
	case PrepareHTLC:
		return "PREPARE_HTLC"
	case ClaimHTLC:
		return "CLAIM_HTLC"
	default:
		return "UNKNOWN"
	}
}

// Tx is an on-chain transaction submarine swaps broadcast to settle an
// L1 leg.
type Tx struct {
	Type       TxType
	Sender     network.NodeID
	Receiver   network.NodeID
	Amount     money.Sat
	StartTime  int64
	Originator network.NodeID
}

// Encode implements wire.Message.
func (t *Tx) Encode(w io.Writer) error {
	if err := wire.WriteUint8(w, uint8(t.Type)); err != nil {
		return err
	}
	if err := wire.WriteInt64(w, int64(t.Sender)); err != nil {
		return err
	}
	if err := wire.WriteInt64(w, int64(t.Receiver)); err != nil {
		return err
	}
	if err := wire.WriteUint64(w, uint64(t.Amount)); err != nil {
		return err
	}
	if err := wire.WriteInt64(w, t.StartTime); err != nil {
		return err
	}
	return wire.WriteInt64(w, int64(t.Originator))
}

// Decode implements wire.Message.
func (t *Tx) Decode(r io.Reader) error {
	var u8 uint8
	if err := wire.ReadUint8(r, &u8); err != nil {
		return err
	}
	t.Type = TxType(u8)

	var i64 int64
	if err := wire.ReadInt64(r, &i64); err != nil {
		return err
	}
	t.Sender = network.NodeID(i64)

	if err := wire.ReadInt64(r, &i64); err != nil {
		return err
	}
	t.Receiver = network.NodeID(i64)

	var u64 uint64
	if err := wire.ReadUint64(r, &u64); err != nil {
		return err
	}
	t.Amount = money.Sat(u64)

	if err := wire.ReadInt64(r, &t.StartTime); err != nil {
		return err
	}

	if err := wire.ReadInt64(r, &i64); err != nil {
		return err
	}
	t.Originator = network.NodeID(i64)
	return nil
}

// Pack serializes tx into a fixed-size event payload.
func Pack(tx *Tx) ([wire.PayloadSize]byte, error) {
	return wire.Pack(tx)
}

// Unpack decodes a Tx previously packed with Pack.
func Unpack(buf []byte) (*Tx, error) {
	var tx Tx
	if err := wire.Unpack(buf, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
