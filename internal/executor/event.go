// Package executor implements the optimistic parallel discrete-event
// simulation kernel: logical processes (LPs) exchange timestamped events,
// processed speculatively in parallel and rolled back with anti-messages
// when a partition receives a straggler (an event in its own past).
//
// The design follows Jefferson's Time Warp scheme: every LP type supplies
// a forward handler, a reverse handler and a commit handler, and the
// engine is responsible for scheduling, rollback and fossil collection.
package executor

import "github.com/lightningnetwork/plasma-sim/internal/wire"

// Kind identifies the semantic type of an event's payload.
type Kind uint8

const (
	KindFindPath Kind = iota
	KindSendPayment
	KindForwardPayment
	KindReceivePayment
	KindForwardSuccess
	KindForwardFail
	KindReceiveSuccess
	KindReceiveFail
	KindOpenChannel
	KindGeneratePayment
	KindNotifyPayment
	KindSwapRequest
	KindBCTxBroadcast
	KindBCTxConfirmed
	KindTickTockNextBlock
)

// String names the event kind for logs.
func (k Kind) String() string {
	switch k {
	case KindFindPath:
		return "FINDPATH"
	case KindSendPayment:
		return "SENDPAYMENT"
	case KindForwardPayment:
		return "FORWARDPAYMENT"
	case KindReceivePayment:
		return "RECEIVEPAYMENT"
	case KindForwardSuccess:
		return "FORWARDSUCCESS"
	case KindForwardFail:
		return "FORWARDFAIL"
	case KindReceiveSuccess:
		return "RECEIVESUCCESS"
	case KindReceiveFail:
		return "RECEIVEFAIL"
	case KindOpenChannel:
		return "OPENCHANNEL"
	case KindGeneratePayment:
		return "GENERATE_PAYMENT"
	case KindNotifyPayment:
		return "NOTIFYPAYMENT"
	case KindSwapRequest:
		return "SWAP_REQUEST"
	case KindBCTxBroadcast:
		return "BC_TX_BROADCAST"
	case KindBCTxConfirmed:
		return "BC_TX_CONFIRMED"
	case KindTickTockNextBlock:
		return "TICK_TOCK_NEXT_BLOCK"
	default:
		return "UNKNOWN"
	}
}

// LPID addresses a logical process. Node LPs are numbered the same as their
// network.NodeID; the blockchain LP is always assigned the id one past the
// last node.
type LPID int64

// EventID uniquely identifies a scheduled event so its effects can be
// canceled by a matching anti-message on rollback.
type EventID uint64

// Event is a single timestamped message routed between LPs. Payload carries
// an opaque, fixed-size, wire-encoded body; Bitfield records which
// conditional state updates the forward handler actually performed, so the
// reverse handler knows exactly what to undo.
type Event struct {
	ID       EventID
	Kind     Kind
	Time     int64
	Sender   LPID
	Receiver LPID
	Payload  [wire.PayloadSize]byte
	Bitfield uint32

	// Antimessage, when true, cancels the effects of the event with the
	// same ID instead of being processed as a new message.
	Antimessage bool

	// RNGCalls is the number of raw RNG draws the forward handler consumed
	// processing this event, recorded so Reverse can rewind the issuing
	// LP's RNG stream by exactly that many draws, whichever branch the
	// forward handler took.
	RNGCalls uint64
}

// Bit flags for Event.Bitfield.
const (
	// BitStateUpdated records that the forward handler actually mutated
	// edge or payment state rather than bailing out on an early
	// offline-node/no-balance branch.
	BitStateUpdated uint32 = 1 << iota

	// BitSwapStarted records that a FORWARDPAYMENT handler also started a
	// submarine swap as a side effect, so Reverse knows whether to undo
	// that too.
	BitSwapStarted

	// BitWasSuccess snapshots a payment's success flag as it stood before
	// a RECEIVEPAYMENT handler set it, so the reverse handler can restore
	// the exact prior value rather than assuming false.
	BitWasSuccess
)
