// Package node composes the protocol-level pure functions in
// internal/htlc, internal/swap and internal/loadgen into a single
// executor.LP per network node: one dispatch table for the
// Forward/Reverse/Commit methods the executor calls.
package node

import (
	"github.com/go-errors/errors"

	"github.com/lightningnetwork/plasma-sim/internal/chain"
	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/htlc"
	"github.com/lightningnetwork/plasma-sim/internal/loadgen"
	"github.com/lightningnetwork/plasma-sim/internal/metrics"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/routing"
	"github.com/lightningnetwork/plasma-sim/internal/swap"
	"github.com/lightningnetwork/plasma-sim/internal/wire"
)

// Config carries everything a node LP needs, threaded in by main the way
// lnd hands each subsystem a populated Config struct rather than a
// parameter list.
type Config struct {
	NodeID network.NodeID

	Network    *network.Network
	KnownPaths *routing.KnownPaths
	Store      *htlc.Store
	SwapStore  *swap.Store
	RNG        *executor.Stream

	// Generator drives stochastic payment generation; nil for any node
	// that is not an end user.
	Generator *loadgen.Generator

	// Metrics is an optional sink for committed outcomes; nil disables.
	Metrics *metrics.Set

	UseKnownPaths          bool
	Waterfall              bool
	SubmarineSwaps         bool
	SubmarineSwapThreshold float64

	// BlockTimeMs sizes the TTL of spawned submarine-swap legs.
	BlockTimeMs int64

	BlockchainLPID executor.LPID
}

// LP is one network node's logical process.
type LP struct {
	cfg Config
	id  executor.LPID

	// undo maps an in-flight event to the envelope snapshot taken before
	// its forward handler ran. The store shares one payment record across
	// every event referencing it, so the bookkeeping fields a handler
	// overwrites (attempts, error, counters, route, terminal stamps)
	// cannot be recovered from the event alone; Reverse restores them
	// from here, and Commit discards the entry once the event is final.
	undo map[executor.EventID]htlc.Envelope
}

// New builds the LP for cfg.NodeID.
func New(cfg Config) *LP {
	return &LP{
		cfg:  cfg,
		id:   executor.LPID(cfg.NodeID),
		undo: make(map[executor.EventID]htlc.Envelope),
	}
}

func (n *LP) ID() executor.LPID { return n.id }

// payment unpacks the payment an incoming event refers to.
func (n *LP) payment(ev *executor.Event) *htlc.Payment {
	p, ok := htlc.Unpack(ev.Payload[:], n.cfg.Store)
	if !ok {
		panic(errors.Errorf("node %d: event %d references an unknown payment", n.cfg.NodeID, ev.ID))
	}
	return p
}

// schedule turns a batch of htlc.Emit results into executor.Events.
func (n *LP) schedule(base *executor.Event, emits []htlc.Emit) []executor.Event {
	out := make([]executor.Event, 0, len(emits))
	for _, e := range emits {
		payload, err := htlc.Pack(e.Payment)
		if err != nil {
			panic(errors.Errorf("node %d: packing payment %d: %v", n.cfg.NodeID, e.Payment.ID, err))
		}
		out = append(out, n.rawEvent(base, e.Kind, e.Receiver, e.DelayMs, payload))
	}
	return out
}

// scheduleGen is schedule's analogue for loadgen.Emit, whose Payment is
// nil for the generator's self-reschedule.
func (n *LP) scheduleGen(base *executor.Event, emits []loadgen.Emit) []executor.Event {
	out := make([]executor.Event, 0, len(emits))
	for _, e := range emits {
		var payload [wire.PayloadSize]byte
		if e.Payment != nil {
			var err error
			payload, err = htlc.Pack(e.Payment)
			if err != nil {
				panic(errors.Errorf("node %d: packing payment %d: %v", n.cfg.NodeID, e.Payment.ID, err))
			}
		}
		out = append(out, n.rawEvent(base, e.Kind, e.Receiver, e.DelayMs, payload))
	}
	return out
}

// scheduleSwap is schedule's analogue for swap.Emit, whose payloads are
// already packed since they carry heterogeneous content (a swap, a
// blockchain tx, a payment reference) depending on Kind.
func (n *LP) scheduleSwap(base *executor.Event, emits []swap.Emit) []executor.Event {
	out := make([]executor.Event, 0, len(emits))
	for _, e := range emits {
		out = append(out, n.rawEvent(base, e.Kind, e.Receiver, e.DelayMs, e.Payload))
	}
	return out
}

func (n *LP) rawEvent(base *executor.Event, kind executor.Kind, receiver executor.LPID, delayMs int64, payload [wire.PayloadSize]byte) executor.Event {
	return executor.Event{
		Kind:     kind,
		Time:     base.Time + delayMs,
		Sender:   n.id,
		Receiver: receiver,
		Payload:  payload,
	}
}

// Forward dispatches ev to the matching protocol function.
func (n *LP) Forward(eng *executor.Engine, ev *executor.Event) []executor.Event {
	startCount := n.cfg.RNG.Count()
	defer func() { ev.RNGCalls = n.cfg.RNG.Count() - startCount }()

	switch ev.Kind {
	case executor.KindGeneratePayment:
		if n.cfg.Generator == nil {
			panic(errors.Errorf("node %d: GENERATE_PAYMENT delivered to a non-end-user LP", n.cfg.NodeID))
		}
		emits, created := n.cfg.Generator.Generate(n.cfg.NodeID, ev.Time, n.cfg.RNG)
		if created != nil {
			payload, err := htlc.Pack(created)
			if err != nil {
				panic(errors.Errorf("node %d: packing generated payment: %v", n.cfg.NodeID, err))
			}
			ev.Payload = payload
			ev.Bitfield |= executor.BitStateUpdated
			log.Tracef("node %d generated payment: %v", n.cfg.NodeID, spewDump(created))
		}
		return n.scheduleGen(ev, emits)

	case executor.KindFindPath:
		p := n.payment(ev)
		n.undo[ev.ID] = p.Snapshot()
		emits := htlc.FindPath(n.cfg.Network, n.cfg.KnownPaths, n.cfg.UseKnownPaths, p, ev.Time)
		return n.schedule(ev, emits)

	case executor.KindSendPayment:
		p := n.payment(ev)
		n.undo[ev.ID] = p.Snapshot()
		emits, updated := htlc.SendPayment(n.cfg.Network, p, ev.Time, n.cfg.RNG)
		if updated {
			ev.Bitfield |= executor.BitStateUpdated
		}
		return n.schedule(ev, emits)

	case executor.KindForwardPayment:
		p := n.payment(ev)
		n.undo[ev.ID] = p.Snapshot()
		emits, updated := htlc.ForwardPayment(n.cfg.Network, n.cfg.NodeID, p, ev.Time, n.cfg.RNG, n.cfg.Waterfall)
		if updated {
			ev.Bitfield |= executor.BitStateUpdated
		}
		out := n.schedule(ev, emits)

		// The swap overlay watches every FORWARDPAYMENT, independent of
		// whether the payment itself could be forwarded.
		if swapEmit, started := swap.OnForwardPayment(n.cfg.Network, n.cfg.NodeID, p, n.cfg.SwapStore, ev.Time, n.cfg.RNG, n.cfg.SubmarineSwaps, n.cfg.SubmarineSwapThreshold); started {
			ev.Bitfield |= executor.BitSwapStarted
			out = append(out, n.rawEvent(ev, swapEmit.Kind, swapEmit.Receiver, swapEmit.DelayMs, swapEmit.Payload))
		}
		return out

	case executor.KindReceivePayment:
		p := n.payment(ev)
		if p.IsSuccess {
			ev.Bitfield |= executor.BitWasSuccess
		}
		emits := htlc.ReceivePayment(n.cfg.Network, n.cfg.NodeID, p, ev.Time, n.cfg.RNG)
		return n.schedule(ev, emits)

	case executor.KindForwardSuccess:
		p := n.payment(ev)
		emits := htlc.ForwardSuccess(n.cfg.Network, n.cfg.NodeID, p, n.cfg.RNG)
		return n.schedule(ev, emits)

	case executor.KindReceiveSuccess:
		p := n.payment(ev)
		htlc.ReceiveSuccess(p, ev.Time)

		if swapEmit, handled := swap.OnReceiveSuccess(n.cfg.Network, n.cfg.NodeID, p, n.cfg.SwapStore, ev.Time, n.cfg.RNG, n.cfg.BlockchainLPID); handled {
			ev.Bitfield |= executor.BitStateUpdated
			return []executor.Event{n.rawEvent(ev, swapEmit.Kind, swapEmit.Receiver, swapEmit.DelayMs, swapEmit.Payload)}
		}
		return nil

	case executor.KindForwardFail:
		p := n.payment(ev)
		emits := htlc.ForwardFail(n.cfg.Network, n.cfg.NodeID, p, n.cfg.RNG)
		return n.schedule(ev, emits)

	case executor.KindReceiveFail:
		p := n.payment(ev)
		emits := htlc.ReceiveFail(n.cfg.Network, n.cfg.NodeID, p)
		return n.schedule(ev, emits)

	case executor.KindNotifyPayment:
		p := n.payment(ev)
		emits := htlc.NotifyPayment(n.cfg.Network, n.cfg.NodeID, p, ev.Time, n.cfg.RNG, n.cfg.Store)
		return n.schedule(ev, emits)

	case executor.KindSwapRequest:
		incoming, err := swap.Unpack(ev.Payload[:])
		if err != nil {
			panic(errors.Errorf("node %d: decoding swap request: %v", n.cfg.NodeID, err))
		}
		emits, _ := swap.OnSwapRequest(n.cfg.Network, n.cfg.NodeID, incoming, n.cfg.SwapStore, ev.Time, n.cfg.RNG, n.cfg.BlockchainLPID)
		return n.scheduleSwap(ev, emits)

	case executor.KindBCTxConfirmed:
		tx, err := chain.Unpack(ev.Payload[:])
		if err != nil {
			panic(errors.Errorf("node %d: decoding confirmed tx: %v", n.cfg.NodeID, err))
		}
		swapEmit, handled := swap.OnBlockchainTx(n.cfg.Network, n.cfg.NodeID, tx, n.cfg.SwapStore, n.cfg.Store, ev.Time, n.cfg.BlockTimeMs)
		if !handled {
			return nil
		}
		ev.Bitfield |= executor.BitStateUpdated
		if swapEmit == nil {
			return nil
		}
		return []executor.Event{n.rawEvent(ev, swapEmit.Kind, swapEmit.Receiver, swapEmit.DelayMs, swapEmit.Payload)}

	default:
		panic(errors.Errorf("node %d: unhandled forward event kind %s", n.cfg.NodeID, ev.Kind))
	}
}

// Reverse undoes exactly the state Forward mutated, consulting
// ev.Bitfield for which branches actually ran, and rewinds the RNG stream
// by the exact number of draws Forward consumed.
func (n *LP) Reverse(eng *executor.Engine, ev *executor.Event) {
	switch ev.Kind {
	case executor.KindGeneratePayment:
		if ev.Bitfield&executor.BitStateUpdated != 0 {
			if p, ok := htlc.Unpack(ev.Payload[:], n.cfg.Store); ok {
				n.cfg.Generator.Rev(n.cfg.NodeID, p.ID)
			}
		}

	case executor.KindFindPath:
		// FindPath bumps the attempt counter on every entry and, depending
		// on the branch, overwrites the route or stamps a terminal
		// error/expiry on the shared payment record; put it all back.
		n.restoreEnvelope(ev)

	case executor.KindSendPayment:
		if ev.Bitfield&executor.BitStateUpdated != 0 {
			htlc.RevSendPayment(n.cfg.Network, n.payment(ev))
		}
		// The no-balance branch incremented the failure counter and set
		// the error record without touching edge state.
		n.restoreEnvelope(ev)

	case executor.KindForwardPayment:
		p := n.payment(ev)
		if ev.Bitfield&executor.BitStateUpdated != 0 {
			htlc.RevForwardPayment(n.cfg.Network, n.cfg.NodeID, p)
		}
		if ev.Bitfield&executor.BitSwapStarted != 0 {
			swap.OnForwardPaymentRev(n.cfg.Network, n.cfg.NodeID, p, n.cfg.SwapStore)
		}
		n.restoreEnvelope(ev)

	case executor.KindReceivePayment:
		htlc.RevReceivePayment(n.cfg.Network, n.payment(ev),
			ev.Bitfield&executor.BitWasSuccess != 0)

	case executor.KindForwardSuccess:
		htlc.RevForwardSuccess(n.cfg.Network, n.cfg.NodeID, n.payment(ev))

	case executor.KindReceiveSuccess:
		htlc.RevReceiveSuccess(n.payment(ev))
		if ev.Bitfield&executor.BitStateUpdated != 0 {
			swap.OnReceiveSuccessRev()
		}

	case executor.KindForwardFail:
		htlc.RevForwardFail(n.cfg.Network, n.cfg.NodeID, n.payment(ev))

	case executor.KindReceiveFail:
		htlc.RevReceiveFail(n.cfg.Network, n.payment(ev))

	case executor.KindNotifyPayment:
		htlc.RevNotifyPayment()

	case executor.KindSwapRequest:
		incoming, err := swap.Unpack(ev.Payload[:])
		if err != nil {
			panic(errors.Errorf("node %d: decoding swap request on reverse: %v", n.cfg.NodeID, err))
		}
		swap.OnSwapRequestRev(n.cfg.Network, n.cfg.NodeID, incoming, n.cfg.SwapStore)

	case executor.KindBCTxConfirmed:
		if ev.Bitfield&executor.BitStateUpdated != 0 {
			tx, err := chain.Unpack(ev.Payload[:])
			if err != nil {
				panic(errors.Errorf("node %d: decoding confirmed tx on reverse: %v", n.cfg.NodeID, err))
			}
			swap.OnBlockchainTxRev(n.cfg.Network, n.cfg.NodeID, tx, n.cfg.SwapStore)
		}
	}

	if ev.RNGCalls > 0 {
		n.cfg.RNG.Rewind(n.cfg.RNG.Count() - ev.RNGCalls)
	}
}

// restoreEnvelope puts back the payment bookkeeping snapshot taken when
// ev's forward handler was dispatched, if one was.
func (n *LP) restoreEnvelope(ev *executor.Event) {
	prev, ok := n.undo[ev.ID]
	if !ok {
		return
	}
	if p, found := htlc.Unpack(ev.Payload[:], n.cfg.Store); found {
		p.Restore(prev)
	}
	delete(n.undo, ev.ID)
}

// Commit finalizes ev's effects once they can no longer be rolled back:
// learning a routing result from a terminal RECEIVESUCCESS/RECEIVEFAIL,
// releasing the reverse-waterfall pending slot once an awaited send has
// truly gone out, and feeding the metrics sink.
func (n *LP) Commit(eng *executor.Engine, ev *executor.Event) {
	// The event can never be rolled back again; its undo snapshot is dead
	// weight.
	delete(n.undo, ev.ID)

	nd := n.cfg.Network.Node(n.cfg.NodeID)

	switch ev.Kind {
	case executor.KindSendPayment:
		// An awaited tx has left the sender for good; the pending slot
		// that parked it behind its withdrawal can be released.
		if p, ok := htlc.Unpack(ev.Payload[:], n.cfg.Store); ok {
			sender := n.cfg.Network.Node(p.Sender)
			if pending := sender.PendingOnWithdrawal; pending != nil {
				if parked, ok := pending.Payment.(*htlc.Payment); ok && parked.ID == p.ID {
					sender.PendingOnWithdrawal = nil
				}
			}
		}

	case executor.KindReceiveSuccess:
		if p, ok := htlc.Unpack(ev.Payload[:], n.cfg.Store); ok {
			htlc.ProcessSuccessResult(nd, p, ev.Time)
			n.cfg.Metrics.OnPaymentSucceeded()
		}

	case executor.KindReceiveFail:
		if p, ok := htlc.Unpack(ev.Payload[:], n.cfg.Store); ok {
			htlc.ProcessFailResult(nd, p, ev.Time)
			n.cfg.Metrics.OnPaymentFailed()
		}

	case executor.KindFindPath:
		if p, ok := htlc.Unpack(ev.Payload[:], n.cfg.Store); ok && p.IsExpired {
			n.cfg.Metrics.OnPaymentExpired()
		}

	case executor.KindBCTxConfirmed:
		if ev.Bitfield&executor.BitStateUpdated == 0 {
			break
		}
		tx, err := chain.Unpack(ev.Payload[:])
		if err != nil {
			panic(errors.Errorf("node %d: decoding confirmed tx on commit: %v", n.cfg.NodeID, err))
		}
		swap.OnBlockchainTxCommit(n.cfg.Network, n.cfg.NodeID, tx, n.cfg.SwapStore)
	}

	// A payment is only ever genuinely finished once EndTime is stamped
	// (ReceiveSuccess, or FindPath giving up after NoCapacity/expiry);
	// ReceiveFail leaves EndTime unset because it always retries via a
	// fresh FINDPATH. internal/report sweeps the store for finished
	// payments once the run reaches quiescence, so nothing is deleted
	// here — deleting eagerly would race a payment still retrying under
	// the same ID.
}
