package swap

import (
	"github.com/go-errors/errors"

	"github.com/lightningnetwork/plasma-sim/internal/chain"
	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/htlc"
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/routing"
	"github.com/lightningnetwork/plasma-sim/internal/wire"
)

// gammaAlpha/gammaBeta are the same network-latency parameters htlc and
// chain draw inter-hop delays from; each package that needs them keeps its
// own copy rather than introducing a cross-package import purely for two
// float64s.
const (
	gammaAlpha = 6.40
	gammaBeta  = 4.35
)

// Emit is one event a swap handler wants scheduled. Unlike htlc.Emit, the
// payload is already packed: swap handlers produce heterogeneous payload
// types (a Swap for SWAP_REQUEST, a chain.Tx for BC_TX_BROADCAST, a
// htlc.Payment reference for FINDPATH), so there is no single domain type
// to carry unpacked.
type Emit struct {
	Kind     executor.Kind
	Receiver executor.LPID
	DelayMs  int64
	Payload  [wire.PayloadSize]byte
}

func routeHop(nodeID network.NodeID, hops []routing.RouteHop, isSender bool) *routing.RouteHop {
	for i := range hops {
		if isSender && hops[i].FromNodeID == nodeID {
			return &hops[i]
		}
		if !isSender && hops[i].ToNodeID == nodeID {
			return &hops[i]
		}
	}
	return nil
}

func isIntermediaryLike(t network.NodeType) bool {
	return t == network.NodeIntermediary || t == network.NodeCentralBank
}

// OnForwardPayment runs alongside every FORWARDPAYMENT event
// (independent of whether the payment itself could be forwarded): it
// watches the unbalancedness of the edge a payment just arrived on and,
// past submarineSwapThreshold, requests a submarine swap with the
// upstream node to relieve it.
func OnForwardPayment(net *network.Network, nodeID network.NodeID, payment *htlc.Payment, store *Store, now int64, rng *executor.Stream, enabled bool, submarineSwapThreshold float64) (*Emit, bool) {
	if !enabled {
		return nil, false
	}

	prevHop := routeHop(nodeID, payment.Route.Hops, false)
	if prevHop == nil {
		return nil, false
	}
	prevEdge := net.Edge(prevHop.EdgeID)
	prevBackwardEdge := net.CounterEdge(prevEdge)
	prevChannel := net.Channel(prevEdge.ChannelID)
	prevNode := net.Node(prevEdge.From)

	unbalancedness := float64(prevBackwardEdge.Balance) / float64(prevChannel.Capacity)

	node := net.Node(nodeID)
	submarineSender, submarineReceiver := nodeID, prevNode.ID

	for _, id := range node.OpenSwaps {
		if sw, ok := store.Get(ID(id)); ok && sw.Sender == submarineSender && sw.Receiver == submarineReceiver {
			return nil, false
		}
	}

	start := isIntermediaryLike(node.Type) &&
		isIntermediaryLike(prevNode.Type) &&
		unbalancedness > submarineSwapThreshold
	if !start {
		return nil, false
	}

	// Swap amount S = B + P - C/2.
	amount := int64(prevBackwardEdge.Balance) + int64(payment.Amount) - int64(prevChannel.Capacity)/2
	if amount <= 0 {
		panic(errors.Errorf("swap: starting swap %d->%d with non-positive amount %d", submarineSender, submarineReceiver, amount))
	}

	sw := store.New(submarineSender, submarineReceiver, money.Sat(amount), uint64(payment.ID), now)
	node.OpenSwaps = append(node.OpenSwaps, int(sw.ID))

	payload, err := Pack(sw)
	if err != nil {
		panic(errors.Errorf("swap: packing swap request: %v", err))
	}
	return &Emit{
		Kind: executor.KindSwapRequest, Receiver: executor.LPID(submarineReceiver),
		DelayMs: int64(rng.Gamma(gammaAlpha, gammaBeta)), Payload: payload,
	}, true
}

// OnForwardPaymentRev undoes OnForwardPayment: it finds the swap this
// FORWARDPAYMENT call started (identified by TriggerPaymentID) and
// removes it.
func OnForwardPaymentRev(net *network.Network, nodeID network.NodeID, payment *htlc.Payment, store *Store) {
	node := net.Node(nodeID)
	for _, id := range node.OpenSwaps {
		if sw, ok := store.Get(ID(id)); ok && sw.TriggerPaymentID == uint64(payment.ID) {
			store.Delete(ID(id))
			removeFromNode(node, ID(id))
			return
		}
	}
}

// OnSwapRequest handles an incoming SWAP_REQUEST: the receiving node
// saves its own local copy of the swap and broadcasts the PREPARE_HTLC
// transaction that starts the on-chain leg.
func OnSwapRequest(net *network.Network, nodeID network.NodeID, incoming *Swap, store *Store, now int64, rng *executor.Stream, blockchainLPID executor.LPID) ([]Emit, *Swap) {
	if incoming.Receiver != nodeID {
		panic(errors.Errorf("swap: node %d received a SWAP_REQUEST addressed to %d", nodeID, incoming.Receiver))
	}

	sw := store.New(incoming.Sender, incoming.Receiver, incoming.Amount, incoming.TriggerPaymentID, incoming.StartTime)
	node := net.Node(nodeID)
	node.OpenSwaps = append(node.OpenSwaps, int(sw.ID))

	tx := &chain.Tx{
		Type: chain.PrepareHTLC, Sender: sw.Receiver, Receiver: sw.Sender,
		Amount: sw.Amount, StartTime: now, Originator: nodeID,
	}
	payload, err := chain.Pack(tx)
	if err != nil {
		panic(errors.Errorf("swap: packing prepare-htlc tx: %v", err))
	}
	return []Emit{{
		Kind: executor.KindBCTxBroadcast, Receiver: blockchainLPID,
		DelayMs: int64(rng.Gamma(gammaAlpha, gammaBeta)), Payload: payload,
	}}, sw
}

// OnSwapRequestRev undoes OnSwapRequest: finds the local copy it saved
// (matched by content, the same way its forward counterpart looked nothing
// up but created fresh — incoming carries no ID of its own) and deletes it.
func OnSwapRequestRev(net *network.Network, nodeID network.NodeID, incoming *Swap, store *Store) {
	node := net.Node(nodeID)
	for _, id := range node.OpenSwaps {
		sw, ok := store.Get(ID(id))
		if ok && sw.Sender == incoming.Sender && sw.Receiver == incoming.Receiver && sw.TriggerPaymentID == incoming.TriggerPaymentID {
			store.Delete(ID(id))
			removeFromNode(node, ID(id))
			return
		}
	}
}

// findByTx locates nodeID's local swap a confirmed blockchain tx refers
// to, matched by content: the tx's sender/receiver are reversed relative
// to the swap's, since the party paying on L1 is the submarine receiver.
// A swap only ever has one open transaction of each type in flight, so
// (sender, receiver, amount) is unambiguous here.
func findByTx(net *network.Network, nodeID network.NodeID, store *Store, tx *chain.Tx) *Swap {
	node := net.Node(nodeID)
	for _, id := range node.OpenSwaps {
		sw, ok := store.Get(ID(id))
		if ok && sw.Receiver == tx.Sender && sw.Sender == tx.Receiver && sw.Amount == tx.Amount {
			return sw
		}
	}
	return nil
}

// OnBlockchainTx handles a BC_TX_CONFIRMED notification for a
// swap-related transaction. Confirmations unrelated to a swap (or whose
// swap this node no longer tracks) are
// ignored. blockTimeMs sizes the
// spawned off-chain leg's TTL: a submarine-swap payment is assumed to
// expire after ten block intervals rather than the ordinary payment TTL.
func OnBlockchainTx(net *network.Network, nodeID network.NodeID, tx *chain.Tx, store *Store, htlcStore *htlc.Store, now, blockTimeMs int64) (*Emit, bool) {
	if tx.Type != chain.PrepareHTLC && tx.Type != chain.ClaimHTLC {
		return nil, false
	}
	sw := findByTx(net, nodeID, store, tx)
	if sw == nil {
		return nil, false
	}

	switch {
	case tx.Type == chain.PrepareHTLC && tx.Sender == nodeID:
		sw.State = L1Prepared
		return nil, true

	case tx.Type == chain.PrepareHTLC && tx.Receiver == nodeID:
		sw.State = L1Prepared
		p := htlcStore.New(sw.Sender, sw.Receiver, sw.Amount, now, htlc.TypeSubmarineSwap)
		p.ExpiryMs = 10 * blockTimeMs
		payload, err := htlc.Pack(p)
		if err != nil {
			panic(errors.Errorf("swap: packing swap-to-forward payment: %v", err))
		}
		return &Emit{Kind: executor.KindFindPath, Receiver: executor.LPID(p.Sender), DelayMs: htlc.FindPathRetryMs, Payload: payload}, true

	case tx.Type == chain.ClaimHTLC:
		sw.State = L1Claimed
		return nil, true
	}
	return nil, false
}

// OnBlockchainTxRev undoes OnBlockchainTx's state transition.
func OnBlockchainTxRev(net *network.Network, nodeID network.NodeID, tx *chain.Tx, store *Store) {
	if tx.Type != chain.PrepareHTLC && tx.Type != chain.ClaimHTLC {
		return
	}
	sw := findByTx(net, nodeID, store, tx)
	if sw == nil {
		return
	}
	switch tx.Type {
	case chain.PrepareHTLC:
		sw.State = Requested
	case chain.ClaimHTLC:
		sw.State = L1Prepared
	}
}

// OnBlockchainTxCommit retires a swap once its CLAIM_HTLC has confirmed
// for good.
func OnBlockchainTxCommit(net *network.Network, nodeID network.NodeID, tx *chain.Tx, store *Store) {
	if tx.Type != chain.PrepareHTLC && tx.Type != chain.ClaimHTLC {
		return
	}
	sw := findByTx(net, nodeID, store, tx)
	if sw == nil {
		panic(errors.Errorf("swap: node %d cannot find swap by committed blockchain tx (sender=%d receiver=%d amount=%d)", nodeID, tx.Sender, tx.Receiver, tx.Amount))
	}
	if sw.State == L1Claimed && tx.Type == chain.ClaimHTLC {
		store.Delete(sw.ID)
		removeFromNode(net.Node(nodeID), sw.ID)
	}
}

// findBySubmarinePayment locates the swap a completed submarine-swap
// payment belongs to. Not finding one means the swap protocol lost track
// of its own state, which is fatal.
func findBySubmarinePayment(net *network.Network, nodeID network.NodeID, store *Store, payment *htlc.Payment) *Swap {
	node := net.Node(nodeID)
	for _, id := range node.OpenSwaps {
		sw, ok := store.Get(ID(id))
		if ok && sw.Receiver == payment.Receiver && sw.Sender == payment.Sender && sw.Amount == payment.Amount {
			return sw
		}
	}
	panic(errors.Errorf("swap: node %d cannot find swap by completed payment %d", nodeID, payment.ID))
}

// OnReceiveSuccess broadcasts the CLAIM_HTLC transaction once the
// submarine-swap payment itself has completed.
func OnReceiveSuccess(net *network.Network, nodeID network.NodeID, payment *htlc.Payment, store *Store, now int64, rng *executor.Stream, blockchainLPID executor.LPID) (*Emit, bool) {
	if payment.Type != htlc.TypeSubmarineSwap {
		return nil, false
	}
	sw := findBySubmarinePayment(net, nodeID, store, payment)

	tx := &chain.Tx{
		Type: chain.ClaimHTLC, Sender: sw.Receiver, Receiver: sw.Sender,
		Amount: sw.Amount, StartTime: now, Originator: nodeID,
	}
	payload, err := chain.Pack(tx)
	if err != nil {
		panic(errors.Errorf("swap: packing claim-htlc tx: %v", err))
	}
	return &Emit{
		Kind: executor.KindBCTxBroadcast, Receiver: blockchainLPID,
		DelayMs: int64(rng.Gamma(gammaAlpha, gammaBeta)), Payload: payload,
	}, true
}

// OnReceiveSuccessRev is a no-op: the only effect was broadcasting the
// claim, whose own event has its own reverse path.
func OnReceiveSuccessRev() {}
