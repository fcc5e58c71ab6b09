package htlc

import (
	"time"

	"github.com/go-errors/errors"

	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/routing"
	"github.com/lightningnetwork/plasma-sim/internal/waterfall"
)

// Emit is one event a forward handler wants scheduled: DelayMs is relative
// to the current event's time, and Payment is the in-flight payment the
// new event carries (the caller wire.Packs it into the executor.Event this
// becomes).
type Emit struct {
	Kind     executor.Kind
	Receiver executor.LPID
	DelayMs  int64
	Payment  *Payment
}

// checkBalanceAndPolicy both checks whether edge has enough balance to
// forward, and asserts (fatally) that the route's fee and timelock actually
// obey edge's advertised policy — a violation here means routing produced
// an inconsistent route, never a recoverable runtime condition.
func checkBalanceAndPolicy(edge, prevEdge *network.Edge, prevHop, nextHop *routing.RouteHop) bool {
	if nextHop.AmountToForward > edge.Balance {
		return false
	}
	if nextHop.AmountToForward < edge.Policy.MinHTLC {
		panic(errors.Errorf("htlc: policy.min_htlc not respected on edge %d", edge.ID))
	}

	expectedFee := edge.Policy.Fee(nextHop.AmountToForward)
	if prevHop.AmountToForward != nextHop.AmountToForward+expectedFee {
		panic(errors.Errorf("htlc: policy.fee not respected on edge %d", edge.ID))
	}

	if prevHop.Timelock != nextHop.Timelock+prevEdge.Policy.Timelock {
		panic(errors.Errorf("htlc: policy.timelock not respected on edge %d", edge.ID))
	}

	return true
}

// routeHop returns the hop whose From (isSender) or To (!isSender) node is
// nodeID.
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

// FindPath runs pathfinding for payment, trying the known-paths fast path
// first and falling back to routing.FindPath. On success it returns the
// SENDPAYMENT event to schedule after RoutingLatency; on failure,
// payment.Error is set in place and nil is returned.
func FindPath(net *network.Network, kp *routing.KnownPaths, useKnownPaths bool, payment *Payment, now int64) []Emit {
	payment.Attempts++

	if payment.IsExpiredAt(now) {
		payment.SetExpired(now)
		return nil
	}

	src := net.Node(payment.Sender)
	dest := net.Node(payment.Receiver)

	var hops []routing.Hop
	var err error

	useKnown := useKnownPaths && payment.Attempts == 1 && src.Custodian != -1 && dest.Custodian != -1
	if useKnown && src.Custodian != dest.Custodian {
		_, useKnown = kp.Get(src.Custodian, dest.Custodian)
	}

	if useKnown {
		hops, err = buildKnownPath(net, kp, src, dest, payment)
	} else {
		hops, err = routing.FindPath(net, payment.Sender, payment.Receiver, payment.LastHopID, payment.Amount, time.UnixMilli(now))
	}

	if err != nil || hops == nil {
		if payment.Error.Type == ErrNone {
			payment.Error = PaymentError{Type: ErrNoCapacity, Time: now}
		}
		payment.EndTime = now
		return nil
	}

	payment.Route = routing.BuildRoute(hops, payment.Amount, net)
	return []Emit{{Kind: executor.KindSendPayment, Receiver: executor.LPID(payment.Sender), DelayMs: RoutingLatency, Payment: payment}}
}

// buildKnownPath stitches together the precomputed custodian-to-custodian
// hop list from kp with the sender's and receiver's first/last custodian
// hops.
func buildKnownPath(net *network.Network, kp *routing.KnownPaths, src, dest *network.Node, payment *Payment) ([]routing.Hop, error) {
	mid, _ := kp.Get(src.Custodian, dest.Custodian)

	path := make([]routing.Hop, 0, len(mid)+2)
	path = append(path, routing.Hop{
		Sender:   payment.Sender,
		Receiver: src.Custodian,
		Edge:     src.OutEdges[0],
	})
	path = append(path, mid...)
	path = append(path, routing.Hop{
		Sender:   dest.Custodian,
		Receiver: payment.Receiver,
		Edge:     net.Edge(dest.OutEdges[0]).CounterEdge,
	})
	return path, nil
}

// SendPayment is the sender's behavior on the first hop of a route; rng
// draws the inter-hop latency. The returned bool is true iff it actually
// mutated edge state, which the caller records on the event's Bitfield so
// Reverse knows whether to undo it.
func SendPayment(net *network.Network, payment *Payment, now int64, rng *executor.Stream) ([]Emit, bool) {
	firstHop := &payment.Route.Hops[0]
	nextEdge := net.Edge(firstHop.EdgeID)
	if !net.HasEdge(payment.Sender, nextEdge.ID) {
		panic(errors.Errorf("htlc: edge %d is not an edge of node %d", nextEdge.ID, payment.Sender))
	}

	if firstHop.AmountToForward > nextEdge.Balance {
		payment.Error = PaymentError{Type: ErrNoBalance, Hop: firstHop, Time: now}
		payment.NoBalanceCount++
		return []Emit{{Kind: executor.KindReceiveFail, Receiver: executor.LPID(payment.Sender), DelayMs: 10, Payment: payment}}, false
	}

	nextEdge.Balance -= firstHop.AmountToForward
	nextEdge.TotFlows++

	kind := executor.KindForwardPayment
	if firstHop.ToNodeID == payment.Receiver {
		kind = executor.KindReceivePayment
	}
	delay := int64(rng.Gamma(GammaAlpha, GammaBeta))
	return []Emit{{Kind: kind, Receiver: executor.LPID(firstHop.ToNodeID), DelayMs: delay, Payment: payment}}, true
}

// ForwardPayment is an intermediate hop's behavior, including the
// waterfall await-deposit branch. nodeID is the acting node (the composite
// node LP always calls this with its own node id).
func ForwardPayment(net *network.Network, nodeID network.NodeID, payment *Payment, now int64, rng *executor.Stream, waterfallEnabled bool) ([]Emit, bool) {
	route := payment.Route.Hops
	nextHop := routeHop(nodeID, route, true)
	nextEdge := net.Edge(nextHop.EdgeID)
	nextNode := net.Node(nextEdge.To)
	prevHop := routeHop(nodeID, route, false)
	prevEdge := net.Edge(prevHop.EdgeID)

	if !net.HasEdge(nodeID, nextHop.EdgeID) {
		panic(errors.Errorf("htlc: edge %d is not an edge of node %d", nextHop.EdgeID, nodeID))
	}

	// Nodes are never flagged offline in the current model; the branch is
	// kept dormant until an offline-probability knob exists. The receiver
	// itself is assumed always online.
	isNextNodeOffline := false
	if isNextNodeOffline && nextHop.ToNodeID != payment.Receiver {
		payment.OfflineNodeCount++
		payment.Error = PaymentError{Type: ErrOfflineNode, Hop: nextHop, Time: now}
		prevNodeID := prevHop.FromNodeID
		kind := executor.KindForwardFail
		if prevNodeID == payment.Sender {
			kind = executor.KindReceiveFail
		}
		delay := OfflineLatency + int64(rng.Gamma(GammaAlpha, GammaBeta))
		return []Emit{{Kind: kind, Receiver: executor.LPID(prevNodeID), DelayMs: delay, Payment: payment}}, false
	}

	canSendHTLC := checkBalanceAndPolicy(nextEdge, prevEdge, prevHop, nextHop)

	awaitWaterfall := waterfallEnabled &&
		!canSendHTLC &&
		payment.Type == TypeTX &&
		net.Node(nodeID).Type == network.NodeIntermediary &&
		nextNode.ID == payment.Receiver &&
		(nextNode.Type == network.NodeEndUser || nextNode.Type == network.NodeMerchant) &&
		now < payment.StartTime+ExpiresAfterMs

	if awaitWaterfall {
		var emits []Emit
		if payment.Error.Type == ErrNone {
			payment.Error = PaymentError{Type: ErrNoBalance, Time: now}
			emits = append(emits, Emit{
				Kind: executor.KindNotifyPayment, Receiver: executor.LPID(payment.Receiver),
				DelayMs: int64(rng.Gamma(GammaAlpha, GammaBeta)), Payment: payment,
			})
		}
		emits = append(emits, Emit{
			Kind: executor.KindForwardPayment, Receiver: executor.LPID(nodeID),
			DelayMs: int64(rng.Gamma(GammaAlpha, GammaBeta)), Payment: payment,
		})
		return emits, false
	}

	if !canSendHTLC {
		payment.Error = PaymentError{Type: ErrNoBalance, Hop: nextHop, Time: now}
		payment.NoBalanceCount++
		prevNodeID := prevHop.FromNodeID
		kind := executor.KindForwardFail
		if prevNodeID == payment.Sender {
			kind = executor.KindReceiveFail
		}
		return []Emit{{Kind: kind, Receiver: executor.LPID(prevNodeID), DelayMs: int64(rng.Gamma(GammaAlpha, GammaBeta)), Payment: payment}}, false
	}

	nextEdge.Balance -= nextHop.AmountToForward
	nextEdge.TotFlows++

	kind := executor.KindForwardPayment
	if nextHop.ToNodeID == payment.Receiver {
		kind = executor.KindReceivePayment
	}
	return []Emit{{Kind: kind, Receiver: executor.LPID(nextHop.ToNodeID), DelayMs: int64(rng.Gamma(GammaAlpha, GammaBeta)), Payment: payment}}, true
}

// ReceivePayment is the receiver's behavior, including the
// reverse-waterfall withdrawal-resume hook.
func ReceivePayment(net *network.Network, nodeID network.NodeID, payment *Payment, now int64, rng *executor.Stream) []Emit {
	route := payment.Route.Hops
	lastHop := &route[len(route)-1]
	forwardEdge := net.Edge(lastHop.EdgeID)
	backwardEdge := net.CounterEdge(forwardEdge)

	if !net.HasEdge(nodeID, backwardEdge.ID) {
		panic(errors.Errorf("htlc: edge %d is not an edge of node %d", backwardEdge.ID, nodeID))
	}

	backwardEdge.Balance += lastHop.AmountToForward
	payment.IsSuccess = true

	prevNodeID := lastHop.FromNodeID
	kind := executor.KindReceiveSuccess
	if prevNodeID != payment.Sender {
		kind = executor.KindForwardSuccess
	}
	emits := []Emit{{Kind: kind, Receiver: executor.LPID(prevNodeID), DelayMs: int64(rng.Gamma(GammaAlpha, GammaBeta)), Payment: payment}}

	if payment.Type == TypeWithdrawal {
		node := net.Node(nodeID)
		if node.PendingOnWithdrawal != nil && node.PendingOnWithdrawal.WithdrawalID == uint64(payment.ID) {
			if awaiting, ok := node.PendingOnWithdrawal.Payment.(*Payment); ok {
				emits = append(emits, Emit{
					Kind: executor.KindFindPath, Receiver: executor.LPID(awaiting.Sender),
					DelayMs: FindPathRetryMs, Payment: awaiting,
				})
			}
		}
	}
	return emits
}

// ForwardSuccess relays an HTLC success back toward the sender, crediting
// this hop's backward edge as the preimage reveal settles it.
func ForwardSuccess(net *network.Network, nodeID network.NodeID, payment *Payment, rng *executor.Stream) []Emit {
	prevHop := routeHop(nodeID, payment.Route.Hops, false)
	forwardEdge := net.Edge(prevHop.EdgeID)
	backwardEdge := net.CounterEdge(forwardEdge)

	if !net.HasEdge(nodeID, backwardEdge.ID) {
		panic(errors.Errorf("htlc: edge %d is not an edge of node %d", backwardEdge.ID, nodeID))
	}

	backwardEdge.Balance += prevHop.AmountToForward

	prevNodeID := prevHop.FromNodeID
	kind := executor.KindReceiveSuccess
	if prevNodeID != payment.Sender {
		kind = executor.KindForwardSuccess
	}
	return []Emit{{Kind: kind, Receiver: executor.LPID(prevNodeID), DelayMs: int64(rng.Gamma(GammaAlpha, GammaBeta)), Payment: payment}}
}

// ReceiveSuccess finalizes a successful payment at the sender.
func ReceiveSuccess(payment *Payment, now int64) {
	payment.EndTime = now
}

// ForwardFail relays an HTLC failure back toward the sender, unwinding
// the balance this hop reserved.
func ForwardFail(net *network.Network, nodeID network.NodeID, payment *Payment, rng *executor.Stream) []Emit {
	nextHop := routeHop(nodeID, payment.Route.Hops, true)
	nextEdge := net.Edge(nextHop.EdgeID)

	if !net.HasEdge(nodeID, nextEdge.ID) {
		panic(errors.Errorf("htlc: edge %d is not an edge of node %d", nextEdge.ID, nodeID))
	}

	nextEdge.Balance += nextHop.AmountToForward

	prevHop := routeHop(nodeID, payment.Route.Hops, false)
	prevNodeID := prevHop.FromNodeID
	kind := executor.KindForwardFail
	if prevNodeID == payment.Sender {
		kind = executor.KindReceiveFail
	}
	return []Emit{{Kind: kind, Receiver: executor.LPID(prevNodeID), DelayMs: int64(rng.Gamma(GammaAlpha, GammaBeta)), Payment: payment}}
}

// ReceiveFail is the sender's behavior on an HTLC failure: unwind the
// first hop's reserved balance (unless the failure originated there, since
// then it was never reserved) and retry pathfinding.
func ReceiveFail(net *network.Network, nodeID network.NodeID, payment *Payment) []Emit {
	errorHop := payment.Error.Hop
	if errorHop != nil && errorHop.FromNodeID != payment.Sender {
		firstHop := &payment.Route.Hops[0]
		nextEdge := net.Edge(firstHop.EdgeID)
		if !net.HasEdge(nodeID, nextEdge.ID) {
			panic(errors.Errorf("htlc: edge %d is not an edge of node %d", nextEdge.ID, nodeID))
		}
		nextEdge.Balance += firstHop.AmountToForward
	}

	return []Emit{{Kind: executor.KindFindPath, Receiver: executor.LPID(payment.Sender), DelayMs: FindPathRetryMs, Payment: payment}}
}

// NotifyPayment is the waterfall overlay's deposit trigger: the receiver
// asks its custodian for an on-chain deposit sized to cover at least the
// pending payment.
func NotifyPayment(net *network.Network, nodeID network.NodeID, payment *Payment, now int64, rng *executor.Stream, store *Store) []Emit {
	if nodeID != payment.Receiver {
		panic(errors.Errorf("htlc: node %d is not payment %d's receiver", nodeID, payment.ID))
	}

	node := net.Node(nodeID)
	amountD := waterfall.DepositAmount(node.AvailableBalance(net), payment.Amount, node.WalletCapacity(net))

	deposit := store.New(nodeID, node.Custodian, amountD, now, TypeDeposit)
	delay := FindPathRetryMs + 2*int64(rng.Gamma(GammaAlpha, GammaBeta))
	return []Emit{{Kind: executor.KindFindPath, Receiver: executor.LPID(deposit.Sender), DelayMs: delay, Payment: deposit}}
}
