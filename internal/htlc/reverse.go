package htlc

import "github.com/lightningnetwork/plasma-sim/internal/network"

// The functions below each undo the network-state mutation (edge balance
// and flow counter deltas) their forward counterpart performed; the
// balance-moving ones are only ever invoked when the forward call's
// bitfield recorded that it actually mutated edge state
// (SendPayment/ForwardPayment's bool return). The payment's own
// bookkeeping fields — attempt count, error record, failure counters,
// route, terminal stamps — are restored separately by the node LP from
// the Envelope snapshot it took before dispatching the forward handler,
// since the store shares one payment record across events.

// RevSendPayment undoes SendPayment's edge debit.
func RevSendPayment(net *network.Network, payment *Payment) {
	firstHop := &payment.Route.Hops[0]
	edge := net.Edge(firstHop.EdgeID)
	edge.Balance += firstHop.AmountToForward
	edge.TotFlows--
}

// RevForwardPayment undoes ForwardPayment's edge debit.
func RevForwardPayment(net *network.Network, nodeID network.NodeID, payment *Payment) {
	nextHop := routeHop(nodeID, payment.Route.Hops, true)
	edge := net.Edge(nextHop.EdgeID)
	edge.Balance += nextHop.AmountToForward
	edge.TotFlows--
}

// RevReceivePayment undoes ReceivePayment's backward-edge credit and puts
// the success mark back to the value it held before the event, which the
// caller recorded on the event's bitfield at forward time. The payment
// record is shared through the store, so leaving IsSuccess set after a
// rollback would report a cancelled receive as a completed payment.
func RevReceivePayment(net *network.Network, payment *Payment, wasSuccess bool) {
	route := payment.Route.Hops
	lastHop := &route[len(route)-1]
	forwardEdge := net.Edge(lastHop.EdgeID)
	backwardEdge := net.CounterEdge(forwardEdge)
	backwardEdge.Balance -= lastHop.AmountToForward

	payment.IsSuccess = wasSuccess
}

// RevForwardSuccess undoes ForwardSuccess's backward-edge credit.
func RevForwardSuccess(net *network.Network, nodeID network.NodeID, payment *Payment) {
	prevHop := routeHop(nodeID, payment.Route.Hops, false)
	forwardEdge := net.Edge(prevHop.EdgeID)
	backwardEdge := net.CounterEdge(forwardEdge)
	backwardEdge.Balance -= prevHop.AmountToForward
}

// RevReceiveSuccess undoes ReceiveSuccess's EndTime stamp.
func RevReceiveSuccess(payment *Payment) {
	payment.EndTime = 0
}

// RevForwardFail undoes ForwardFail's balance refund.
func RevForwardFail(net *network.Network, nodeID network.NodeID, payment *Payment) {
	nextHop := routeHop(nodeID, payment.Route.Hops, true)
	edge := net.Edge(nextHop.EdgeID)
	edge.Balance -= nextHop.AmountToForward
}

// RevReceiveFail undoes ReceiveFail's balance refund.
func RevReceiveFail(net *network.Network, payment *Payment) {
	errorHop := payment.Error.Hop
	if errorHop != nil && errorHop.FromNodeID != payment.Sender {
		firstHop := &payment.Route.Hops[0]
		edge := net.Edge(firstHop.EdgeID)
		edge.Balance -= firstHop.AmountToForward
	}
}

// RevNotifyPayment is a no-op: notify_payment's only effect (creating a new
// deposit payment in the store) rides on the FINDPATH event it emits, which
// has its own rollback path when that event is itself unwound.
func RevNotifyPayment() {}
