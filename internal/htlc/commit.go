package htlc

import (
	"time"

	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// ProcessSuccessResult records a success against every hop of payment's
// route in node's result store. It runs at commit time (RECEIVESUCCESS),
// never at forward time, since only a committed outcome is safe from
// rollback.
func ProcessSuccessResult(node *network.Node, payment *Payment, now int64) {
	for i := range payment.Route.Hops {
		hop := &payment.Route.Hops[i]
		node.Results.RecordSuccess(hop.FromNodeID, hop.ToNodeID, hop.AmountToForward, time.UnixMilli(now))
	}
}

// ProcessFailResult records a failure against the hop (or hop pair) that
// actually caused payment to fail.
//
// A failure originating at the sender itself is never recorded (lnd's
// processPaymentOutcomeSelf: the sender already knows its own balance), an
// OFFLINENODE failure is recorded symmetrically in both directions of the
// pair (the sender can't tell whether the node or the channel is the
// problem), and a NOBALANCE failure walks the route from the start
// recording every earlier hop as a success (they did forward correctly) up
// to, and including as a failure, the hop whose edge matches the error.
func ProcessFailResult(node *network.Node, payment *Payment, now int64) {
	errorHop := payment.Error.Hop
	if errorHop == nil || errorHop.FromNodeID == payment.Sender {
		return
	}

	switch payment.Error.Type {
	case ErrOfflineNode:
		node.Results.RecordFailure(errorHop.FromNodeID, errorHop.ToNodeID, 0, time.UnixMilli(now))
		node.Results.RecordFailure(errorHop.ToNodeID, errorHop.FromNodeID, 0, time.UnixMilli(now))
	case ErrNoBalance:
		for i := range payment.Route.Hops {
			hop := &payment.Route.Hops[i]
			if hop.EdgeID == errorHop.EdgeID {
				node.Results.RecordFailure(hop.FromNodeID, hop.ToNodeID, hop.AmountToForward, time.UnixMilli(now))
				return
			}
			node.Results.RecordSuccess(hop.FromNodeID, hop.ToNodeID, hop.AmountToForward, time.UnixMilli(now))
		}
	}
}
