package routing

import (
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// BuildRoute transforms a path found by FindPath into a costed Route:
// each hop's amount-to-forward and timelock are computed working backward
// from the destination, a variant of lnd's routing.newRoute without the
// per-hop Sphinx onion payloads.
func BuildRoute(hops []Hop, destAmt money.Sat, net *network.Network) *Route {
	n := len(hops)
	route := &Route{Hops: make([]RouteHop, n)}

	var nextAmount money.Sat
	var nextTimelock uint32
	var nextPolicy money.Policy

	for i := n - 1; i >= 0; i-- {
		h := hops[i]
		edge := net.Edge(h.Edge)
		policy := edge.Policy

		var rh RouteHop
		rh.FromNodeID = h.Sender
		rh.ToNodeID = h.Receiver
		rh.EdgeID = h.Edge

		if i == n-1 {
			rh.AmountToForward = destAmt
			rh.Timelock = FinalTimelock
			route.TotalAmount += destAmt
			route.TotalTimelock += FinalTimelock
		} else {
			fee := nextPolicy.Fee(nextAmount)
			rh.AmountToForward = nextAmount + fee
			rh.Timelock = nextTimelock + policy.Timelock
			route.TotalAmount += fee
			route.TotalFee += fee
			route.TotalTimelock += policy.Timelock
		}

		route.Hops[i] = rh
		nextAmount = rh.AmountToForward
		nextTimelock = rh.Timelock
		nextPolicy = policy
	}

	return route
}
