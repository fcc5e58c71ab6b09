// Package routing implements pathfinding: a modified Dijkstra search that
// blends fee, timelock risk and a time-decayed empirical success
// probability into a single edge weight, generalized from lnd's
// routing/pathfind.go to the custodial payment-channel-network domain.
package routing

import (
	"errors"
	"math"
	"time"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// Pathfinding tunables, the same family of knobs lnd's routing/pathfind.go
// exposes (RiskFactor, AprioriHopProbability, PaymentAttemptPenalty and
// friends).
const (
	HopsLimit             = 27
	FinalTimelock         = 40
	TimelockLimit         = 2016 + FinalTimelock
	ProbabilityLimit      = 0.01
	RiskFactor            = 15
	PaymentAttemptPenalty = 100_000
	AprioriWeight         = 0.5
	AprioriHopProbability = 0.6
	PrevSuccessProbability = 0.95
	PenaltyHalfLifeHours  = 1.0
	MinProbability        = 0.00001
)

// NoLastHop signals dijkstra should route directly to Target with no
// last-hop hint.
const NoLastHop network.NodeID = -1

// InfiniteDistance marks a node as unreached by the Dijkstra frontier.
const InfiniteDistance uint64 = math.MaxUint64

var (
	// ErrNoLocalBalance means the sender's total outbound balance (or the
	// hinted last hop's inbound edge) cannot cover the payment regardless
	// of path.
	ErrNoLocalBalance = errors.New("routing: sender has insufficient local balance")

	// ErrNoPath means a channel exists with enough capacity somewhere
	// but no path satisfying fees/timelock/probability constraints could
	// be found.
	ErrNoPath = errors.New("routing: no path found")
)

// Hop is one step of a found path: walk edge from Sender to Receiver.
type Hop struct {
	Sender   network.NodeID
	Edge     network.EdgeID
	Receiver network.NodeID
}

// RouteHop is a fully costed hop, ready to become an HTLC add at each node
// along the route.
type RouteHop struct {
	FromNodeID      network.NodeID
	ToNodeID        network.NodeID
	EdgeID          network.EdgeID
	AmountToForward money.Sat
	Timelock        uint32
}

// Route is a costed path from sender to receiver.
type Route struct {
	Hops          []RouteHop
	TotalAmount   money.Sat
	TotalTimelock uint32
	TotalFee      money.Sat
}

// millisecToHours converts a millisecond duration to hours, the unit
// PenaltyHalfLifeHours is expressed in.
func millisecToHours(d time.Duration) float64 {
	return d.Hours()
}

// decayWeight returns the [0,1] weight a failure recorded `age` ago still
// carries, halving every PenaltyHalfLifeHours.
func decayWeight(age time.Duration) float64 {
	exp := -millisecToHours(age) / PenaltyHalfLifeHours
	return math.Pow(2, exp)
}
