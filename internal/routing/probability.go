package routing

import (
	"time"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// calculateProbability blends the result recorded for (nextHop, dest)
// with the node's aggregate nodeProbability.
func calculateProbability(
	result network.PairResult, hasResult bool, amount money.Sat,
	nodeProbability float64, now time.Time,
) float64 {

	if !hasResult {
		return nodeProbability
	}
	if amount <= result.SuccessAmount {
		return PrevSuccessProbability
	}
	if result.FailTime.IsZero() || amount < result.FailAmount {
		return nodeProbability
	}

	age := now.Sub(result.FailTime)
	weight := decayWeight(age)
	return nodeProbability * (1 - weight)
}

// getNodeProbability is the weighted average, across every (nextHop, *)
// pair this sender has learned about, of empirical success vs. the decayed
// evidence of failure, blended against the a-priori hop probability by
// AprioriWeight.
func getNodeProbability(results []network.PairResult, amount money.Sat, now time.Time) float64 {
	if len(results) == 0 {
		return AprioriHopProbability
	}

	aprioriFactor := 1.0/(1.0-AprioriWeight) - 1
	totalProbabilities := AprioriHopProbability * aprioriFactor
	totalWeight := aprioriFactor

	for _, r := range results {
		if amount <= r.SuccessAmount {
			totalWeight++
			totalProbabilities += PrevSuccessProbability
			continue
		}
		if !r.FailTime.IsZero() && amount >= r.FailAmount {
			age := now.Sub(r.FailTime)
			totalWeight += decayWeight(age)
		}
	}

	return totalProbabilities / totalWeight
}

// edgeProbability is the full probability estimate for routing a payment
// of amount across the edge from->to, as seen by sender: if the sender has
// never dealt with from as a next hop, fall back to the bare a-priori
// probability; otherwise blend the sender's aggregate experience on from
// with whatever it specifically knows about reaching to via from.
func edgeProbability(
	sender *network.Node, from, to network.NodeID, amount money.Sat, now time.Time,
) float64 {

	if sender.Results == nil {
		return AprioriHopProbability
	}

	results := sender.Results.PairsFor(from)
	if results == nil {
		return AprioriHopProbability
	}

	var nodeProbability float64
	if from == sender.ID {
		nodeProbability = PrevSuccessProbability
	} else {
		nodeProbability = getNodeProbability(results, amount, now)
	}

	result, hasResult := sender.Results.Get(from, to)
	return calculateProbability(result, hasResult, amount, nodeProbability, now)
}

// probabilityBasedDistance folds a probability estimate into the Dijkstra
// distance metric: a lower probability adds a penalty inversely
// proportional to it, discouraging routes likely to fail outright.
func probabilityBasedDistance(weight float64, probability float64) uint64 {
	if probability < MinProbability {
		return InfiniteDistance
	}
	return uint64(weight + float64(PaymentAttemptPenalty)/probability)
}

// edgeWeight combines fee and a timelock-proportional risk penalty into a
// single cost, the same formula as lnd's edgeWeight in
// routing/pathfind.go.
func edgeWeight(amount money.Sat, fee money.Sat, timelock uint32) float64 {
	timelockPenalty := float64(amount) * float64(timelock) * RiskFactor / 1_000_000_000
	return timelockPenalty + float64(fee)
}
