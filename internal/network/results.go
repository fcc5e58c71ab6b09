package network

import (
	"time"

	"github.com/lightningnetwork/plasma-sim/internal/money"
)

// PairResult is the outcome a sender remembers for one (from-node, to-node)
// pair, the two endpoints of a route hop: the per-node learning state the routing probability
// model blends with the time-decayed a-priori estimate.
type PairResult struct {
	// SuccessAmount is the largest amount known to have succeeded through
	// this pair; amounts at or below it are assumed to still succeed.
	SuccessAmount money.Sat

	// SuccessTime is when SuccessAmount was last confirmed.
	SuccessTime time.Time

	// FailAmount is the smallest amount known to have failed (insufficient
	// balance or a downstream forwarding failure); amounts at or above it
	// are assumed to still fail, until the failure ages out.
	FailAmount money.Sat

	// FailTime is when FailAmount was recorded, used to apply the
	// PENALTY_HALF_LIFE exponential decay so an old failure stops
	// suppressing a route forever.
	FailTime time.Time
}

// DefaultFailSuppressionWindow is how long a repeated failure report for a
// larger amount is ignored after a fresher, smaller one, damping
// correlated failure storms. The original hard-codes the 60 seconds; here
// it is a per-store field so it can be tuned.
const DefaultFailSuppressionWindow = 60 * time.Second

// ResultStore is a node's private table of PairResult entries, keyed by
// a hop's (from-node, to-node). Only the owning node's LP ever reads
// or writes it; no sharing across LPs.
type ResultStore struct {
	// FailSuppressionWindow gates RecordFailure's growing-amount
	// suppression; see DefaultFailSuppressionWindow.
	FailSuppressionWindow time.Duration

	entries map[pairKey]PairResult
}

type pairKey struct {
	NextHop     NodeID
	Destination NodeID
}

// NewResultStore returns an empty result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		FailSuppressionWindow: DefaultFailSuppressionWindow,
		entries:               make(map[pairKey]PairResult),
	}
}

// Get looks up the remembered result for (nextHop, dest), if any.
func (s *ResultStore) Get(nextHop, dest NodeID) (PairResult, bool) {
	r, ok := s.entries[pairKey{nextHop, dest}]
	return r, ok
}

// PairsFor returns every recorded result for next-hop nextHop, across all
// destinations, used by the node-probability aggregate estimate. A nil
// return means the sender has no experience at all forwarding through
// nextHop.
func (s *ResultStore) PairsFor(nextHop NodeID) []PairResult {
	var out []PairResult
	for k, r := range s.entries {
		if k.NextHop == nextHop {
			out = append(out, r)
		}
	}
	return out
}

// RecordSuccess raises the remembered success amount for (nextHop, dest)
// to at least amt, the set_node_pair_result_success update: a success
// larger than a recorded failure pushes the fail threshold just past it,
// so the pair keeps satisfying success < fail.
func (s *ResultStore) RecordSuccess(nextHop, dest NodeID, amt money.Sat, now time.Time) {
	k := pairKey{nextHop, dest}
	r := s.entries[k]
	r.SuccessTime = now
	if amt > r.SuccessAmount {
		r.SuccessAmount = amt
	}
	if !r.FailTime.IsZero() && r.SuccessAmount > r.FailAmount {
		r.FailAmount = amt + 1
	}
	s.entries[k] = r
}

// RecordFailure replaces the remembered fail amount for (nextHop, dest)
// and stamps FailTime, the set_node_pair_result_fail update. A report for
// a *larger* amount than the standing failure is dropped while the
// suppression window is still open (damping correlated failure storms);
// same-or-smaller amounts always land and reset the decay clock. A fail
// at amount 0 means the node is unreachable at any amount and clears the
// success record; otherwise a fail at or below the known success amount
// drags the success threshold down to just under it.
func (s *ResultStore) RecordFailure(nextHop, dest NodeID, amt money.Sat, now time.Time) {
	k := pairKey{nextHop, dest}
	r, exists := s.entries[k]
	if exists && amt > r.FailAmount && now.Sub(r.FailTime) < s.FailSuppressionWindow {
		return
	}

	r.FailAmount = amt
	r.FailTime = now
	switch {
	case amt == 0:
		r.SuccessAmount = 0
	case amt <= r.SuccessAmount:
		r.SuccessAmount = amt - 1
	}
	s.entries[k] = r
}
