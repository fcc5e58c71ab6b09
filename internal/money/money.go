// Package money defines the fixed-point amount type used throughout the
// simulator. It mirrors lnwire.MilliSatoshi: a plain integer wrapper with
// formatting helpers, rather than a floating point amount, so that balance
// arithmetic never loses precision.
package money

import "fmt"

// Sat is an amount denominated in satoshis, the unit every edge balance,
// channel capacity and payment amount in the simulator is expressed in.
type Sat uint64

// String returns the amount as a human-readable satoshi value.
func (s Sat) String() string {
	return fmt.Sprintf("%d sat", uint64(s))
}

// Policy is the per-edge forwarding policy: base fee, proportional fee (in
// parts per million), minimum forwardable amount and timelock delta.
type Policy struct {
	BaseFee         Sat
	FeeProportional uint32
	MinHTLC         Sat
	Timelock        uint32
}

// Fee computes the fee an edge charges to forward amt, the same
// base-plus-proportional (parts per million) formula lnd's htlcswitch
// applies.
func (p Policy) Fee(amt Sat) Sat {
	return p.BaseFee + Sat(uint64(p.FeeProportional)*uint64(amt)/1e6)
}
