// Package htlc implements the hop-by-hop HTLC payment protocol: find-path,
// send, forward, receive, and the success/fail return trips, each as a
// forward/reverse/commit handler triplet registered on a node's
// executor.LP. It generalizes lnd's htlcswitch/link.go state machine and
// routing/missioncontrol.go result-learning logic from a live peer-to-peer
// switch to the simulator's discrete-event setting.
package htlc

import (
	"sort"
	"sync"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/routing"
)

// Type classifies why a payment exists: an ordinary transaction, a
// waterfall deposit, a reverse-waterfall withdrawal, or a submarine swap
// leg.
type Type uint8

const (
	TypeTX Type = iota
	TypeDeposit
	TypeWithdrawal
	TypeSubmarineSwap
)

// ErrorType classifies why a payment attempt failed.
type ErrorType uint8

const (
	ErrNone ErrorType = iota
	ErrNoBalance
	ErrOfflineNode // FailUnknownNextPeer in lnd's terminology
	ErrNoCapacity  // no path could be found at all
)

// PaymentError records where and why an attempt failed.
type PaymentError struct {
	Type ErrorType
	Hop  *routing.RouteHop
	Time int64
}

// ID identifies a payment for the lifetime of a simulation run.
type ID uint64

// Payment is one attempted transfer from Sender to Receiver, along with
// whatever route-finding and in-flight state the protocol has accumulated
// so far.
type Payment struct {
	ID       ID
	Sender   network.NodeID
	Receiver network.NodeID
	Amount   money.Sat

	// LastHopID names a required penultimate hop (mimicking BOLT11's `r`
	// routing-hint field), or routing.NoLastHop for none.
	LastHopID network.NodeID

	Route *routing.Route

	StartTime int64
	EndTime   int64
	Attempts  int
	Error     PaymentError

	IsSuccess        bool
	OfflineNodeCount int
	NoBalanceCount   int
	IsExpired        bool
	Type             Type

	// ExpiryMs overrides ExpiresAfterMs for this payment when non-zero.
	// Submarine-swap legs are assumed to expire after ten block intervals
	// rather than the ordinary payment TTL.
	ExpiryMs int64
}

// Envelope is the rollback snapshot of a payment's mutable bookkeeping
// fields: the attempt count, route, error record, terminal stamps and
// failure counters a forward handler may overwrite. The store shares one
// Payment record across every event that references it, so a reverse
// handler cannot simply discard a per-event copy the way a
// serialize/deserialize design would — it must put these fields back
// explicitly. The node LP takes a Snapshot before dispatching any
// payment-mutating forward handler and Restores it on reverse.
type Envelope struct {
	Attempts         int
	Route            *routing.Route
	Error            PaymentError
	EndTime          int64
	IsSuccess        bool
	IsExpired        bool
	NoBalanceCount   int
	OfflineNodeCount int
}

// Snapshot captures the payment's current envelope fields.
func (p *Payment) Snapshot() Envelope {
	return Envelope{
		Attempts:         p.Attempts,
		Route:            p.Route,
		Error:            p.Error,
		EndTime:          p.EndTime,
		IsSuccess:        p.IsSuccess,
		IsExpired:        p.IsExpired,
		NoBalanceCount:   p.NoBalanceCount,
		OfflineNodeCount: p.OfflineNodeCount,
	}
}

// Restore puts a previously captured envelope back, undoing every
// bookkeeping mutation the forward handler made between Snapshot and now.
func (p *Payment) Restore(e Envelope) {
	p.Attempts = e.Attempts
	p.Route = e.Route
	p.Error = e.Error
	p.EndTime = e.EndTime
	p.IsSuccess = e.IsSuccess
	p.IsExpired = e.IsExpired
	p.NoBalanceCount = e.NoBalanceCount
	p.OfflineNodeCount = e.OfflineNodeCount
}

// ExpiresAfterMs is the default payment timeout in milliseconds: a
// payment whose find-path keeps failing is given up as expired once it has
// been in flight this long.
const ExpiresAfterMs = 10_000

// IsExpiredAt reports whether payment has outlived its TTL measured from
// its StartTime.
func (p *Payment) IsExpiredAt(now int64) bool {
	ttl := int64(ExpiresAfterMs)
	if p.ExpiryMs != 0 {
		ttl = p.ExpiryMs
	}
	return now > p.StartTime+ttl
}

// SetExpired marks the payment as having timed out at now.
func (p *Payment) SetExpired(now int64) {
	p.IsExpired = true
	p.EndTime = now
}

// Store is the process-wide table of in-flight and completed payments,
// addressed by ID. Events carry a Payment's ID rather than a full
// wire-encoded copy of it: a route can have up to routing.HopsLimit hops,
// and a faithfully-sized encoding of all of their fields does not fit the
// executor's 1024-byte event payload, so the payload instead carries an
// 8-byte reference into Store (see wire.go).
type Store struct {
	mu       sync.Mutex
	payments map[ID]*Payment
}

// NewStore returns an empty payment store.
func NewStore() *Store {
	return &Store{payments: make(map[ID]*Payment)}
}

// New creates and stores a new payment, returning it. The identity is
// 1e9*sender + start_time, unique as long as node ids and the simulated
// duration stay within their documented bounds; the rare
// same-sender-same-millisecond collision (a waterfall deposit created in
// the same tick as a generated tx) is disambiguated by bumping into the
// next free id, since the store keys payments by their id.
func (s *Store) New(sender, receiver network.NodeID, amount money.Sat, startTime int64, typ Type) *Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ID(uint64(sender)*1_000_000_000 + uint64(startTime))
	for {
		if _, taken := s.payments[id]; !taken {
			break
		}
		id++
	}

	p := &Payment{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		LastHopID: routing.NoLastHop,
		StartTime: startTime,
		Type:      typ,
	}
	s.payments[p.ID] = p
	return p
}

// Get retrieves a payment by ID.
func (s *Store) Get(id ID) (*Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

// Delete removes a payment from the store once its outcome has been
// recorded.
func (s *Store) Delete(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payments, id)
}

// All returns every stored payment sorted by id, the sweep the final
// output pass runs once the simulation has reached quiescence.
func (s *Store) All() []*Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
