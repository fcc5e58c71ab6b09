// Package swap implements submarine swaps: the overlay that lets two
// adjacent intermediaries rebalance a draining channel by routing a swap
// payment back over the very channel that is unbalanced, settling the
// difference on layer 1. It is composed the same way internal/htlc is:
// pure functions the node LP's dispatch table calls, operating on a
// per-node set of open swaps.
package swap

import (
	"sync"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// State is a swap's lifecycle stage.
type State uint8

const (
	Requested State = iota
	L1Prepared
	L1Claimed
)

func (s State) String() string {
	switch s {
	case Requested:
		return "REQUESTED"
	case L1Prepared:
		return "L1_PREPARED"
	case L1Claimed:
		return "L1_CLAIMED"
	default:
		return "UNKNOWN"
	}
}

// ID addresses a swap within a Store.
type ID uint64

// Swap is one submarine swap in progress. Sender is the node that will
// pay the submarine (off-chain) leg; Receiver is the node that will pay
// the on-chain leg.
//
// Every node that knows about a swap holds its own local copy (a node
// receiving a SWAP_REQUEST allocates its own Swap), so ID is never carried
// on the wire — only the content fields are (see wire.go).
type Swap struct {
	ID ID

	Sender   network.NodeID
	Receiver network.NodeID
	Amount   money.Sat

	TriggerPaymentID uint64
	StartTime        int64
	State            State
}

// Store is a node-agnostic table of swaps, addressed by ID. Each node
// tracks which IDs belong to it in network.Node.OpenSwaps, the same
// relationship internal/htlc.Store has with payments.
type Store struct {
	mu     sync.Mutex
	nextID ID
	swaps  map[ID]*Swap
}

// NewStore returns an empty swap store.
func NewStore() *Store {
	return &Store{swaps: make(map[ID]*Swap)}
}

// New creates and stores a swap, returning it.
func (s *Store) New(sender, receiver network.NodeID, amount money.Sat, triggerPaymentID uint64, startTime int64) *Swap {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sw := &Swap{
		ID:               s.nextID,
		Sender:           sender,
		Receiver:         receiver,
		Amount:           amount,
		TriggerPaymentID: triggerPaymentID,
		StartTime:        startTime,
		State:            Requested,
	}
	s.swaps[sw.ID] = sw
	return sw
}

// Get retrieves a swap by ID.
func (s *Store) Get(id ID) (*Swap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.swaps[id]
	return sw, ok
}

// Delete removes a swap from the store.
func (s *Store) Delete(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.swaps, id)
}

// removeFromNode drops id from node's OpenSwaps list.
func removeFromNode(node *network.Node, id ID) {
	for i, existing := range node.OpenSwaps {
		if ID(existing) == id {
			node.OpenSwaps = append(node.OpenSwaps[:i], node.OpenSwaps[i+1:]...)
			return
		}
	}
}
