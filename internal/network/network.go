// Package network models the static payment-channel topology: nodes,
// bidirectional channels and the directed edges that realize them.
//
// The graph is cyclic with back-references (a channel points at its two
// edges; an edge points at its channel and its counter-edge), so it is
// stored as an arena of three slices (Nodes, Channels, Edges) addressed by
// index, the same way lnd's channeldb treats channel-edge records as flat,
// independently-addressable rows rather than an object graph of
// pointers.
package network

import "github.com/lightningnetwork/plasma-sim/internal/money"

// NodeID indexes Network.Nodes.
type NodeID int32

// ChannelID indexes Network.Channels.
type ChannelID int32

// EdgeID indexes Network.Edges.
type EdgeID int32

// NodeType classifies a node's role, mirroring the label prefixes in
// plasma_network_nodes.csv: "CB", "Intermediary", "Retail", "Merchant".
type NodeType uint8

const (
	NodeEndUser NodeType = iota
	NodeMerchant
	NodeIntermediary
	NodeCentralBank
)

// String implements fmt.Stringer for log messages and CSV output.
func (t NodeType) String() string {
	switch t {
	case NodeEndUser:
		return "end-user"
	case NodeMerchant:
		return "merchant"
	case NodeIntermediary:
		return "intermediary"
	case NodeCentralBank:
		return "central-bank"
	default:
		return "unknown"
	}
}

// PendingWithdrawal tracks the tx parked by the reverse-waterfall overlay
// while its triggering withdrawal is in flight.
type PendingWithdrawal struct {
	WithdrawalID uint64
	Payment      interface{} // *htlc.Payment; kept untyped here to avoid an import cycle
}

// Node is a vertex in the topology.
type Node struct {
	ID         NodeID
	Label      string
	Type       NodeType
	Country    string
	Partition  uint32

	// Custodian is the node's intermediary, used by the known-paths fast
	// path; -1 means the node has no custodian on file.
	Custodian NodeID

	// OutEdges lists the directed edges this node owns the origin side
	// of. Mutations to edge balance/flow counters are only ever
	// performed by the LP that owns this node.
	OutEdges []EdgeID

	// Results is this node's learned node-pair result store. It belongs
	// exclusively to this node and is never read by others.
	Results *ResultStore

	// PendingOnWithdrawal holds a tx parked behind an in-flight
	// reverse-waterfall withdrawal, or nil.
	PendingOnWithdrawal *PendingWithdrawal

	// OpenSwaps is the set of submarine swaps this node currently has
	// outstanding.
	OpenSwaps []int
}

// WalletCapacity returns the sum of the capacities of the node's
// channels, used by the waterfall deposit-size formula.
func (n *Node) WalletCapacity(net *Network) money.Sat {
	var total money.Sat
	for _, eid := range n.OutEdges {
		e := net.Edge(eid)
		total += net.Channel(e.ChannelID).Capacity
	}
	return total
}

// AvailableBalance returns the sum of the node's outbound edge balances,
// i.e. what it can immediately spend.
func (n *Node) AvailableBalance(net *Network) money.Sat {
	var total money.Sat
	for _, eid := range n.OutEdges {
		total += net.Edge(eid).Balance
	}
	return total
}

// Channel is a bidirectional link between two nodes, realized by a pair of
// directed edges.
type Channel struct {
	ID        ChannelID
	Node1     NodeID
	Node2     NodeID
	Capacity  money.Sat
	Edge1     EdgeID
	Edge2     EdgeID
	IsPrivate bool
}

// Edge is a directed, mutable half of a channel.
//
// Invariant: Edge.Balance + CounterEdge.Balance == Channel.Capacity at
// every quiescent instant (i.e. between committed events).
type Edge struct {
	ID          EdgeID
	ChannelID   ChannelID
	CounterEdge EdgeID
	From        NodeID
	To          NodeID
	Balance     money.Sat
	Policy      money.Policy
	TotFlows    uint64
}

// Network is the arena holding the whole topology. Once loaded it is
// shared-immutable except for the mutable Balance/TotFlows fields of Edge,
// which are owned exclusively by the LP running Edge.From.
type Network struct {
	Nodes    []Node
	Channels []Channel
	Edges    []Edge
}

// New builds an empty arena sized for nNodes/nChannels/nEdges, avoiding
// reallocation during fixture loading.
func New(nNodes, nChannels, nEdges int) *Network {
	return &Network{
		Nodes:    make([]Node, 0, nNodes),
		Channels: make([]Channel, 0, nChannels),
		Edges:    make([]Edge, 0, nEdges),
	}
}

// Node returns a pointer into the arena for in-place mutation.
func (n *Network) Node(id NodeID) *Node { return &n.Nodes[id] }

// Channel returns a pointer into the arena for in-place mutation.
func (n *Network) Channel(id ChannelID) *Channel { return &n.Channels[id] }

// Edge returns a pointer into the arena for in-place mutation.
func (n *Network) Edge(id EdgeID) *Edge { return &n.Edges[id] }

// CounterEdge is a convenience accessor for e's reverse-direction edge.
func (n *Network) CounterEdge(e *Edge) *Edge { return &n.Edges[e.CounterEdge] }

// HasEdge reports whether edge id is among node id's owned outbound
// edges, the guard every forward/receive handler runs before mutating
// state.
func (n *Network) HasEdge(nodeID NodeID, edgeID EdgeID) bool {
	for _, e := range n.Nodes[nodeID].OutEdges {
		if e == edgeID {
			return true
		}
	}
	return false
}
