package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/htlc"
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/routing"
	"github.com/lightningnetwork/plasma-sim/internal/swap"
)

// noBlockchainLPID is used by tests that never exercise submarine swaps:
// with submarineSwapsEnabled false no event is ever addressed to it.
const noBlockchainLPID = executor.LPID(-1)

// buildChain is the node-package analogue of routing's buildChain test
// fixture: a straight line of n nodes with a symmetrically funded channel
// between every consecutive pair.
func buildChain(n int, capacity money.Sat) *network.Network {
	net := network.New(n, n-1, 2*(n-1))
	for i := 0; i < n; i++ {
		net.Nodes = append(net.Nodes, network.Node{
			ID: network.NodeID(i), Custodian: -1,
			Results: network.NewResultStore(),
		})
	}
	for i := 0; i < n-1; i++ {
		chID := network.ChannelID(i)
		e1, e2 := network.EdgeID(2*i), network.EdgeID(2*i+1)
		net.Channels = append(net.Channels, network.Channel{
			ID: chID, Node1: network.NodeID(i), Node2: network.NodeID(i + 1),
			Capacity: capacity, Edge1: e1, Edge2: e2,
		})
		net.Edges = append(net.Edges,
			network.Edge{ID: e1, ChannelID: chID, CounterEdge: e2,
				From: network.NodeID(i), To: network.NodeID(i + 1),
				Balance: capacity / 2, Policy: money.Policy{MinHTLC: 1, Timelock: 40}},
			network.Edge{ID: e2, ChannelID: chID, CounterEdge: e1,
				From: network.NodeID(i + 1), To: network.NodeID(i),
				Balance: capacity / 2, Policy: money.Policy{MinHTLC: 1, Timelock: 40}},
		)
		net.Nodes[i].OutEdges = append(net.Nodes[i].OutEdges, e1)
		net.Nodes[i+1].OutEdges = append(net.Nodes[i+1].OutEdges, e2)
	}
	return net
}

// TestPaymentRoundTripSucceeds drives a 3-node chain through the full
// FINDPATH -> SENDPAYMENT -> FORWARDPAYMENT -> RECEIVEPAYMENT ->
// FORWARDSUCCESS -> RECEIVESUCCESS life cycle end to end through the
// executor, and checks the final edge balances reflect exactly one
// successful hop-by-hop transfer.
func TestPaymentRoundTripSucceeds(t *testing.T) {
	net := buildChain(3, 1_000_000)
	store := htlc.NewStore()
	kp := routing.NewKnownPaths()

	eng := executor.New(1, 60_000)
	for i := 0; i < 3; i++ {
		lp := New(Config{
			NodeID: network.NodeID(i), Network: net, KnownPaths: kp,
			Store: store, SwapStore: swap.NewStore(),
			RNG:            executor.NewStream(int64(i) + 1),
			BlockchainLPID: noBlockchainLPID,
		})
		eng.Assign(lp, 0)
	}

	payment := store.New(0, 2, 1000, 0, htlc.TypeTX)
	payload, err := htlc.Pack(payment)
	require.NoError(t, err)

	eng.Schedule(executor.Event{
		Kind: executor.KindFindPath, Time: 1,
		Sender: -1, Receiver: 0, Payload: payload,
	})

	require.NoError(t, eng.Run())

	require.True(t, payment.IsSuccess)
	require.Greater(t, payment.EndTime, int64(0))

	// Edge(0->1) forward balance decreased by 1000 (fee-free chain), and
	// its counter-edge (1->0) increased by the same amount once the
	// success rolled back through.
	require.Equal(t, money.Sat(1_000_000/2-1000), net.Edge(0).Balance)
	require.Equal(t, money.Sat(1_000_000/2+1000), net.Edge(1).Balance)
	require.Equal(t, money.Sat(1_000_000/2-1000), net.Edge(2).Balance)
	require.Equal(t, money.Sat(1_000_000/2+1000), net.Edge(3).Balance)
}

// TestPaymentFailsWithoutLocalBalance checks a payment bigger than the
// sender's entire outbound balance: its first find-path already fails for
// lack of local balance, so the payment ends with NoCapacity and no route
// is ever sent.
func TestPaymentFailsWithoutLocalBalance(t *testing.T) {
	net := buildChain(2, 1_000_000)
	store := htlc.NewStore()
	kp := routing.NewKnownPaths()

	eng := executor.New(1, 60_000)
	for i := 0; i < 2; i++ {
		lp := New(Config{
			NodeID: network.NodeID(i), Network: net, KnownPaths: kp,
			Store: store, SwapStore: swap.NewStore(),
			RNG:            executor.NewStream(int64(i) + 1),
			BlockchainLPID: noBlockchainLPID,
		})
		eng.Assign(lp, 0)
	}

	payment := store.New(0, 1, 2_000_000, 0, htlc.TypeTX)
	payload, err := htlc.Pack(payment)
	require.NoError(t, err)

	eng.Schedule(executor.Event{
		Kind: executor.KindFindPath, Time: 1,
		Sender: -1, Receiver: 0, Payload: payload,
	})

	require.NoError(t, eng.Run())

	require.False(t, payment.IsSuccess)
	require.Equal(t, htlc.ErrNoCapacity, payment.Error.Type)
}
