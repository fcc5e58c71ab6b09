package loadgen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/htlc"
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// buildRetailTopology wires two end users and a merchant, all in the same
// country, each behind the same intermediary custodian (node 3).
func buildRetailTopology(balance money.Sat) *network.Network {
	const capacity = money.Sat(1_000_000)

	net := network.New(4, 3, 6)
	net.Nodes = append(net.Nodes,
		network.Node{ID: 0, Label: "Retail-0", Type: network.NodeEndUser, Country: "IT", Custodian: 3, Results: network.NewResultStore()},
		network.Node{ID: 1, Label: "Retail-1", Type: network.NodeEndUser, Country: "IT", Custodian: 3, Results: network.NewResultStore()},
		network.Node{ID: 2, Label: "Merchant-2", Type: network.NodeMerchant, Country: "IT", Custodian: 3, Results: network.NewResultStore()},
		network.Node{ID: 3, Label: "Intermediary-3", Type: network.NodeIntermediary, Country: "IT", Custodian: -1, Results: network.NewResultStore()},
	)
	for i := 0; i < 3; i++ {
		chID := network.ChannelID(i)
		e1, e2 := network.EdgeID(2*i), network.EdgeID(2*i+1)
		net.Channels = append(net.Channels, network.Channel{
			ID: chID, Node1: network.NodeID(i), Node2: 3, Capacity: capacity, Edge1: e1, Edge2: e2,
		})
		net.Edges = append(net.Edges,
			network.Edge{ID: e1, ChannelID: chID, CounterEdge: e2, From: network.NodeID(i), To: 3, Balance: balance, Policy: money.Policy{MinHTLC: 1, Timelock: 40}},
			network.Edge{ID: e2, ChannelID: chID, CounterEdge: e1, From: 3, To: network.NodeID(i), Balance: capacity - balance, Policy: money.Policy{MinHTLC: 1, Timelock: 40}},
		)
		net.Nodes[i].OutEdges = append(net.Nodes[i].OutEdges, e1)
		net.Nodes[3].OutEdges = append(net.Nodes[3].OutEdges, e2)
	}
	return net
}

func TestConstantScheduleDividesAcrossUsers(t *testing.T) {
	s := ConstantSchedule(960, 96)
	for _, rate := range s {
		require.InDelta(t, 10.0, rate, 1e-9)
	}
}

func TestGenerateEmitsFindPathAndReschedule(t *testing.T) {
	net := buildRetailTopology(500_000)
	store := htlc.NewStore()
	gen := New(net, store, ConstantSchedule(100, 2), 86_400_000, false)

	emits, created := gen.Generate(0, 1000, executor.NewStream(1))
	require.NotNil(t, created)
	require.Len(t, emits, 2)

	require.Equal(t, executor.KindFindPath, emits[0].Kind)
	require.Equal(t, executor.LPID(0), emits[0].Receiver)
	require.Equal(t, created, emits[0].Payment)
	require.Equal(t, htlc.TypeTX, created.Type)
	require.Equal(t, network.NodeID(0), created.Sender)
	require.NotEqual(t, created.Sender, created.Receiver)
	require.Equal(t, network.NodeID(3), created.LastHopID)
	require.GreaterOrEqual(t, created.Amount, money.Sat(1))
	require.LessOrEqual(t, created.Amount, money.Sat(100_000))

	require.Equal(t, executor.KindGeneratePayment, emits[1].Kind)
	require.Equal(t, executor.LPID(0), emits[1].Receiver)
	require.Nil(t, emits[1].Payment)
	// Never sooner than routing latency + findpath delay + 1.
	require.GreaterOrEqual(t, emits[1].DelayMs, int64(htlc.RoutingLatency+htlc.FindPathRetryMs+1))
}

func TestGenerateParksPaymentBehindWithdrawal(t *testing.T) {
	// Balance 0: any generated amount exceeds the available balance, so
	// with reverse waterfall on, the emitted payment must be a
	// withdrawal from the custodian and the tx parked.
	net := buildRetailTopology(0)
	store := htlc.NewStore()
	gen := New(net, store, ConstantSchedule(100, 2), 86_400_000, true)

	emits, created := gen.Generate(0, 1000, executor.NewStream(7))
	require.NotNil(t, created)
	require.Equal(t, htlc.TypeWithdrawal, created.Type)
	require.Equal(t, network.NodeID(3), created.Sender)
	require.Equal(t, network.NodeID(0), created.Receiver)

	// FINDPATH goes to the custodian, who routes the withdrawal.
	require.Equal(t, executor.KindFindPath, emits[0].Kind)
	require.Equal(t, executor.LPID(3), emits[0].Receiver)

	pending := net.Node(0).PendingOnWithdrawal
	require.NotNil(t, pending)
	require.Equal(t, uint64(created.ID), pending.WithdrawalID)
	parked, ok := pending.Payment.(*htlc.Payment)
	require.True(t, ok)
	require.Equal(t, htlc.TypeTX, parked.Type)
	require.Equal(t, network.NodeID(0), parked.Sender)
}

func TestGenerateDefersWhileAwaitingWithdrawal(t *testing.T) {
	net := buildRetailTopology(0)
	store := htlc.NewStore()
	gen := New(net, store, ConstantSchedule(100, 2), 86_400_000, true)

	net.Node(0).PendingOnWithdrawal = &network.PendingWithdrawal{WithdrawalID: 42}

	emits, created := gen.Generate(0, 1000, executor.NewStream(7))
	require.Nil(t, created)
	require.Len(t, emits, 1)
	require.Equal(t, executor.KindGeneratePayment, emits[0].Kind)
	require.Equal(t, executor.LPID(0), emits[0].Receiver)
	require.LessOrEqual(t, emits[0].DelayMs, int64(retryGenerateMaxOffsetMs))
	require.GreaterOrEqual(t, emits[0].DelayMs, int64(1))
}

func TestRevUnwindsWithdrawalAndParkedPayment(t *testing.T) {
	net := buildRetailTopology(0)
	store := htlc.NewStore()
	gen := New(net, store, ConstantSchedule(100, 2), 86_400_000, true)

	_, created := gen.Generate(0, 1000, executor.NewStream(7))
	require.Equal(t, htlc.TypeWithdrawal, created.Type)
	parked := net.Node(0).PendingOnWithdrawal.Payment.(*htlc.Payment)

	gen.Rev(0, created.ID)

	require.Nil(t, net.Node(0).PendingOnWithdrawal)
	_, ok := store.Get(created.ID)
	require.False(t, ok)
	_, ok = store.Get(parked.ID)
	require.False(t, ok)
}

func TestSampleDiscreteRespectsWeights(t *testing.T) {
	rng := executor.NewStream(3)
	counts := make([]int, 3)
	for i := 0; i < 10_000; i++ {
		counts[sampleDiscrete(rng, scenarioPDF)]++
	}
	// POS dominates with weight 800/973; P2P is a sliver at 3/973.
	require.Greater(t, counts[0], counts[1])
	require.Greater(t, counts[1], counts[2])
	require.Less(t, counts[2], 200)
}

func TestRateScheduleLookup(t *testing.T) {
	var s Schedule
	for i := range s {
		s[i] = float64(i)
	}
	gen := New(buildRetailTopology(0), htlc.NewStore(), s, 96_000, false)

	require.Equal(t, 0.0, gen.rateAt(0))
	require.Equal(t, 1.0, gen.rateAt(1000))
	require.Equal(t, 95.0, gen.rateAt(95_999))

	delta, next := gen.nextRateChange(500)
	require.InDelta(t, 500.0, delta, 1e-9)
	require.Equal(t, 1.0, next)
}
