package htlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/routing"
)

// buildLine wires n nodes in a straight line with one channel per
// consecutive pair; balances[i] funds the forward (i -> i+1) edge, the
// rest of the capacity sits on the counter-edge.
func buildLine(capacity money.Sat, balances []money.Sat, policies []money.Policy) *network.Network {
	n := len(balances) + 1
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
		pol := money.Policy{MinHTLC: 1, Timelock: 40}
		if policies != nil {
			pol = policies[i]
		}
		net.Edges = append(net.Edges,
			network.Edge{ID: e1, ChannelID: chID, CounterEdge: e2,
				From: network.NodeID(i), To: network.NodeID(i + 1),
				Balance: balances[i], Policy: pol},
			network.Edge{ID: e2, ChannelID: chID, CounterEdge: e1,
				From: network.NodeID(i + 1), To: network.NodeID(i),
				Balance: capacity - balances[i], Policy: money.Policy{MinHTLC: 1, Timelock: 40}},
		)
		net.Nodes[i].OutEdges = append(net.Nodes[i].OutEdges, e1)
		net.Nodes[i+1].OutEdges = append(net.Nodes[i+1].OutEdges, e2)
	}
	return net
}

func mustRoute(t *testing.T, net *network.Network, sender, receiver network.NodeID, amount money.Sat) *routing.Route {
	t.Helper()
	hops, err := routing.FindPath(net, sender, receiver, routing.NoLastHop, amount, time.UnixMilli(0))
	require.NoError(t, err)
	return routing.BuildRoute(hops, amount, net)
}

// TestDirectPaymentSettles walks a single-hop payment through
// SendPayment then ReceivePayment by hand and checks both edge balances
// move by exactly the amount.
func TestDirectPaymentSettles(t *testing.T) {
	net := buildLine(10_000, []money.Sat{10_000}, nil)
	p := NewStore().New(0, 1, 1_000, 0, TypeTX)
	p.Route = mustRoute(t, net, 0, 1, 1_000)

	rng := executor.NewStream(1)
	emits, updated := SendPayment(net, p, 100, rng)
	require.True(t, updated)
	require.Len(t, emits, 1)
	require.Equal(t, executor.KindReceivePayment, emits[0].Kind)
	require.Equal(t, executor.LPID(1), emits[0].Receiver)

	emits = ReceivePayment(net, 1, p, 200, rng)
	require.Len(t, emits, 1)
	require.Equal(t, executor.KindReceiveSuccess, emits[0].Kind)
	require.True(t, p.IsSuccess)

	require.Equal(t, money.Sat(9_000), net.Edge(0).Balance)
	require.Equal(t, money.Sat(1_000), net.Edge(1).Balance)
}

// TestTwoHopFeeAccounting checks the fee arithmetic across an
// intermediary: with base fee 1000 and 10 ppm on the second hop, the
// sender fronts amount + 1000, the intermediary keeps the fee spread.
func TestTwoHopFeeAccounting(t *testing.T) {
	policies := []money.Policy{
		{MinHTLC: 1, Timelock: 40},
		{BaseFee: 1000, FeeProportional: 10, MinHTLC: 1, Timelock: 40},
	}
	net := buildLine(1_000_000, []money.Sat{500_000, 500_000}, policies)

	route := mustRoute(t, net, 0, 2, 1_000)
	require.Len(t, route.Hops, 2)

	// fee = 1000 + floor(10*1000/1e6) = 1000.
	require.Equal(t, money.Sat(2_000), route.Hops[0].AmountToForward)
	require.Equal(t, money.Sat(1_000), route.Hops[1].AmountToForward)
	require.Equal(t, money.Sat(1_000), route.TotalFee)

	p := NewStore().New(0, 2, 1_000, 0, TypeTX)
	p.Route = route
	rng := executor.NewStream(1)

	_, updated := SendPayment(net, p, 100, rng)
	require.True(t, updated)
	require.Equal(t, money.Sat(498_000), net.Edge(0).Balance)

	emits, updated := ForwardPayment(net, 1, p, 200, rng, false)
	require.True(t, updated)
	require.Equal(t, executor.KindReceivePayment, emits[0].Kind)
	require.Equal(t, money.Sat(499_000), net.Edge(2).Balance)

	ReceivePayment(net, 2, p, 300, rng)
	require.Equal(t, money.Sat(501_000), net.Edge(3).Balance)

	ForwardSuccess(net, 1, p, rng)
	require.Equal(t, money.Sat(502_000), net.Edge(1).Balance)
}

// TestForwardPaymentNoBalanceFailsBackward checks the failure cascade: an
// under-funded hop marks the error, refunds nothing at the failing hop,
// and upstream hops refund on their way back.
func TestForwardPaymentNoBalanceFailsBackward(t *testing.T) {
	// Hop 2 -> 3 has only 100 sats available.
	net := buildLine(1_000_000, []money.Sat{500_000, 500_000, 100}, nil)

	route := &routing.Route{Hops: []routing.RouteHop{
		{FromNodeID: 0, ToNodeID: 1, EdgeID: 0, AmountToForward: 1_000, Timelock: 120},
		{FromNodeID: 1, ToNodeID: 2, EdgeID: 2, AmountToForward: 1_000, Timelock: 80},
		{FromNodeID: 2, ToNodeID: 3, EdgeID: 4, AmountToForward: 1_000, Timelock: 40},
	}, TotalAmount: 1_000, TotalTimelock: 120}

	p := NewStore().New(0, 3, 1_000, 0, TypeTX)
	p.Route = route
	rng := executor.NewStream(1)

	_, updated := SendPayment(net, p, 100, rng)
	require.True(t, updated)
	_, updated = ForwardPayment(net, 1, p, 200, rng, false)
	require.True(t, updated)

	emits, updated := ForwardPayment(net, 2, p, 300, rng, false)
	require.False(t, updated)
	require.Equal(t, ErrNoBalance, p.Error.Type)
	require.Equal(t, network.EdgeID(4), p.Error.Hop.EdgeID)
	require.Equal(t, 1, p.NoBalanceCount)
	require.Equal(t, executor.KindForwardFail, emits[0].Kind)
	require.Equal(t, executor.LPID(1), emits[0].Receiver)

	emits = ForwardFail(net, 1, p, rng)
	require.Equal(t, executor.KindReceiveFail, emits[0].Kind)
	require.Equal(t, money.Sat(500_000), net.Edge(2).Balance)

	emits = ReceiveFail(net, 0, p)
	require.Equal(t, executor.KindFindPath, emits[0].Kind)
	require.Equal(t, money.Sat(500_000), net.Edge(0).Balance)
}

// TestProcessFailResultLearnsPerHop checks the commit-side learning rules:
// hops before the failing one are recorded as successes, the failing hop
// as a failure at its amount, and nothing for hops past it.
func TestProcessFailResultLearnsPerHop(t *testing.T) {
	net := buildLine(1_000_000, []money.Sat{500_000, 500_000, 100}, nil)
	sender := net.Node(0)

	p := NewStore().New(0, 3, 1_000, 0, TypeTX)
	p.Route = &routing.Route{Hops: []routing.RouteHop{
		{FromNodeID: 0, ToNodeID: 1, EdgeID: 0, AmountToForward: 1_000, Timelock: 120},
		{FromNodeID: 1, ToNodeID: 2, EdgeID: 2, AmountToForward: 1_000, Timelock: 80},
		{FromNodeID: 2, ToNodeID: 3, EdgeID: 4, AmountToForward: 1_000, Timelock: 40},
	}}
	p.Error = PaymentError{Type: ErrNoBalance, Hop: &p.Route.Hops[2], Time: 300}

	ProcessFailResult(sender, p, 300)

	r, ok := sender.Results.Get(0, 1)
	require.True(t, ok)
	require.Equal(t, money.Sat(1_000), r.SuccessAmount)

	r, ok = sender.Results.Get(1, 2)
	require.True(t, ok)
	require.Equal(t, money.Sat(1_000), r.SuccessAmount)

	r, ok = sender.Results.Get(2, 3)
	require.True(t, ok)
	require.Equal(t, money.Sat(1_000), r.FailAmount)
	require.Equal(t, money.Sat(0), r.SuccessAmount)
}

// TestProcessFailResultIgnoresSenderOwnFailure: the sender already knows
// its own balance; a failure at the first hop teaches nothing.
func TestProcessFailResultIgnoresSenderOwnFailure(t *testing.T) {
	net := buildLine(1_000_000, []money.Sat{100}, nil)
	sender := net.Node(0)

	p := NewStore().New(0, 1, 1_000, 0, TypeTX)
	p.Route = &routing.Route{Hops: []routing.RouteHop{
		{FromNodeID: 0, ToNodeID: 1, EdgeID: 0, AmountToForward: 1_000, Timelock: 40},
	}}
	p.Error = PaymentError{Type: ErrNoBalance, Hop: &p.Route.Hops[0], Time: 100}

	ProcessFailResult(sender, p, 100)
	_, ok := sender.Results.Get(0, 1)
	require.False(t, ok)
}

// TestSendPaymentReverseRestoresState is the rollback-fidelity property:
// applying SendPayment and its reverse leaves edge balances, flow counters
// and the RNG position exactly as they were.
func TestSendPaymentReverseRestoresState(t *testing.T) {
	net := buildLine(10_000, []money.Sat{10_000}, nil)
	p := NewStore().New(0, 1, 1_000, 0, TypeTX)
	p.Route = mustRoute(t, net, 0, 1, 1_000)

	rng := executor.NewStream(9)
	balanceBefore := net.Edge(0).Balance
	flowsBefore := net.Edge(0).TotFlows
	rngBefore := rng.Count()

	_, updated := SendPayment(net, p, 100, rng)
	require.True(t, updated)
	drawsConsumed := rng.Count() - rngBefore
	require.NotZero(t, drawsConsumed)

	RevSendPayment(net, p)
	rng.Rewind(rng.Count() - drawsConsumed)

	require.Equal(t, balanceBefore, net.Edge(0).Balance)
	require.Equal(t, flowsBefore, net.Edge(0).TotFlows)
	require.Equal(t, rngBefore, rng.Count())
}

// TestChannelBalanceConservedAcrossLifecycle asserts the channel invariant
// at each quiescent step of a full success round trip.
func TestChannelBalanceConservedAcrossLifecycle(t *testing.T) {
	net := buildLine(1_000_000, []money.Sat{500_000, 500_000}, nil)
	p := NewStore().New(0, 2, 1_000, 0, TypeTX)
	p.Route = mustRoute(t, net, 0, 2, 1_000)
	rng := executor.NewStream(1)

	assertConserved := func() {
		t.Helper()
		for i := range net.Channels {
			ch := net.Channel(network.ChannelID(i))
			sum := net.Edge(ch.Edge1).Balance + net.Edge(ch.Edge2).Balance
			require.Equal(t, ch.Capacity, sum, "channel %d", ch.ID)
		}
	}

	SendPayment(net, p, 100, rng)
	ForwardPayment(net, 1, p, 200, rng, false)
	ReceivePayment(net, 2, p, 300, rng)
	ForwardSuccess(net, 1, p, rng)
	ReceiveSuccess(p, 500)
	assertConserved()
}

func TestFindPathExpiresStalePayment(t *testing.T) {
	net := buildLine(10_000, []money.Sat{10_000}, nil)
	store := NewStore()
	p := store.New(0, 1, 1_000, 0, TypeTX)

	emits := FindPath(net, routing.NewKnownPaths(), false, p, ExpiresAfterMs+1)
	require.Nil(t, emits)
	require.True(t, p.IsExpired)
	require.Equal(t, int64(ExpiresAfterMs+1), p.EndTime)
}

func TestSubmarineSwapPaymentUsesLongerTTL(t *testing.T) {
	p := NewStore().New(0, 1, 1_000, 0, TypeSubmarineSwap)
	p.ExpiryMs = 10 * 60_000

	require.False(t, p.IsExpiredAt(ExpiresAfterMs+1))
	require.False(t, p.IsExpiredAt(10*60_000))
	require.True(t, p.IsExpiredAt(10*60_000+1))
}

func TestNotifyPaymentSizesDeposit(t *testing.T) {
	// Receiver (node 1) has zero spendable balance on a 90_000 channel:
	// the deposit floor of a third of the wallet capacity dominates.
	net := buildLine(90_000, []money.Sat{90_000}, nil)
	net.Node(1).Custodian = 0

	store := NewStore()
	p := store.New(0, 1, 500, 0, TypeTX)

	rng := executor.NewStream(1)
	emits := NotifyPayment(net, 1, p, 100, rng, store)
	require.Len(t, emits, 1)
	require.Equal(t, executor.KindFindPath, emits[0].Kind)

	deposit := emits[0].Payment
	require.Equal(t, TypeDeposit, deposit.Type)
	require.Equal(t, network.NodeID(1), deposit.Sender)
	require.Equal(t, network.NodeID(0), deposit.Receiver)
	require.Equal(t, money.Sat(30_000), deposit.Amount)
	require.GreaterOrEqual(t, emits[0].DelayMs, int64(FindPathRetryMs))
}

// TestForwardPaymentAwaitsWaterfall exercises the deferred-send branch: an
// intermediary that cannot cover the last hop to an end-user receiver
// notifies the receiver once and keeps retrying the forward on itself.
func TestForwardPaymentAwaitsWaterfall(t *testing.T) {
	net := buildLine(1_000_000, []money.Sat{500_000, 0}, nil)
	net.Node(1).Type = network.NodeIntermediary
	net.Node(2).Type = network.NodeEndUser

	p := NewStore().New(0, 2, 1_000, 0, TypeTX)
	p.Route = &routing.Route{Hops: []routing.RouteHop{
		{FromNodeID: 0, ToNodeID: 1, EdgeID: 0, AmountToForward: 1_000, Timelock: 80},
		{FromNodeID: 1, ToNodeID: 2, EdgeID: 2, AmountToForward: 1_000, Timelock: 40},
	}}
	rng := executor.NewStream(1)

	emits, updated := ForwardPayment(net, 1, p, 100, rng, true)
	require.False(t, updated)
	require.Len(t, emits, 2)
	require.Equal(t, executor.KindNotifyPayment, emits[0].Kind)
	require.Equal(t, executor.LPID(2), emits[0].Receiver)
	require.Equal(t, executor.KindForwardPayment, emits[1].Kind)
	require.Equal(t, executor.LPID(1), emits[1].Receiver)

	// Second retry: already notified (error set), only the self-retry.
	emits, _ = ForwardPayment(net, 1, p, 200, rng, true)
	require.Len(t, emits, 1)
	require.Equal(t, executor.KindForwardPayment, emits[0].Kind)
}

// TestFindPathUsesKnownPathOnFirstAttempt is the known-path determinism
// property: with a matching custodian-pair entry, attempt 1 uses exactly
// the stored edge sequence wrapped by the sender's and receiver's
// custodian hops, bypassing Dijkstra entirely.
func TestFindPathUsesKnownPathOnFirstAttempt(t *testing.T) {
	// 0 -(e0)- 1 -(e2)- 2 -(e4)- 3, custodians: 0->1, 3->2.
	net := buildLine(1_000_000, []money.Sat{500_000, 500_000, 500_000}, nil)
	net.Node(0).Custodian = 1
	net.Node(3).Custodian = 2
	net.Node(1).Type = network.NodeIntermediary
	net.Node(2).Type = network.NodeIntermediary

	kp := routing.NewKnownPaths()
	kp.Put(1, 2, []routing.Hop{{Sender: 1, Edge: 2, Receiver: 2}})

	store := NewStore()
	p := store.New(0, 3, 1_000, 0, TypeTX)

	emits := FindPath(net, kp, true, p, 100)
	require.Len(t, emits, 1)
	require.Equal(t, executor.KindSendPayment, emits[0].Kind)
	require.NotNil(t, p.Route)
	require.Len(t, p.Route.Hops, 3)
	require.Equal(t, network.EdgeID(0), p.Route.Hops[0].EdgeID)
	require.Equal(t, network.EdgeID(2), p.Route.Hops[1].EdgeID)
	require.Equal(t, network.EdgeID(4), p.Route.Hops[2].EdgeID)

	// A retry (attempt 2) no longer takes the fast path; Dijkstra still
	// finds the same line, but the route is rebuilt from scratch.
	emits = FindPath(net, kp, true, p, 200)
	require.Len(t, emits, 1)
	require.Equal(t, 2, p.Attempts)
}

// TestReceivePaymentReverseRestoresSuccessFlag: a rolled-back receive
// must not leave the shared payment record marked successful.
func TestReceivePaymentReverseRestoresSuccessFlag(t *testing.T) {
	net := buildLine(10_000, []money.Sat{10_000}, nil)
	p := NewStore().New(0, 1, 1_000, 0, TypeTX)
	p.Route = mustRoute(t, net, 0, 1, 1_000)

	rng := executor.NewStream(1)
	SendPayment(net, p, 100, rng)

	balanceBefore := net.Edge(1).Balance
	require.False(t, p.IsSuccess)

	ReceivePayment(net, 1, p, 200, rng)
	require.True(t, p.IsSuccess)

	RevReceivePayment(net, p, false)
	require.False(t, p.IsSuccess)
	require.Equal(t, balanceBefore, net.Edge(1).Balance)
}

// TestFindPathReverseRestoresEnvelope: forward-then-restore leaves the
// attempt counter, route and terminal stamps exactly as they were, for
// both the route-found and the expired branch.
func TestFindPathReverseRestoresEnvelope(t *testing.T) {
	net := buildLine(10_000, []money.Sat{10_000}, nil)
	kp := routing.NewKnownPaths()
	store := NewStore()

	p := store.New(0, 1, 1_000, 0, TypeTX)
	prev := p.Snapshot()

	emits := FindPath(net, kp, false, p, 100)
	require.Len(t, emits, 1)
	require.Equal(t, 1, p.Attempts)
	require.NotNil(t, p.Route)

	p.Restore(prev)
	require.Equal(t, 0, p.Attempts)
	require.Nil(t, p.Route)
	require.Equal(t, int64(0), p.EndTime)

	// Expired branch: IsExpired/EndTime stamps must unwind too.
	prev = p.Snapshot()
	emits = FindPath(net, kp, false, p, ExpiresAfterMs+1)
	require.Nil(t, emits)
	require.True(t, p.IsExpired)

	p.Restore(prev)
	require.False(t, p.IsExpired)
	require.Equal(t, int64(0), p.EndTime)
	require.Equal(t, 0, p.Attempts)
}

// TestSendPaymentFailureEnvelopeRestoresCounters: the no-balance branch
// mutates only bookkeeping (counter + error record); restoring the
// envelope must erase both so a rolled-back attempt doesn't inflate the
// reported failure counts.
func TestSendPaymentFailureEnvelopeRestoresCounters(t *testing.T) {
	net := buildLine(10_000, []money.Sat{10_000}, nil)
	p := NewStore().New(0, 1, 1_000, 0, TypeTX)
	p.Route = mustRoute(t, net, 0, 1, 1_000)

	// Drain the outgoing edge after routing so the send itself fails.
	net.Edge(0).Balance = 0

	prev := p.Snapshot()
	rng := executor.NewStream(1)
	emits, updated := SendPayment(net, p, 100, rng)
	require.False(t, updated)
	require.Equal(t, executor.KindReceiveFail, emits[0].Kind)
	require.Equal(t, 1, p.NoBalanceCount)
	require.Equal(t, ErrNoBalance, p.Error.Type)

	p.Restore(prev)
	require.Equal(t, 0, p.NoBalanceCount)
	require.Equal(t, ErrNone, p.Error.Type)
	require.Nil(t, p.Error.Hop)
}
