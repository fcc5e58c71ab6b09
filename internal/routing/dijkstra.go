package routing

import (
	"container/heap"
	"time"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// nodeDistance is one entry of the Dijkstra frontier: the best known route
// from a node back to shortestPathTarget, searched in reverse the way
// lnd's routing/pathfind.go walks from destination to source.
type nodeDistance struct {
	node          network.NodeID
	distance      uint64
	weight        float64
	probability   float64
	amtToReceive  money.Sat
	fee           money.Sat
	timelock      uint32
	nextEdge      network.EdgeID // -1 until reached
	heapIndex     int
}

// distanceHeap is a container/heap.Interface over *nodeDistance pointers
// supporting decrease-key, the way lnd's routing/pathfind.go uses a
// container/heap over distanceEntry.
type distanceHeap []*nodeDistance

func (h distanceHeap) Len() int { return len(h) }

// Less orders by (distance asc, probability desc): ties on distance are
// broken in favor of the higher-probability route.
func (h distanceHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.distance == b.distance {
		return a.probability > b.probability
	}
	return a.distance < b.distance
}

func (h distanceHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *distanceHeap) Push(x interface{}) {
	nd := x.(*nodeDistance)
	nd.heapIndex = len(*h)
	*h = append(*h, nd)
}

func (h *distanceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	nd := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return nd
}

// fixOrPush inserts nd into the heap, or re-heapifies it if it's already
// present (the decrease-key case).
func fixOrPush(h *distanceHeap, nd *nodeDistance, present bool) {
	if present {
		heap.Fix(h, nd.heapIndex)
		return
	}
	heap.Push(h, nd)
}

// FindPath runs the modified Dijkstra search from source to target, honoring
// an optional last-hop hint (pass NoLastHop for none), returning the path as
// a sequence of Hops ordered from source to target.
//
// Balance pre-checks distinguish ErrNoLocalBalance from ErrNoPath before
// the search even starts; the target is relocated to lastHop when a
// last-hop hint names a node with an open channel to target (the
// fee/timelock for that final edge gets pre-seeded into the target's
// distance entry); and the search itself walks counter-edges backward from
// the (possibly relocated) target toward source, same as lnd's
// reverse-graph pathfinding.
func FindPath(
	net *network.Network, source, target, lastHop network.NodeID,
	amount money.Sat, now time.Time,
) ([]Hop, error) {

	sourceNode := net.Node(source)
	maxBalance, totalBalance := nodeBalances(net, sourceNode)
	if amount > totalBalance {
		return nil, ErrNoLocalBalance
	}
	if amount > maxBalance {
		return nil, ErrNoPath
	}

	dist := make([]nodeDistance, len(net.Nodes))
	for i := range dist {
		dist[i] = nodeDistance{
			node:     network.NodeID(i),
			distance: InfiniteDistance,
			nextEdge: -1,
		}
	}

	shortestPathTarget := target
	amtToReceive := amount
	timelock := uint32(FinalTimelock)
	var fee money.Sat

	if lastHop != NoLastHop {
		if int(lastHop) < 0 || int(lastHop) >= len(net.Nodes) {
			return nil, ErrNoPath
		}

		targetNode := net.Node(target)
		found := false
		for _, eid := range targetNode.OutEdges {
			ce := net.CounterEdge(net.Edge(eid))
			if ce.From != lastHop {
				continue
			}
			if ce.Balance < amount || amount < ce.Policy.MinHTLC {
				return nil, ErrNoLocalBalance
			}

			edgeFee := ce.Policy.Fee(amount)
			shortestPathTarget = lastHop
			fee = edgeFee
			amtToReceive = amount + edgeFee
			timelock = FinalTimelock + ce.Policy.Timelock
			dist[lastHop].nextEdge = ce.ID
			found = true
			break
		}
		if !found {
			return nil, ErrNoPath
		}
	}

	dist[shortestPathTarget].distance = 0
	dist[shortestPathTarget].amtToReceive = amtToReceive
	dist[shortestPathTarget].fee = fee
	dist[shortestPathTarget].timelock = timelock
	dist[shortestPathTarget].weight = 0
	dist[shortestPathTarget].probability = 1

	h := &distanceHeap{}
	heap.Init(h)
	heap.Push(h, &dist[shortestPathTarget])
	onHeap := make([]bool, len(dist))
	onHeap[shortestPathTarget] = true

	for h.Len() != 0 {
		cur := heap.Pop(h).(*nodeDistance)
		onHeap[cur.node] = false
		if cur.node == source {
			break
		}

		bestNode := net.Node(cur.node)
		amtToSend := cur.amtToReceive

		for _, eid := range bestNode.OutEdges {
			ce := net.CounterEdge(net.Edge(eid))
			fromNodeID := ce.From
			channel := net.Channel(ce.ChannelID)

			if fromNodeID != source && channel.IsPrivate {
				continue
			}

			if fromNodeID == source {
				if ce.Balance < amtToSend {
					continue
				}
			} else if channel.Capacity < amtToSend {
				continue
			}

			if amtToSend < ce.Policy.MinHTLC {
				continue
			}

			prob := edgeProbability(sourceNode, fromNodeID, cur.node, amtToSend, now)
			if prob == 0 {
				continue
			}

			var edgeFee money.Sat
			var edgeTimelock uint32
			if fromNodeID != source {
				edgeFee = ce.Policy.Fee(amtToSend)
				edgeTimelock = ce.Policy.Timelock
			}

			newAmtToReceive := amtToSend + edgeFee
			newTimelock := cur.timelock + edgeTimelock
			if newTimelock > TimelockLimit {
				continue
			}

			newProbability := cur.probability * prob
			if newProbability < ProbabilityLimit {
				continue
			}

			w := edgeWeight(newAmtToReceive, edgeFee, edgeTimelock)
			newWeight := cur.weight + w
			newDistance := probabilityBasedDistance(newWeight, newProbability)

			existing := &dist[fromNodeID]
			if newDistance > existing.distance {
				continue
			}
			if newDistance == existing.distance && newProbability <= existing.probability {
				continue
			}

			existing.node = fromNodeID
			existing.distance = newDistance
			existing.weight = newWeight
			existing.amtToReceive = newAmtToReceive
			existing.timelock = newTimelock
			existing.probability = newProbability
			existing.nextEdge = ce.ID

			fixOrPush(h, existing, onHeap[fromNodeID])
			onHeap[fromNodeID] = true
		}
	}

	var hops []Hop
	curr := source
	for curr != target {
		if dist[curr].nextEdge == -1 {
			return nil, ErrNoPath
		}
		edge := net.Edge(dist[curr].nextEdge)
		hops = append(hops, Hop{Sender: curr, Edge: edge.ID, Receiver: edge.To})
		curr = edge.To
	}

	if len(hops) > HopsLimit {
		return nil, ErrNoPath
	}

	return hops, nil
}

// nodeBalances reports the largest single-edge balance and the sum of all
// edge balances for node, used for the up-front NoLocalBalance/NoPath
// classification.
func nodeBalances(net *network.Network, node *network.Node) (max, total money.Sat) {
	for _, eid := range node.OutEdges {
		bal := net.Edge(eid).Balance
		total += bal
		if bal > max {
			max = bal
		}
	}
	return max, total
}
