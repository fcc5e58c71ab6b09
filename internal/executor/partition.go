package executor

import "container/heap"

// eventHeap orders pending events by (Time, ID) so that, among events due
// at the same virtual time, processing order is still deterministic.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Time == h[j].Time {
		return h[i].ID < h[j].ID
	}
	return h[i].Time < h[j].Time
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*Event))
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// processedEvent is one entry of a partition's rollback history: the event
// as it was forwarded, the LP it was delivered to, and the events it
// produced (so a rollback can emit matching anti-messages for them).
type processedEvent struct {
	ev       *Event
	lp       LP
	produced []Event
}

// Partition is a single-threaded slice of the simulation: a set of LPs, a
// pending-event heap and a rollback history. Partitions run concurrently
// with each other (see Engine.Run); within one partition, events are always
// processed in strict timestamp order.
//
// This is the classic Time Warp processing-element loop expressed in Go's
// goroutine-and-channel idiom, the same style lnd's htlcswitch uses to fan
// HTLC traffic out across per-link goroutines.
type Partition struct {
	id      int
	eng     *Engine
	lps     map[LPID]LP
	pending eventHeap
	history []processedEvent
	lvt     int64

	inbox chan *Event

	// rollbackCount tallies the processed events undone by rollbacks for
	// the final run statistics.
	rollbackCount int
}

func newPartition(id int, eng *Engine) *Partition {
	return &Partition{
		id:    id,
		eng:   eng,
		lps:   make(map[LPID]LP),
		inbox: make(chan *Event, 1024),
	}
}

// Register adds an LP to this partition.
func (p *Partition) Register(lp LP) {
	p.lps[lp.ID()] = lp
}

// deliverLocal inserts ev into the pending heap, triggering a rollback
// first if ev is a straggler (timestamp behind this partition's LVT).
func (p *Partition) deliverLocal(ev *Event) {
	if ev.Time < p.lvt {
		p.rollback(ev.Time)
	}
	heap.Push(&p.pending, ev)
}

// rollback undoes every processed event with Time >= straggerTime, in
// reverse order, re-queuing anti-messages for anything they produced and
// pushing the undone events themselves back onto the pending heap so they
// are reprocessed in the corrected order — Time Warp's anti-message
// rollback.
func (p *Partition) rollback(straggerTime int64) {
	cut := len(p.history)
	for cut > 0 && p.history[cut-1].ev.Time >= straggerTime {
		cut--
	}

	for i := len(p.history) - 1; i >= cut; i-- {
		pe := p.history[i]
		pe.lp.Reverse(p.eng, pe.ev)
		for _, produced := range pe.produced {
			anti := produced
			anti.Antimessage = true
			p.eng.route(&anti)
		}
		heap.Push(&p.pending, pe.ev)
	}
	p.rollbackCount += len(p.history) - cut
	p.history = p.history[:cut]

	if cut == 0 {
		p.lvt = 0
	} else {
		p.lvt = p.history[cut-1].ev.Time
	}
}

// cancel applies an anti-message: if the event it cancels has already been
// processed, roll back to its time first (which re-queues it); either way,
// the event is then dropped from the pending heap rather than reprocessed.
func (p *Partition) cancel(anti *Event) {
	for _, pe := range p.history {
		if pe.ev.ID == anti.ID {
			p.rollback(anti.Time)
			break
		}
	}
	p.removeFromPending(anti.ID)
}

func (p *Partition) removeFromPending(id EventID) {
	for i, ev := range p.pending {
		if ev.ID == id {
			heap.Remove(&p.pending, i)
			return
		}
	}
}
