package executor

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/sync/errgroup"
)

// elog is this package's subsystem logger, defaulting to disabled until
// main() wires a real one in via UseLogger, the same per-package pattern
// every lnd subsystem follows.
var elog = btclog.Disabled

// UseLogger installs l as the executor package's subsystem logger.
func UseLogger(l btclog.Logger) {
	elog = l
}

// Engine owns every partition and the global event-ID/virtual-time
// bookkeeping shared across them. Partitions communicate exclusively
// through each other's inbox channels; there is no other shared mutable
// state, so the optimistic rollback protocol never needs a global lock.
type Engine struct {
	partitions []*Partition
	routes     map[LPID]int // LPID -> partition index

	nextEventID uint64

	// inFlight counts events that have been scheduled but not yet
	// processed, used for quiescence-based termination detection: the
	// simulation is over once it reaches zero and every inbox is empty.
	inFlight int64

	simEndMs int64
}

// New builds an Engine with nPartitions empty partitions and a simulated
// duration of simEndMs milliseconds.
func New(nPartitions int, simEndMs int64) *Engine {
	eng := &Engine{
		routes:   make(map[LPID]int),
		simEndMs: simEndMs,
	}
	eng.partitions = make([]*Partition, nPartitions)
	for i := range eng.partitions {
		eng.partitions[i] = newPartition(i, eng)
	}
	return eng
}

// Assign places lp onto partition index part and registers it for routing.
// Node LPs are assigned to partitions from the topology's Partition tag,
// the blockchain LP is always pinned to partition 0, and sequential runs
// force every LP onto partition 0.
func (e *Engine) Assign(lp LP, part int) {
	e.partitions[part].Register(lp)
	e.routes[lp.ID()] = part
}

// Schedule enqueues ev for delivery. Time is expected to be no earlier
// than the scheduling event's own time; the engine does not itself enforce
// this. Handler delays are whole milliseconds, either a gamma draw
// truncated to an integer (which can come out as 0) or a constant like the
// find-path retry's fixed 10ms, so an event can land at the same virtual
// time as the event that produced it.
func (e *Engine) Schedule(ev Event) {
	ev.ID = EventID(atomic.AddUint64(&e.nextEventID, 1))
	atomic.AddInt64(&e.inFlight, 1)
	e.route(&ev)
}

// route delivers ev to its receiver's partition inbox.
func (e *Engine) route(ev *Event) {
	part, ok := e.routes[ev.Receiver]
	if !ok {
		elog.Errorf("no partition registered for LP %d", ev.Receiver)
		atomic.AddInt64(&e.inFlight, -1)
		return
	}
	e.partitions[part].inbox <- ev
}

// Run drives every partition concurrently until quiescence (no in-flight
// events remain anywhere) or simEndMs is reached, then runs a final commit
// pass so every partition commits its entire remaining history.
//
// The per-partition loop below is a Time Warp scheduler loop shaped like
// htlcswitch/switch.go's per-link goroutine: drain the inbox (applying
// rollback for any straggler), pop the earliest pending event, run its
// forward handler, and route whatever it produces.
func (e *Engine) Run() error {
	var g errgroup.Group
	var wg sync.WaitGroup
	wg.Add(len(e.partitions))

	for _, part := range e.partitions {
		part := part
		g.Go(func() error {
			defer wg.Done()
			e.runPartition(part)
			return nil
		})
	}

	err := g.Wait()
	e.finalCommit()
	return err
}

func (e *Engine) runPartition(p *Partition) {
	for {
		e.drainInbox(p)

		if p.pending.Len() == 0 {
			if atomic.LoadInt64(&e.inFlight) == 0 {
				return
			}
			// Wait for the next event, but keep waking up to
			// recheck inFlight: another partition may finish and
			// bring the global count to zero while we have nothing
			// left inbound, and a bare channel receive would never
			// notice that.
			select {
			case ev := <-p.inbox:
				e.handleInbound(p, ev)
			case <-time.After(time.Millisecond):
			}
			continue
		}

		ev := heap.Pop(&p.pending).(*Event)

		if e.simEndMs > 0 && ev.Time > e.simEndMs {
			atomic.AddInt64(&e.inFlight, -1)
			continue
		}

		lp := p.lps[ev.Receiver]
		if lp == nil {
			elog.Errorf("partition %d: no LP registered for id %d", p.id, ev.Receiver)
			atomic.AddInt64(&e.inFlight, -1)
			continue
		}

		p.lvt = ev.Time
		produced := lp.Forward(e, ev)
		for i := range produced {
			e.Schedule(produced[i])
		}
		p.history = append(p.history, processedEvent{ev: ev, lp: lp, produced: produced})

		// Only now, after every causal descendant of ev has itself
		// been accounted for in inFlight, is it safe to retire ev:
		// otherwise another partition could observe inFlight==0 in
		// the window between popping ev and scheduling its output,
		// and terminate before that output ever arrives.
		atomic.AddInt64(&e.inFlight, -1)

		e.fossilCollect(p)
	}
}

// drainInbox moves every event currently waiting in p's inbox into its
// pending heap without blocking, applying rollback along the way for any
// straggler.
func (e *Engine) drainInbox(p *Partition) {
	for {
		select {
		case ev := <-p.inbox:
			e.handleInbound(p, ev)
		default:
			return
		}
	}
}

func (e *Engine) handleInbound(p *Partition, ev *Event) {
	if ev.Antimessage {
		p.cancel(ev)
		atomic.AddInt64(&e.inFlight, -1)
		return
	}
	p.deliverLocal(ev)
}

// fossilCollect commits and discards history entries that can no longer be
// rolled back: a single-partition approximation of GVT-based fossil
// collection, safe because cross-partition rollback only ever targets
// events still sitting in some inbox or pending heap, never history that
// has already been committed here.
func (e *Engine) fossilCollect(p *Partition) {
	const keepWindow = 256
	if len(p.history) <= keepWindow {
		return
	}
	commitUpTo := len(p.history) - keepWindow
	for i := 0; i < commitUpTo; i++ {
		p.history[i].lp.Commit(e, p.history[i].ev)
	}
	p.history = p.history[commitUpTo:]
}

// Rollbacks reports how many processed events partitions rolled back
// across the whole run.
func (e *Engine) Rollbacks() int {
	total := 0
	for _, p := range e.partitions {
		total += p.rollbackCount
	}
	return total
}

// finalCommit runs every partition's remaining history through Commit once
// the simulation has reached quiescence, so no committed effect is ever
// lost to fossil collection never having caught up.
func (e *Engine) finalCommit() {
	for _, p := range e.partitions {
		for _, pe := range p.history {
			pe.lp.Commit(e, pe.ev)
		}
		p.history = nil
		if p.rollbackCount > 0 {
			elog.Infof("partition %d rolled back %d events", p.id, p.rollbackCount)
		}
	}
}
