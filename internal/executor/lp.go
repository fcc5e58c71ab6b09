package executor

// LP is a logical process: a unit of simulated state that owns a disjoint
// slice of the model (one network node, or the blockchain) and processes
// events addressed to it strictly in timestamp order within its partition.
//
// Forward applies ev's effects and returns any new events it schedules.
// Reverse undoes exactly the effects Forward applied, consulting ev's
// Bitfield for which branches actually ran. Commit runs once an event's
// timestamp has fallen behind the global virtual time and it can never be
// rolled back again (finalizing node-pair results, retiring payments,
// recording output rows).
type LP interface {
	ID() LPID
	Forward(eng *Engine, ev *Event) []Event
	Reverse(eng *Engine, ev *Event)
	Commit(eng *Engine, ev *Event)
}
