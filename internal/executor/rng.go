package executor

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// countingSource wraps a rand.Source and counts every primitive draw made
// against it, regardless of which higher-level Stream method or distuv
// distribution triggered it. Counting at this layer, rather than once per
// Stream call, is what makes Rewind exact: rand.Rand and gonum's distuv
// samplers are both pure functions of the sequence of raw Uint64 calls
// they make against their source, so replaying that same sequence of raw
// calls against a freshly reseeded source reproduces byte-identical
// internal state.
type countingSource struct {
	src rand.Source
	n   uint64
}

func (c *countingSource) Uint64() uint64 {
	c.n++
	return c.src.Uint64()
}

func (c *countingSource) Seed(seed uint64) { c.src.Seed(seed) }

// Stream is a per-LP reversible random number stream. Time Warp runtimes
// pair every draw with an O(1) inverse on their combined-LCG generators;
// x/exp/rand offers no such primitive, so Stream reproduces the same
// externally-visible behavior by counting raw draws against the source
// and, on Rewind, re-seeding and replaying that many raw draws. Draw
// counts per event are always small (a handful of gamma samples), so the
// replay cost is negligible.
type Stream struct {
	seed    uint64
	counter *countingSource
	rnd     *rand.Rand
}

// NewStream returns a reversible RNG stream seeded deterministically from
// seed (derived from the owning LP's id), so a simulation run is
// byte-for-byte reproducible regardless of how events happen to interleave
// across partitions.
func NewStream(seed int64) *Stream {
	counter := &countingSource{src: rand.NewSource(uint64(seed))}
	return &Stream{seed: uint64(seed), counter: counter, rnd: rand.New(counter)}
}

// Count returns the number of raw draws consumed so far.
func (s *Stream) Count() uint64 { return s.counter.n }

// Gamma draws a Gamma(alpha, beta)-distributed delay, the distribution
// every inter-hop network latency in the model is sampled from.
func (s *Stream) Gamma(alpha, beta float64) float64 {
	d := distuv.Gamma{Alpha: alpha, Beta: beta, Src: s.rnd}
	return d.Rand()
}

// Exponential draws an Exponential(rate)-distributed value, used by the
// load generator for inter-arrival sampling and by the blockchain for
// block-interval jitter.
func (s *Stream) Exponential(rate float64) float64 {
	d := distuv.Exponential{Rate: rate, Src: s.rnd}
	return d.Rand()
}

// Float64 draws a uniform [0,1) value, used for scenario/cross-border
// selection in the load generator.
func (s *Stream) Float64() float64 {
	return s.rnd.Float64()
}

// Intn draws a uniform [0,n) integer, used for receiver selection.
func (s *Stream) Intn(n int) int {
	return s.rnd.Intn(n)
}

// Rewind discards every raw draw made after keepCount, restoring the stream
// to exactly the state it was in right after its keepCount-th draw. The
// caller passes Count()-ev.RNGCalls as keepCount to undo one event's worth
// of consumption.
func (s *Stream) Rewind(keepCount uint64) {
	if keepCount >= s.counter.n {
		return
	}
	fresh := rand.NewSource(s.seed)
	s.counter = &countingSource{src: fresh}
	s.rnd = rand.New(s.counter)
	for s.counter.n < keepCount {
		s.counter.Uint64()
	}
}
