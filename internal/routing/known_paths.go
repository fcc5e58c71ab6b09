package routing

import "github.com/lightningnetwork/plasma-sim/internal/network"

// KnownPaths is the optional precomputed custodian-to-custodian path
// table loaded from plasma_paths.csv when --use-known-paths is set: a
// payment's first attempt consults this table before falling back to
// FindPath, and every retry after a failure always falls back to FindPath
// regardless.
type KnownPaths struct {
	paths map[knownPathKey][]Hop
}

type knownPathKey struct {
	Source network.NodeID
	Target network.NodeID
}

// NewKnownPaths returns an empty known-paths table.
func NewKnownPaths() *KnownPaths {
	return &KnownPaths{paths: make(map[knownPathKey][]Hop)}
}

// Put records the precomputed path from source to target.
func (k *KnownPaths) Put(source, target network.NodeID, hops []Hop) {
	k.paths[knownPathKey{source, target}] = hops
}

// Get returns the precomputed path from source to target, if any.
func (k *KnownPaths) Get(source, target network.NodeID) ([]Hop, bool) {
	hops, ok := k.paths[knownPathKey{source, target}]
	return hops, ok
}
