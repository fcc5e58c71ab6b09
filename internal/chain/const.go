package chain

// Block production defaults: 4 transactions per block, a block roughly
// every minute, no artificial congestion.
const (
	DefaultBlockSize      = 4
	DefaultBlockTimeMs     = 60_000
	DefaultCongestionRate = 0.0

	// congestionPeriod is the number of blocks over which
	// the configured congestion rate's fractional capacity loss is distributed, so
	// that a non-integer average block size still comes out exact over
	// the period instead of rounding the same way every block.
	congestionPeriod = 100
)
