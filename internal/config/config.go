// Package config defines the command-line surface of plasma-sim: it turns
// flags into a single immutable *Config threaded into constructors —
// nothing downstream reads a package-level global.
package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
)

// Config holds every command-line flag. It is parsed once by LoadConfig
// and then passed into the constructors of the components that need it; no
// component re-parses or mutates it.
type Config struct {
	InputDir  string `long:"input-dir" description:"directory containing the network fixture CSVs" required:"true"`
	OutputDir string `long:"output-dir" description:"directory results are written to" required:"true"`

	UseKnownPaths bool   `long:"use-known-paths" description:"use precomputed custodian-to-custodian paths on a payment's first attempt"`
	TPS           uint   `long:"tps" description:"constant target transactions-per-second, per end user" default:"20"`
	TPSConfigFile string `long:"tps-cfg" description:"path to a 96-window tps profile, overrides --tps when set"`

	Waterfall        bool `long:"waterfall" description:"enable auto-deposit on liquidity overflow"`
	ReverseWaterfall bool `long:"reverse-waterfall" description:"enable auto-withdraw before an under-funded send"`

	SubmarineSwaps         bool    `long:"submarine-swaps" description:"enable intermediary-to-intermediary submarine swap rebalancing"`
	SubmarineSwapThreshold float64 `long:"submarine-swap-threshold" description:"backward-edge unbalancedness that triggers a swap, in (0.5, 1]" default:"0.9"`

	BlockSize           uint    `long:"block-size" description:"average number of transactions per block" default:"4"`
	BlockTimeMs         uint    `long:"block-time" description:"average block interval in milliseconds" default:"60000"`
	BlockCongestionRate float64 `long:"block-congestion-rate" description:"fraction of block capacity left unused, in [0,1]" default:"0"`

	SimDurationMs uint64 `long:"sim-duration" description:"total simulated time in milliseconds" default:"86400000"`

	Sequential bool `long:"sequential" description:"run every LP on a single partition regardless of the topology's partition tags"`

	Seed int64 `long:"seed" description:"base seed the per-LP random streams are derived from" default:"1"`

	MetricsAddr string `long:"metrics-addr" description:"host:port to expose prometheus metrics on; empty disables"`
	ChainDB     string `long:"chain-db" description:"path of a bolt database the confirmed chain is persisted to; empty disables"`

	DebugLevel string `long:"debuglevel" description:"logging level: trace, debug, info, warn, error, critical" default:"info"`
}

// LoadConfig parses args into a Config, applying the same defaults the
// struct tags declare, the way lnd.go's loadConfig wraps go-flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that struct tags can't express.
func (c *Config) Validate() error {
	if c.SubmarineSwapThreshold <= 0.5 || c.SubmarineSwapThreshold > 1 {
		return fmt.Errorf("submarine-swap-threshold must be in (0.5, 1], got %f",
			c.SubmarineSwapThreshold)
	}
	if c.BlockCongestionRate < 0 || c.BlockCongestionRate > 1 {
		return fmt.Errorf("block-congestion-rate must be in [0,1], got %f",
			c.BlockCongestionRate)
	}
	// Payment ids are 1e9*sender + start_time_ms; a longer simulation
	// would exhaust the id space.
	if c.SimDurationMs >= 1e10 {
		return fmt.Errorf("sim-duration must stay below 1e10 ms, got %d",
			c.SimDurationMs)
	}
	return nil
}
