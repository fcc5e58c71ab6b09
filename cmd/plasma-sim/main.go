// plasma-sim runs one discrete-event simulation of a tiered
// payment-channel network: fixtures in, a parallel optimistic run over the
// partitioned topology, CSV results out.
package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lightningnetwork/plasma-sim/internal/chain"
	"github.com/lightningnetwork/plasma-sim/internal/chain/chainstore"
	"github.com/lightningnetwork/plasma-sim/internal/config"
	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/htlc"
	"github.com/lightningnetwork/plasma-sim/internal/ingest"
	"github.com/lightningnetwork/plasma-sim/internal/loadgen"
	logpkg "github.com/lightningnetwork/plasma-sim/internal/log"
	"github.com/lightningnetwork/plasma-sim/internal/metrics"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/node"
	"github.com/lightningnetwork/plasma-sim/internal/report"
	"github.com/lightningnetwork/plasma-sim/internal/swap"
)

// main wraps simMain so deferred cleanups run before os.Exit, the same
// split lnd.go makes between main and lndMain.
func main() {
	if err := simMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func simMain() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	level, ok := btclog.LevelFromString(cfg.DebugLevel)
	if !ok {
		return fmt.Errorf("unknown debuglevel %q", cfg.DebugLevel)
	}
	mainLog := logpkg.SubLogger("PSIM", level)
	executor.UseLogger(logpkg.SubLogger("XCTR", level))
	node.UseLogger(logpkg.SubLogger("NODE", level))

	net, err := ingest.LoadNetwork(cfg.InputDir)
	if err != nil {
		return err
	}
	if len(net.Nodes) >= 1e10 {
		return fmt.Errorf("topology has %d nodes; payment ids support at most 1e10", len(net.Nodes))
	}
	mainLog.Infof("loaded topology: %d nodes, %d channels, %d edges",
		len(net.Nodes), len(net.Channels), len(net.Edges))

	kp, err := ingest.LoadKnownPaths(cfg.InputDir, net)
	if err != nil {
		return err
	}

	numEndUsers := loadgen.NumEndUsers(net)
	if numEndUsers == 0 {
		return fmt.Errorf("topology has no end users; nothing would generate load")
	}
	var schedule loadgen.Schedule
	if cfg.TPSConfigFile != "" {
		schedule, err = ingest.LoadTPSProfile(cfg.TPSConfigFile, numEndUsers)
		if err != nil {
			return err
		}
	} else {
		schedule = loadgen.ConstantSchedule(cfg.TPS, numEndUsers)
	}

	var mets *metrics.Set
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		mets = metrics.New(reg)
		metrics.Serve(cfg.MetricsAddr, reg)
		mainLog.Infof("serving metrics on %s", cfg.MetricsAddr)
	}

	// One partition per distinct partition tag; --sequential collapses
	// everything onto partition 0. The blockchain LP's id is one past the
	// last node, always on partition 0.
	nPartitions := 1
	if !cfg.Sequential {
		for i := range net.Nodes {
			if p := int(net.Nodes[i].Partition) + 1; p > nPartitions {
				nPartitions = p
			}
		}
	}

	eng := executor.New(nPartitions, int64(cfg.SimDurationMs))

	store := htlc.NewStore()
	swapStore := swap.NewStore()
	gen := loadgen.New(net, store, schedule, int64(cfg.SimDurationMs), cfg.ReverseWaterfall)

	chainLPID := executor.LPID(len(net.Nodes))
	chainLP := chain.New(chainLPID, executor.NewStream(cfg.Seed+int64(chainLPID)),
		int(cfg.BlockSize), float64(cfg.BlockTimeMs), cfg.BlockCongestionRate)
	chainLP.SetMetrics(mets)
	eng.Assign(chainLP, 0)

	for i := range net.Nodes {
		n := &net.Nodes[i]
		var nodeGen *loadgen.Generator
		if n.Type == network.NodeEndUser {
			nodeGen = gen
		}
		lp := node.New(node.Config{
			NodeID:                 n.ID,
			Network:                net,
			KnownPaths:             kp,
			Store:                  store,
			SwapStore:              swapStore,
			RNG:                    executor.NewStream(cfg.Seed + int64(n.ID)),
			Generator:              nodeGen,
			Metrics:                mets,
			UseKnownPaths:          cfg.UseKnownPaths,
			Waterfall:              cfg.Waterfall,
			SubmarineSwaps:         cfg.SubmarineSwaps,
			SubmarineSwapThreshold: cfg.SubmarineSwapThreshold,
			BlockTimeMs:            int64(cfg.BlockTimeMs),
			BlockchainLPID:         chainLPID,
		})
		partition := 0
		if !cfg.Sequential {
			partition = int(n.Partition)
		}
		eng.Assign(lp, partition)
	}

	// Seed the initial events: one generator tick per end user, one
	// tick-tock for the chain.
	for i := range net.Nodes {
		if net.Nodes[i].Type != network.NodeEndUser {
			continue
		}
		eng.Schedule(executor.Event{
			Kind:     executor.KindGeneratePayment,
			Time:     1,
			Sender:   chainLPID,
			Receiver: executor.LPID(net.Nodes[i].ID),
		})
	}
	eng.Schedule(executor.Event{
		Kind:     executor.KindTickTockNextBlock,
		Time:     int64(cfg.BlockTimeMs),
		Sender:   chainLPID,
		Receiver: chainLPID,
	})

	mainLog.Infof("running %d partitions for %d simulated ms", nPartitions, cfg.SimDurationMs)
	if err := eng.Run(); err != nil {
		return err
	}
	mets.OnRollback(eng.Rollbacks())
	mainLog.Infof("run complete: %d events rolled back", eng.Rollbacks())

	for p := 0; p < nPartitions; p++ {
		if err := report.WriteNetwork(cfg.OutputDir, uint32(p), net); err != nil {
			return err
		}
		if err := report.WritePayments(cfg.OutputDir, uint32(p), net, store); err != nil {
			return err
		}
	}
	if err := report.WriteBlockchain(cfg.OutputDir, chainLP.Blocks(), chainLP.Mempool()); err != nil {
		return err
	}

	if cfg.ChainDB != "" {
		db, err := chainstore.Open(cfg.ChainDB)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PutBlocks(chainLP.Blocks()); err != nil {
			return err
		}
		mainLog.Infof("persisted %d blocks to %s", len(chainLP.Blocks()), cfg.ChainDB)
	}

	mainLog.Infof("results written to %s", cfg.OutputDir)
	return nil
}
