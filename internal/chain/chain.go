// Package chain implements the blockchain logical process: a ticking
// block producer that drains a mempool of submarine-swap settlement
// transactions into blocks at exponentially distributed intervals that
// average the configured block time, notifying both parties to
// each transaction once it confirms. Like internal/htlc, it is expressed
// as forward/reverse/commit methods on an executor.LP.
package chain

import (
	"github.com/go-errors/errors"

	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/metrics"
)

// entry pairs a transaction with the ID of the BC_TX_BROADCAST event that
// put it in the mempool, so Reverse can find and remove the exact entry a
// given broadcast added even when another transaction with identical
// content is also sitting in the mempool — two legs of the same swap can
// broadcast byte-identical transactions, so content alone cannot
// disambiguate.
type entry struct {
	addedBy executor.EventID
	tx      Tx
}

// Block is one confirmed batch of transactions.
type Block struct {
	ConfirmationTime int64
	Transactions     []Tx
}

// Chain is the blockchain LP. There is exactly one per simulation run,
// always pinned to partition 0, with the id one past the last node.
type Chain struct {
	id executor.LPID

	mempool []entry
	blocks  []block // parallel to Block, but entry-tagged for reverse

	// committedBlocks counts how many tick-tocks have committed; since
	// a tick-tock's reverse pops the last block, surviving blocks and
	// committed tick-tocks correspond one to one, in order.
	committedBlocks int

	mets *metrics.Set

	rng *executor.Stream

	blockSize      int
	blockTimeMs    float64
	congestionRate float64
}

// block mirrors Block but keeps each transaction's originating event ID so
// TickTock's reverse handler can put them back in the mempool exactly as
// they were.
type block struct {
	confirmationTime int64
	transactions     []entry
}

// New builds the blockchain LP. id is the LPID every node-originated
// BC_TX_BROADCAST event addresses.
func New(id executor.LPID, rng *executor.Stream, blockSize int, blockTimeMs float64, congestionRate float64) *Chain {
	return &Chain{
		id:             id,
		rng:            rng,
		blockSize:      blockSize,
		blockTimeMs:    blockTimeMs,
		congestionRate: congestionRate,
	}
}

func (c *Chain) ID() executor.LPID { return c.id }

// Blocks returns the chain's confirmed blocks in order, for final reporting.
func (c *Chain) Blocks() []Block {
	out := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = Block{ConfirmationTime: b.confirmationTime, Transactions: entriesToTxs(b.transactions)}
	}
	return out
}

// Mempool returns the transactions still awaiting confirmation, for
// final reporting alongside the confirmed blocks.
func (c *Chain) Mempool() []Tx {
	return entriesToTxs(c.mempool)
}

func entriesToTxs(es []entry) []Tx {
	out := make([]Tx, len(es))
	for i, e := range es {
		out[i] = e.tx
	}
	return out
}

// availableBlockSize computes how many transactions the next block may
// hold given congestionRate: the congestion loss is spread evenly over a
// 100-block period rather than truncated identically every block.
func (c *Chain) availableBlockSize() int {
	transactionsInPeriod := congestionPeriod * c.blockSize
	availableInPeriod := int(float64(transactionsInPeriod) * (1.0 - c.congestionRate))
	perBlock := availableInPeriod / congestionPeriod
	remainder := availableInPeriod % congestionPeriod
	blockNumInPeriod := len(c.blocks) % congestionPeriod
	if blockNumInPeriod < remainder {
		return perBlock + 1
	}
	return perBlock
}

// Forward dispatches a TICK_TOCK_NEXT_BLOCK or BC_TX_BROADCAST event.
func (c *Chain) Forward(eng *executor.Engine, ev *executor.Event) []executor.Event {
	startCount := c.rng.Count()
	defer func() { ev.RNGCalls = c.rng.Count() - startCount }()

	switch ev.Kind {
	case executor.KindTickTockNextBlock:
		return c.tickTock(ev)

	case executor.KindBCTxBroadcast:
		tx, err := Unpack(ev.Payload[:])
		if err != nil {
			panic(errors.Errorf("chain: decoding broadcast tx: %v", err))
		}
		c.mempool = append(c.mempool, entry{addedBy: ev.ID, tx: *tx})
		return nil

	default:
		panic(errors.Errorf("chain: unhandled forward event kind %s", ev.Kind))
	}
}

func (c *Chain) tickTock(ev *executor.Event) []executor.Event {
	avail := c.availableBlockSize()

	var taken []entry
	for len(c.mempool) > 0 && len(taken) < avail {
		e := c.mempool[0]
		c.mempool = c.mempool[1:]
		taken = append(taken, e)
	}
	c.blocks = append(c.blocks, block{confirmationTime: ev.Time, transactions: taken})

	out := make([]executor.Event, 0, 2*len(taken)+1)
	for _, e := range taken {
		payload, err := Pack(&e.tx)
		if err != nil {
			panic(errors.Errorf("chain: packing confirmed tx: %v", err))
		}
		out = append(out,
			executor.Event{Kind: executor.KindBCTxConfirmed, Time: ev.Time + int64(c.rng.Gamma(gammaAlpha, gammaBeta)), Sender: c.id, Receiver: executor.LPID(e.tx.Sender), Payload: payload},
			executor.Event{Kind: executor.KindBCTxConfirmed, Time: ev.Time + int64(c.rng.Gamma(gammaAlpha, gammaBeta)), Sender: c.id, Receiver: executor.LPID(e.tx.Receiver), Payload: payload},
		)
	}

	nextOffset := int64(c.rng.Exponential(1.0 / c.blockTimeMs))
	if nextOffset <= 0 {
		nextOffset = 1
	}
	out = append(out, executor.Event{Kind: executor.KindTickTockNextBlock, Time: ev.Time + nextOffset, Sender: c.id, Receiver: c.id})
	return out
}

// Reverse undoes exactly what Forward did.
func (c *Chain) Reverse(eng *executor.Engine, ev *executor.Event) {
	switch ev.Kind {
	case executor.KindTickTockNextBlock:
		last := c.blocks[len(c.blocks)-1]
		c.blocks = c.blocks[:len(c.blocks)-1]
		c.mempool = append(last.transactions, c.mempool...)

	case executor.KindBCTxBroadcast:
		found := -1
		for i, e := range c.mempool {
			if e.addedBy == ev.ID {
				found = i
				break
			}
		}
		if found == -1 {
			panic(errors.New("chain: blockchain tx cannot be found in the mempool during the BC_TX_BROADCAST reverse handler"))
		}
		c.mempool = append(c.mempool[:found], c.mempool[found+1:]...)
	}

	if ev.RNGCalls > 0 {
		c.rng.Rewind(c.rng.Count() - ev.RNGCalls)
	}
}

// SetMetrics installs an optional metrics sink fed from Commit.
func (c *Chain) SetMetrics(mets *metrics.Set) {
	c.mets = mets
}

// Commit finalizes a tick-tock once its block can no longer be rolled
// back, feeding the metrics sink.
func (c *Chain) Commit(eng *executor.Engine, ev *executor.Event) {
	if ev.Kind != executor.KindTickTockNextBlock {
		return
	}
	if c.committedBlocks < len(c.blocks) {
		c.mets.OnBlockConfirmed(len(c.blocks[c.committedBlocks].transactions))
	}
	c.committedBlocks++
}

const (
	gammaAlpha = 6.40
	gammaBeta  = 4.35
)
