package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/plasma-sim/internal/executor"
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

func TestBroadcastThenTickTockConfirms(t *testing.T) {
	c := New(10, executor.NewStream(1), DefaultBlockSize, DefaultBlockTimeMs, DefaultCongestionRate)

	tx := &Tx{Type: PrepareHTLC, Sender: network.NodeID(1), Receiver: network.NodeID(2), Amount: money.Sat(500), StartTime: 0, Originator: network.NodeID(1)}
	payload, err := Pack(tx)
	require.NoError(t, err)

	broadcast := &executor.Event{ID: 1, Kind: executor.KindBCTxBroadcast, Time: 100, Receiver: 10, Payload: payload}
	out := c.Forward(nil, broadcast)
	require.Empty(t, out)
	require.Len(t, c.Mempool(), 1)

	tick := &executor.Event{ID: 2, Kind: executor.KindTickTockNextBlock, Time: 200, Receiver: 10}
	out = c.Forward(nil, tick)

	// Two BC_TX_CONFIRMED (sender + receiver) plus the next tick.
	require.Len(t, out, 3)
	confirmedTo := map[executor.LPID]bool{}
	nextTicks := 0
	for _, ev := range out {
		switch ev.Kind {
		case executor.KindBCTxConfirmed:
			confirmedTo[ev.Receiver] = true
		case executor.KindTickTockNextBlock:
			nextTicks++
		}
	}
	require.True(t, confirmedTo[executor.LPID(1)])
	require.True(t, confirmedTo[executor.LPID(2)])
	require.Equal(t, 1, nextTicks)
	require.Empty(t, c.Mempool())
	require.Len(t, c.Blocks(), 1)
}

func TestTickTockReverseRestoresMempool(t *testing.T) {
	c := New(10, executor.NewStream(1), DefaultBlockSize, DefaultBlockTimeMs, DefaultCongestionRate)

	tx := &Tx{Type: ClaimHTLC, Sender: network.NodeID(3), Receiver: network.NodeID(4), Amount: money.Sat(10), StartTime: 0, Originator: network.NodeID(3)}
	payload, err := Pack(tx)
	require.NoError(t, err)

	broadcast := &executor.Event{ID: 1, Kind: executor.KindBCTxBroadcast, Time: 100, Receiver: 10, Payload: payload}
	c.Forward(nil, broadcast)

	tick := &executor.Event{ID: 2, Kind: executor.KindTickTockNextBlock, Time: 200, Receiver: 10}
	c.Forward(nil, tick)
	require.Len(t, c.Blocks(), 1)
	require.Empty(t, c.Mempool())

	c.Reverse(nil, tick)
	require.Empty(t, c.Blocks())
	require.Len(t, c.Mempool(), 1)

	c.Reverse(nil, broadcast)
	require.Empty(t, c.Mempool())
}

func TestBroadcastReverseWithoutMatchPanics(t *testing.T) {
	c := New(10, executor.NewStream(1), DefaultBlockSize, DefaultBlockTimeMs, DefaultCongestionRate)
	ghost := &executor.Event{ID: 99, Kind: executor.KindBCTxBroadcast, Time: 100, Receiver: 10}
	require.Panics(t, func() { c.Reverse(nil, ghost) })
}

// TestCongestionThroughputOverPeriod checks the congestion arithmetic:
// over any 100-block period with congestion c, exactly
// floor(100*block_size*(1-c)) transactions are admitted, the remainder
// spread one-extra across the period's first blocks.
func TestCongestionThroughputOverPeriod(t *testing.T) {
	const (
		blockSize  = 4
		congestion = 0.1
	)
	c := New(10, executor.NewStream(1), blockSize, DefaultBlockTimeMs, congestion)

	// Keep the mempool saturated so every block fills to its cap.
	nextEventID := executor.EventID(1)
	broadcast := func(n int) {
		for i := 0; i < n; i++ {
			tx := &Tx{Type: PrepareHTLC, Sender: 1, Receiver: 2, Amount: 1, StartTime: 0, Originator: 1}
			payload, err := Pack(tx)
			require.NoError(t, err)
			ev := &executor.Event{ID: nextEventID, Kind: executor.KindBCTxBroadcast, Time: 1, Receiver: 10, Payload: payload}
			nextEventID++
			c.Forward(nil, ev)
		}
	}

	total := 0
	extras := 0
	for height := 0; height < 100; height++ {
		broadcast(blockSize + 1)
		tick := &executor.Event{ID: nextEventID, Kind: executor.KindTickTockNextBlock, Time: int64(100 + height), Receiver: 10}
		nextEventID++
		c.Forward(nil, tick)

		got := len(c.Blocks()[height].Transactions)
		total += got
		if got == blockSize {
			extras++
		} else {
			require.Equal(t, blockSize-1, got)
		}
	}

	require.Equal(t, int(100*blockSize*(1-congestion)), total)
	// 360 admitted over 100 blocks: 60 blocks of 4, then 40 blocks of 3.
	require.Equal(t, 60, extras)
	for height := 0; height < 60; height++ {
		require.Len(t, c.Blocks()[height].Transactions, blockSize)
	}
}
