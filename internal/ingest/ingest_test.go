package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		NodesFile: "id,label,country,partition,intermediary\n" +
			"0,Retail-0,IT,0,2\n" +
			"1,Merchant-1,IT,0,2\n" +
			"2,Intermediary-2,IT,0,-1\n" +
			"3,CB-3,IT,1,-1\n",
		ChannelsFile: "id,edge1,edge2,node1,node2,capacity,is_private\n" +
			"0,0,1,0,2,100000,0\n" +
			"1,2,3,1,2,200000,1\n",
		EdgesFile: "id,channel_id,counter_edge_id,from,to,balance,fee_base,fee_proportional,min_htlc,timelock\n" +
			"0,0,1,0,2,50000,1000,10,1,40\n" +
			"1,0,0,2,0,50000,1000,10,1,40\n" +
			"2,1,3,1,2,100000,0,0,1,40\n" +
			"3,1,2,2,1,100000,0,0,1,40\n",
		PathsFile: "src,target\n" +
			"0,1,0,3\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadNetwork(t *testing.T) {
	dir := writeFixtures(t)

	net, err := LoadNetwork(dir)
	require.NoError(t, err)
	require.Len(t, net.Nodes, 4)
	require.Len(t, net.Channels, 2)
	require.Len(t, net.Edges, 4)

	require.Equal(t, network.NodeEndUser, net.Node(0).Type)
	require.Equal(t, network.NodeMerchant, net.Node(1).Type)
	require.Equal(t, network.NodeIntermediary, net.Node(2).Type)
	require.Equal(t, network.NodeCentralBank, net.Node(3).Type)
	require.Equal(t, network.NodeID(2), net.Node(0).Custodian)
	require.Equal(t, uint32(1), net.Node(3).Partition)

	require.True(t, net.Channel(1).IsPrivate)
	require.False(t, net.Channel(0).IsPrivate)

	e := net.Edge(0)
	require.Equal(t, money.Sat(50_000), e.Balance)
	require.Equal(t, money.Sat(1000), e.Policy.BaseFee)
	require.Equal(t, uint32(10), e.Policy.FeeProportional)

	// Open-edge lists follow the edges' from-side.
	require.Equal(t, []network.EdgeID{0}, net.Node(0).OutEdges)
	require.Equal(t, []network.EdgeID{1, 3}, net.Node(2).OutEdges)

	// The channel-balance invariant holds straight from the fixtures.
	for i := range net.Edges {
		edge := net.Edge(network.EdgeID(i))
		ce := net.CounterEdge(edge)
		require.Equal(t, net.Channel(edge.ChannelID).Capacity, edge.Balance+ce.Balance)
	}
}

func TestLoadKnownPaths(t *testing.T) {
	dir := writeFixtures(t)
	net, err := LoadNetwork(dir)
	require.NoError(t, err)

	kp, err := LoadKnownPaths(dir, net)
	require.NoError(t, err)

	hops, ok := kp.Get(0, 1)
	require.True(t, ok)
	require.Len(t, hops, 2)
	require.Equal(t, network.NodeID(0), hops[0].Sender)
	require.Equal(t, network.NodeID(2), hops[0].Receiver)
	require.Equal(t, network.NodeID(1), hops[1].Receiver)
}

func TestLoadKnownPathsMissingFileIsEmptyTable(t *testing.T) {
	dir := t.TempDir()
	kp, err := LoadKnownPaths(dir, network.New(0, 0, 0))
	require.NoError(t, err)
	_, ok := kp.Get(0, 1)
	require.False(t, ok)
}

func TestLoadTPSProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tps.cfg")
	require.NoError(t, os.WriteFile(path, []byte("# morning\n100\n200\n\n300\n"), 0o644))

	s, err := LoadTPSProfile(path, 10)
	require.NoError(t, err)
	require.Equal(t, 10.0, s[0])
	require.Equal(t, 20.0, s[1])
	require.Equal(t, 30.0, s[2])
	// Short profiles repeat their last value for the remaining windows.
	require.Equal(t, 30.0, s[95])
}

func TestLoadNetworkRejectsUnknownLabel(t *testing.T) {
	dir := writeFixtures(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, NodesFile),
		[]byte("id,label,country,partition,intermediary\n0,Satellite-0,IT,0,-1\n"), 0o644))

	_, err := LoadNetwork(dir)
	require.Error(t, err)
}
