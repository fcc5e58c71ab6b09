// Package ingest loads the simulation's input fixtures: the network
// topology CSVs, the optional precomputed path table and the optional tps
// profile. Input parsing is an external collaborator of the simulation
// core, kept behind the narrow contract of "hand back a *network.Network
// and friends"; nothing in here is touched again once the run starts.
package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lightningnetwork/plasma-sim/internal/loadgen"
	"github.com/lightningnetwork/plasma-sim/internal/money"
	"github.com/lightningnetwork/plasma-sim/internal/network"
	"github.com/lightningnetwork/plasma-sim/internal/routing"
)

// Fixture file names, spec'd by the input contract.
const (
	NodesFile    = "plasma_network_nodes.csv"
	ChannelsFile = "plasma_network_channels.csv"
	EdgesFile    = "plasma_network_edges.csv"
	PathsFile    = "plasma_paths.csv"
)

// nodeTypeFromLabel maps a node label's prefix onto its type, the same
// convention the fixture generator uses ("CB", "Intermediary", "Retail",
// "Merchant").
func nodeTypeFromLabel(label string) (network.NodeType, error) {
	switch {
	case strings.HasPrefix(label, "CB"):
		return network.NodeCentralBank, nil
	case strings.HasPrefix(label, "Intermediary"):
		return network.NodeIntermediary, nil
	case strings.HasPrefix(label, "Retail"):
		return network.NodeEndUser, nil
	case strings.HasPrefix(label, "Merchant"):
		return network.NodeMerchant, nil
	default:
		return 0, fmt.Errorf("ingest: unrecognized node label %q", label)
	}
}

// LoadNetwork reads the three topology CSVs from inputDir and assembles
// the arena, wiring each node's open-edge list from the edges it is the
// from-side of.
func LoadNetwork(inputDir string) (*network.Network, error) {
	nodeRows, err := readCSV(filepath.Join(inputDir, NodesFile))
	if err != nil {
		return nil, err
	}
	channelRows, err := readCSV(filepath.Join(inputDir, ChannelsFile))
	if err != nil {
		return nil, err
	}
	edgeRows, err := readCSV(filepath.Join(inputDir, EdgesFile))
	if err != nil {
		return nil, err
	}

	net := network.New(len(nodeRows), len(channelRows), len(edgeRows))

	// plasma_network_nodes.csv: id,label,country,partition,intermediary
	for _, row := range nodeRows {
		if len(row) < 5 {
			return nil, fmt.Errorf("ingest: short node row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("ingest: node id %q: %w", row[0], err)
		}
		if id != len(net.Nodes) {
			return nil, fmt.Errorf("ingest: node ids must be dense and ordered, got %d at row %d", id, len(net.Nodes))
		}
		typ, err := nodeTypeFromLabel(row[1])
		if err != nil {
			return nil, err
		}
		partition, err := strconv.ParseUint(row[3], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("ingest: node %d partition %q: %w", id, row[3], err)
		}
		custodian, err := strconv.ParseInt(row[4], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("ingest: node %d intermediary %q: %w", id, row[4], err)
		}
		net.Nodes = append(net.Nodes, network.Node{
			ID:        network.NodeID(id),
			Label:     row[1],
			Type:      typ,
			Country:   row[2],
			Partition: uint32(partition),
			Custodian: network.NodeID(custodian),
			Results:   network.NewResultStore(),
		})
	}

	// plasma_network_channels.csv: id,edge1,edge2,node1,node2,capacity,is_private
	for _, row := range channelRows {
		if len(row) < 7 {
			return nil, fmt.Errorf("ingest: short channel row %v", row)
		}
		vals, err := atoiAll(row[:6])
		if err != nil {
			return nil, fmt.Errorf("ingest: channel row %v: %w", row, err)
		}
		if vals[0] != int64(len(net.Channels)) {
			return nil, fmt.Errorf("ingest: channel ids must be dense and ordered, got %d", vals[0])
		}
		net.Channels = append(net.Channels, network.Channel{
			ID:        network.ChannelID(vals[0]),
			Edge1:     network.EdgeID(vals[1]),
			Edge2:     network.EdgeID(vals[2]),
			Node1:     network.NodeID(vals[3]),
			Node2:     network.NodeID(vals[4]),
			Capacity:  money.Sat(vals[5]),
			IsPrivate: row[6] == "1" || strings.EqualFold(row[6], "true"),
		})
	}

	// plasma_network_edges.csv:
	// id,channel_id,counter_edge_id,from,to,balance,fee_base,fee_proportional,min_htlc,timelock
	for _, row := range edgeRows {
		if len(row) < 10 {
			return nil, fmt.Errorf("ingest: short edge row %v", row)
		}
		vals, err := atoiAll(row)
		if err != nil {
			return nil, fmt.Errorf("ingest: edge row %v: %w", row, err)
		}
		if vals[0] != int64(len(net.Edges)) {
			return nil, fmt.Errorf("ingest: edge ids must be dense and ordered, got %d", vals[0])
		}
		edge := network.Edge{
			ID:          network.EdgeID(vals[0]),
			ChannelID:   network.ChannelID(vals[1]),
			CounterEdge: network.EdgeID(vals[2]),
			From:        network.NodeID(vals[3]),
			To:          network.NodeID(vals[4]),
			Balance:     money.Sat(vals[5]),
			Policy: money.Policy{
				BaseFee:         money.Sat(vals[6]),
				FeeProportional: uint32(vals[7]),
				MinHTLC:         money.Sat(vals[8]),
				Timelock:        uint32(vals[9]),
			},
		}
		net.Edges = append(net.Edges, edge)
		if int(edge.From) >= len(net.Nodes) {
			return nil, fmt.Errorf("ingest: edge %d from-node %d out of range", edge.ID, edge.From)
		}
		net.Nodes[edge.From].OutEdges = append(net.Nodes[edge.From].OutEdges, edge.ID)
	}

	return net, nil
}

// LoadKnownPaths reads the optional plasma_paths.csv (src,target,edge,...)
// into a routing.KnownPaths table. A missing file is not an error: the
// table is simply empty and every payment runs full pathfinding.
func LoadKnownPaths(inputDir string, net *network.Network) (*routing.KnownPaths, error) {
	kp := routing.NewKnownPaths()

	rows, err := readCSV(filepath.Join(inputDir, PathsFile))
	if os.IsNotExist(err) {
		return kp, nil
	}
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("ingest: short path row %v", row)
		}
		src, err := strconv.ParseInt(row[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("ingest: path src %q: %w", row[0], err)
		}
		target, err := strconv.ParseInt(row[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("ingest: path target %q: %w", row[1], err)
		}

		hops := make([]routing.Hop, 0, len(row)-2)
		for _, field := range row[2:] {
			if field == "" {
				continue
			}
			eid, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("ingest: path edge %q: %w", field, err)
			}
			if int(eid) >= len(net.Edges) {
				return nil, fmt.Errorf("ingest: path edge %d out of range", eid)
			}
			edge := net.Edge(network.EdgeID(eid))
			hops = append(hops, routing.Hop{Sender: edge.From, Edge: edge.ID, Receiver: edge.To})
		}
		kp.Put(network.NodeID(src), network.NodeID(target), hops)
	}

	return kp, nil
}

// LoadTPSProfile reads a tps profile: one aggregate tx/s value per line,
// '#' comments and blank lines skipped, truncated to the schedule's 96
// windows and padded with the last value when shorter, each divided by the
// end-user count to give a per-user rate.
func LoadTPSProfile(path string, numEndUsers int) (loadgen.Schedule, error) {
	var s loadgen.Schedule

	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tps, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			return s, fmt.Errorf("ingest: tps profile line %q: %w", line, err)
		}
		if count >= loadgen.ScheduleWindows {
			break
		}
		s[count] = float64(tps) / float64(numEndUsers)
		count++
	}
	if err := scanner.Err(); err != nil {
		return s, err
	}
	if count == 0 {
		return s, fmt.Errorf("ingest: no valid rates in tps profile %s", path)
	}
	for i := count; i < loadgen.ScheduleWindows; i++ {
		s[i] = s[count-1]
	}
	return s, nil
}

// readCSV reads every data row of a headered CSV file.
func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ingest: reading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ingest: %s is empty", path)
	}
	return rows[1:], nil
}

// atoiAll parses every field of a row as int64.
func atoiAll(fields []string) ([]int64, error) {
	out := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
