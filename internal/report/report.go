// Package report writes the end-of-run output CSVs: per-partition node,
// channel, edge and payment files plus the blockchain file. Output writing
// is an external collaborator of the simulation core; it runs exactly
// once, after the executor has reached quiescence and every commit handler
// has fired.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lightningnetwork/plasma-sim/internal/chain"
	"github.com/lightningnetwork/plasma-sim/internal/htlc"
	"github.com/lightningnetwork/plasma-sim/internal/network"
)

// WriteNetwork writes nodes_output_N.csv, channels_output_N.csv and
// edges_output_N.csv for one physical partition, covering only the nodes
// assigned to it (and the channels/edges whose owning node is).
func WriteNetwork(outputDir string, partition uint32, net *network.Network) error {
	if err := writeNodes(outputDir, partition, net); err != nil {
		return err
	}
	if err := writeChannels(outputDir, partition, net); err != nil {
		return err
	}
	return writeEdges(outputDir, partition, net)
}

func writeNodes(outputDir string, partition uint32, net *network.Network) error {
	f, err := createOutput(outputDir, fmt.Sprintf("nodes_output_%d.csv", partition))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "id,open_edges")
	for i := range net.Nodes {
		n := &net.Nodes[i]
		if n.Partition != partition {
			continue
		}
		if len(n.OutEdges) == 0 {
			fmt.Fprintf(f, "%d,-1\n", n.ID)
			continue
		}
		ids := make([]string, len(n.OutEdges))
		for j, eid := range n.OutEdges {
			ids[j] = fmt.Sprintf("%d", eid)
		}
		fmt.Fprintf(f, "%d,%s\n", n.ID, strings.Join(ids, "-"))
	}
	return nil
}

func writeChannels(outputDir string, partition uint32, net *network.Network) error {
	f, err := createOutput(outputDir, fmt.Sprintf("channels_output_%d.csv", partition))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "id,edge1,edge2,node1,node2,capacity,is_private")
	for i := range net.Channels {
		c := &net.Channels[i]
		if net.Node(c.Node1).Partition != partition {
			continue
		}
		fmt.Fprintf(f, "%d,%d,%d,%s,%s,%d,%t\n",
			c.ID, c.Edge1, c.Edge2,
			net.Node(c.Node1).Label, net.Node(c.Node2).Label,
			c.Capacity, c.IsPrivate)
	}
	return nil
}

func writeEdges(outputDir string, partition uint32, net *network.Network) error {
	f, err := createOutput(outputDir, fmt.Sprintf("edges_output_%d.csv", partition))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "id,channel_id,counter_edge_id,from_node_id,to_node_id,from_node_label,to_node_label,balance,fee_base,fee_proportional,min_htlc,timelock,tot_flows")
	for i := range net.Edges {
		e := &net.Edges[i]
		if net.Node(e.From).Partition != partition {
			continue
		}
		fmt.Fprintf(f, "%d,%d,%d,%d,%d,%s,%s,%d,%d,%d,%d,%d,%d\n",
			e.ID, e.ChannelID, e.CounterEdge, e.From, e.To,
			net.Node(e.From).Label, net.Node(e.To).Label,
			e.Balance, e.Policy.BaseFee, e.Policy.FeeProportional,
			e.Policy.MinHTLC, e.Policy.Timelock, e.TotFlows)
	}
	return nil
}

// WritePayments writes payments_output_N.csv for one partition: every
// payment whose sender lives on it, with its terminal outcome, error edge,
// route as a label chain and an edge-id chain, and total fee.
func WritePayments(outputDir string, partition uint32, net *network.Network, store *htlc.Store) error {
	f, err := createOutput(outputDir, fmt.Sprintf("payments_output_%d.csv", partition))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "id,type,sender_id,receiver_id,amount,start_time,end_time,is_success,no_balance_count,offline_node_count,timeout_exp,attempts,first_no_balance_error,route,route_ids,total_fee")
	for _, p := range store.All() {
		if net.Node(p.Sender).Partition != partition {
			continue
		}
		fmt.Fprintf(f, "%d,%d,%s,%s,%d,%d,%d,%t,%d,%d,%t,%d,",
			p.ID, p.Type,
			net.Node(p.Sender).Label, net.Node(p.Receiver).Label,
			p.Amount, p.StartTime, p.EndTime, p.IsSuccess,
			p.NoBalanceCount, p.OfflineNodeCount, p.IsExpired, p.Attempts)

		if !p.IsSuccess && p.Error.Type == htlc.ErrNoBalance && p.Error.Hop != nil {
			fmt.Fprintf(f, "%d:%d:%s->%s,",
				p.Error.Hop.EdgeID, p.Error.Time,
				net.Node(p.Error.Hop.FromNodeID).Label,
				net.Node(p.Error.Hop.ToNodeID).Label)
		} else {
			fmt.Fprint(f, ",")
		}

		if p.Route == nil {
			fmt.Fprintln(f, ",-1,")
			continue
		}
		labels := make([]string, len(p.Route.Hops))
		ids := make([]string, len(p.Route.Hops))
		for j := range p.Route.Hops {
			hop := &p.Route.Hops[j]
			labels[j] = fmt.Sprintf("%s->%s",
				net.Node(hop.FromNodeID).Label, net.Node(hop.ToNodeID).Label)
			ids[j] = fmt.Sprintf("%d", hop.EdgeID)
		}
		fmt.Fprintf(f, "%s,%s,%d\n",
			strings.Join(labels, "-"), strings.Join(ids, "-"), p.Route.TotalFee)
	}
	return nil
}

// WriteBlockchain writes blockchain_output_0.csv: every confirmed
// transaction with its block height and time, followed by the mempool's
// still-unconfirmed remainder flagged confirmed=false.
func WriteBlockchain(outputDir string, blocks []chain.Block, mempool []chain.Tx) error {
	f, err := createOutput(outputDir, "blockchain_output_0.csv")
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "confirmed,block_height,block_time,tx_type,tx_sender,tx_receiver,tx_amount,tx_start_time,tx_originator")
	for height, b := range blocks {
		for _, tx := range b.Transactions {
			fmt.Fprintf(f, "true,%d,%d,%s,%d,%d,%d,%d,%d\n",
				height, b.ConfirmationTime, tx.Type,
				tx.Sender, tx.Receiver, tx.Amount, tx.StartTime, tx.Originator)
		}
	}
	for _, tx := range mempool {
		fmt.Fprintf(f, "false,,,%s,%d,%d,%d,%d,%d\n",
			tx.Type, tx.Sender, tx.Receiver, tx.Amount, tx.StartTime, tx.Originator)
	}
	return nil
}

func createOutput(outputDir, name string) (*os.File, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(outputDir, name))
}
