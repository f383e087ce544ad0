package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"pkt.systems/gridd/api"
)

const defaultServerURL = "http://127.0.0.1:4444"

func serverURLFlag(cmd *cobra.Command) string {
	raw, _ := cmd.Flags().GetString("server")
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return defaultServerURL
	}
	return raw
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show grid fleet and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			base := serverURLFlag(cmd)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(base + "/v1/status")
			if err != nil {
				return fmt.Errorf("fetch status from %s: %w", base, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
			}
			var status api.StatusResponse
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}

			ready := "not ready"
			if status.Ready {
				ready = "ready"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "grid: %s, %d node(s), %d request(s) queued\n\n",
				ready, len(status.Nodes), status.QueueSize)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tURI\tAVAILABILITY\tSLOTS\tBUSY\tLAST HEARTBEAT")
			for _, node := range status.Nodes {
				busy := 0
				for _, slot := range node.Slots {
					if slot.SessionID != "" || slot.Reserved {
						busy++
					}
				}
				heartbeat := "never"
				if node.LastHeartbeat > 0 {
					heartbeat = humanize.Time(time.Unix(node.LastHeartbeat, 0))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					node.NodeID, node.URI, node.Availability, len(node.Slots), busy, heartbeat)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("server", defaultServerURL, "gridd server base URL")
	return cmd
}

func newDrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain <node-id>",
		Short: "take a node out of rotation, letting running sessions finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			base := serverURLFlag(cmd)
			nodeID := args[0]

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(base+"/v1/node/"+nodeID+"/drain", "application/json", nil)
			if err != nil {
				return fmt.Errorf("drain %s via %s: %w", nodeID, base, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("drain endpoint returned %d", resp.StatusCode)
			}
			var out api.DrainNodeResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode drain response: %w", err)
			}
			if !out.Draining {
				fmt.Fprintf(os.Stderr, "node %s is not draining (unknown node?)\n", nodeID)
				return fmt.Errorf("node %s did not acknowledge drain", nodeID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node %s draining\n", nodeID)
			return nil
		},
	}
	cmd.Flags().String("server", defaultServerURL, "gridd server base URL")
	return cmd
}
