// cmd/nodectl is the CLI entry-point for operating a guidnet node.
//
// Usage:
//
//	nodectl status                              --node http://localhost:8080
//	nodectl join                                --node http://localhost:8080
//	nodectl join --guid 3                       --node http://localhost:8080
//	nodectl address 3                           --node http://localhost:8080
//	nodectl broadcast PING                      --node http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"guidnet/internal/client"
	"guidnet/internal/guid"
)

var (
	nodeAddr string
	timeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "nodectl",
		Short: "CLI client for operating a guidnet overlay node",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "node", "n",
		"http://localhost:8080", "Node HTTP address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(statusCmd(), joinCmd(), addressCmd(), broadcastCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── status ───────────────────────────────────────────────────────────────────

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether a node is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			if _, err := c.Status(context.Background()); err != nil {
				return err
			}
			fmt.Println("alive")
			return nil
		},
	}
}

// ─── join ─────────────────────────────────────────────────────────────────────

func joinCmd() *cobra.Command {
	var proposedGUID uint64

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the network through this node (boot node only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			var g *guid.GUID
			if cmd.Flags().Changed("guid") {
				gg := guid.GUID(proposedGUID)
				g = &gg
			}
			resp, err := c.Join(context.Background(), g)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&proposedGUID, "guid", 0, "Previously-allocated guid to rejoin with")
	return cmd
}

// ─── address ──────────────────────────────────────────────────────────────────

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address <guid>",
		Short: "Resolve a guid to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw uint64
			if _, err := fmt.Sscanf(args[0], "%d", &raw); err != nil {
				return fmt.Errorf("invalid guid %q", args[0])
			}
			c := client.New(nodeAddr, timeout)
			addr, ok, err := c.NodeAddress(context.Background(), guid.GUID(raw))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("unknown")
				return nil
			}
			fmt.Println(addr)
			return nil
		},
	}
}

// ─── broadcast ────────────────────────────────────────────────────────────────

func broadcastCmd() *cobra.Command {
	var selfGUID uint64
	var selfAddr string
	var ttl int

	cmd := &cobra.Command{
		Use:   "broadcast <event-name>",
		Short: "Originate a broadcast message from this operator's identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			originator := guid.Node{GUID: guid.GUID(selfGUID), Address: selfAddr}
			data := map[string]any{"event": map[string]any{"name": args[0]}}
			forwarded, err := c.Broadcast(context.Background(), originator, ttl, data)
			if err != nil {
				return err
			}
			fmt.Printf("forwarded=%v\n", forwarded)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&selfGUID, "guid", 0, "Originating guid")
	cmd.Flags().StringVar(&selfAddr, "addr", "", "Originating address")
	cmd.Flags().IntVar(&ttl, "ttl", 5, "Message time-to-live")
	return cmd
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
