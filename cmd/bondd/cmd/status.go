package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/plexsphere/bondd/internal/link"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bonding status",
	Long:  "Connect to the local agent via Unix socket and display the bonding state.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List connected links",
	Args:  cobra.NoArgs,
	RunE:  runLinks,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List links available to the active method",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(statusCmd, linksCmd, scanCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("bondd status: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "State:          %s\n", st.State)
	fmt.Fprintf(w, "Method:         %s\n", methodLabel(st.Method))
	fmt.Fprintf(w, "Strategy:       %s\n", st.Strategy)
	fmt.Fprintf(w, "Connected:      %t\n", st.Connected)
	fmt.Fprintf(w, "Combined speed: %.1f Mbps\n", st.CombinedSpeed)
	if st.Captured > 0 || st.Dropped > 0 || st.Malformed > 0 {
		fmt.Fprintf(w, "Packets:        %d captured, %d dropped, %d malformed\n", st.Captured, st.Dropped, st.Malformed)
	}
	if len(st.Retrying) > 0 {
		fmt.Fprintf(w, "Retrying:       %v\n", st.Retrying)
	}
	if len(st.Links) > 0 {
		fmt.Fprintln(w)
		printLinks(w, st.Links)
	}
	return nil
}

func runLinks(cmd *cobra.Command, _ []string) error {
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	links, err := client.Links(ctx)
	if err != nil {
		return fmt.Errorf("bondd links: %w", err)
	}
	if len(links) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no connected links")
		return nil
	}
	printLinks(cmd.OutOrStdout(), links)
	return nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	links, err := client.Scan(ctx)
	if err != nil {
		return fmt.Errorf("bondd scan: %w", err)
	}
	if len(links) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no links available")
		return nil
	}
	printLinks(cmd.OutOrStdout(), links)
	return nil
}

func printLinks(w io.Writer, links []link.Link) {
	fmt.Fprintf(w, "%-12s %-24s %-10s %10s %9s %7s\n", "ID", "NAME", "KIND", "SPEED", "LATENCY", "SHARE")
	for _, l := range links {
		fmt.Fprintf(w, "%-12s %-24s %-10s %5.1f Mbps %6d ms %6.1f%%\n",
			l.ID, l.DisplayName(), l.Kind, l.SpeedMbps, l.LatencyMs, l.AllocationPercentage)
	}
}
