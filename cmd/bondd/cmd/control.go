package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/bondd/internal/ctlapi"
	"github.com/plexsphere/bondd/internal/link"
)

var connectCmd = &cobra.Command{
	Use:   "connect [link-id...]",
	Short: "Connect links",
	Long:  "Connect the named links, or every link the active method can scan when none are named.",
	RunE:  runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect all links",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

var methodCmd = &cobra.Command{
	Use:       "method <native|adapter|hybrid|proxy|capture>",
	Short:     "Switch the bonding method",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"native", "adapter", "hybrid", "proxy", "capture"},
	RunE:      runMethod,
}

var strategyCmd = &cobra.Command{
	Use:       "strategy <round_robin|speed_weighted|latency_weighted|adaptive>",
	Short:     "Set the allocation strategy",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"round_robin", "speed_weighted", "latency_weighted", "adaptive"},
	RunE:      runStrategy,
}

func init() {
	rootCmd.AddCommand(connectCmd, disconnectCmd, methodCmd, strategyCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	res, err := client.Connect(ctx, args)
	if err != nil {
		return fmt.Errorf("bondd connect: %w", err)
	}
	printResult(cmd, res)
	return nil
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	res, err := client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("bondd disconnect: %w", err)
	}
	if !res.OK {
		fmt.Fprintln(cmd.OutOrStdout(), "already disconnected")
		return nil
	}
	printResult(cmd, res)
	return nil
}

func runMethod(cmd *cobra.Command, args []string) error {
	m, err := link.ParseMethod(args[0])
	if err != nil {
		return fmt.Errorf("bondd method: %w", err)
	}
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	res, err := client.SwitchMethod(ctx, m)
	if err != nil {
		return fmt.Errorf("bondd method: %w", err)
	}
	printResult(cmd, res)
	return nil
}

func runStrategy(cmd *cobra.Command, args []string) error {
	s, err := link.ParseStrategy(args[0])
	if err != nil {
		return fmt.Errorf("bondd strategy: %w", err)
	}
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	res, err := client.SetStrategy(ctx, s)
	if err != nil {
		return fmt.Errorf("bondd strategy: %w", err)
	}
	printResult(cmd, res)
	return nil
}

func printResult(cmd *cobra.Command, res ctlapi.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s via %s (%s), %.1f Mbps combined\n",
		res.Status.State, methodLabel(res.Status.Method), res.Status.Strategy, res.Status.CombinedSpeed)
	if len(res.Status.Links) > 0 {
		printLinks(w, res.Status.Links)
	}
}

func methodLabel(m link.Method) string {
	if m == "" {
		return "-"
	}
	return string(m)
}
