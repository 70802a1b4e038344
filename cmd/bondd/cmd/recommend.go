package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/recommend"
)

var applyRecommendation string

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Suggest link combinations",
	Long: "Ask the agent for link combinations over the current scan. With --apply,\n" +
		"connect the links of the recommendation of the given type.",
	Args: cobra.NoArgs,
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().StringVar(&applyRecommendation, "apply", "",
		"connect the links of this recommendation (speed_optimized, reliability_optimized, balanced, power_saving)")
	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	client := newAgentClient()
	defer client.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()

	recs, err := client.Recommendations(ctx)
	if err != nil {
		return fmt.Errorf("bondd recommend: %w", err)
	}
	w := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(w, "no links available")
		return nil
	}

	if applyRecommendation == "" {
		for _, r := range recs {
			marker := " "
			if r.Selected {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %-22s %s\n", marker, r.Type, r.Title)
			fmt.Fprintf(w, "  %s\n", r.Description)
			fmt.Fprintf(w, "  links: %v\n", link.IDs(r.Links))
		}
		return nil
	}

	pick, ok := findRecommendation(recs, recommend.Type(applyRecommendation))
	if !ok {
		return fmt.Errorf("bondd recommend: unknown recommendation %q", applyRecommendation)
	}
	res, err := client.Connect(ctx, link.IDs(pick.Links))
	if err != nil {
		return fmt.Errorf("bondd recommend: apply %s: %w", pick.Type, err)
	}
	printResult(cmd, res)
	return nil
}

func findRecommendation(recs []recommend.Recommendation, t recommend.Type) (recommend.Recommendation, bool) {
	for _, r := range recs {
		if r.Type == t {
			return r, true
		}
	}
	return recommend.Recommendation{}, false
}
