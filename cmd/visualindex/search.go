package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/visualindex"
	"github.com/hupe1980/visualindex/pipeline"
)

func NewSearchCmd(ix func() *visualindex.Indexer) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "search <path|url>",
		Short:       "Search for similar images",
		Long:        `Find the indexed images closest to a query image.`,
		Args:        cobra.ExactArgs(1),
		Annotations: needsIndex(),
		RunE:        makeSearchRunner(ix),
	}

	cmd.Flags().IntP("number", "k", visualindex.DefaultK, "Maximum results")
	cmd.Flags().Int("probes", 0, "Coarse cells to visit (0 uses the configured default)")
	return cmd
}

func makeSearchRunner(ix func() *visualindex.Indexer) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("number")
		probes, _ := cmd.Flags().GetInt("probes")
		asJSON, _ := cmd.Flags().GetBool("json")

		task := pipeline.Task{ID: args[0], Location: args[0]}
		results, err := ix().SearchImage(task).K(k).Probes(probes).Execute(cmd.Context())
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if asJSON {
			return outputSearchResultsJSON(cmd, results)
		}
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %s\n", r.Distance, r.ID)
		}
		return nil
	}
}

func outputSearchResultsJSON(cmd *cobra.Command, results []visualindex.SearchResult) error {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"id":       r.ID,
			"distance": r.Distance,
		})
	}
	return outputJSON(cmd, out)
}
