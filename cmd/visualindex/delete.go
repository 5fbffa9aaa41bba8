package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/visualindex"
)

// NewDeleteCmd removes images. Delete marks live only in memory, so the
// command purges before the process exits.
func NewDeleteCmd(ix func() *visualindex.Indexer) *cobra.Command {
	return &cobra.Command{
		Use:         "delete <id>...",
		Short:       "Delete images from the index",
		Long:        `Remove images from the index and its storage backend. Unknown ids are ignored.`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: needsIndex(),
		RunE:        makeDeleteRunner(ix),
	}
}

func makeDeleteRunner(ix func() *visualindex.Indexer) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()
		indexer := ix()

		marked, err := indexer.Delete(ctx, args...)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		removed, err := indexer.Purge(ctx)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		if err := indexer.Sync(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		if asJSON {
			return outputJSON(cmd, map[string]int{"deleted": marked, "purged": removed})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d ids\n", marked, len(args))
		return nil
	}
}
