package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/visualindex"
)

func NewStatsCmd(ix func() *visualindex.Indexer) *cobra.Command {
	return &cobra.Command{
		Use:         "stats",
		Short:       "Show index statistics",
		Args:        cobra.NoArgs,
		Annotations: needsIndex(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			s, err := ix().Stats()
			if err != nil {
				return err
			}
			if asJSON {
				return outputJSON(cmd, s)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "dimension\t%d\n", s.Dimension)
			fmt.Fprintf(w, "cells\t%d\n", s.Cells)
			fmt.Fprintf(w, "probes\t%d\n", s.Probes)
			fmt.Fprintf(w, "bytes per code\t%d\n", s.BytesPerCode)
			fmt.Fprintf(w, "entries\t%d\n", s.Entries)
			fmt.Fprintf(w, "live\t%d\n", s.Live)
			fmt.Fprintf(w, "pending purge\t%d\n", s.PendingPurge)
			fmt.Fprintf(w, "largest cell\t%d\n", s.LargestCell)
			fmt.Fprintf(w, "workers\t%d\n", s.Workers)
			fmt.Fprintf(w, "max outstanding\t%d\n", s.MaxOutstanding)
			return w.Flush()
		},
	}
}
