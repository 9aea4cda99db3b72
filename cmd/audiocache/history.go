package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists the most recent eviction passes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		c, err := openComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		runs, err := c.DB.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PASS\tWHEN\tSCANNED\tDELETED\tGONE\tFAILED\tFREED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				r.ID, r.RanAt.Format(time.DateTime), r.Scanned, r.Deleted, r.AlreadyGone, r.Failed,
				humanize.IBytes(uint64(r.FreedBytes)))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "Number of passes to show")
}
