package main

import (
	"fmt"

	"github.com/lucasew/audiocache/internal/eviction"
	"github.com/spf13/cobra"
)

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Runs check-and-evict on the media volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		c, err := openComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		if force {
			result, err := c.Manager.EnforceRetention(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, result)
			printFailures(cmd, result.Failures)
			return err
		}

		report, err := c.Manager.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, report.Summary())
		if report.Result != nil {
			printFailures(cmd, report.Result.Failures)
		}
		return err
	},
}

func printFailures(cmd *cobra.Command, failures []*eviction.DeletionError) {
	for _, f := range failures {
		cmd.PrintErrln("  failed:", f)
	}
}

func init() {
	rootCmd.AddCommand(evictCmd)
	evictCmd.Flags().Bool("force", false, "Trim to the retain count without checking free space")
}
