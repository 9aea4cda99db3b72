package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Reports whether the media volume needs eviction",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		d, err := c.Manager.CheckCapacity()
		if err != nil {
			return err
		}
		verdict := "ok"
		if d.MustEvict {
			verdict = "must evict"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", verdict, d)
		return err
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
