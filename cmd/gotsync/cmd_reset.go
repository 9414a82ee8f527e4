package main

import (
	"github.com/spf13/cobra"
)

func newResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [paths...]",
		Short: "Unstage paths, restoring their index entries from HEAD",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}
			return r.Unstage(args)
		},
	}
}
