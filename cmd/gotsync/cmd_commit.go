package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

func newCommitCmd(c *cli) *cobra.Command {
	var message string
	var author string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record staged changes; concludes a resolved merge",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(true)
			if err != nil {
				return err
			}
			// A resolved merge is committed with its prepared MERGE_MSG.
			if message == "" && r.MergeState() != repo.MergeStateMerge {
				return fmt.Errorf("commit message is required (-m)")
			}

			h, err := r.Commit(message, c.author(author))
			if err != nil {
				return err
			}
			cm, err := r.LookupCommit(h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", branchLabel(r), h.Short(), firstLine(cm.Message))
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "override author")
	cmd.Flags().BoolVarP(&c.sign, "sign", "S", false, "sign the commit with the configured SSH key")
	return cmd
}
