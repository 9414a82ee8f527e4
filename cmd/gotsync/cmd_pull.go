package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

func newPullCmd(c *cli) *cobra.Command {
	var flags mergeFlags
	var prune bool

	cmd := &cobra.Command{
		Use:   "pull [remote] [branch]",
		Short: "Fetch from a remote and merge the upstream of the current branch",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(true)
			if err != nil {
				return err
			}
			current, err := r.CurrentBranch()
			if err != nil {
				return err
			}

			remoteName := ""
			var source repo.Branch = current
			if len(args) >= 1 {
				remoteName = args[0]
			}
			if len(args) == 2 {
				source = repo.RemoteBranch{Remote: remoteName, Name: args[1]}
			}

			pref, err := flags.preference(c, r)
			if err != nil {
				return err
			}

			progress := newProgressPrinter(cmd.ErrOrStderr(), "receiving objects")
			res, err := r.Pull(cmd.Context(), source, remoteName, repo.PullOptions{
				Fetch:       repo.FetchOptions{Callbacks: progress.callbacks(), Prune: prune},
				FastForward: &pref,
				Message:     flags.message,
				Author:      c.author(flags.author),
			})
			out := cmd.OutOrStdout()
			if res != nil && res.Fetch != nil {
				progress.done(res.Fetch.Progress)
				printFetchResult(out, res.Fetch)
			}
			if res != nil && res.Merge != nil {
				fmt.Fprintf(out, "merging %s into %s\n", res.Source.ShortName(), current.Name)
				printMergeResult(out, current.Name, res.Merge, err)
			}
			return err
		},
	}

	flags.register(cmd, c)
	cmd.Flags().BoolVarP(&prune, "prune", "p", false, "remove tracking refs whose remote branch is gone")
	return cmd
}
