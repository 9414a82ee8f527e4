package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

func newPushCmd(c *cli) *cobra.Command {
	var force bool
	var setUpstream bool

	cmd := &cobra.Command{
		Use:   "push [remote] [branch]",
		Short: "Push a local branch to a remote",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}

			remoteName, branch, err := resolvePushTarget(r, args)
			if err != nil {
				return err
			}

			progress := newProgressPrinter(cmd.ErrOrStderr(), "writing objects")
			res, err := r.Push(cmd.Context(), branch, remoteName, repo.PushOptions{
				Callbacks: progress.callbacks(),
				Force:     force,
			})
			if errors.Is(err, repo.ErrNonFastForward) {
				return fmt.Errorf("%w\nhint: fetch and merge the remote changes, or push with --force", err)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "to %s (%s)\n", res.Remote, plural(res.Objects, "object"))
			fmt.Fprintln(out, formatRefChange(res.Change))

			if setUpstream {
				up := repo.RemoteBranch{Remote: remoteName, Name: branch.Name}
				if err := r.SetUpstream(branch, up); err != nil {
					return err
				}
				fmt.Fprintf(out, "branch '%s' set up to track '%s'\n", branch.Name, up.ShortName())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "allow non-fast-forward update")
	cmd.Flags().BoolVarP(&setUpstream, "set-upstream", "u", false, "record the pushed branch as upstream")
	return cmd
}

// resolvePushTarget picks the remote and branch from [remote] [branch].
// The remote defaults to the current branch's upstream remote, then origin.
func resolvePushTarget(r *repo.Repo, args []string) (string, repo.LocalBranch, error) {
	var branch repo.LocalBranch
	if len(args) == 2 {
		branch = repo.LocalBranch{Name: args[1]}
	} else {
		current, err := r.CurrentBranch()
		if err != nil {
			return "", repo.LocalBranch{}, fmt.Errorf("cannot infer branch to push: %w", err)
		}
		branch = current
	}

	if len(args) >= 1 {
		return args[0], branch, nil
	}
	up, ok, err := r.Upstream(branch)
	if err != nil {
		return "", repo.LocalBranch{}, err
	}
	if ok {
		return up.Remote, branch, nil
	}
	return repo.DefaultRemote, branch, nil
}
