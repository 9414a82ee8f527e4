package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

func newBranchCmd(c *cli) *cobra.Command {
	var deleteBranch string
	var upstream string
	var remotes bool

	cmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "List, create, or delete branches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if deleteBranch != "" {
				if err := r.DeleteBranch(deleteBranch); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted branch '%s'\n", deleteBranch)
				return nil
			}

			if upstream != "" {
				local, err := branchArgOrCurrent(r, args)
				if err != nil {
					return err
				}
				up, err := parseUpstream(upstream)
				if err != nil {
					return err
				}
				if err := r.SetUpstream(local, up); err != nil {
					return err
				}
				fmt.Fprintf(out, "branch '%s' set up to track '%s'\n", local.Name, up.ShortName())
				return nil
			}

			if len(args) == 1 {
				head, err := r.HeadCommit()
				if err != nil {
					return err
				}
				if head.IsZero() {
					return fmt.Errorf("cannot create branch %q: no commits yet", args[0])
				}
				return r.CreateBranch(args[0], head)
			}

			if remotes {
				cfg, err := r.ReadConfig()
				if err != nil {
					return err
				}
				for _, name := range cfg.Remotes() {
					branches, err := r.ListRemoteBranches(name)
					if err != nil {
						return err
					}
					for _, b := range branches {
						fmt.Fprintf(out, "  %s\n", b.ShortName())
					}
				}
				return nil
			}

			branches, err := r.ListBranches()
			if err != nil {
				return err
			}
			current := branchLabel(r)
			for _, b := range branches {
				marker := " "
				if b == current {
					marker = "*"
				}
				line := fmt.Sprintf("%s %s", marker, b)
				if up, ok, err := r.Upstream(repo.LocalBranch{Name: b}); err == nil && ok {
					line += fmt.Sprintf(" [%s]", up.ShortName())
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&deleteBranch, "delete", "d", "", "delete the named branch")
	cmd.Flags().StringVarP(&upstream, "set-upstream-to", "u", "", "track <remote>/<branch>")
	cmd.Flags().BoolVarP(&remotes, "remotes", "r", false, "list remote-tracking branches")
	return cmd
}

func branchArgOrCurrent(r *repo.Repo, args []string) (repo.LocalBranch, error) {
	if len(args) == 1 {
		return repo.LocalBranch{Name: args[0]}, nil
	}
	return r.CurrentBranch()
}

// parseUpstream splits "<remote>/<branch>".
func parseUpstream(s string) (repo.RemoteBranch, error) {
	if b, ok := repo.BranchFromRef(s); ok {
		if rb, ok := b.(repo.RemoteBranch); ok {
			return rb, nil
		}
	}
	remote, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || remote == "" || name == "" {
		return repo.RemoteBranch{}, fmt.Errorf("upstream %q must be <remote>/<branch>", s)
	}
	return repo.RemoteBranch{Remote: remote, Name: name}, nil
}

func newCheckoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "checkout <branch>",
		Aliases: []string{"switch"},
		Short:   "Switch to a local branch",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}
			if err := r.SwitchBranch(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to branch '%s'\n", args[0])
			return nil
		},
	}
}
