package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

func newFetchCmd(c *cli) *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "fetch [remote]",
		Short: "Download objects and update remote-tracking branches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}
			name := repo.DefaultRemote
			if len(args) == 1 {
				name = args[0]
			}

			progress := newProgressPrinter(cmd.ErrOrStderr(), "receiving objects")
			res, err := r.Fetch(cmd.Context(), name, repo.FetchOptions{
				Callbacks: progress.callbacks(),
				Prune:     prune,
			})
			if err != nil {
				return err
			}
			progress.done(res.Progress)
			printFetchResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&prune, "prune", "p", false, "remove tracking refs whose remote branch is gone")
	return cmd
}

func printFetchResult(out io.Writer, res *repo.FetchResult) {
	if res == nil || len(res.Updated) == 0 {
		return
	}
	fmt.Fprintf(out, "from %s\n", res.Remote)
	for _, ch := range res.Updated {
		fmt.Fprintln(out, formatRefChange(ch))
	}
}

func formatRefChange(ch repo.RefChange) string {
	local := shortRef(ch.Ref)
	switch ch.Status {
	case repo.RefCreated:
		return fmt.Sprintf(" * [new]        %s -> %s", shortRef(ch.Source), local)
	case repo.RefFastForwarded:
		return fmt.Sprintf("   %s..%s  %s -> %s", ch.Old.Short(), ch.New.Short(), shortRef(ch.Source), local)
	case repo.RefForced:
		return fmt.Sprintf(" + %s...%s %s -> %s (forced update)", ch.Old.Short(), ch.New.Short(), shortRef(ch.Source), local)
	case repo.RefRejected:
		return fmt.Sprintf(" ! [rejected]   %s -> %s (non-fast-forward)", shortRef(ch.Source), local)
	case repo.RefPruned:
		return fmt.Sprintf(" - [deleted]    %s", local)
	default:
		return fmt.Sprintf(" = [up to date] %s -> %s", shortRef(ch.Source), local)
	}
}

func shortRef(ref string) string {
	for _, prefix := range []string{"refs/heads/", "refs/remotes/", "refs/tags/"} {
		if rest, ok := strings.CutPrefix(ref, prefix); ok {
			return rest
		}
	}
	return ref
}
