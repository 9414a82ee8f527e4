package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show working tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}
			st, err := r.Status()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(out io.Writer, st *repo.WorktreeStatus) {
	switch {
	case st.Branch == "":
		fmt.Fprintf(out, "HEAD detached at %s\n", st.Head)
	case st.Head == "":
		fmt.Fprintf(out, "on %s (no commits yet)\n", st.Branch)
	default:
		fmt.Fprintf(out, "on %s\n", st.Branch)
	}
	switch st.State {
	case repo.MergeStateMerge:
		fmt.Fprintln(out, "merge in progress (fix conflicts and commit, or run gotsync merge --abort)")
	case repo.MergeStateCherryPick:
		fmt.Fprintln(out, "cherry-pick in progress")
	}

	var conflicts, staged, unstaged, untracked []string
	for _, e := range st.Entries {
		if e.IndexStatus == repo.StatusConflict {
			conflicts = append(conflicts, "  ! "+e.Path)
			continue
		}
		if e.IndexStatus == repo.StatusUntracked {
			untracked = append(untracked, "  "+e.Path)
			continue
		}
		switch e.IndexStatus {
		case repo.StatusNew:
			staged = append(staged, "  + "+e.Path)
		case repo.StatusModified:
			staged = append(staged, "  ~ "+e.Path)
		case repo.StatusDeleted:
			staged = append(staged, "  - "+e.Path)
		}
		switch e.WorkStatus {
		case repo.StatusModified:
			unstaged = append(unstaged, "  ~ "+e.Path)
		case repo.StatusDeleted:
			unstaged = append(unstaged, "  - "+e.Path)
		}
	}

	printSection(out, "conflicts", conflicts)
	printSection(out, "staged", staged)
	printSection(out, "unstaged", unstaged)
	printSection(out, "untracked", untracked)
}

func printSection(out io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", title)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
}
