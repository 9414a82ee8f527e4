package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

type mergeFlags struct {
	ffOnly  bool
	noFF    bool
	message string
	author  string
}

func (f *mergeFlags) register(cmd *cobra.Command, c *cli) {
	cmd.Flags().BoolVar(&f.ffOnly, "ff-only", false, "refuse anything but a fast-forward")
	cmd.Flags().BoolVar(&f.noFF, "no-ff", false, "always create a merge commit")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "merge commit message")
	cmd.Flags().StringVar(&f.author, "author", "", "override merge commit author")
	cmd.Flags().BoolVarP(&c.sign, "sign", "S", false, "sign the merge commit with the configured SSH key")
	cmd.MarkFlagsMutuallyExclusive("ff-only", "no-ff")
}

// preference returns the flag choice, falling back to configuration.
func (f *mergeFlags) preference(c *cli, r *repo.Repo) (repo.FastForwardPreference, error) {
	switch {
	case f.ffOnly:
		return repo.FastForwardOnly, nil
	case f.noFF:
		return repo.NoFastForward, nil
	default:
		return c.cfg.fastForward(r)
	}
}

func newMergeCmd(c *cli) *cobra.Command {
	var flags mergeFlags
	var analyze bool
	var abort bool

	cmd := &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a local or remote-tracking branch into the current branch",
		Args: func(cmd *cobra.Command, args []string) error {
			if abort {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if abort {
				if err := r.AbortMerge(); err != nil {
					return err
				}
				fmt.Fprintln(out, "merge aborted")
				return nil
			}

			source, err := r.LookupBranch(args[0])
			if err != nil {
				return err
			}
			pref, err := flags.preference(c, r)
			if err != nil {
				return err
			}

			if analyze {
				analysis, err := r.AnalyzeMerge(source, pref)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", source.ShortName(), analysis)
				return nil
			}

			current, err := r.CurrentBranch()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "merging %s into %s...\n", source.ShortName(), current.Name)

			res, err := r.MergeWithOptions(source, repo.MergeOptions{
				FastForward: pref,
				Message:     flags.message,
				Author:      c.author(flags.author),
			})
			printMergeResult(out, current.Name, res, err)
			return err
		},
	}

	flags.register(cmd, c)
	cmd.Flags().BoolVar(&analyze, "analyze", false, "only report how the branch would merge")
	cmd.Flags().BoolVar(&abort, "abort", false, "abandon an in-progress merge")
	return cmd
}

// printMergeResult reports a finished or conflicted merge. err is the
// merge error, if any; only conflict reports are printed for failures.
func printMergeResult(out io.Writer, branch string, res *repo.MergeResult, err error) {
	if res == nil {
		return
	}
	if res.Report != nil {
		for _, f := range res.Report.Files {
			printFileReport(out, f)
		}
		if len(res.Report.LocalConflicts) > 0 {
			fmt.Fprintln(out, "local changes would be overwritten:")
			for _, p := range res.Report.LocalConflicts {
				fmt.Fprintf(out, "  %s\n", p)
			}
		}
	}

	var conflict *repo.MergeConflictError
	switch {
	case errors.As(err, &conflict):
		total := 0
		if conflict.Report != nil {
			total = conflict.Report.TotalConflicts
		}
		fmt.Fprintf(out, "merge stopped with %s in %s\n", plural(total, "conflict"), plural(len(conflict.Paths), "file"))
		fmt.Fprintln(out, "fix conflicts, add the files and run gotsync commit")
	case err != nil:
	case res.Outcome == repo.MergeOutcomeUpToDate:
		fmt.Fprintln(out, "already up to date")
	case res.Outcome == repo.MergeOutcomeFastForward:
		fmt.Fprintf(out, "fast-forward %s..%s\n", res.OldTip.Short(), res.NewTip.Short())
	case res.Outcome == repo.MergeOutcomeMerged:
		fmt.Fprintln(out, "merge completed cleanly")
		fmt.Fprintf(out, "[%s %s] merge commit\n", branch, res.MergeCommit.Short())
	}
}

func printFileReport(out io.Writer, f repo.FileMergeReport) {
	switch f.Status {
	case repo.FileMergeConflict:
		if f.Binary {
			fmt.Fprintf(out, "  %s: CONFLICT (binary)\n", f.Path)
			return
		}
		fmt.Fprintf(out, "  %s: CONFLICT (%s)\n", f.Path, plural(f.ConflictCount, "hunk"))
	case repo.FileMergeAdded:
		fmt.Fprintf(out, "  %s: added\n", f.Path)
	case repo.FileMergeDeleted:
		fmt.Fprintf(out, "  %s: deleted\n", f.Path)
	default:
		fmt.Fprintf(out, "  %s: clean\n", f.Path)
	}
}
