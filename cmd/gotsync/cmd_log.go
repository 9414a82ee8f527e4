package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/object"
)

func newLogCmd(c *cli) *cobra.Command {
	var oneline bool
	var limit int
	var showSignature bool

	cmd := &cobra.Command{
		Use:   "log [branch]",
		Short: "Show first-parent commit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}

			start, err := r.HeadCommit()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				b, err := r.LookupBranch(args[0])
				if err != nil {
					return err
				}
				if start, err = r.ResolveBranch(b); err != nil {
					return err
				}
			}
			if start.IsZero() {
				return fmt.Errorf("no commits yet")
			}

			commits, err := r.Log(start, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			h := start
			for _, cm := range commits {
				if oneline {
					fmt.Fprintf(out, "%s %s\n", h.Short(), firstLine(cm.Message))
				} else {
					fmt.Fprintf(out, "commit %s\n", h)
					if len(cm.Parents) > 1 {
						fmt.Fprintf(out, "Merge:  %s %s\n", cm.Parents[0].Short(), cm.Parents[1].Short())
					}
					if showSignature {
						fmt.Fprintf(out, "Signature: %s\n", signatureStatus(cm))
					}
					fmt.Fprintf(out, "Author: %s\n", cm.Author)
					fmt.Fprintf(out, "Date:   %s\n", time.Unix(cm.Timestamp, 0).Format("2006-01-02 15:04:05"))
					fmt.Fprintln(out)
					fmt.Fprintf(out, "    %s\n", cm.Message)
					fmt.Fprintln(out)
				}
				if len(cm.Parents) == 0 {
					break
				}
				h = cm.Parents[0]
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "one commit per line")
	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "limit the number of commits")
	cmd.Flags().BoolVar(&showSignature, "show-signature", false, "verify SSH commit signatures")
	return cmd
}

func signatureStatus(cm *object.CommitObj) string {
	if cm.Signature == "" {
		return "none"
	}
	if err := verifySSHSignature(object.CommitSigningPayload(cm), cm.Signature); err != nil {
		return "bad (" + err.Error() + ")"
	}
	return "good"
}
