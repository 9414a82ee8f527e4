package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoteCmd(c *cli) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage repository remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}
			cfg, err := r.ReadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range cfg.Remotes() {
				rc, _ := cfg.Remote(name)
				if !verbose {
					fmt.Fprintln(out, name)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", name, rc.URL)
				for _, spec := range rc.Fetch {
					fmt.Fprintf(out, "\tfetch %s\n", spec)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "V", false, "show URLs and fetch refspecs")

	for _, verb := range []string{"add", "set-url"} {
		cmd.AddCommand(&cobra.Command{
			Use:   verb + " <name> <url>",
			Short: "Add or update a named remote",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := c.openRepo(false)
				if err != nil {
					return err
				}
				if err := r.SetRemote(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "remote %q -> %s\n", args[0], args[1])
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a named remote and the upstreams that used it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.openRepo(false)
			if err != nil {
				return err
			}
			if err := r.RemoveRemote(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed remote %q\n", args[0])
			return nil
		},
	})

	return cmd
}
