package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotsync/pkg/repo"
)

const version = "0.1.0-dev"

// cli holds state shared by every subcommand. It is filled in by the root
// command's PersistentPreRunE before any RunE executes.
type cli struct {
	verbose bool
	sign    bool
	cfg     *userConfig
	logger  *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{cfg: &userConfig{}, logger: slog.New(slog.DiscardHandler)}

	root := &cobra.Command{
		Use:           "gotsync",
		Short:         "Merge, fetch, push and pull for got repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log engine decisions to stderr")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(c))
	root.AddCommand(newAddCmd(c))
	root.AddCommand(newStatusCmd(c))
	root.AddCommand(newResetCmd(c))
	root.AddCommand(newCommitCmd(c))
	root.AddCommand(newLogCmd(c))
	root.AddCommand(newReflogCmd(c))
	root.AddCommand(newBranchCmd(c))
	root.AddCommand(newCheckoutCmd(c))
	root.AddCommand(newMergeCmd(c))
	root.AddCommand(newRemoteCmd(c))
	root.AddCommand(newFetchCmd(c))
	root.AddCommand(newPushCmd(c))
	root.AddCommand(newPullCmd(c))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gotsync %s\n", version)
		},
	}
}

func (c *cli) setup(cmd *cobra.Command) error {
	path, err := userConfigPath()
	if err != nil {
		return err
	}
	cfg, err := loadUserConfig(path)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := slog.LevelWarn
	if raw := cfg.logLevel(); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return fmt.Errorf("log level %q: %w", raw, err)
		}
	}
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// openRepo opens the repository containing the working directory. Commands
// that create commits pass withSigner so a configured signing key applies.
func (c *cli) openRepo(withSigner bool) (*repo.Repo, error) {
	opts := []repo.Option{repo.WithLogger(c.logger)}
	if withSigner && (c.sign || c.cfg.Signing.Enabled) {
		signer, keyPath, err := newSSHCommitSigner(c.cfg.Signing.Key)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("signing commits", "key", keyPath)
		opts = append(opts, repo.WithSigner(signer))
	}
	return repo.Open(".", opts...)
}

// author returns the --author override, then the user config identity.
// An empty result lets the repository config decide.
func (c *cli) author(flag string) string {
	if s := strings.TrimSpace(flag); s != "" {
		return s
	}
	return c.cfg.author()
}
