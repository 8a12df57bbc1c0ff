// Package cli provides the hotswap command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/zot/hotswap/internal/config"
)

// Version is set at build time with -ldflags "-X github.com/zot/hotswap/cli.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotswap",
		Short: "Live UI subtree replacement for Lua-defined views",
		Long: `hotswap watches directories of compiled Lua units and swaps the matching
parts of a running scene when a unit changes.

Running without a subcommand is the same as "hotswap serve".`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	config.Bind(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newComponentsCmd(),
		newReloadCmd(),
		newExtractCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree on os.Args and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Run runs the command tree on args and returns the exit code.
func Run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}
