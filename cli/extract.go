package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/demo"
)

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [dir]",
		Short: "Write the demo units to a directory",
		Long: `Write the embedded weather demo units to dir, or to the first configured
root. Existing files are never overwritten. Without --force nothing is
written unless the directory is empty.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runExtract,
	}
	cmd.Flags().Bool("force", false, "Write missing files even when the directory is not empty")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		if len(cfg.HotSwap.Roots) == 0 {
			return demo.ErrNoRoot
		}
		dir = cfg.HotSwap.Roots[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	n, err := demo.Extract(dir, force)
	if err != nil {
		return err
	}
	switch {
	case n == 0 && force:
		fmt.Fprintf(cmd.OutOrStdout(), "%s already has every demo file\n", dir)
		return nil
	case n == 0:
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not empty, nothing extracted (use --force to add missing files)\n", dir)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "extracted %d files into %s\n", n, dir)
	return nil
}
