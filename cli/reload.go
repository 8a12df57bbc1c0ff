package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/zot/hotswap/internal/hotswap"
)

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload <id>",
		Short: "Reload a component in a running serve",
		Args:  cobra.ExactArgs(1),
		RunE:  runReload,
	}
	cmd.Flags().String("url", "", "Live view base URL (default from --host and --port)")
	return cmd
}

func runReload(cmd *cobra.Command, args []string) error {
	base, err := baseURL(cmd)
	if err != nil {
		return err
	}
	var info hotswap.ComponentInfo
	if err := call(http.MethodPost, componentPath(base, args[0], "reload"), &info); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reloaded %s (%s, %d reloads)\n", info.ID, info.Type, info.Reloads)
	return nil
}
