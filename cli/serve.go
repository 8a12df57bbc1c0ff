package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/demo"
	"github.com/zot/hotswap/internal/hotswap"
	tools "github.com/zot/hotswap/internal/mcp"
	"github.com/zot/hotswap/internal/server"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the weather demo with the live view",
		Long: `Extract the demo units into the first root when it is empty, build the
weather view, start watching the roots and serve the live view over HTTP.
With --mcp the MCP tools are served on stdio as well.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.MCP.Enabled {
		cfg.SetLogOutput(cmd.ErrOrStderr())
	}

	app, err := startApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	srv := server.New(cfg, app.Service(), app.Scene(), app.Root(), demo.StyleFile)
	url, err := srv.Start()
	if err != nil {
		return err
	}
	cfg.Log(0, "Live view at %s", url)
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})

	if cfg.MCP.Enabled {
		m := tools.New(cfg, app.Service(), app.Scene(), Version)
		g.Go(func() error {
			return m.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		})
	}
	return g.Wait()
}

// startApp builds the demo application and starts watching.
func startApp(cfg *config.Config) (*demo.App, error) {
	app, err := demo.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build demo: %w", err)
	}
	watch(cfg, app.Service())
	return app, nil
}

// watch starts svc. A service that cannot watch still accepts
// registrations and manual reloads, so a failure is only logged.
func watch(cfg *config.Config, svc *hotswap.Service) {
	err := svc.Start()
	switch {
	case err == nil, errors.Is(err, hotswap.ErrDisabled):
	default:
		cfg.Log(0, "Watching is off, use reload over HTTP or MCP: %v", err)
	}
}
