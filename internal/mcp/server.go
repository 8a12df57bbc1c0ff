// Package mcp exposes the hot swap service to MCP clients: list and reload
// components, tune the stabilization delay, and read the live scene.
package mcp

import (
	"context"
	"io"
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/hotswap"
	"github.com/zot/hotswap/internal/scene"
)

// Server is the MCP tool server for one hot swap service.
type Server struct {
	config  *config.Config
	service *hotswap.Service
	scene   *scene.Scene
	mcp     *server.MCPServer
}

// New creates the server and registers its tools and resources. sc may be
// nil when no scene is displayed.
func New(cfg *config.Config, svc *hotswap.Service, sc *scene.Scene, version string) *Server {
	s := &Server{config: cfg, service: svc, scene: sc}
	s.mcp = server.NewMCPServer(
		"hotswap",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in and out until ctx is done or in is closed.
// Logs must not go to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer, errLog io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(errLog, "mcp: ", log.LstdFlags))
	s.config.Log(1, "MCP: serving on stdio")
	return stdio.Listen(ctx, in, out)
}

const instructions = `This server controls a running hot swap session.
Use list_components to see what is registered, reload_component to rebuild
one from the latest unit definitions, and read hotswap://scene to inspect
the displayed tree.`
