package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zot/hotswap/internal/hotswap"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_components",
		mcp.WithDescription("List registered components with their type, reload count and last error"),
	), s.handleListComponents)

	s.mcp.AddTool(mcp.NewTool("reload_component",
		mcp.WithDescription("Rebuild a component from the latest definition of its unit and swap it in"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Component id")),
	), s.handleReloadComponent)

	s.mcp.AddTool(mcp.NewTool("set_reload_delay",
		mcp.WithDescription("Set how long the service waits for a changed unit to settle before reloading"),
		mcp.WithNumber("milliseconds", mcp.Required(), mcp.Description("Delay in milliseconds, 0 or more")),
	), s.handleSetReloadDelay)
}

func (s *Server) handleListComponents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	components := s.service.Components()
	infos := make([]hotswap.ComponentInfo, 0, len(components))
	for _, c := range components {
		infos = append(infos, c.Info())
	}
	return jsonResult(infos)
}

func (s *Server) handleReloadComponent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.service.Reload(id); err != nil {
		if errors.Is(err, hotswap.ErrUnknownID) {
			return mcp.NewToolResultError(fmt.Sprintf("no component %q is registered", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("reload of %s failed: %v", id, err)), nil
	}
	c, ok := s.service.Component(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s was unregistered during reload", id)), nil
	}
	return jsonResult(c.Info())
}

func (s *Server) handleSetReloadDelay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms, err := req.RequireFloat("milliseconds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if ms < 0 {
		return mcp.NewToolResultError("milliseconds must not be negative"), nil
	}
	s.service.SetReloadDelay(time.Duration(ms * float64(time.Millisecond)))
	return mcp.NewToolResultText("reload delay is now " + s.service.ReloadDelay().String()), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
