package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// SceneURI is the resource holding the displayed tree.
const SceneURI = "hotswap://scene"

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(SceneURI, "Scene",
		mcp.WithResourceDescription("The displayed scene tree: node types, ids, style classes and properties"),
		mcp.WithMIMEType("application/json"),
	), s.handleScene)
}

func (s *Server) handleScene(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.scene == nil {
		return nil, fmt.Errorf("no scene is displayed")
	}
	snap, ok := s.scene.Snapshot()
	if !ok {
		return nil, fmt.Errorf("scene %s is empty", s.scene.Name())
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      SceneURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
