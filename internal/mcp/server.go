// Package mcp exposes the tool registry as a Model Context Protocol
// server, so MCP clients can drive the same home-automation and service
// tools the conversation loop uses.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/tools"
)

// ToolSource is the registry served over MCP.
type ToolSource interface {
	List() []*tools.Tool
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Server wraps an MCP server with one MCP tool per registry tool.
type Server struct {
	source ToolSource
	mcp    *server.MCPServer
	logger *slog.Logger
}

// NewServer builds the MCP tool list from source.
func NewServer(source ToolSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source: source,
		logger: logger,
		mcp: server.NewMCPServer(
			"jarvis",
			buildinfo.Version,
			server.WithToolCapabilities(false),
		),
	}
	for _, t := range source.List() {
		s.mcp.AddTool(toolDefinition(t), s.handler(t.Name))
	}
	return s
}

// Serve runs the server on stdio. Stdout carries protocol messages, so
// logging must go to stderr.
func (s *Server) Serve() error {
	s.logger.Info("serving tools over MCP stdio", "tools", len(s.source.List()))
	return server.ServeStdio(s.mcp)
}

func toolDefinition(t *tools.Tool) mcp.Tool {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	schema, err := json.Marshal(params)
	if err != nil {
		schema = []byte(`{"type":"object","properties":{}}`)
	}
	return mcp.NewToolWithRawSchema(t.Name, t.Description, schema)
}

// handler runs a registry tool. Handler errors and configuration
// messages (text starting "Error:") are flagged as tool errors.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		out, err := s.source.Execute(ctx, name, args)
		if err != nil {
			s.logger.Warn("mcp tool call failed", "tool", name, "args", args, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if strings.HasPrefix(out, "Error:") {
			return mcp.NewToolResultError(out), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
