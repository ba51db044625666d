package plugins

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Session is the part of an MCP client a plugin needs. Satisfied by
// *client.Client.
type Session interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Connector opens an initialized session to the server of a plugin.
type Connector func(ctx context.Context, cfg PluginConfig) (Session, error)

// StdioConnector launches the plugin command and talks MCP over its stdio.
func StdioConnector(ctx context.Context, cfg PluginConfig) (Session, error) {
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start plugin %q: %w", cfg.Service, err)
	}
	if err := Initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("handshake with plugin %q: %w", cfg.Service, err)
	}
	return c, nil
}

// Initialize performs the MCP handshake on a started client.
func Initialize(ctx context.Context, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "sovrium", Version: "1.0.0"}
	_, err := c.Initialize(ctx, req)
	return err
}
