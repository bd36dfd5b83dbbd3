package mcpserver

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/paykrypt/paykrypt/internal/riskclient"
)

// Config holds the configuration for connecting to the PayKrypt API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// NewMCPServer creates a configured MCP server with all PayKrypt tools registered.
func NewMCPServer(cfg Config, logger *slog.Logger) (*server.MCPServer, error) {
	client, err := riskclient.New(riskclient.DefaultConfig(cfg.APIURL), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk client: %w", err)
	}
	return newServer(client), nil
}

func newServer(client *riskclient.Client) *server.MCPServer {
	s := server.NewMCPServer("paykrypt", "1.0.0")
	h := NewHandlers(client)

	s.AddTool(ToolAssessTransaction, h.HandleAssessTransaction)
	s.AddTool(ToolGetUserReputation, h.HandleGetUserReputation)
	s.AddTool(ToolGetRiskOverview, h.HandleGetRiskOverview)

	return s
}
