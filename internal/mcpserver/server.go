package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all GhostSpeak tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("ghostspeak", "1.0.0")
	client := NewGhostClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolGetReputation, h.HandleGetReputation)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolApproveEscrow, h.HandleApproveEscrow)
	s.AddTool(ToolDisputeEscrow, h.HandleDisputeEscrow)
	s.AddTool(ToolCommitBid, h.HandleCommitBid)
	s.AddTool(ToolRevealBid, h.HandleRevealBid)

	return s
}
