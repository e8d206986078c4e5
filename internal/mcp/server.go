package mcp

import (
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/chime/internal/mcp/handlers"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Store         Store
	Permission    handlers.PermissionSource
	Subscriptions handlers.SubscriptionSource
	Clients       handlers.ClientCounter
	Notifiers     []string
	Version       string
	StartedAt     time.Time
}

// Store is the slice of the notification log the tools read.
type Store interface {
	handlers.NotificationLister
	handlers.ActionLister
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Chime",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
