package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/chime/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List recent message notifications and how each was handled."),
			mcp.WithString("status",
				mcp.Description("Only list notifications with this outcome"),
				mcp.Enum("shown", "failed", "suppressed", "skipped"),
			),
			mcp.WithString("group_id",
				mcp.Description("Only list notifications for this chat group"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of notifications to return (default: 20, max: 200)"),
			),
			mcp.WithNumber("since_minutes",
				mcp.Description("Only list notifications from the last N minutes"),
			),
		),
		handlers.ListNotifications(deps.Store),
	)

	s.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Show notification permission, the active message subscription, connected app clients and recent notification taps."),
		),
		handlers.GetStatus(handlers.StatusDeps{
			Permission:    deps.Permission,
			Subscriptions: deps.Subscriptions,
			Clients:       deps.Clients,
			Actions:       deps.Store,
			Notifiers:     deps.Notifiers,
			Version:       deps.Version,
			StartedAt:     deps.StartedAt,
		}),
	)
}
