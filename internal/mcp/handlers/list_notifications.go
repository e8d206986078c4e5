package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/chime/internal/store"
)

// NotificationLister reads the notification log.
type NotificationLister interface {
	ListNotifications(f store.NotificationFilter) ([]store.NotificationRecord, error)
}

// ListNotifications returns a handler that lists recent dispatch outcomes.
func ListNotifications(s NotificationLister) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := store.NotificationFilter{Limit: 20}
		if status, ok := args["status"].(string); ok {
			filter.Status = status
		}
		if group, ok := args["group_id"].(string); ok {
			filter.GroupID = group
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = min(int(limit), 200)
		}
		if mins, ok := args["since_minutes"].(float64); ok && mins > 0 {
			filter.Since = time.Now().Add(-time.Duration(mins * float64(time.Minute)))
		}

		records, err := s.ListNotifications(filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list notifications: %s", err)), nil
		}
		if len(records) == 0 {
			return mcp.NewToolResultText("No notifications found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🔔 Notifications (%d found)\n\n", len(records))
		for _, r := range records {
			fmt.Fprintf(&sb, "%s **%s** %s\n", statusIcon(r.Status), r.MessageID, r.Status)
			if r.Title != "" {
				fmt.Fprintf(&sb, "  %s: %s\n", r.Title, truncate(r.Body, 120))
			}
			fmt.Fprintf(&sb, "  Group: %s | Sender: %s", r.GroupID, r.SenderID)
			if r.Channel != "" {
				fmt.Fprintf(&sb, " | Channel: %s", r.Channel)
			}
			sb.WriteString("\n")
			if r.Reason != "" {
				fmt.Fprintf(&sb, "  Reason: %s\n", r.Reason)
			}
			fmt.Fprintf(&sb, "  At: %s\n\n", r.CreatedAt.Format(time.RFC3339))
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func statusIcon(s string) string {
	switch s {
	case store.StatusShown:
		return "✅"
	case store.StatusFailed:
		return "❌"
	case store.StatusSuppressed:
		return "🔁"
	case store.StatusSkipped:
		return "⏭️"
	default:
		return "❓"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
