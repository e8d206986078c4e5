package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/chime/internal/permission"
	"github.com/btouchard/chime/internal/realtime"
	"github.com/btouchard/chime/internal/store"
)

// PermissionSource exposes the cached notification permission.
type PermissionSource interface {
	State() permission.State
}

// SubscriptionSource exposes the active message subscription.
type SubscriptionSource interface {
	Active() *realtime.Handle
}

// ClientCounter reports connected app clients.
type ClientCounter interface {
	Clients() int
}

// ActionLister reads recorded notification taps.
type ActionLister interface {
	ListActions(limit int) ([]store.ActionRecord, error)
}

// StatusDeps are what get_status reports on.
type StatusDeps struct {
	Permission    PermissionSource
	Subscriptions SubscriptionSource
	Clients       ClientCounter
	Actions       ActionLister
	Notifiers     []string
	Version       string
	StartedAt     time.Time
}

// GetStatus returns a handler that summarizes the daemon's state.
func GetStatus(deps StatusDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "chime %s", deps.Version)
		if !deps.StartedAt.IsZero() {
			fmt.Fprintf(&sb, " | up %s", time.Since(deps.StartedAt).Round(time.Second))
		}
		sb.WriteString("\n\n")

		perm := permission.Unknown
		if deps.Permission != nil {
			perm = deps.Permission.State()
		}
		fmt.Fprintf(&sb, "Permission: %s\n", perm)

		var h *realtime.Handle
		if deps.Subscriptions != nil {
			h = deps.Subscriptions.Active()
		}
		if h == nil {
			sb.WriteString("Subscription: none\n")
		} else {
			fmt.Fprintf(&sb, "Subscription: %s (user %s, %d groups: %s)\n",
				h.Status(), h.UserID(), len(h.GroupIDs()), strings.Join(h.GroupIDs(), ", "))
		}

		if deps.Clients != nil {
			fmt.Fprintf(&sb, "App clients: %d\n", deps.Clients.Clients())
		}
		if len(deps.Notifiers) > 0 {
			fmt.Fprintf(&sb, "Notifiers: %s\n", strings.Join(deps.Notifiers, " → "))
		} else {
			sb.WriteString("Notifiers: none\n")
		}

		if deps.Actions != nil {
			actions, err := deps.Actions.ListActions(5)
			if err != nil {
				fmt.Fprintf(&sb, "Recent actions: unavailable (%s)\n", err)
			} else if len(actions) > 0 {
				sb.WriteString("\nRecent actions:\n")
				for _, a := range actions {
					fmt.Fprintf(&sb, "  %s opened group %s at %s\n", a.Source, a.GroupID, a.CreatedAt.Format(time.RFC3339))
				}
			}
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}
