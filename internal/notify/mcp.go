package notify

import (
	"log/slog"
	"sync"
	"time"
)

// MCPSender abstracts the mcp-go server notification methods.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// Outcome describes how one chat message was handled.
type Outcome struct {
	MessageID string
	GroupID   string
	Title     string
	Body      string
	Channel   string
	Status    string
}

// MCPNotifier mirrors dispatch outcomes to connected MCP clients as
// notifications/message. Shown notifications for the same group are
// debounced; other outcomes are always sent.
type MCPNotifier struct {
	sender   MCPSender
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // groupID → last shown notification
}

// NewMCPNotifier creates an MCPNotifier with the given per-group debounce.
func NewMCPNotifier(sender MCPSender, debounce time.Duration) *MCPNotifier {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &MCPNotifier{
		sender:   sender,
		debounce: debounce,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Observe sends an MCP notification for the given outcome.
func (n *MCPNotifier) Observe(o Outcome) {
	level := "info"
	switch o.Status {
	case "shown":
		if !n.allow(o.GroupID) {
			return
		}
	case "failed":
		level = "warning"
	default:
		level = "debug"
	}

	params := map[string]any{
		"level":  level,
		"logger": "chime",
		"data": map[string]any{
			"status":     o.Status,
			"message_id": o.MessageID,
			"group_id":   o.GroupID,
			"title":      o.Title,
			"body":       o.Body,
			"channel":    o.Channel,
		},
	}
	n.sender.SendNotificationToAllClients("notifications/message", params)
}

func (n *MCPNotifier) allow(groupID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	for g, t := range n.lastSent {
		if now.Sub(t) >= n.debounce {
			delete(n.lastSent, g)
		}
	}

	if _, ok := n.lastSent[groupID]; ok {
		slog.Debug("mcp notifier: debounced", "group_id", groupID)
		return false
	}
	n.lastSent[groupID] = now
	return true
}
