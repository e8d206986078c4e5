// Package hub keeps websocket connections to the chat app's browser and
// mobile clients. It is the browser notification channel, the haptic
// channel and the browser permission source.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrNoClients means no client is connected, so the capability is absent.
	ErrNoClients = errors.New("hub: no connected clients")
	// ErrPermissionNotGranted means no connected client may show notifications.
	ErrPermissionNotGranted = errors.New("hub: browser notification permission not granted")
)

// Browser permission values, as reported by Notification.permission.
const (
	PermissionDefault = "default"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Frame types.
const (
	FrameHello             = "hello"
	FramePermission        = "permission"
	FrameClick             = "click"
	FrameNotification      = "notification"
	FrameHaptic            = "haptic"
	FrameRequestPermission = "request_permission"
	FrameFocus             = "focus"
	FrameClose             = "close"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Frame is the JSON message exchanged with clients.
type Frame struct {
	Type       string               `json:"type"`
	Permission string               `json:"permission,omitempty"`
	Title      string               `json:"title,omitempty"`
	Options    *NotificationOptions `json:"options,omitempty"`
	Tag        string               `json:"tag,omitempty"`
	Style      string               `json:"style,omitempty"`
	Data       map[string]string    `json:"data,omitempty"`
}

// NotificationOptions mirrors the browser Notification constructor options.
type NotificationOptions struct {
	Body               string            `json:"body"`
	Icon               string            `json:"icon,omitempty"`
	Badge              string            `json:"badge,omitempty"`
	Tag                string            `json:"tag,omitempty"`
	RequireInteraction bool              `json:"requireInteraction"`
	Silent             bool              `json:"silent"`
	Data               map[string]string `json:"data,omitempty"`
}

// ClickFunc is called when a client reports a click on a notification.
type ClickFunc func(tag string, data map[string]string)

type client struct {
	id         string
	conn       *websocket.Conn
	send       chan Frame
	permission string
}

// Hub tracks connected clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	waiters []chan string
	onClick ClickFunc
}

// New creates an empty Hub. Clients are accepted from the hub's own
// origin and from allowedOrigins ("scheme://host[:port]", or "*" for any).
func New(allowedOrigins ...string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients: make(map[string]*client),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		if set[strings.ToLower(u.Scheme+"://"+u.Host)] {
			return true
		}
		slog.Debug("websocket origin rejected", "origin", origin)
		return false
	}
}

// OnClick sets the callback run after a notification click has been handled.
func (h *Hub) OnClick(fn ClickFunc) {
	h.mu.Lock()
	h.onClick = fn
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan Frame, sendBuffer),
		permission: PermissionDefault,
	}
	h.register(c)
	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Available reports whether any client is connected.
func (h *Hub) Available() bool {
	return h.Clients() > 0
}

// State returns the aggregate browser permission: granted if any client
// granted, default if any is undecided, denied otherwise. It is empty when
// no client is connected.
func (h *Hub) State() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stateLocked()
}

func (h *Hub) stateLocked() string {
	if len(h.clients) == 0 {
		return ""
	}
	state := PermissionDenied
	for _, c := range h.clients {
		switch c.permission {
		case PermissionGranted:
			return PermissionGranted
		case PermissionDefault:
			state = PermissionDefault
		}
	}
	return state
}

// Request asks every client to prompt for notification permission and
// waits for the first answer.
func (h *Hub) Request(ctx context.Context) (bool, error) {
	answer := make(chan string, 1)

	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return false, ErrNoClients
	}
	h.waiters = append(h.waiters, answer)
	h.broadcastLocked(Frame{Type: FrameRequestPermission}, nil)
	h.mu.Unlock()

	defer h.dropWaiter(answer)

	select {
	case p := <-answer:
		return p == PermissionGranted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Notify shows a browser notification on every client that granted permission.
func (h *Hub) Notify(_ context.Context, title string, opts NotificationOptions) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return ErrNoClients
	}
	if h.stateLocked() != PermissionGranted {
		return ErrPermissionNotGranted
	}

	frame := Frame{Type: FrameNotification, Title: title, Options: &opts, Tag: opts.Tag}
	h.broadcastLocked(frame, func(c *client) bool { return c.permission == PermissionGranted })
	return nil
}

// Impact asks every client to vibrate with the given style.
func (h *Hub) Impact(_ context.Context, style string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return ErrNoClients
	}
	h.broadcastLocked(Frame{Type: FrameHaptic, Style: style}, nil)
	return nil
}

// broadcastLocked must be called with h.mu held.
func (h *Hub) broadcastLocked(f Frame, include func(*client) bool) {
	for _, c := range h.clients {
		if include != nil && !include(c) {
			continue
		}
		h.enqueue(c, f)
	}
}

func (h *Hub) enqueue(c *client, f Frame) {
	select {
	case c.send <- f:
	default:
		slog.Warn("client send buffer full, dropping frame", "client_id", c.id, "type", f.Type)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	slog.Info("browser client connected", "client_id", c.id)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	slog.Info("browser client disconnected", "client_id", c.id)
}

func (h *Hub) dropWaiter(ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, w := range h.waiters {
		if w == ch {
			h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "client_id", c.id, "error", err)
			}
			return
		}
		h.handleFrame(c, f)
	}
}

func (h *Hub) handleFrame(c *client, f Frame) {
	switch f.Type {
	case FrameHello, FramePermission:
		h.setPermission(c, f.Permission)
	case FrameClick:
		h.handleClick(c, f)
	default:
		slog.Debug("unknown frame type", "client_id", c.id, "type", f.Type)
	}
}

func (h *Hub) setPermission(c *client, p string) {
	switch p {
	case PermissionGranted, PermissionDenied, PermissionDefault:
	default:
		return
	}

	h.mu.Lock()
	c.permission = p
	var waiters []chan string
	if p != PermissionDefault {
		waiters = h.waiters
		h.waiters = nil
	}
	h.mu.Unlock()

	slog.Debug("browser permission reported", "client_id", c.id, "permission", p)

	for _, w := range waiters {
		select {
		case w <- p:
		default:
		}
	}
}

// handleClick focuses the clicked client's window and dismisses the notification.
func (h *Hub) handleClick(c *client, f Frame) {
	h.mu.RLock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueue(c, Frame{Type: FrameFocus})
		h.enqueue(c, Frame{Type: FrameClose, Tag: f.Tag})
	}
	onClick := h.onClick
	h.mu.RUnlock()

	slog.Info("browser notification clicked", "client_id", c.id, "tag", f.Tag)

	if onClick != nil {
		onClick(f.Tag, f.Data)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				slog.Debug("websocket write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
