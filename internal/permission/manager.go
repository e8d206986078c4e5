// Package permission decides, once per run, whether visible notifications
// may be shown, and handles taps on native notifications.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
)

// ErrUnavailable is reported when neither permission channel can answer.
var ErrUnavailable = errors.New("permission: no notification channel available")

// State is the notification permission.
type State int

const (
	Unknown State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// NativeRequester asks the native channel for permission.
type NativeRequester interface {
	RequestPermission(ctx context.Context) (bool, error)
}

// BrowserRequester is the web Notification permission API. State returns
// "default", "granted" or "denied", or "" when the API is absent.
type BrowserRequester interface {
	Available() bool
	State() string
	Request(ctx context.Context) (bool, error)
}

// ActionFunc receives the group id extracted from a tapped notification.
type ActionFunc func(groupID, source string)

// Manager caches the permission state.
type Manager struct {
	native  NativeRequester
	browser BrowserRequester

	mu       sync.RWMutex
	state    State
	onAction ActionFunc
}

// NewManager creates a Manager. Either requester may be nil.
func NewManager(native NativeRequester, browser BrowserRequester) *Manager {
	return &Manager{native: native, browser: browser}
}

// OnAction sets the hook that receives group ids from notification taps.
func (m *Manager) OnAction(fn ActionFunc) {
	m.mu.Lock()
	m.onAction = fn
	m.mu.Unlock()
}

// State returns the cached permission.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Initialize requests permission and caches the result. It never fails:
// every error degrades to Denied. It may be called again to re-query.
func (m *Manager) Initialize(ctx context.Context) State {
	granted, err := m.requestNative(ctx)
	if err != nil {
		slog.Info("native notification permission unavailable, trying browser", "error", err)
		granted = m.requestBrowser(ctx)
	}

	state := Denied
	if granted {
		state = Granted
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	slog.Info("notification permission", "state", state.String())
	return state
}

func (m *Manager) requestNative(ctx context.Context) (bool, error) {
	if m.native == nil {
		return false, ErrUnavailable
	}
	return m.native.RequestPermission(ctx)
}

func (m *Manager) requestBrowser(ctx context.Context) bool {
	if m.browser == nil || !m.browser.Available() {
		slog.Warn("browser notification permission unavailable", "kind", "permission_unavailable")
		return false
	}

	switch m.browser.State() {
	case "granted":
		return true
	case "default":
		granted, err := m.browser.Request(ctx)
		if err != nil {
			slog.Warn("browser permission request failed", "kind", "permission_unavailable", "error", err)
			return false
		}
		slog.Info("browser notification permission", "granted", granted)
		return granted
	default:
		return false
	}
}

// HandleAction extracts the group id from a tapped notification's extra
// metadata and forwards it to the action hook.
func (m *Manager) HandleAction(extra map[string]string, source string) string {
	groupID := extra["groupId"]
	if groupID == "" {
		slog.Debug("notification action without group", "source", source)
		return ""
	}

	slog.Info("navigate to group", "group_id", groupID, "source", source)

	m.mu.RLock()
	fn := m.onAction
	m.mu.RUnlock()
	if fn != nil {
		fn(groupID, source)
	}
	return groupID
}

type actionEvent struct {
	Notification struct {
		Extra map[string]string `json:"extra"`
	} `json:"notification"`
}

// ActionHandler serves the native action callback:
// {"notification":{"extra":{"groupId":"..."}}}.
func (m *Manager) ActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev actionEvent
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&ev); err != nil {
			http.Error(w, "invalid action payload", http.StatusBadRequest)
			return
		}

		groupID := m.HandleAction(ev.Notification.Extra, "native")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"group_id": groupID})
	}
}
