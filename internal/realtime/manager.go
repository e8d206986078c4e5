package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Status is the lifecycle state of a Handle.
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusErrored    Status = "errored"
	StatusClosed     Status = "closed"
)

// Handler consumes one event. It runs on its own goroutine and receives a
// context that is not cancelled when the subscription closes.
type Handler func(ctx context.Context, ev Event)

// Manager owns the single active subscription.
type Manager struct {
	feed    Feed
	handler Handler

	mu     sync.Mutex
	active *Handle
}

// NewManager creates a Manager that forwards every event from feed to handler.
func NewManager(feed Feed, handler Handler) *Manager {
	return &Manager{feed: feed, handler: handler}
}

// Open subscribes to message inserts for groupIDs on behalf of userID.
// It returns the active handle unchanged when it already serves the same
// user and group set. Otherwise the previous subscription is closed first.
// A nil handle is returned when userID or groupIDs is empty.
func (m *Manager) Open(ctx context.Context, userID string, groupIDs []string) (*Handle, error) {
	groups := normalizeGroups(groupIDs)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Status() == StatusSubscribed && m.active.matches(userID, groups) {
		return m.active, nil
	}

	if m.active != nil {
		slog.Info("closing previous message subscription",
			"user_id", m.active.userID,
			"groups", m.active.groupIDs)
		m.active.Close()
		m.active = nil
	}

	if userID == "" || len(groups) == 0 {
		return nil, nil
	}

	stream, err := m.feed.Subscribe(ctx, Filter{Table: MessagesTable, GroupIDs: groups})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", MessagesTable, err)
	}

	h := newHandle(context.WithoutCancel(ctx), userID, groups, stream)
	m.active = h
	go h.pump(m.handler)

	slog.Info("message subscription opened", "user_id", userID, "groups", groups)

	return h, nil
}

// Close closes h. Closing nil or an already closed handle is a no-op.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}
	h.Close()

	m.mu.Lock()
	if m.active == h {
		m.active = nil
	}
	m.mu.Unlock()
}

// Active returns the current subscription, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Shutdown closes the active subscription, if any.
func (m *Manager) Shutdown() {
	m.Close(m.Active())
}

// Handle is one live subscription.
type Handle struct {
	userID   string
	groupIDs []string
	stream   Stream

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	status Status
	once   sync.Once
}

func newHandle(parent context.Context, userID string, groups []string, stream Stream) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		userID:   userID,
		groupIDs: groups,
		stream:   stream,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   StatusSubscribed,
	}
}

// UserID returns the user the subscription was opened for.
func (h *Handle) UserID() string { return h.userID }

// GroupIDs returns a copy of the subscribed group set, sorted.
func (h *Handle) GroupIDs() []string { return slices.Clone(h.groupIDs) }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Done is closed once the handle stops reading events.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close unsubscribes and releases the stream. Dispatches already started
// keep running. Safe to call more than once.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		if err := h.stream.Close(); err != nil {
			slog.Warn("closing message stream", "error", err)
		}
		h.setStatus(StatusClosed)
		slog.Info("message subscription closed", "user_id", h.userID)
	})
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *Handle) matches(userID string, groups []string) bool {
	return h.userID == userID && slices.Equal(h.groupIDs, groups)
}

func (h *Handle) pump(handler Handler) {
	defer close(h.done)

	for {
		ev, err := h.stream.Next(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			slog.Error("message stream failed", "user_id", h.userID, "error", err)
			h.setStatus(StatusErrored)
			return
		}

		slog.Debug("new message received", "message_id", ev.ID, "group_id", ev.GroupID)

		go func(ev Event) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("message handler panicked", "message_id", ev.ID, "panic", r)
				}
			}()
			handler(context.WithoutCancel(h.ctx), ev)
		}(ev)
	}
}

func normalizeGroups(groupIDs []string) []string {
	out := make([]string, 0, len(groupIDs))
	for _, g := range groupIDs {
		if g != "" {
			out = append(out, g)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
