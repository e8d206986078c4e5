package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNativeSchedule wraps every failure of the native channel.
var ErrNativeSchedule = errors.New("native schedule failed")

// ntfy rejects delays shorter than this; shorter schedules are sent now.
const ntfyMinDelay = 10 * time.Second

const (
	ntfyPriorityLow     = 2
	ntfyPriorityDefault = 3
	ntfyPriorityHigh    = 4
)

// NtfyNotifier is the native channel: it publishes to an ntfy topic that
// the user's devices subscribe to.
type NtfyNotifier struct {
	server    string
	topic     string
	token     string
	actionURL string
	client    *http.Client
	now       func() time.Time
}

// NewNtfyNotifier creates a notifier for server/topic. actionURL, when set,
// receives a POST from the device when the notification's action is tapped.
func NewNtfyNotifier(server, topic, token, actionURL string) *NtfyNotifier {
	return &NtfyNotifier{
		server:    strings.TrimRight(server, "/"),
		topic:     topic,
		token:     token,
		actionURL: actionURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
}

func (n *NtfyNotifier) Name() string { return "ntfy" }

type ntfyAction struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Body   string `json:"body,omitempty"`
	Clear  bool   `json:"clear,omitempty"`
}

type ntfyMessage struct {
	Topic    string       `json:"topic"`
	Title    string       `json:"title"`
	Message  string       `json:"message"`
	Tags     []string     `json:"tags,omitempty"`
	Priority int          `json:"priority,omitempty"`
	Delay    string       `json:"delay,omitempty"`
	Actions  []ntfyAction `json:"actions,omitempty"`
}

// ActionBody is the JSON posted back to the action URL. It mirrors the
// native notification event shape: notification.extra carries the metadata.
type ActionBody struct {
	Notification struct {
		ID    int64             `json:"id"`
		Extra map[string]string `json:"extra"`
	} `json:"notification"`
}

// Notify publishes p. Schedules closer than ntfy's minimum delay are
// delivered immediately.
func (n *NtfyNotifier) Notify(ctx context.Context, p Payload) error {
	msg := ntfyMessage{
		Topic:    n.topic,
		Title:    p.Title,
		Message:  p.Body,
		Tags:     []string{"speech_balloon"},
		Priority: ntfyPriority(p),
	}
	if !p.At.IsZero() {
		if d := p.At.Sub(n.now()); d >= ntfyMinDelay {
			msg.Delay = d.Round(time.Second).String()
		}
	}
	if n.actionURL != "" {
		var body ActionBody
		body.Notification.ID = p.ID
		body.Notification.Extra = p.Extra
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding action: %v", ErrNativeSchedule, err)
		}
		msg.Actions = []ntfyAction{{
			Action: "http",
			Label:  "Open",
			URL:    n.actionURL,
			Method: http.MethodPost,
			Body:   string(b),
			Clear:  true,
		}}
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encoding message: %v", ErrNativeSchedule, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.server, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNativeSchedule, err)
	}
	req.Header.Set("Content-Type", "application/json")
	n.authorize(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNativeSchedule, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: ntfy returned %d", ErrNativeSchedule, resp.StatusCode)
	}
	return nil
}

// RequestPermission checks that the topic accepts our credentials. It is
// the native permission request: a reachable, authorised topic counts as
// granted, a refused one as denied, and transport failures as errors.
func (n *NtfyNotifier) RequestPermission(ctx context.Context) (bool, error) {
	authURL := n.server + "/" + url.PathEscape(n.topic) + "/auth"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return false, err
	}
	n.authorize(req)

	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking ntfy topic: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("checking ntfy topic: unexpected status %d", resp.StatusCode)
	}
}

// ntfy devices choose sound and vibration from the priority: 2 is
// silent, 3 uses the default alert, 4 plays the topic's sound with a
// long vibration.
func ntfyPriority(p Payload) int {
	switch {
	case p.Silent:
		return ntfyPriorityLow
	case p.Sound == "":
		return ntfyPriorityDefault
	default:
		return ntfyPriorityHigh
	}
}

func (n *NtfyNotifier) authorize(req *http.Request) {
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
}
