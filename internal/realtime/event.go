// Package realtime turns inserts on the chat messages table into a
// stream of Events and keeps at most one live subscription per user.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessagesTable is the table whose inserts are watched.
const MessagesTable = "messages"

// ErrClosed is returned by Stream.Next once the stream has been closed.
var ErrClosed = errors.New("realtime: stream closed")

// Event is a newly inserted chat message.
type Event struct {
	ID        string
	GroupID   string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// Filter selects which inserts a Feed delivers.
type Filter struct {
	Table    string
	GroupIDs []string
}

// Feed opens filtered insert streams. Filtering happens on the server side.
type Feed interface {
	Subscribe(ctx context.Context, f Filter) (Stream, error)
}

// Stream is a lazy, unbounded, non-restartable sequence of events.
// Next blocks until an event arrives, ctx is done, or the stream is closed.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

type messageRow struct {
	ID        json.RawMessage `json:"id"`
	GroupID   json.RawMessage `json:"group_id"`
	SenderID  json.RawMessage `json:"sender_id"`
	Text      *string         `json:"text"`
	CreatedAt string          `json:"created_at"`
}

// DecodeEvent parses a JSON message row. Rows wrapped in a change envelope
// ({"new": {...}}) are unwrapped first. Identifier columns may be strings or
// numbers.
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		New json.RawMessage `json:"new"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.New) > 0 && !bytes.Equal(envelope.New, []byte("null")) {
		data = envelope.New
	}

	var row messageRow
	if err := json.Unmarshal(data, &row); err != nil {
		return Event{}, fmt.Errorf("decoding message row: %w", err)
	}

	ev := Event{
		ID:       rawID(row.ID),
		GroupID:  rawID(row.GroupID),
		SenderID: rawID(row.SenderID),
	}
	if row.Text != nil {
		ev.Text = *row.Text
	}
	if ev.ID == "" || ev.GroupID == "" {
		return Event{}, fmt.Errorf("decoding message row: id and group_id are required")
	}
	ev.CreatedAt = parseTimestamp(row.CreatedAt)

	return ev, nil
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
