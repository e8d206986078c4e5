package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSFeed delivers inserts published by the chat backend on
// "<prefix>.<group_id>" subjects.
type NATSFeed struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSFeed creates a feed on an established connection.
func NewNATSFeed(nc *nats.Conn, prefix string) *NATSFeed {
	return &NATSFeed{nc: nc, prefix: prefix}
}

// SubjectName returns the subject carrying inserts for a group.
func SubjectName(prefix, groupID string) (string, error) {
	if groupID == "" || strings.ContainsAny(groupID, ".*> \t\r\n") {
		return "", fmt.Errorf("group id %q is not a valid subject token", groupID)
	}
	return prefix + "." + groupID, nil
}

// Subscribe subscribes to every group subject, funnelled into one stream.
func (f *NATSFeed) Subscribe(_ context.Context, filter Filter) (Stream, error) {
	prefix := f.prefix
	if prefix == "" {
		prefix = filter.Table
	}

	s := &natsStream{
		msgs:   make(chan *nats.Msg, 64),
		closed: make(chan struct{}),
	}

	for _, g := range filter.GroupIDs {
		subject, err := SubjectName(prefix, g)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		sub, err := f.nc.ChanSubscribe(subject, s.msgs)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	return s, nil
}

type natsStream struct {
	msgs   chan *nats.Msg
	subs   []*nats.Subscription
	closed chan struct{}
	once   sync.Once
}

func (s *natsStream) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.closed:
			return Event{}, ErrClosed
		case msg := <-s.msgs:
			ev, err := DecodeEvent(msg.Data)
			if err != nil {
				slog.Warn("dropping undecodable message", "subject", msg.Subject, "error", err)
				continue
			}
			return ev, nil
		}
	}
}

func (s *natsStream) Close() error {
	var errs []error
	s.once.Do(func() {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, fmt.Errorf("unsubscribing %s: %w", sub.Subject, err))
			}
		}
		close(s.closed)
	})
	return errors.Join(errs...)
}
