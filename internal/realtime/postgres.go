package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresFeed delivers inserts through LISTEN/NOTIFY. Each group has its
// own notification channel "<prefix>:<group_id>", so a subscription only
// ever receives rows for the groups it listens on.
type PostgresFeed struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewPostgresFeed creates a feed on pool. An empty prefix defaults to the
// watched table name.
func NewPostgresFeed(pool *pgxpool.Pool, prefix string) *PostgresFeed {
	return &PostgresFeed{pool: pool, prefix: prefix}
}

// ChannelName returns the notification channel used for a group.
func ChannelName(prefix, groupID string) string {
	return prefix + ":" + groupID
}

// Subscribe acquires a dedicated connection and listens on one channel per group.
func (f *PostgresFeed) Subscribe(ctx context.Context, filter Filter) (Stream, error) {
	prefix := f.prefix
	if prefix == "" {
		prefix = filter.Table
	}

	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}

	for _, g := range filter.GroupIDs {
		channel := ChannelName(prefix, g)
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, fmt.Errorf("listening on %s: %w", channel, err)
		}
	}

	return &pgStream{conn: poolConn{conn}}, nil
}

// InstallTrigger creates the insert trigger that publishes each new row
// of table on its group channel. Payloads above 8000 bytes are rejected by
// the server, so very long messages are not delivered.
func (f *PostgresFeed) InstallTrigger(ctx context.Context, table string) error {
	prefix := f.prefix
	if prefix == "" {
		prefix = table
	}
	ident := pgx.Identifier{table}.Sanitize()
	literal := "'" + strings.ReplaceAll(prefix+":", "'", "''") + "'"

	statements := []string{
		`CREATE OR REPLACE FUNCTION chime_notify_message() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(` + literal + ` || NEW.group_id::text, row_to_json(NEW)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS chime_message_insert ON ` + ident,
		`CREATE TRIGGER chime_message_insert AFTER INSERT ON ` + ident +
			` FOR EACH ROW EXECUTE FUNCTION chime_notify_message()`,
	}

	for i, stmt := range statements {
		if _, err := f.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("installing notify trigger (step %d): %w", i+1, err)
		}
	}

	slog.Info("notify trigger installed", "table", table, "channel_prefix", prefix)
	return nil
}

// listenConn is the connection a pgStream holds for its lifetime.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	IsClosed() bool
	Close(ctx context.Context) error
	Release()
}

// poolConn adapts a pooled connection to listenConn.
type poolConn struct {
	*pgxpool.Conn
}

func (c poolConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.Conn.Conn().WaitForNotification(ctx)
}

func (c poolConn) IsClosed() bool { return c.Conn.Conn().IsClosed() }

func (c poolConn) Close(ctx context.Context) error { return c.Conn.Conn().Close(ctx) }

type pgStream struct {
	conn listenConn
	once sync.Once
}

func (s *pgStream) Next(ctx context.Context) (Event, error) {
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			return Event{}, fmt.Errorf("waiting for notification: %w", err)
		}

		ev, err := DecodeEvent([]byte(n.Payload))
		if err != nil {
			slog.Warn("dropping undecodable notification", "channel", n.Channel, "error", err)
			continue
		}
		return ev, nil
	}
}

// Close unlistens and returns the connection to the pool. A connection
// that pgx already closed, as it does when WaitForNotification is
// cancelled, is released as is.
func (s *pgStream) Close() error {
	var err error
	s.once.Do(func() {
		defer s.conn.Release()
		if s.conn.IsClosed() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, uerr := s.conn.Exec(ctx, "UNLISTEN *"); uerr != nil {
			err = fmt.Errorf("unlisten: %w", uerr)
			// A connection in an unknown state must not return to the pool.
			_ = s.conn.Close(ctx)
		}
	})
	return err
}
