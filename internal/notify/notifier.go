package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoNotifiers is returned by Chain.Notify when the chain is empty.
var ErrNoNotifiers = errors.New("notify: no notifiers configured")

// Payload is what a notifier displays for one chat message.
type Payload struct {
	ID        int64 // native notification id
	MessageID string
	Title     string
	Body      string
	Sound     string
	Icon      string
	Badge     string
	Tag       string // browser de-duplication tag
	Extra     map[string]string
	At        time.Time

	RequireInteraction bool
	Silent             bool
}

// Notifier displays a payload through one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, p Payload) error
}

// FailureFunc is called for every notifier that fails inside a chain.
type FailureFunc func(notifier string, err error)

// Chain tries notifiers in order until one succeeds.
type Chain struct {
	notifiers []Notifier
	onFailure FailureFunc
}

// NewChain creates a Chain. Nil notifiers are skipped.
func NewChain(notifiers ...Notifier) *Chain {
	c := &Chain{}
	for _, n := range notifiers {
		if n != nil {
			c.notifiers = append(c.notifiers, n)
		}
	}
	return c
}

// Names returns the notifier names in order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.notifiers))
	for _, n := range c.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// OnFailure sets the hook called for each failed attempt, including
// failures later recovered by a fallback. Not safe to call concurrently
// with Notify.
func (c *Chain) OnFailure(fn FailureFunc) {
	c.onFailure = fn
}

// Notify returns the name of the notifier that delivered p. When every
// notifier fails, the joined error carries one entry per attempt.
func (c *Chain) Notify(ctx context.Context, p Payload) (string, error) {
	if len(c.notifiers) == 0 {
		return "", ErrNoNotifiers
	}

	var errs []error
	for i, n := range c.notifiers {
		err := n.Notify(ctx, p)
		if err == nil {
			return n.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		if c.onFailure != nil {
			c.onFailure(n.Name(), err)
		}
		if i < len(c.notifiers)-1 {
			slog.Info("notifier failed, falling back",
				"notifier", n.Name(),
				"next", c.notifiers[i+1].Name(),
				"message_id", p.MessageID,
				"error", err)
		}
	}
	return "", errors.Join(errs...)
}
