package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/btouchard/chime/internal/hub"
)

// ErrBrowserUnavailable wraps every failure of the browser channel.
var ErrBrowserUnavailable = errors.New("browser notification unavailable")

// BrowserShower is the hub side of the browser channel.
type BrowserShower interface {
	Notify(ctx context.Context, title string, opts hub.NotificationOptions) error
}

// BrowserNotifier shows a web Notification on connected app clients. The
// payload tag lets clients collapse repeated deliveries of one message.
type BrowserNotifier struct {
	shower BrowserShower
}

func NewBrowserNotifier(shower BrowserShower) *BrowserNotifier {
	return &BrowserNotifier{shower: shower}
}

func (b *BrowserNotifier) Name() string { return "browser" }

func (b *BrowserNotifier) Notify(ctx context.Context, p Payload) error {
	err := b.shower.Notify(ctx, p.Title, hub.NotificationOptions{
		Body:               p.Body,
		Icon:               p.Icon,
		Badge:              p.Badge,
		Tag:                p.Tag,
		RequireInteraction: p.RequireInteraction,
		Silent:             p.Silent,
		Data:               p.Extra,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBrowserUnavailable, err)
	}
	return nil
}
