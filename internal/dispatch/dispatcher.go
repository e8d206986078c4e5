// Package dispatch turns one inbound chat message into local feedback and
// a visible notification.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/btouchard/chime/internal/cue"
	"github.com/btouchard/chime/internal/directory"
	"github.com/btouchard/chime/internal/metrics"
	"github.com/btouchard/chime/internal/notify"
	"github.com/btouchard/chime/internal/permission"
	"github.com/btouchard/chime/internal/realtime"
	"github.com/btouchard/chime/internal/store"
)

const (
	defaultSender = "Someone"
	defaultGroup  = "Group"
	defaultBody   = "Sent a message"
)

// Sounder plays the shared sound cue.
type Sounder interface {
	Play(ctx context.Context) error
}

// Haptics triggers an impact on connected devices.
type Haptics interface {
	Impact(ctx context.Context, style string) error
}

// Notifier shows a payload and reports which channel delivered it.
type Notifier interface {
	Notify(ctx context.Context, p notify.Payload) (string, error)
}

// Recorder persists dispatch outcomes.
type Recorder interface {
	RecordNotification(n *store.NotificationRecord) error
}

// Observer is told about every outcome.
type Observer interface {
	Observe(o notify.Outcome)
}

// Deps are the collaborators of a Dispatcher. Only Notifier is required;
// a nil dependency disables its step.
type Deps struct {
	Directory directory.Directory
	Sound     Sounder
	Haptics   Haptics
	Notifier  Notifier
	Recorder  Recorder
	Observer  Observer
	Metrics   *metrics.Metrics
}

// Options tune the visible notification.
type Options struct {
	Icon        string
	Badge       string
	Sound       string
	HapticStyle string
	Delay       time.Duration
	DedupWindow time.Duration
}

// Result is the outcome of one dispatch.
type Result struct {
	Status  string
	Channel string
	Reason  string
	Payload *notify.Payload
}

// Dispatcher runs the notification chain for each event. Safe for
// concurrent use.
type Dispatcher struct {
	deps Deps
	opts Options
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // message id → first dispatch
}

// New creates a Dispatcher.
func New(deps Deps, opts Options) *Dispatcher {
	if opts.HapticStyle == "" {
		opts.HapticStyle = "medium"
	}
	return &Dispatcher{
		deps: deps,
		opts: opts,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Dispatch handles one inbound event. It never fails: every step error is
// logged, counted and absorbed, and the remaining steps still run.
func (d *Dispatcher) Dispatch(ctx context.Context, ev realtime.Event, selfID string, perm permission.State) Result {
	start := d.now()
	d.deps.Metrics.Received()
	defer func() { d.deps.Metrics.ObserveDispatch(d.now().Sub(start)) }()

	if ev.SenderID == selfID {
		return d.finish(ev, Result{Status: store.StatusSkipped, Reason: "own message"})
	}
	if !d.firstDelivery(ev.ID, start) {
		slog.Debug("duplicate message delivery suppressed", "message_id", ev.ID)
		return d.finish(ev, Result{Status: store.StatusSuppressed, Reason: "duplicate delivery"})
	}

	sender, group := d.lookup(ctx, ev)
	body := ev.Text
	if body == "" {
		body = defaultBody
	}

	d.playSound(ctx, ev.ID)
	d.impact(ctx, ev.ID)

	if perm != permission.Granted {
		slog.Debug("notification permission not granted", "message_id", ev.ID, "permission", perm.String())
		return d.finish(ev, Result{Status: store.StatusSkipped, Reason: "permission " + perm.String()})
	}

	now := d.now()
	p := notify.Payload{
		ID:        now.UnixMilli(),
		MessageID: ev.ID,
		Title:     sender + " in " + group,
		Body:      body,
		Sound:     d.opts.Sound,
		Icon:      d.opts.Icon,
		Badge:     d.opts.Badge,
		Tag:       "message-" + ev.ID,
		Extra:     map[string]string{"groupId": ev.GroupID},
		At:        now.Add(d.opts.Delay),
	}

	channel, err := d.deps.Notifier.Notify(ctx, p)
	if err != nil {
		slog.Warn("notification not shown", "message_id", ev.ID, "error", err)
		return d.finish(ev, Result{Status: store.StatusFailed, Reason: err.Error(), Payload: &p})
	}

	slog.Info("notification shown", "message_id", ev.ID, "group_id", ev.GroupID, "channel", channel)
	return d.finish(ev, Result{Status: store.StatusShown, Channel: channel, Payload: &p})
}

// NotifierFailed classifies a failed notifier attempt. It is meant as the
// notifier chain's failure hook.
func (d *Dispatcher) NotifierFailed(name string, err error) {
	kind := KindBrowserUnavailable
	if errors.Is(err, notify.ErrNativeSchedule) {
		kind = KindNativeScheduleFailed
	}
	slog.Warn("notifier failed", "kind", kind, "notifier", name, "error", err)
	d.deps.Metrics.Failure(kind)
}

// firstDelivery reports whether id has not been dispatched within the
// dedup window, and marks it as seen.
func (d *Dispatcher) firstDelivery(id string, now time.Time) bool {
	if d.opts.DedupWindow <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, t := range d.seen {
		if now.Sub(t) >= d.opts.DedupWindow {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = now
	return true
}

// lookup resolves sender and group names concurrently. Either lookup may
// fail without affecting the other.
func (d *Dispatcher) lookup(ctx context.Context, ev realtime.Event) (string, string) {
	sender, group := defaultSender, defaultGroup
	if d.deps.Directory == nil {
		return sender, group
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		u, err := d.deps.Directory.User(ctx, ev.SenderID)
		if err != nil {
			d.lookupFailed("user", ev.SenderID, err)
			return
		}
		if name := u.DisplayName(); name != "" {
			sender = name
		}
	})
	wg.Go(func() {
		g, err := d.deps.Directory.Group(ctx, ev.GroupID)
		if err != nil {
			d.lookupFailed("group", ev.GroupID, err)
			return
		}
		if g != nil && g.Name != "" {
			group = g.Name
		}
	})
	wg.Wait()

	return sender, group
}

func (d *Dispatcher) lookupFailed(what, id string, err error) {
	if errors.Is(err, directory.ErrNotFound) {
		slog.Debug("lookup found nothing", "what", what, "id", id)
		return
	}
	slog.Warn("lookup failed", "kind", KindLookupFailed, "what", what, "id", id, "error", err)
	d.deps.Metrics.Failure(KindLookupFailed)
}

func (d *Dispatcher) playSound(ctx context.Context, messageID string) {
	if d.deps.Sound == nil {
		return
	}
	err := d.deps.Sound.Play(ctx)
	if err == nil || errors.Is(err, cue.ErrDisabled) {
		return
	}
	slog.Warn("sound cue failed", "kind", KindPlaybackFailed, "message_id", messageID, "error", err)
	d.deps.Metrics.Failure(KindPlaybackFailed)
}

func (d *Dispatcher) impact(ctx context.Context, messageID string) {
	if d.deps.Haptics == nil {
		return
	}
	if err := d.deps.Haptics.Impact(ctx, d.opts.HapticStyle); err != nil {
		slog.Debug("haptic feedback unavailable", "kind", KindHapticUnavailable, "message_id", messageID, "error", err)
		d.deps.Metrics.Failure(KindHapticUnavailable)
	}
}

func (d *Dispatcher) finish(ev realtime.Event, r Result) Result {
	d.deps.Metrics.Outcome(r.Channel, r.Status)

	rec := &store.NotificationRecord{
		MessageID: ev.ID,
		GroupID:   ev.GroupID,
		SenderID:  ev.SenderID,
		Channel:   r.Channel,
		Status:    r.Status,
		Reason:    r.Reason,
	}
	if r.Payload != nil {
		rec.Title = r.Payload.Title
		rec.Body = r.Payload.Body
	}

	if d.deps.Recorder != nil {
		if err := d.deps.Recorder.RecordNotification(rec); err != nil {
			slog.Warn("recording notification outcome", "message_id", ev.ID, "error", err)
		}
	}
	if d.deps.Observer != nil {
		d.deps.Observer.Observe(notify.Outcome{
			MessageID: ev.ID,
			GroupID:   ev.GroupID,
			Title:     rec.Title,
			Body:      rec.Body,
			Channel:   r.Channel,
			Status:    r.Status,
		})
	}
	return r
}
