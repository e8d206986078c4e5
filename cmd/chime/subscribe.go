package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/btouchard/chime/internal/config"
	"github.com/btouchard/chime/internal/directory"
	"github.com/btouchard/chime/internal/metrics"
	"github.com/btouchard/chime/internal/permission"
	"github.com/btouchard/chime/internal/realtime"
)

type subscriber interface {
	Open(ctx context.Context, userID string, groupIDs []string) (*realtime.Handle, error)
}

type permissionInitializer interface {
	State() permission.State
	Initialize(ctx context.Context) permission.State
}

// membershipWatcher keeps the message subscription in line with the
// identity's group memberships and retries the permission request until it
// is granted.
type membershipWatcher struct {
	identity    config.IdentityConfig
	subs        subscriber
	members     directory.MembershipSource
	perm        permissionInitializer
	permTimeout time.Duration
	met         *metrics.Metrics

	requesting atomic.Bool
}

// run opens the subscription, then refreshes it every RefreshInterval until
// ctx is done. A non-positive interval opens once and returns.
func (w *membershipWatcher) run(ctx context.Context) {
	w.refresh(ctx)
	if w.identity.RefreshInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.identity.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.requestPermission(ctx)
			w.refresh(ctx)
		}
	}
}

// refresh re-opens the subscription when the group set changed or the
// previous stream failed. The manager keeps a healthy handle for an
// unchanged set.
func (w *membershipWatcher) refresh(ctx context.Context) {
	id := w.identity
	groups := id.Groups
	if len(groups) == 0 && w.members != nil && id.UserID != "" {
		loaded, err := w.members.GroupsForUser(ctx, id.UserID)
		if err != nil {
			slog.Warn("loading group memberships", "user_id", id.UserID, "error", err)
			return
		}
		groups = loaded
	}

	h, err := w.subs.Open(ctx, id.UserID, groups)
	if err != nil {
		slog.Warn("opening message subscription", "error", err)
		w.met.SetSubscribed(false)
		return
	}
	w.met.SetSubscribed(h != nil)
}

// requestPermission asks again for notification permission in the
// background. At most one request is in flight and each is bounded by
// permTimeout.
func (w *membershipWatcher) requestPermission(ctx context.Context) {
	if w.perm == nil || w.perm.State() == permission.Granted {
		return
	}
	if !w.requesting.CompareAndSwap(false, true) {
		slog.Debug("permission request already pending")
		return
	}

	go func() {
		defer w.requesting.Store(false)
		initPermission(ctx, w.perm, w.permTimeout)
	}()
}

// initPermission runs one permission request under timeout.
func initPermission(ctx context.Context, perm permissionInitializer, timeout time.Duration) permission.State {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return perm.Initialize(ctx)
}
