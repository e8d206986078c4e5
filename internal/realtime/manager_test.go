package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	filter Filter
	events chan Event
	failed chan error
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.closed:
		return Event{}, ErrClosed
	case err := <-s.failed:
		return Event{}, err
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeFeed struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (f *fakeFeed) Subscribe(_ context.Context, filter Filter) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{
		filter: filter,
		events: make(chan Event),
		failed: make(chan error, 1),
		closed: make(chan struct{}),
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeFeed) all() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

func (f *fakeFeed) openCount() int {
	n := 0
	for _, s := range f.all() {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

func noopHandler(context.Context, Event) {}

func TestManager_Open_NoUserOrGroups_ReturnsNilHandle(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	m := NewManager(feed, noopHandler)

	h, err := m.Open(context.Background(), "", []string{"g1"})
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = m.Open(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Nil(t, h)

	assert.Empty(t, feed.all())
}

func TestManager_Open_FiltersMessagesTableByGroups(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	m := NewManager(feed, noopHandler)

	h, err := m.Open(context.Background(), "u1", []string{"g2", "g1", "g2", ""})
	require.NoError(t, err)
	require.NotNil(t, h)
	t.Cleanup(m.Shutdown)

	streams := feed.all()
	require.Len(t, streams, 1)
	assert.Equal(t, MessagesTable, streams[0].filter.Table)
	assert.Equal(t, []string{"g1", "g2"}, streams[0].filter.GroupIDs)
	assert.Equal(t, StatusSubscribed, h.Status())
	assert.Equal(t, "u1", h.UserID())
}

func TestManager_Open_SamePairReusesHandle(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	m := NewManager(feed, noopHandler)
	t.Cleanup(m.Shutdown)

	h1, err := m.Open(context.Background(), "u1", []string{"g1", "g2"})
	require.NoError(t, err)
	h2, err := m.Open(context.Background(), "u1", []string{"g2", "g1"})
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Len(t, feed.all(), 1)
}

func TestManager_Open_DifferentGroupsClosesExactlyOnePrior(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	m := NewManager(feed, noopHandler)
	t.Cleanup(m.Shutdown)

	h1, err := m.Open(context.Background(), "userA", []string{"g1"})
	require.NoError(t, err)
	h2, err := m.Open(context.Background(), "userA", []string{"g1", "g2"})
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, h1.Status())
	assert.Equal(t, StatusSubscribed, h2.Status())
	assert.Equal(t, 1, feed.openCount())

	streams := feed.all()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].isClosed())
	assert.Equal(t, []string{"g1", "g2"}, streams[1].filter.GroupIDs)
	assert.Same(t, h2, m.Active())
}

func TestManager_Open_EmptyInputsCloseActive(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	m := NewManager(feed, noopHandler)

	h1, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.NoError(t, err)

	h2, err := m.Open(context.Background(), "u1", nil)
	require.NoError(t, err)

	assert.Nil(t, h2)
	assert.Equal(t, StatusClosed, h1.Status())
	assert.Nil(t, m.Active())
}

func TestManager_Open_SubscribeErrorIsWrapped(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{err: errors.New("connection refused")}
	m := NewManager(feed, noopHandler)

	h, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Contains(t, err.Error(), "subscribing to messages")
}

func TestManager_Close_IsIdempotent(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	m := NewManager(feed, noopHandler)

	h, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.NoError(t, err)

	m.Close(h)
	m.Close(h)
	m.Close(nil)

	assert.Equal(t, StatusClosed, h.Status())
	assert.Nil(t, m.Active())
	assert.Equal(t, 0, feed.openCount())
}

func TestHandle_ForwardsEventsToHandler(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	got := make(chan Event, 2)
	m := NewManager(feed, func(_ context.Context, ev Event) { got <- ev })
	t.Cleanup(m.Shutdown)

	_, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.NoError(t, err)

	stream := feed.all()[0]
	stream.events <- Event{ID: "m1", GroupID: "g1"}
	stream.events <- Event{ID: "m2", GroupID: "g1"}

	ids := map[string]bool{}
	for range 2 {
		select {
		case ev := <-got:
			ids[ev.ID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
	assert.Equal(t, map[string]bool{"m1": true, "m2": true}, ids)
}

func TestHandle_HandlerPanicDoesNotBreakSubscription(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	var calls atomic.Int32
	delivered := make(chan struct{}, 1)
	m := NewManager(feed, func(_ context.Context, ev Event) {
		calls.Add(1)
		if ev.ID == "boom" {
			panic("dispatch exploded")
		}
		delivered <- struct{}{}
	})
	t.Cleanup(m.Shutdown)

	h, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.NoError(t, err)

	stream := feed.all()[0]
	stream.events <- Event{ID: "boom", GroupID: "g1"}
	stream.events <- Event{ID: "ok", GroupID: "g1"}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("second event not delivered")
	}
	assert.Equal(t, StatusSubscribed, h.Status())
}

func TestHandle_CloseDoesNotCancelInFlightDispatch(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan error, 1)
	m := NewManager(feed, func(ctx context.Context, _ Event) {
		close(started)
		<-release
		finished <- ctx.Err()
	})

	h, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.NoError(t, err)

	feed.all()[0].events <- Event{ID: "m1", GroupID: "g1"}
	<-started

	m.Close(h)
	close(release)

	select {
	case err := <-finished:
		assert.NoError(t, err, "dispatch context must outlive the subscription")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish")
	}
}

func TestHandle_StreamFailureMarksErroredAndReopenRecovers(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{}
	m := NewManager(feed, noopHandler)
	t.Cleanup(m.Shutdown)

	h, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.NoError(t, err)

	feed.all()[0].failed <- errors.New("connection reset")
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop")
	}
	assert.Equal(t, StatusErrored, h.Status())

	h2, err := m.Open(context.Background(), "u1", []string{"g1"})
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.Equal(t, StatusClosed, h.Status())
	assert.Equal(t, 1, feed.openCount())
}
