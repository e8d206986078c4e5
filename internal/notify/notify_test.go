package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/chime/internal/hub"
)

type stubNotifier struct {
	name  string
	err   error
	calls int
	got   Payload
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(_ context.Context, p Payload) error {
	s.calls++
	s.got = p
	return s.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	t.Parallel()
	native := &stubNotifier{name: "ntfy"}
	browser := &stubNotifier{name: "browser"}

	used, err := NewChain(native, browser).Notify(context.Background(), Payload{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "ntfy", used)
	assert.Equal(t, 1, native.calls)
	assert.Equal(t, 0, browser.calls)
}

func TestChain_FallsBackExactlyOnce(t *testing.T) {
	t.Parallel()
	native := &stubNotifier{name: "ntfy", err: ErrNativeSchedule}
	browser := &stubNotifier{name: "browser"}

	used, err := NewChain(native, browser).Notify(context.Background(), Payload{Title: "Bob in Team", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "browser", used)
	assert.Equal(t, 1, browser.calls)
	assert.Equal(t, "Bob in Team", browser.got.Title)
}

func TestChain_AllFail_JoinsErrors(t *testing.T) {
	t.Parallel()
	native := &stubNotifier{name: "ntfy", err: ErrNativeSchedule}
	browser := &stubNotifier{name: "browser", err: ErrBrowserUnavailable}

	used, err := NewChain(native, browser).Notify(context.Background(), Payload{})
	require.Error(t, err)
	assert.Empty(t, used)
	assert.ErrorIs(t, err, ErrNativeSchedule)
	assert.ErrorIs(t, err, ErrBrowserUnavailable)
}

func TestChain_EmptyAndNilNotifiers(t *testing.T) {
	t.Parallel()

	c := NewChain(nil, nil)
	assert.Empty(t, c.Names())
	_, err := c.Notify(context.Background(), Payload{})
	assert.ErrorIs(t, err, ErrNoNotifiers)

	assert.Equal(t, []string{"ntfy", "browser"}, NewChain(&stubNotifier{name: "ntfy"}, nil, &stubNotifier{name: "browser"}).Names())
}

func TestNtfyNotifier_PublishesMessageWithAction(t *testing.T) {
	t.Parallel()

	var got ntfyMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n := NewNtfyNotifier(srv.URL+"/", "team", "tk_secret", "https://chime.example.com/actions/native")
	err := n.Notify(context.Background(), Payload{
		ID:    1700000000000,
		Title: "Bob in Team",
		Body:  "hi",
		Extra: map[string]string{"groupId": "g1"},
		At:    time.Now().Add(100 * time.Millisecond),
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tk_secret", auth)
	assert.Equal(t, "team", got.Topic)
	assert.Equal(t, "Bob in Team", got.Title)
	assert.Equal(t, "hi", got.Message)
	assert.Empty(t, got.Delay, "near-immediate schedules are sent now")
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "https://chime.example.com/actions/native", got.Actions[0].URL)

	var body ActionBody
	require.NoError(t, json.Unmarshal([]byte(got.Actions[0].Body), &body))
	assert.Equal(t, "g1", body.Notification.Extra["groupId"])
	assert.Equal(t, int64(1700000000000), body.Notification.ID)
}

func TestNtfyNotifier_SoundSetsPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload Payload
		want    int
	}{
		{"sound cue", Payload{Sound: "notification-sound.wav"}, 4},
		{"no sound", Payload{}, 3},
		{"silent wins over sound", Payload{Sound: "notification-sound.wav", Silent: true}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got ntfyMessage
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			}))
			t.Cleanup(srv.Close)

			require.NoError(t, NewNtfyNotifier(srv.URL, "team", "", "").Notify(context.Background(), tt.payload))
			assert.Equal(t, tt.want, got.Priority)
		})
	}
}

func TestNtfyNotifier_LongScheduleSetsDelay(t *testing.T) {
	t.Parallel()

	var got ntfyMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	n := NewNtfyNotifier(srv.URL, "team", "", "")
	n.now = func() time.Time { return now }

	require.NoError(t, n.Notify(context.Background(), Payload{Title: "t", At: now.Add(30 * time.Second)}))
	assert.Equal(t, "30s", got.Delay)
	assert.Empty(t, got.Actions)
}

func TestNtfyNotifier_ServerErrorIsNativeScheduleFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	err := NewNtfyNotifier(srv.URL, "team", "", "").Notify(context.Background(), Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNativeSchedule)
	assert.Contains(t, err.Error(), "429")
}

func TestNtfyNotifier_RequestPermission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		granted bool
		wantErr bool
	}{
		{"authorised", http.StatusOK, true, false},
		{"forbidden", http.StatusForbidden, false, false},
		{"unauthorized", http.StatusUnauthorized, false, false},
		{"server error", http.StatusInternalServerError, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/team/auth", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			granted, err := NewNtfyNotifier(srv.URL, "team", "", "").RequestPermission(context.Background())
			assert.Equal(t, tt.granted, granted)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fakeShower struct {
	title string
	opts  hub.NotificationOptions
	err   error
}

func (f *fakeShower) Notify(_ context.Context, title string, opts hub.NotificationOptions) error {
	f.title = title
	f.opts = opts
	return f.err
}

func TestBrowserNotifier_MapsPayload(t *testing.T) {
	t.Parallel()
	shower := &fakeShower{}

	err := NewBrowserNotifier(shower).Notify(context.Background(), Payload{
		Title: "Bob in Team", Body: "hi", Icon: "/favicon.jpg", Badge: "/favicon.jpg",
		Tag: "message-m1", Extra: map[string]string{"groupId": "g1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bob in Team", shower.title)
	assert.Equal(t, "hi", shower.opts.Body)
	assert.Equal(t, "message-m1", shower.opts.Tag)
	assert.Equal(t, "/favicon.jpg", shower.opts.Icon)
	assert.Equal(t, "g1", shower.opts.Data["groupId"])
}

func TestBrowserNotifier_WrapsHubErrors(t *testing.T) {
	t.Parallel()

	err := NewBrowserNotifier(&fakeShower{err: hub.ErrNoClients}).Notify(context.Background(), Payload{})
	assert.ErrorIs(t, err, ErrBrowserUnavailable)
	assert.ErrorIs(t, err, hub.ErrNoClients)
}

type recordingSender struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (r *recordingSender) SendNotificationToAllClients(method string, params map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, params)
}

func TestMCPNotifier_DebouncesShownPerGroup(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	n := NewMCPNotifier(sender, time.Hour)

	n.Observe(Outcome{MessageID: "m1", GroupID: "g1", Status: "shown"})
	n.Observe(Outcome{MessageID: "m2", GroupID: "g1", Status: "shown"})
	n.Observe(Outcome{MessageID: "m3", GroupID: "g2", Status: "shown"})
	n.Observe(Outcome{MessageID: "m4", GroupID: "g1", Status: "failed"})

	require.Len(t, sender.calls, 3)
	assert.Equal(t, "warning", sender.calls[2]["level"])
	data := sender.calls[0]["data"].(map[string]any)
	assert.Equal(t, "m1", data["message_id"])
}

func TestMCPNotifier_PrunesExpiredGroups(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	n := NewMCPNotifier(sender, time.Second)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	n.Observe(Outcome{MessageID: "m1", GroupID: "g1", Status: "shown"})
	n.Observe(Outcome{MessageID: "m2", GroupID: "g2", Status: "shown"})
	assert.Len(t, n.lastSent, 2)

	now = now.Add(2 * time.Second)
	n.Observe(Outcome{MessageID: "m3", GroupID: "g3", Status: "shown"})
	assert.Len(t, n.lastSent, 1, "expired groups are dropped")

	n.Observe(Outcome{MessageID: "m4", GroupID: "g1", Status: "shown"})
	assert.Len(t, sender.calls, 4, "g1 is no longer debounced")
}

func TestMCPNotifier_DefaultDebounce(t *testing.T) {
	t.Parallel()
	n := NewMCPNotifier(&recordingSender{}, 0)
	assert.Equal(t, 3*time.Second, n.debounce)
}

func TestChain_OnFailureSeesRecoveredFailures(t *testing.T) {
	t.Parallel()
	native := &stubNotifier{name: "ntfy", err: ErrNativeSchedule}
	browser := &stubNotifier{name: "browser"}

	var failed []string
	c := NewChain(native, browser)
	c.OnFailure(func(name string, err error) {
		failed = append(failed, name)
		assert.ErrorIs(t, err, ErrNativeSchedule)
	})

	used, err := c.Notify(context.Background(), Payload{})
	require.NoError(t, err)
	assert.Equal(t, "browser", used)
	assert.Equal(t, []string{"ntfy"}, failed)
}
