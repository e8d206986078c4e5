package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet bool
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return redis.NewStringResult("", errors.New("redis down"))
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

type countingDirectory struct {
	mu         sync.Mutex
	userCalls  int
	groupCalls int
	users      map[string]*User
	groups     map[string]*Group
}

func (d *countingDirectory) User(_ context.Context, id string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userCalls++
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (d *countingDirectory) Group(_ context.Context, id string) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupCalls++
	if g, ok := d.groups[id]; ok {
		return g, nil
	}
	return nil, ErrNotFound
}

func newBackend() *countingDirectory {
	return &countingDirectory{
		users:  map[string]*User{"u2": {ID: "u2", Name: "Bob", Username: "bob"}},
		groups: map[string]*Group{"g1": {ID: "g1", Name: "Team"}},
	}
}

func TestUser_DisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Bob", (&User{Name: "Bob", Username: "bob"}).DisplayName())
	assert.Equal(t, "bob", (&User{Username: "bob"}).DisplayName())
	assert.Equal(t, "", (&User{}).DisplayName())
	assert.Equal(t, "", (*User)(nil).DisplayName())
}

func TestCachedDirectory_SecondLookupHitsCache(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	cache := newMemRedis()
	d := NewCachedDirectory(backend, cache, time.Minute)

	for range 2 {
		u, err := d.User(context.Background(), "u2")
		require.NoError(t, err)
		assert.Equal(t, "Bob", u.Name)

		g, err := d.Group(context.Background(), "g1")
		require.NoError(t, err)
		assert.Equal(t, "Team", g.Name)
	}

	assert.Equal(t, 1, backend.userCalls)
	assert.Equal(t, 1, backend.groupCalls)
	assert.Equal(t, time.Minute, cache.ttls["chime:directory:user:u2"])
}

func TestCachedDirectory_NotFoundIsNotCached(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	d := NewCachedDirectory(backend, newMemRedis(), time.Minute)

	for range 2 {
		_, err := d.User(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 2, backend.userCalls)
}

func TestCachedDirectory_CacheFailureFallsThrough(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	cache := newMemRedis()
	cache.failGet = true
	d := NewCachedDirectory(backend, cache, 0)

	g, err := d.Group(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "Team", g.Name)
	assert.Equal(t, 10*time.Minute, d.ttl)
}

func TestCachedDirectory_CorruptEntryIsIgnored(t *testing.T) {
	t.Parallel()
	backend := newBackend()
	cache := newMemRedis()
	cache.data["chime:directory:group:g1"] = "{not json"
	d := NewCachedDirectory(backend, cache, time.Minute)

	g, err := d.Group(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "Team", g.Name)
	assert.Equal(t, 1, backend.groupCalls)
}
