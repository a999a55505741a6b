package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// fakeRedis is an in-memory Client. down makes every command fail.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	down bool
	gets int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

var errRedisDown = errors.New("dial tcp: connection refused")

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	cmd := redis.NewStringCmd(ctx, "get", key)
	switch v, ok := f.data[key]; {
	case f.down:
		cmd.SetErr(errRedisDown)
	case !ok:
		cmd.SetErr(redis.Nil)
	default:
		cmd.SetVal(v)
	}
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	if f.down {
		cmd.SetErr(errRedisDown)
		return cmd
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx, "del")
	if f.down {
		cmd.SetErr(errRedisDown)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

type memoryStore struct {
	latest  map[int64]types.Sample
	nextID  int64
	reads   int
	failErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{latest: make(map[int64]types.Sample)}
}

func (m *memoryStore) Append(_ context.Context, s *types.Sample) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.nextID++
	s.ID = m.nextID
	m.latest[s.TargetID] = *s
	return nil
}

func (m *memoryStore) LatestByTarget(_ context.Context, id int64) (types.Sample, bool, error) {
	m.reads++
	s, ok := m.latest[id]
	return s, ok, nil
}

func TestService_SetGetDelete(t *testing.T) {
	client := newFakeRedis()
	svc := NewService(client, time.Minute)
	ctx := context.Background()
	key := CacheKey{Prefix: "test", ID: "1"}

	require.NoError(t, svc.Set(ctx, key, map[string]int{"a": 1}, 0))
	assert.Equal(t, time.Minute, client.ttls["test:1"])

	var got map[string]int
	require.NoError(t, svc.Get(ctx, key, &got))
	assert.Equal(t, 1, got["a"])

	require.NoError(t, svc.Delete(ctx, key))
	err := svc.Get(ctx, key, &got)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLatestSampleCache_WriteThrough(t *testing.T) {
	client := newFakeRedis()
	store := newMemoryStore()
	c := NewLatestSampleCache(store, NewService(client, 0), 10*time.Minute)
	ctx := context.Background()

	s := &types.Sample{TargetID: 7, CPUUsage: 55.5, Status: types.StatusNormal, Timestamp: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, c.Append(ctx, s))
	assert.Contains(t, client.data, "sample:latest:7")
	assert.Equal(t, 10*time.Minute, client.ttls["sample:latest:7"])

	got, found, err := c.LatestByTarget(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, 55.5, got.CPUUsage)
	assert.True(t, s.Timestamp.Equal(got.Timestamp))
	assert.Zero(t, store.reads, "hit must not touch the store")
}

func TestLatestSampleCache_MissBackfills(t *testing.T) {
	client := newFakeRedis()
	store := newMemoryStore()
	store.latest[3] = types.Sample{ID: 11, TargetID: 3, DiskUsage: 91}
	c := NewLatestSampleCache(store, NewService(client, 0), time.Minute)
	ctx := context.Background()

	got, found, err := c.LatestByTarget(ctx, 3)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(11), got.ID)
	assert.Equal(t, 1, store.reads)

	_, _, err = c.LatestByTarget(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)

	_, found, err = c.LatestByTarget(ctx, 99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLatestSampleCache_RedisDownFallsBack(t *testing.T) {
	client := newFakeRedis()
	client.down = true
	store := newMemoryStore()
	c := NewLatestSampleCache(store, NewService(client, 0), time.Minute)
	ctx := context.Background()

	s := &types.Sample{TargetID: 2, MemoryUsage: 40}
	require.NoError(t, c.Append(ctx, s))

	got, found, err := c.LatestByTarget(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 40.0, got.MemoryUsage)
	assert.Equal(t, 1, store.reads)
}

func TestLatestSampleCache_StoreFailureSkipsCache(t *testing.T) {
	client := newFakeRedis()
	store := newMemoryStore()
	store.failErr = errors.New("disk full")
	c := NewLatestSampleCache(store, NewService(client, 0), time.Minute)

	err := c.Append(context.Background(), &types.Sample{TargetID: 1})
	assert.Error(t, err)
	assert.Empty(t, client.data)
}
