package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/hub"
)

type stubHandle string

func (h stubHandle) ID() string             { return string(h) }
func (h stubHandle) Push(data []byte) error { return nil }

func newMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisMirror(rdb, "gw-1", time.Minute, zap.NewNop()), mr
}

func TestMirrorFollowsRegistry(t *testing.T) {
	req := require.New(t)
	mirror, mr := newMirror(t)
	registry := hub.NewRegistry(mirror)

	// Given user 7 connects
	registry.Register(7, stubHandle("c1"))

	// Then the presence key names this gateway and connection
	val, err := mr.Get(Key(7))
	req.NoError(err)
	req.Equal("gw-1/c1", val)
	req.Equal(time.Minute, mr.TTL(Key(7)))

	// When the user disconnects
	registry.Unregister(7)

	// Then the key is gone
	req.False(mr.Exists(Key(7)))
}

func TestMirrorKeepsNewerConnection(t *testing.T) {
	req := require.New(t)
	mirror, mr := newMirror(t)

	// Given a reconnect registered c2 after c1
	mirror.OnRegister(7, stubHandle("c1"))
	mirror.OnRegister(7, stubHandle("c2"))

	// When the stale c1 reports its disconnect
	mirror.OnUnregister(7, stubHandle("c1"))

	// Then c2 stays visible
	val, err := mr.Get(Key(7))
	req.NoError(err)
	req.Equal("gw-1/c2", val)
}

func TestMirrorRefresh(t *testing.T) {
	req := require.New(t)
	mirror, mr := newMirror(t)
	mirror.OnRegister(1, stubHandle("a"))

	mr.FastForward(50 * time.Second)
	req.NoError(mirror.Refresh(context.Background(), []hub.Entry{
		{UserID: 1, Handle: stubHandle("a")},
		{UserID: 2, Handle: stubHandle("b")},
	}))

	req.Equal(time.Minute, mr.TTL(Key(1)))
	req.True(mr.Exists(Key(2)))
	req.NoError(mirror.Refresh(context.Background(), nil))
}

func TestMirrorSurvivesRedisOutage(t *testing.T) {
	mirror, mr := newMirror(t)
	mr.Close()

	// Observers only log; the registry keeps working
	registry := hub.NewRegistry(mirror)
	registry.Register(1, stubHandle("a"))
	_, ok := registry.Lookup(1)
	require.True(t, ok)
	registry.Unregister(1)
}
