package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMapLimiterBurstThenRefill(t *testing.T) {
	req := require.New(t)
	l := New(1, 2, time.Minute)
	now := time.Now()

	req.True(l.Allow("10.0.0.1", now))
	req.True(l.Allow("10.0.0.1", now))
	req.False(l.Allow("10.0.0.1", now))

	// Other keys have their own bucket
	req.True(l.Allow("10.0.0.2", now))

	// One second later one token is back
	req.True(l.Allow("10.0.0.1", now.Add(time.Second)))
}

func TestMapLimiterDisabled(t *testing.T) {
	req := require.New(t)
	var l *MapLimiter = New(0, 10, 0)
	req.Nil(l)
	for i := 0; i < 100; i++ {
		req.True(l.Allow("10.0.0.1", time.Now()))
	}
	req.Equal(0, l.Len())
}

func TestMapLimiterEmptyKey(t *testing.T) {
	l := New(1, 1, time.Minute)
	require.True(t, l.Allow("  ", time.Now()))
	require.True(t, l.Allow("", time.Now()))
	require.Equal(t, 0, l.Len())
}

func TestMapLimiterEvictsIdle(t *testing.T) {
	req := require.New(t)
	l := New(100, 100, time.Second)
	start := time.Now()

	for i := 0; i < 511; i++ {
		l.Allow(fmt.Sprintf("k%d", i), start)
	}
	req.Equal(511, l.Len())

	// The 512th hit triggers eviction of everything idle for more than a second
	l.Allow("fresh", start.Add(time.Minute))
	req.Equal(1, l.Len())
}
