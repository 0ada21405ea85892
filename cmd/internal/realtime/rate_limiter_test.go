package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, rl.Allow(t0))
	require.True(t, rl.Allow(t0.Add(100*time.Millisecond)))
	require.True(t, rl.Allow(t0.Add(200*time.Millisecond)))
	require.False(t, rl.Allow(t0.Add(300*time.Millisecond)))

	// The oldest event leaves the window at t0+1s.
	require.True(t, rl.Allow(t0.Add(time.Second)))
	require.False(t, rl.Allow(t0.Add(time.Second+50*time.Millisecond)))
	require.True(t, rl.Allow(t0.Add(1100*time.Millisecond)))
}

func TestRateLimiter_DefaultsOnInvalidInput(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	now := time.Now()
	for range rateLimitEvents {
		require.True(t, rl.Allow(now))
	}
	require.False(t, rl.Allow(now))
	require.True(t, rl.Allow(now.Add(rateLimitWindow)))
}

func TestClient_PushAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	c := NewClient("user", "", "", 1)
	env, err := newEnvelope("user_online", map[string]string{"userId": "x"}, time.Now())
	require.NoError(t, err)

	require.True(t, c.Push(env))
	require.False(t, c.Push(env), "queue full")

	<-c.Send
	c.Close()
	c.Close()
	require.False(t, c.Push(env))
	require.False(t, c.Superseded())

	var nilClient *Client
	require.False(t, nilClient.Push(env))
	<-nilClient.Done()
}
