package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	v1 "courier/shared/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPresence_ConnectSendsOnlineListThenAnnounces(t *testing.T) {
	t.Parallel()

	p := NewPresence(discardLogger(), NewRegistry())
	a, b := newID(t), newID(t)

	ca := connect(t, p, a)

	cb := NewClient(b, "Bob", "bob@example.com", 8)
	require.NoError(t, p.Connect(t.Context(), cb))

	// The newcomer sees everyone else, never itself.
	list := nextEnvelope(t, cb)
	require.Equal(t, v1.TypeOnlineList, list.Type)
	require.Equal(t, []string{a}, decode[v1.OnlineListPayload](t, list).UserIDs)

	// Peers learn about the newcomer with its profile.
	online := nextEnvelope(t, ca)
	require.Equal(t, v1.TypeUserOnline, online.Type)
	got := decode[v1.UserOnlinePayload](t, online)
	require.Equal(t, b, got.UserID)
	require.Equal(t, "Bob", got.Name)
	require.Equal(t, "bob@example.com", got.Email)

	// The newcomer is not told about itself.
	require.Empty(t, queued(cb))
	require.ElementsMatch(t, []string{a, b}, p.Online())
}

func TestPresence_FirstConnectGetsEmptyList(t *testing.T) {
	t.Parallel()

	p := NewPresence(discardLogger(), nil)
	c := NewClient(newID(t), "", "", 4)
	require.NoError(t, p.Connect(t.Context(), c))

	env := nextEnvelope(t, c)
	require.Equal(t, v1.TypeOnlineList, env.Type)
	require.Empty(t, decode[v1.OnlineListPayload](t, env).UserIDs)
}

func TestPresence_DisconnectBroadcastsOffline(t *testing.T) {
	t.Parallel()

	events := &recordingEvents{}
	p := NewPresence(discardLogger(), NewRegistry(), WithPresenceEvents(events))
	a, b := newID(t), newID(t)

	ca := connect(t, p, a)
	cb := connect(t, p, b)
	queued(ca)

	require.True(t, p.Disconnect(t.Context(), cb))

	env := nextEnvelope(t, ca)
	require.Equal(t, v1.TypeUserOffline, env.Type)
	require.Equal(t, b, decode[v1.UserOfflinePayload](t, env).UserID)
	require.Equal(t, []string{a}, p.Online())

	require.Equal(t, []string{a, b}, events.online)
	require.Equal(t, []string{b}, events.offline)

	// A second disconnect of the same handle is a no-op.
	require.False(t, p.Disconnect(t.Context(), cb))
	require.Empty(t, queued(ca))
}

func TestPresence_SupersedeClosesOldSessionAndIgnoresStaleDisconnect(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	p := NewPresence(discardLogger(), NewRegistry(), WithPresenceMetrics(m))
	a, b := newID(t), newID(t)

	watcher := connect(t, p, b)
	first := connect(t, p, a)
	queued(watcher)

	second := connect(t, p, a)

	// The replaced session hears it went offline and is closed.
	env := nextEnvelope(t, first)
	require.Equal(t, v1.TypeUserOffline, env.Type)
	require.Equal(t, a, decode[v1.UserOfflinePayload](t, env).UserID)
	require.True(t, first.Superseded())
	select {
	case <-first.Done():
	default:
		t.Fatal("superseded client not closed")
	}

	// Peers see a fresh user_online for the identity.
	env = nextEnvelope(t, watcher)
	require.Equal(t, v1.TypeUserOnline, env.Type)

	// The old session shutting down must not take the identity offline.
	require.False(t, p.Disconnect(t.Context(), first))
	require.Empty(t, queued(watcher))

	got, ok := p.Registry().Lookup(a)
	require.True(t, ok)
	require.Same(t, second, got)

	require.Equal(t, float64(1), testutil.ToFloat64(m.sessionsSuperseded))
	require.Equal(t, float64(2), testutil.ToFloat64(m.sessionsActive))
}

func TestPresence_FullQueueDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(nil)
	require.NoError(t, err)

	p := NewPresence(discardLogger(), NewRegistry(), WithPresenceMetrics(m))

	slow := NewClient(newID(t), "", "", 1)
	require.NoError(t, p.Connect(t.Context(), slow))
	// online_list fills the single slot; further announcements are dropped.

	for range 3 {
		c := NewClient(newID(t), "", "", 4)
		require.NoError(t, p.Connect(t.Context(), c))
	}

	require.Len(t, queued(slow), 1)
	require.Equal(t, float64(3), testutil.ToFloat64(m.pushDropped.WithLabelValues(v1.TypeUserOnline)))
}

func TestPresence_ConnectRejectsInvalidIdentity(t *testing.T) {
	t.Parallel()

	p := NewPresence(discardLogger(), NewRegistry())
	require.ErrorIs(t, p.Connect(t.Context(), nil), ErrInvalidIdentity)
	require.ErrorIs(t, p.Connect(t.Context(), NewClient("", "", "", 1)), ErrInvalidIdentity)
	require.Empty(t, p.Online())
}

func TestPresence_ReconnectWaitsForPendingOfflineAnnouncement(t *testing.T) {
	t.Parallel()

	p := NewPresence(discardLogger(), NewRegistry())
	a, peer := newID(t), newID(t)

	cp := connect(t, p, peer)
	oldA := connect(t, p, a)
	queued(cp)
	queued(oldA)

	// Park the old session's disconnect after it unregistered, before peers hear about it.
	var calls atomic.Int32
	parked := make(chan struct{})
	release := make(chan struct{})
	p.now = func() time.Time {
		if calls.Add(1) == 1 {
			close(parked)
			<-release
		}
		return time.Now().UTC()
	}

	disconnected := make(chan bool, 1)
	go func() { disconnected <- p.Disconnect(context.Background(), oldA) }()
	<-parked

	newA := NewClient(a, "again", "", 8)
	connected := make(chan error, 1)
	go func() { connected <- p.Connect(context.Background(), newA) }()

	require.Never(t, func() bool {
		c, ok := p.Registry().Lookup(a)
		return ok && c == newA
	}, 100*time.Millisecond, 10*time.Millisecond)

	close(release)
	require.True(t, <-disconnected)
	require.NoError(t, <-connected)

	// Peers end on the state the registry holds.
	require.Equal(t, []string{v1.TypeUserOffline, v1.TypeUserOnline}, types(queued(cp)))
	c, ok := p.Registry().Lookup(a)
	require.True(t, ok)
	require.Same(t, newA, c)
}
