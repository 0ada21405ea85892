package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"courier/cmd/identity/ids"
	"courier/cmd/internal/realtime"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestMirror_PublishesDomainEvents(t *testing.T) {
	t.Parallel()

	bus := NewInMem()
	t.Cleanup(func() { _ = bus.Close() })

	m := NewMirror(discardLogger(), bus, "chat.")
	require.Equal(t, "chat.presence.online", m.Subject(SubjectUserOnline))

	online := make(chan []byte, 1)
	created := make(chan []byte, 1)
	status := make(chan []byte, 1)
	_, err := bus.Stream(t.Context(), "chat."+SubjectUserOnline, online)
	require.NoError(t, err)
	_, err = bus.Stream(t.Context(), "chat."+SubjectMessageCreated, created)
	require.NoError(t, err)
	_, err = bus.Stream(t.Context(), "chat."+SubjectMessageStatus, status)
	require.NoError(t, err)

	now := time.Now().UTC()
	user := ids.MustNewULID(now)
	m.UserOnline(t.Context(), user)

	var pe PresenceEvent
	require.NoError(t, json.Unmarshal(receive(t, online), &pe))
	require.Equal(t, user, pe.UserID)

	msg := realtime.Message{
		ID:         ids.MustNewULID(now),
		SenderID:   user,
		ReceiverID: ids.MustNewULID(now),
		Content:    "hello",
		Status:     realtime.StatusSent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.MessageCreated(t.Context(), msg)

	var ce MessageCreatedEvent
	require.NoError(t, json.Unmarshal(receive(t, created), &ce))
	require.Equal(t, msg.ID, ce.Message.ID)
	require.Equal(t, "sent", ce.Message.Status)

	m.StatusChanged(t.Context(), []string{msg.ID}, realtime.StatusSeen, msg.ReceiverID)

	var se StatusChangedEvent
	require.NoError(t, json.Unmarshal(receive(t, status), &se))
	require.Equal(t, []string{msg.ID}, se.MessageIDs)
	require.Equal(t, "seen", se.Status)
	require.Equal(t, msg.ReceiverID, se.ActorID)
}

func TestMirror_PublishFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	bus := NewInMem()
	require.NoError(t, bus.Close())

	m := NewMirror(discardLogger(), bus, "")
	require.Equal(t, "courier.presence.offline", m.Subject(SubjectUserOffline))

	// Must not panic or block on a closed bus.
	m.UserOffline(t.Context(), "someone")

	var nilMirror *Mirror
	nilMirror.UserOnline(t.Context(), "someone")
}

func TestMirror_DetachesFromCallerCancellation(t *testing.T) {
	t.Parallel()

	bus := NewInMem()
	t.Cleanup(func() { _ = bus.Close() })

	ch := make(chan []byte, 1)
	_, err := bus.Stream(t.Context(), "courier."+SubjectUserOffline, ch)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewMirror(discardLogger(), bus, "").UserOffline(ctx, "gone")
	require.NotEmpty(t, receive(t, ch))
}

func TestInMem_StreamLifecycle(t *testing.T) {
	t.Parallel()

	bus := NewInMem()
	ch := make(chan []byte, 4)

	ctx, cancel := context.WithCancel(t.Context())
	sub, err := bus.Stream(ctx, "a.b", ch)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(t.Context(), "a.b", []byte("one")))
	require.NoError(t, bus.Publish(t.Context(), "a.c", []byte("other")))
	require.Equal(t, []byte("one"), receive(t, ch))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	cancel()

	require.NoError(t, bus.Publish(t.Context(), "a.b", []byte("two")))
	require.Empty(t, ch)

	require.ErrorIs(t, bus.Publish(t.Context(), "", nil), ErrInvalidSubject)

	done, stop := context.WithCancel(t.Context())
	stop()
	require.ErrorIs(t, bus.Publish(done, "a.b", nil), context.Canceled)
	_, err = bus.Stream(done, "a.b", ch)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, bus.Close())
	require.ErrorIs(t, bus.Publish(t.Context(), "a.b", nil), ErrConnectionClosed)
	_, err = bus.Stream(t.Context(), "a.b", ch)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestNATS_PublishAndStream(t *testing.T) {
	url := os.Getenv("COURIER_TEST_NATS_URL")
	if url == "" {
		t.Skip("COURIER_TEST_NATS_URL not set")
	}

	bus, err := ConnectNATS(t.Context(), discardLogger(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	ch := make(chan []byte, 1)
	_, err = bus.Stream(t.Context(), "courier.test.stream", ch)
	require.NoError(t, err)
	require.NoError(t, bus.nc.Flush())

	require.NoError(t, bus.Publish(t.Context(), "courier.test.stream", []byte("ping")))
	require.Equal(t, []byte("ping"), receive(t, ch))
}

func TestConnectNATS_RejectsEmptyURL(t *testing.T) {
	t.Parallel()

	_, err := ConnectNATS(t.Context(), nil, "  ")
	require.Error(t, err)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMirror_TapLogsPublishedEvents(t *testing.T) {
	t.Parallel()

	bus := NewInMem()
	t.Cleanup(func() { _ = bus.Close() })
	m := NewMirror(discardLogger(), bus, "tap")

	out := &lockedBuffer{}
	log := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, m.Tap(ctx, log))

	userID := ids.MustNewULID(time.Now())
	m.UserOnline(t.Context(), userID)

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, `"msg":"eventbus.event"`) &&
			strings.Contains(s, `"subject":"tap.presence.online"`) &&
			strings.Contains(s, userID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMirror_TapFailsOnClosedBus(t *testing.T) {
	t.Parallel()

	bus := NewInMem()
	require.NoError(t, bus.Close())

	err := NewMirror(discardLogger(), bus, "").Tap(t.Context(), nil)
	require.ErrorIs(t, err, ErrConnectionClosed)

	var nilMirror *Mirror
	require.NoError(t, nilMirror.Tap(t.Context(), nil))
}
