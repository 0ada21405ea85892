package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"courier/cmd/identity/ids"
	v1 "courier/shared/contracts/realtime/v1"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewULID(time.Now().UTC())
	require.NoError(t, err)
	return id
}

// connect registers a fresh client for userID and drains its online_list.
func connect(t *testing.T, p *Presence, userID string) *Client {
	t.Helper()
	c := NewClient(userID, "name-"+userID[len(userID)-4:], userID+"@example.com", 64)
	require.NoError(t, p.Connect(t.Context(), c))
	env := nextEnvelope(t, c)
	require.Equal(t, v1.TypeOnlineList, env.Type)
	return c
}

// nextEnvelope pops the next queued envelope or fails.
func nextEnvelope(t *testing.T, c *Client) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("no envelope queued for %s", c.UserID)
		return v1.Envelope{}
	}
}

// queued drains everything currently queued for c.
func queued(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func decode[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}

func types(envs []v1.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

// recordingEvents captures EventSink calls.
type recordingEvents struct {
	mu      sync.Mutex
	online  []string
	offline []string
	created []string
	status  []string
}

func (r *recordingEvents) UserOnline(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = append(r.online, id)
}

func (r *recordingEvents) UserOffline(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, id)
}

func (r *recordingEvents) MessageCreated(_ context.Context, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, m.ID)
}

func (r *recordingEvents) StatusChanged(_ context.Context, ids []string, to Status, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.status = append(r.status, id+":"+string(to))
	}
}
