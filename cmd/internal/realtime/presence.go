package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	v1 "courier/shared/contracts/realtime/v1"
)

// Presence announces identities coming online and going offline.
//
// Ordering guarantees:
// - The registry mutation commits before any event is emitted.
// - A connecting session receives its online_list before any peer is told it is online.
// - Fan-out never blocks: full or closing queues drop the event.
// - Transitions are serialized: a registry change and the events it causes are enqueued
//   before the next transition starts, so peers observe them in registry order.
type Presence struct {
	// mu orders transitions. Only non-blocking enqueues happen while it is held.
	mu sync.Mutex

	log     *slog.Logger
	reg     *Registry
	metrics *Metrics
	events  EventSink
	now     func() time.Time
}

// PresenceOption configures a Presence.
type PresenceOption func(*Presence)

// WithPresenceMetrics records session gauges and dropped pushes on m.
func WithPresenceMetrics(m *Metrics) PresenceOption {
	return func(p *Presence) { p.metrics = m }
}

// WithPresenceEvents mirrors online/offline transitions to sink.
func WithPresenceEvents(sink EventSink) PresenceOption {
	return func(p *Presence) {
		if sink != nil {
			p.events = sink
		}
	}
}

// NewPresence constructs a Presence over reg.
func NewPresence(log *slog.Logger, reg *Registry, opts ...PresenceOption) *Presence {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	p := &Presence{
		log:    log,
		reg:    reg,
		events: NopEvents(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Registry returns the registry Presence mutates.
func (p *Presence) Registry() *Registry { return p.reg }

// Connect registers c for its identity and announces it.
// A previously registered session for the same identity is told it went offline and is closed.
func (p *Presence) Connect(ctx context.Context, c *Client) error {
	if c == nil {
		return ErrInvalidIdentity
	}

	old, others, err := p.connect(c)
	if err != nil {
		return err
	}
	if old != nil {
		p.log.Info("presence.superseded",
			"user_id", c.UserID,
			"old_conn_id", old.ConnID.String(),
			"new_conn_id", c.ConnID.String(),
		)
	}

	p.events.UserOnline(ctx, c.UserID)
	p.log.Info("presence.online", "user_id", c.UserID, "conn_id", c.ConnID.String(), "online", len(others)+1)
	return nil
}

func (p *Presence) connect(c *Client) (old *Client, others []string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, err = p.reg.Register(c.UserID, c)
	if err != nil {
		return nil, nil, err
	}
	p.metrics.setSessions(p.reg.Len())

	now := p.now()

	if old != nil {
		p.push(old, v1.TypeUserOffline, v1.UserOfflinePayload{UserID: c.UserID}, now)
		old.Supersede()
		p.metrics.superseded()
	}

	others = make([]string, 0, p.reg.Len())
	for _, id := range p.reg.Snapshot() {
		if id != c.UserID {
			others = append(others, id)
		}
	}
	p.push(c, v1.TypeOnlineList, v1.OnlineListPayload{UserIDs: others}, now)

	p.broadcast(c.UserID, v1.TypeUserOnline, v1.UserOnlinePayload{
		UserID: c.UserID,
		Name:   c.Name,
		Email:  c.Email,
	}, now)
	return old, others, nil
}

// Disconnect unregisters c. Peers are told the identity went offline only when c was
// still the registered session; a superseded session disconnects silently.
func (p *Presence) Disconnect(ctx context.Context, c *Client) bool {
	if c == nil {
		return false
	}

	if !p.disconnect(c) {
		p.log.Debug("presence.stale_disconnect", "user_id", c.UserID, "conn_id", c.ConnID.String())
		return false
	}

	p.events.UserOffline(ctx, c.UserID)
	p.log.Info("presence.offline", "user_id", c.UserID, "conn_id", c.ConnID.String())
	return true
}

func (p *Presence) disconnect(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.reg.Unregister(c.UserID, c) {
		return false
	}
	p.metrics.setSessions(p.reg.Len())

	p.broadcast(c.UserID, v1.TypeUserOffline, v1.UserOfflinePayload{UserID: c.UserID}, p.now())
	return true
}

// Online returns the identities currently reachable.
func (p *Presence) Online() []string {
	return p.reg.Snapshot()
}

func (p *Presence) broadcast(exceptID, typ string, payload any, now time.Time) {
	env, err := newEnvelope(typ, payload, now)
	if err != nil {
		p.log.Error("presence.envelope.fail", "type", typ, "err", err)
		return
	}
	for _, peer := range p.reg.Peers(exceptID) {
		if !peer.Push(env) {
			p.metrics.dropped(typ)
		}
	}
}

func (p *Presence) push(c *Client, typ string, payload any, now time.Time) {
	env, err := newEnvelope(typ, payload, now)
	if err != nil {
		p.log.Error("presence.envelope.fail", "type", typ, "err", err)
		return
	}
	if !c.Push(env) {
		p.metrics.dropped(typ)
	}
}
