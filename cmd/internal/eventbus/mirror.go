package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"courier/cmd/internal/realtime"
	v1 "courier/shared/contracts/realtime/v1"
)

const (
	DefaultSubjectPrefix = "courier"

	defaultPublishTimeout = 2 * time.Second
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectUserOnline     = "presence.online"
	SubjectUserOffline    = "presence.offline"
	SubjectMessageCreated = "message.created"
	SubjectMessageStatus  = "message.status"
)

// PresenceEvent is published on presence.online and presence.offline.
type PresenceEvent struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// MessageCreatedEvent is published on message.created.
type MessageCreatedEvent struct {
	Message v1.MessagePayload `json:"message"`
}

// StatusChangedEvent is published on message.status.
type StatusChangedEvent struct {
	MessageIDs []string  `json:"messageIds"`
	Status     string    `json:"status"`
	ActorID    string    `json:"actorId"`
	At         time.Time `json:"at"`
}

// Mirror publishes realtime events to a Messenger. Publish failures are logged, never returned.
type Mirror struct {
	bus     Messenger
	log     *slog.Logger
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewMirror returns a realtime.EventSink over bus. An empty prefix uses DefaultSubjectPrefix.
func NewMirror(log *slog.Logger, bus Messenger, prefix string) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Mirror{
		bus:     bus,
		log:     log,
		prefix:  prefix,
		timeout: defaultPublishTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subject returns the full subject for suffix.
func (m *Mirror) Subject(suffix string) string {
	return m.prefix + "." + suffix
}

func (m *Mirror) UserOnline(ctx context.Context, userID string) {
	m.publish(ctx, SubjectUserOnline, PresenceEvent{UserID: userID, At: m.now()})
}

func (m *Mirror) UserOffline(ctx context.Context, userID string) {
	m.publish(ctx, SubjectUserOffline, PresenceEvent{UserID: userID, At: m.now()})
}

func (m *Mirror) MessageCreated(ctx context.Context, msg realtime.Message) {
	m.publish(ctx, SubjectMessageCreated, MessageCreatedEvent{Message: msg.ToWire()})
}

func (m *Mirror) StatusChanged(ctx context.Context, messageIDs []string, to realtime.Status, actorID string) {
	m.publish(ctx, SubjectMessageStatus, StatusChangedEvent{
		MessageIDs: messageIDs,
		Status:     string(to),
		ActorID:    actorID,
		At:         m.now(),
	})
}

func (m *Mirror) publish(ctx context.Context, suffix string, event any) {
	if m == nil || m.bus == nil {
		return
	}
	subject := m.Subject(suffix)

	data, err := json.Marshal(event)
	if err != nil {
		m.log.Error("eventbus.encode.fail", "subject", subject, "err", err)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if err := m.bus.Publish(pctx, subject, data); err != nil {
		m.log.Warn("eventbus.publish.fail", "subject", subject, "err", err)
	}
}

var _ realtime.EventSink = (*Mirror)(nil)
