package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	v1 "courier/shared/contracts/realtime/v1"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "courier/realtime"

// Engine advances messages through sent -> delivered -> seen and keeps live sessions informed.
//
// Rules:
//   - Validation happens before any store call; invalid input never reaches the store.
//   - Status is always taken from what the store returns, never from the caller.
//   - Pushes are fire-and-forget. A failed push never rolls back a committed status.
//   - Store calls run on a context detached from the caller's cancellation, so a dropped
//     connection cannot abort persistence half way.
type Engine struct {
	log     *slog.Logger
	store   MessageStore
	reg     *Registry
	metrics *Metrics
	events  EventSink
	tracer  trace.Tracer
	now     func() time.Time

	maxChars     int
	maxSeenBatch int
	storeTimeout time.Duration
	seenOnRead   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxMessageChars bounds message content length in runes.
func WithMaxMessageChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// WithSeenReceiptsOnRead controls whether MarkSeenByRead also pushes messages_seen to the counterpart.
func WithSeenReceiptsOnRead(enabled bool) Option {
	return func(e *Engine) { e.seenOnRead = enabled }
}

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithClock overrides the engine clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics records delivery counters on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEvents mirrors message lifecycle events to sink.
func WithEvents(sink EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.events = sink
		}
	}
}

// WithTracer overrides the tracer (defaults to the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine constructs an Engine over store and reg.
func NewEngine(log *slog.Logger, store MessageStore, reg *Registry, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	e := &Engine{
		log:          log,
		store:        store,
		reg:          reg,
		events:       NopEvents(),
		tracer:       otel.Tracer(tracerName),
		now:          func() time.Time { return time.Now().UTC() },
		maxChars:     maxMessageChars,
		maxSeenBatch: maxSeenBatch,
		storeTimeout: defaultStoreTimeout,
		seenOnRead:   true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Send persists a message from senderID to receiverID and pushes it live when possible.
//
// The receiver, when reachable, gets new_message with status delivered and the stored row is
// advanced to delivered. The sender's registered session always gets message_sent carrying the
// final stored snapshot.
func (e *Engine) Send(ctx context.Context, senderID, receiverID, content string) (Message, error) {
	const op = "delivery.Send"

	ctx, span := e.tracer.Start(ctx, "delivery.send", trace.WithAttributes(
		attribute.String("courier.sender_id", senderID),
		attribute.String("courier.receiver_id", receiverID),
	))
	defer span.End()

	if !ValidID(senderID) {
		return Message{}, e.fail(span, op, invalidReference(op, "invalid sender id"))
	}
	if !ValidID(receiverID) {
		return Message{}, e.fail(span, op, invalidReference(op, "invalid receiver id"))
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, e.fail(span, op, invalidPayload(op, "message content is required"))
	}
	if strings.ContainsRune(content, 0) || !utf8.ValidString(content) {
		return Message{}, e.fail(span, op, invalidPayload(op, "message content contains invalid characters"))
	}
	if utf8.RuneCountInString(content) > e.maxChars {
		return Message{}, e.fail(span, op, invalidPayload(op, fmt.Sprintf("message exceeds %d characters", e.maxChars)))
	}

	now := e.now()
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, e.fail(span, op, fmt.Errorf("%s: mint id: %w", op, err))
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	msg, err := e.store.CreateMessage(sctx, CreateMessageInput{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Now:        now,
	})
	if err != nil {
		return Message{}, e.fail(span, op, storageUnavailable(op, err))
	}
	e.metrics.created()
	e.events.MessageCreated(ctx, msg)
	span.SetAttributes(attribute.String("courier.message_id", msg.ID))

	if receiver, ok := e.reg.Lookup(receiverID); ok {
		res, err := e.store.AdvanceStatus(sctx, AdvanceStatusInput{
			MessageID: msg.ID,
			To:        StatusDelivered,
			Now:       now,
		})
		if err != nil {
			// The row stays at sent; the next conversation read reconciles it.
			e.log.Warn("delivery.advance.fail", "message_id", msg.ID, "to", StatusDelivered, "err", err)
			span.AddEvent("advance_failed")
		} else {
			msg = res.Message
			if res.Changed {
				e.metrics.transitioned(StatusDelivered, "send", 1)
				e.events.StatusChanged(ctx, []string{msg.ID}, StatusDelivered, receiverID)
			}
		}

		wire := msg.ToWire()
		wire.Status = v1.StatusDelivered
		e.push(receiver, v1.TypeNewMessage, wire, now)
	}

	if sender, ok := e.reg.Lookup(senderID); ok {
		e.push(sender, v1.TypeMessageSent, msg.ToWire(), now)
	}

	e.log.Info("delivery.send.ok", "message_id", msg.ID, "sender_id", senderID, "receiver_id", receiverID, "status", msg.Status)
	return msg, nil
}

// MarkSeenByAck marks the named messages from counterpartID to ackingID as seen.
// It returns the ids that actually changed; the counterpart is told about exactly those.
// An empty id list, or one that matches nothing, is a silent no-op.
func (e *Engine) MarkSeenByAck(ctx context.Context, ackingID, counterpartID string, messageIDs []string) ([]string, error) {
	const op = "delivery.MarkSeenByAck"

	ctx, span := e.tracer.Start(ctx, "delivery.mark_seen_ack", trace.WithAttributes(
		attribute.String("courier.reader_id", ackingID),
		attribute.String("courier.counterpart_id", counterpartID),
		attribute.Int("courier.requested", len(messageIDs)),
	))
	defer span.End()

	if !ValidID(ackingID) || !ValidID(counterpartID) {
		return nil, e.fail(span, op, invalidReference(op, "invalid participant id"))
	}

	ids := lo.Uniq(lo.Compact(lo.Map(messageIDs, func(s string, _ int) string { return strings.TrimSpace(s) })))
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > e.maxSeenBatch {
		return nil, e.fail(span, op, invalidPayload(op, fmt.Sprintf("at most %d message ids per request", e.maxSeenBatch)))
	}
	if bad, found := lo.Find(ids, func(s string) bool { return !ValidID(s) }); found {
		return nil, e.fail(span, op, invalidReference(op, fmt.Sprintf("invalid message id %q", bad)))
	}

	now := e.now()
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	affected, err := e.store.MarkSeen(sctx, MarkSeenInput{
		SenderID:   counterpartID,
		ReceiverID: ackingID,
		MessageIDs: ids,
		Now:        now,
	})
	if err != nil {
		return nil, e.fail(span, op, storageUnavailable(op, err))
	}
	span.SetAttributes(attribute.Int("courier.affected", len(affected)))
	if len(affected) == 0 {
		return nil, nil
	}

	e.seen(ctx, "ack", counterpartID, ackingID, affected, now)
	return affected, nil
}

// MarkSeenByRead marks every unseen message from counterpartID to readingID as seen, then
// returns the full conversation oldest first. The update commits before the read, so the
// returned history never shows those messages below seen.
func (e *Engine) MarkSeenByRead(ctx context.Context, readingID, counterpartID string) ([]Message, error) {
	const op = "delivery.MarkSeenByRead"

	ctx, span := e.tracer.Start(ctx, "delivery.mark_seen_read", trace.WithAttributes(
		attribute.String("courier.reader_id", readingID),
		attribute.String("courier.counterpart_id", counterpartID),
	))
	defer span.End()

	if !ValidID(readingID) || !ValidID(counterpartID) {
		return nil, e.fail(span, op, invalidReference(op, "invalid participant id"))
	}

	now := e.now()
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	affected, err := e.store.MarkSeen(sctx, MarkSeenInput{
		SenderID:   counterpartID,
		ReceiverID: readingID,
		Now:        now,
	})
	if err != nil {
		return nil, e.fail(span, op, storageUnavailable(op, err))
	}
	if len(affected) > 0 {
		e.seen(ctx, "read", counterpartID, readingID, affected, now)
	}

	history, err := e.store.Conversation(sctx, readingID, counterpartID)
	if err != nil {
		return nil, e.fail(span, op, storageUnavailable(op, err))
	}
	span.SetAttributes(
		attribute.Int("courier.affected", len(affected)),
		attribute.Int("courier.history", len(history)),
	)
	return history, nil
}

// ListConversations returns one summary per counterpart of identityID, newest first.
func (e *Engine) ListConversations(ctx context.Context, identityID string) ([]ConversationSummary, error) {
	const op = "delivery.ListConversations"

	ctx, span := e.tracer.Start(ctx, "delivery.list_conversations", trace.WithAttributes(
		attribute.String("courier.identity_id", identityID),
	))
	defer span.End()

	if !ValidID(identityID) {
		return nil, e.fail(span, op, invalidReference(op, "invalid identity id"))
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	out, err := e.store.LatestPerCounterpart(sctx, identityID)
	if err != nil {
		return nil, e.fail(span, op, storageUnavailable(op, err))
	}
	return out, nil
}

// seen records a committed seen transition and tells the sender when allowed.
func (e *Engine) seen(ctx context.Context, path, senderID, readerID string, ids []string, now time.Time) {
	e.metrics.transitioned(StatusSeen, path, len(ids))
	e.events.StatusChanged(ctx, ids, StatusSeen, readerID)
	e.log.Info("delivery.seen", "path", path, "sender_id", senderID, "reader_id", readerID, "count", len(ids))

	if path == "read" && !e.seenOnRead {
		return
	}
	if sender, ok := e.reg.Lookup(senderID); ok {
		e.push(sender, v1.TypeMessagesSeen, v1.MessagesSeenPayload{MessageIDs: ids, SeenBy: readerID}, now)
	}
}

func (e *Engine) push(c *Client, typ string, payload any, now time.Time) {
	env, err := newEnvelope(typ, payload, now)
	if err != nil {
		e.log.Error("delivery.envelope.fail", "type", typ, "err", err)
		return
	}
	if !c.Push(env) {
		e.metrics.dropped(typ)
		e.log.Debug("delivery.push.dropped", "type", typ, "user_id", c.UserID, "conn_id", c.ConnID.String())
	}
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
}

func (e *Engine) fail(span trace.Span, op string, err error) error {
	e.metrics.failed(op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, PublicMessage(err))

	if IsStorageUnavailable(err) {
		e.log.Error("delivery.store.fail", "op", op, "err", err)
	} else {
		e.log.Debug("delivery.rejected", "op", op, "err", err)
	}
	return err
}
