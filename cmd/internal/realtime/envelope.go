package realtime

import (
	"encoding/json"
	"time"

	v1 "courier/shared/contracts/realtime/v1"
)

// newEnvelope wraps payload into a v1 envelope stamped with now.
func newEnvelope(typ string, payload any, now time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: raw,
	}, nil
}

// newReply builds an envelope answering the request identified by replyTo.
func newReply(typ, replyTo string, payload any, now time.Time) (v1.Envelope, error) {
	env, err := newEnvelope(typ, payload, now)
	if err != nil {
		return v1.Envelope{}, err
	}
	env.ReplyTo = replyTo
	return env, nil
}
