package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const tapBuffer = 256

// Tap logs every event published through the mirror at debug level until ctx ends.
// It subscribes on the mirror's own Messenger, so it sees exactly what other subscribers see.
func (m *Mirror) Tap(ctx context.Context, log *slog.Logger) error {
	if m == nil || m.bus == nil {
		return nil
	}
	if log == nil {
		log = m.log
	}

	for _, suffix := range []string{SubjectUserOnline, SubjectUserOffline, SubjectMessageCreated, SubjectMessageStatus} {
		subject := m.Subject(suffix)
		ch := make(chan []byte, tapBuffer)
		if _, err := m.bus.Stream(ctx, subject, ch); err != nil {
			return fmt.Errorf("eventbus: tap %s: %w", subject, err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case data := <-ch:
					log.Debug("eventbus.event", "subject", subject, "event", json.RawMessage(data))
				}
			}
		}()
	}
	return nil
}
