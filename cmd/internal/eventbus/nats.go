package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Messenger backed by a NATS core connection.
type NATS struct {
	nc  *nats.Conn
	log *slog.Logger
}

// ConnectNATS dials url and keeps reconnecting in the background for the process lifetime.
func ConnectNATS(ctx context.Context, log *slog.Logger, url string) (*NATS, error) {
	if log == nil {
		log = slog.Default()
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("eventbus: empty nats url")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(url,
		nats.Name("courier"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("eventbus.nats.disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("eventbus.nats.reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect nats: %w", err)
	}
	return &NATS{nc: nc, log: log}, nil
}

// Publish sends data on subject. Delivery is at-most-once.
func (n *NATS) Publish(ctx context.Context, subject string, data []byte) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.nc.IsClosed() {
		return ErrConnectionClosed
	}
	return n.nc.Publish(subject, data)
}

// Stream forwards every message on subject to ch until ctx ends.
// Messages are dropped when ch is full so the NATS dispatcher never stalls.
func (n *NATS) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if subject == "" {
		return nil, ErrInvalidSubject
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}

	sub, err := n.nc.Subscribe(subject, func(m *nats.Msg) {
		select {
		case ch <- m.Data:
		default:
			n.log.Warn("eventbus.nats.stream.dropped", "subject", m.Subject)
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// Close drains pending publishes and closes the connection.
func (n *NATS) Close() error {
	if n.nc.IsClosed() {
		return nil
	}
	return n.nc.Drain()
}

var _ Messenger = (*NATS)(nil)
