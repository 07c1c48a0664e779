package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/cohort-dev/cohort/internal/common/logger"
)

// NATSBus is a Bus over a NATS connection.
type NATSBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSBus connects to the given NATS URL.
func NewNATSBus(url string, log *logger.Logger) (*NATSBus, error) {
	if log == nil {
		log = logger.Default()
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", url, err)
	}
	return &NATSBus{conn: conn, log: log}, nil
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(_ context.Context, subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return natsSub{sub}, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Unsubscribe() error { return s.sub.Unsubscribe() }

// Connect returns a NATS bus when url is set, the in-memory bus otherwise.
func Connect(url string, log *logger.Logger) (Bus, error) {
	if url == "" {
		return NewMemoryBus(log), nil
	}
	return NewNATSBus(url, log)
}
