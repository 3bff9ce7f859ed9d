package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"
)

// Publisher publishes raw payloads on a subject
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Handler processes one message. Handlers log their own failures; a message is never redelivered
// because of them.
type Handler func(ctx context.Context, subject string, data []byte)

// Subscriber delivers messages of a subject to a handler one at a time until ctx is done
type Subscriber interface {
	Consume(ctx context.Context, subject string, handler Handler) error
}

// MessageSource is the receiving side of a synchronous subscription
type MessageSource interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
}

var (
	_ Publisher  = &Bus{}
	_ Subscriber = &Bus{}
)

// Bus is a NATS connection used for both publishing and consuming
type Bus struct {
	conn *nats.Conn
	log  logr.Logger
}

// Connect dials the NATS server. The connection reconnects forever once established.
func Connect(url string, name string, log logr.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Error(err, "Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error(err, "NATS async error", "subject", subject)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &Bus{conn: conn, log: log}, nil
}

func (b *Bus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *Bus) Consume(ctx context.Context, subject string, handler Handler) error {
	sub, err := b.conn.SubscribeSync(subject)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	b.log.Info("Subscribed", "subject", subject)
	return ConsumeFrom(ctx, sub, b.log.WithValues("subject", subject), handler)
}

// Close drains pending messages and closes the connection
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.log.Error(err, "Failed to drain NATS connection")
		b.conn.Close()
	}
}

// ConsumeFrom feeds messages from src to handler in receipt order. It returns nil once ctx is done
// and an error if the subscription can no longer deliver.
func ConsumeFrom(ctx context.Context, src MessageSource, log logr.Logger, handler Handler) error {
	for {
		msg, err := src.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return err
			}
			log.Error(err, "Failed to receive message")
			continue
		}
		handler(ctx, msg.Subject, msg.Data)
	}
}

// PublishJSON marshals v and publishes it on subject
func PublishJSON(pub Publisher, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", subject, err)
	}
	if err := pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
