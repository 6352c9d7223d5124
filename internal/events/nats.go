package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/domain"
)

// ConnectNATS dials the server and keeps reconnecting for the life of the process.
func ConnectNATS(url, name string, log *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s: %w", url, err)
	}
	return nc, nil
}

// NATSBridge feeds message events published on a NATS subject by other
// processes into a local Publisher.
type NATSBridge struct {
	nc        *nats.Conn
	subject   string
	publisher Publisher
	log       *zap.Logger
	sub       *nats.Subscription
}

// NewNATSBridge creates a bridge; call Start to subscribe.
func NewNATSBridge(nc *nats.Conn, subject string, publisher Publisher, log *zap.Logger) *NATSBridge {
	return &NATSBridge{
		nc:        nc,
		subject:   subject,
		publisher: publisher,
		log:       log.With(zap.String("subject", subject)),
	}
}

// Start subscribes to the subject.
func (b *NATSBridge) Start() error {
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		_ = b.Handle(context.Background(), m.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	_ = sub.SetPendingLimits(100_000, 64*1024*1024)
	b.sub = sub
	b.log.Info("Subscribed to message events")
	return nil
}

// Handle decodes one payload and publishes it. Errors are logged and returned.
func (b *NATSBridge) Handle(ctx context.Context, data []byte) error {
	var evt domain.MessageEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		b.log.Warn("Dropping undecodable message event", zap.Error(err))
		return fmt.Errorf("failed to decode message event: %w", err)
	}
	if err := b.publisher.Publish(ctx, evt); err != nil {
		b.log.Warn("Dropping message event", zap.Int64("message_id", evt.ID), zap.Error(err))
		return err
	}
	return nil
}

// Stop drains the subscription.
func (b *NATSBridge) Stop() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Drain()
}

// NATSPublisher publishes events to a subject, for producers running outside
// the gateway process.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a publisher on subject.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

// Publish encodes evt as JSON and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, evt domain.MessageEvent) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode message event: %w", err)
	}
	return p.nc.Publish(p.subject, data)
}
