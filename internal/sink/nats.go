package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
)

// MessagePublisher is the subset of *nats.Conn used by NATSPublisher.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NewNATSConn connects to NATS with reconnect handling.
func NewNATSConn(url string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("l2book"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// CloseNATS drains pending publishes and closes the connection.
func CloseNATS(conn *nats.Conn) {
	if conn != nil {
		_ = conn.Drain()
		conn.Close()
	}
}

// deltaMessage is the JSON body published per delta.
type deltaMessage struct {
	Instrument string      `json:"instrument"`
	Seq        uint64      `json:"seq"`
	Side       domain.Side `json:"side"`
	Price      int64       `json:"price"`
	Quantity   int64       `json:"quantity"`
}

// NATSPublisher republishes every delta as JSON on one subject.
type NATSPublisher struct {
	conn       MessagePublisher
	subject    string
	instrument string
	logger     *zap.Logger
}

// NewNATSPublisher creates a publisher for one instrument.
func NewNATSPublisher(conn MessagePublisher, subject, instrument string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		instrument: instrument,
		logger:     logger.Named("nats"),
	}
}

// Run publishes deltas from feed until it is closed or ctx is cancelled.
func (p *NATSPublisher) Run(ctx context.Context, feed <-chan domain.Delta) error {
	p.logger.Info("publishing deltas", zap.String("subject", p.subject))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-feed:
			if !ok {
				return nil
			}
			if err := p.publish(d); err != nil {
				p.logger.Warn("publish failed", zap.Uint64("seq", d.Seq), zap.Error(err))
			}
		}
	}
}

func (p *NATSPublisher) publish(d domain.Delta) error {
	data, err := json.Marshal(deltaMessage{
		Instrument: p.instrument,
		Seq:        d.Seq,
		Side:       d.Side,
		Price:      d.Price,
		Quantity:   d.Quantity,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish delta: %w", err)
	}
	return nil
}
