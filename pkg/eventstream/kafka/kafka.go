// Package kafka provides a Kafka-backed event publisher.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/eventstream"
)

// Publisher writes events to a Kafka topic, keyed by owner ID so a single
// owner's events land on one partition in order.
type Publisher struct {
	writer *kafkago.Writer
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}

	logger.Info("kafka event publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)

	return &Publisher{writer: writer, logger: logger}, nil
}

// Publish writes one event.
func (p *Publisher) Publish(ctx context.Context, e eventstream.Event) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return eventstream.ErrClosed
	}
	p.mu.Unlock()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encoding event: %v", eventstream.ErrPublish, err)
	}

	msg := kafkago.Message{
		Key:   []byte(e.OwnerID),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", eventstream.ErrPublish, err)
	}

	p.logger.Debug("event published",
		zap.String("type", e.Type),
		zap.String("owner_id", e.OwnerID),
	)

	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.writer.Close()
}

// Ensure Publisher implements eventstream.Publisher
var _ eventstream.Publisher = (*Publisher)(nil)
