package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/avisurv/pkg/logger"
	"github.com/okian/avisurv/pkg/metrics"
)

// Notifier publishes alert events.
type Notifier interface {
	Publish(ctx context.Context, e AlertEvent) error
	Close() error
}

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes events to a topic, keyed by alert key so every
// change to one key lands on the same partition in order.
type KafkaNotifier struct {
	writer MessageWriter
	codec  Codec
	topic  string
	now    func() time.Time
	logger logger.Logger
}

var _ Notifier = (*KafkaNotifier)(nil)

// NewKafka creates a notifier writing to topic on brokers.
func NewKafka(brokers []string, topic string, opts ...Option) (*KafkaNotifier, error) {
	n := &KafkaNotifier{
		codec:  jsonCodec{},
		topic:  topic,
		now:    time.Now,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.writer == nil {
		if len(brokers) == 0 {
			return nil, ErrNoBrokers
		}
		n.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		}
	}
	return n, nil
}

// Publish encodes e and writes it synchronously.
func (n *KafkaNotifier) Publish(ctx context.Context, e AlertEvent) error {
	payload, err := n.codec.Marshal(e)
	if err != nil {
		metrics.RecordNotifyError()
		return fmt.Errorf("%w: encode %s: %v", ErrPublish, e.AlertID, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: payload,
		Time:  n.now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(n.codec.ContentType())},
			{Key: "action", Value: []byte(e.Action)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordNotifyError()
		metrics.RecordErrorByComponent("notify", "kafka_write")
		n.logger.Error(ctx, "alert event not published",
			logger.String("topic", n.topic),
			logger.String("alert", e.AlertID),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %s: %w", ErrPublish, e.AlertID, err)
	}
	metrics.RecordNotifyPublished()
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier writes events to the log only.
type LogNotifier struct {
	logger logger.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLog creates a LogNotifier.
func NewLog(l logger.Logger) *LogNotifier {
	if l == nil {
		l = logger.Nop()
	}
	return &LogNotifier{logger: l}
}

// Publish logs e.
func (n *LogNotifier) Publish(ctx context.Context, e AlertEvent) error {
	n.logger.Info(ctx, "alert "+e.Action,
		logger.String("alert", e.AlertID),
		logger.String("key", e.Key()),
		logger.String("type", e.Type),
		logger.String("severity", e.Severity),
		logger.String("status", e.Status),
	)
	metrics.RecordNotifyPublished()
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error { return nil }
