package notify

import (
	"time"

	"github.com/okian/avisurv/pkg/logger"
)

// Option configures a KafkaNotifier.
type Option func(*KafkaNotifier)

// WithCodec sets the payload codec.
func WithCodec(c Codec) Option {
	return func(n *KafkaNotifier) {
		if c != nil {
			n.codec = c
		}
	}
}

// WithWriter replaces the Kafka writer.
func WithWriter(w MessageWriter) Option {
	return func(n *KafkaNotifier) {
		if w != nil {
			n.writer = w
		}
	}
}

// WithClock sets the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *KafkaNotifier) {
		if now != nil {
			n.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(n *KafkaNotifier) {
		if l != nil {
			n.logger = l
		}
	}
}
