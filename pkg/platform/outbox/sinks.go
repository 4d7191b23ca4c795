package outbox

import (
	"context"
	"log/slog"
)

// Publisher is the Kafka producer surface the sink needs.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// KafkaSink publishes messages keyed by Message.Key, which keeps one
// campaign's events on one partition and therefore ordered.
type KafkaSink struct {
	producer Publisher
}

func NewKafkaSink(producer Publisher) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Publish(ctx context.Context, msg Message) error {
	return s.producer.Publish(ctx, msg.Key, msg.Payload, msg.Headers())
}

// LogSink writes messages to the log. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "ledger event",
		"seq", msg.Seq,
		"key", msg.Key,
		"event_type", msg.Type,
		"payload", string(msg.Payload),
	)
	return nil
}
