// Package kafka implements the messaging interfaces on segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
)

// fetchRetryDelay is the pause after a failed fetch before reading again.
const fetchRetryDelay = time.Second

// Broker publishes and consumes JSON messages. Writers are created per topic
// on first use and reused until Close.
type Broker struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafkaGo.Writer
}

// NewKafkaBroker creates a new Kafka publisher and subscriber.
func NewKafkaBroker(brokers []string) *Broker {
	return &Broker{
		brokers: brokers,
		writers: make(map[string]*kafkaGo.Writer),
	}
}

func (k *Broker) writer(topic string) *kafkaGo.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()

	w, ok := k.writers[topic]
	if !ok {
		w = &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(k.brokers...),
			Topic:                  topic,
			Balancer:               &kafkaGo.Hash{},
			AllowAutoTopicCreation: true,
		}
		k.writers[topic] = w
	}
	return w
}

// PublishEvent writes event as JSON. Messages with the same key land on the
// same partition, so per-order events keep their order.
func (k *Broker) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return k.writer(topic).WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte(key),
		Value: payload,
	})
}

// Consume reads topic as part of groupID and hands each message to handler.
// Offsets are committed after the handler returns, even on error.
func (k *Broker) Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error) {
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	for ctx.Err() == nil {
		msg, err := reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			slog.Error("Kafka: fetch failed", "topic", topic, "group", groupID, "err", err)
			pause(ctx, fetchRetryDelay)
		default:
			if err := handler(ctx, msg.Value); err != nil {
				slog.Error("Kafka: handler failed", "topic", topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			}
			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				slog.Error("Kafka: commit failed", "topic", topic, "offset", msg.Offset, "err", err)
			}
		}
	}
	slog.Info("Kafka: consumer stopped", "topic", topic, "group", groupID)
}

// pause waits for d or until ctx is done, whichever comes first.
func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Close flushes and closes every writer.
func (k *Broker) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error
	for topic, w := range k.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer for %s: %w", topic, err))
		}
		delete(k.writers, topic)
	}
	return errors.Join(errs...)
}
