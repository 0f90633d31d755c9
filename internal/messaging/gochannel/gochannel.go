// Package gochannel implements the messaging interfaces in process on
// watermill's GoChannel pub/sub, for development without a Kafka cluster.
package gochannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// partitionKeyMetadata carries the publisher key, which GoChannel has no slot for.
const partitionKeyMetadata = "partition_key"

// Broker is an in-memory Publisher and Subscriber. Consumer groups are not
// modelled: every Consume call receives every message.
type Broker struct {
	pubSub *gochannel.GoChannel
}

// NewBroker creates an in-process broker. With persistent set, messages are
// kept and replayed to subscribers that join later.
func NewBroker(outputBuffer int64, persistent bool) *Broker {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: outputBuffer,
			Persistent:          persistent,
		},
		watermill.NewSlogLogger(slog.Default()),
	)
	return &Broker{pubSub: pubSub}
}

func (b *Broker) PublishEvent(_ context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(partitionKeyMetadata, key)

	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error) {
	messages, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		slog.Error("Error subscribing", "topic", topic, "group", groupID, "err", err)
		return
	}

	for msg := range messages {
		if err := handler(ctx, msg.Payload); err != nil {
			slog.Error("Error handling message", "topic", topic, "message_uuid", msg.UUID, "err", err)
		}
		// Failed messages are not redelivered, matching the Kafka consumer.
		msg.Ack()
	}
	slog.Info("Consumer shutting down", "topic", topic)
}

// Close stops the pub/sub and closes every subscription channel.
func (b *Broker) Close() error {
	return b.pubSub.Close()
}
