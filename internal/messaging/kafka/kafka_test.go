package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ messaging.Publisher  = (*Broker)(nil)
	_ messaging.Subscriber = (*Broker)(nil)
)

func TestBroker_ReusesWriterPerTopic(t *testing.T) {
	b := NewKafkaBroker([]string{"localhost:9092"})

	w1 := b.writer(messaging.TopicOrderPlaced)
	w2 := b.writer(messaging.TopicOrderPlaced)
	w3 := b.writer(messaging.TopicNotifications)

	assert.Same(t, w1, w2)
	assert.NotSame(t, w1, w3)
	assert.Equal(t, messaging.TopicNotifications, w3.Topic)
	assert.IsType(t, &kafkaGo.Hash{}, w1.Balancer)

	require.NoError(t, b.Close())
	assert.Empty(t, b.writers)
}

func TestPause(t *testing.T) {
	start := time.Now()
	pause(context.Background(), 50*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start = time.Now()
	pause(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second, "cancelled context ends the pause")
}
