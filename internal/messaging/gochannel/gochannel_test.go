package gochannel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ messaging.Publisher  = (*Broker)(nil)
	_ messaging.Subscriber = (*Broker)(nil)
)

func TestBroker_DeliversPublishedEvents(t *testing.T) {
	b := NewBroker(16, true)
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan map[string]string, 2)
	go b.Consume(ctx, messaging.TopicOrderPlaced, "test", func(_ context.Context, payload []byte) error {
		var body map[string]string
		if err := json.Unmarshal(payload, &body); err != nil {
			return err
		}
		received <- body
		return nil
	})

	require.NoError(t, b.PublishEvent(ctx, messaging.TopicOrderPlaced, "ORD-1", map[string]string{"order_id": "ORD-1"}))
	require.NoError(t, b.PublishEvent(ctx, messaging.TopicOrderPlaced, "ORD-2", map[string]string{"order_id": "ORD-2"}))

	// Persistent replay to a late subscriber does not preserve publish order.
	var got []string
	for range 2 {
		select {
		case body := <-received:
			got = append(got, body["order_id"])
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after receiving %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"ORD-1", "ORD-2"}, got)
}

func TestBroker_NotifierRoundTrip(t *testing.T) {
	b := NewBroker(16, true)
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := messaging.NewBrokerNotifier(b)
	require.NoError(t, notifier.Notify(ctx, "u1", messaging.NotifyOrderConfirmation, map[string]string{"order_id": "ORD-9"}))

	received := make(chan messaging.Notification, 1)
	go b.Consume(ctx, messaging.TopicNotifications, "test", func(_ context.Context, payload []byte) error {
		var note messaging.Notification
		if err := json.Unmarshal(payload, &note); err != nil {
			return err
		}
		received <- note
		return nil
	})

	select {
	case note := <-received:
		assert.Equal(t, "u1", note.RecipientID)
		assert.Equal(t, messaging.NotifyOrderConfirmation, note.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
