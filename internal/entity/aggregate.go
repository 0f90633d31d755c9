package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventStoreRecord is one persisted event of a stream.
type EventStoreRecord struct {
	ID         string    `json:"id"`
	StreamID   string    `json:"stream_id"`
	StreamType string    `json:"stream_type"`
	Version    int       `json:"version"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is a domain event. EventType names it in the store and on the broker.
type Event interface {
	EventType() string
}

// Aggregate is an event-sourced root whose state only changes in ApplyEvent.
type Aggregate interface {
	GetAggregateID() string
	GetVersion() int
	ApplyEvent(event Event) error
}

var _ Aggregate = (*OrderAggregate)(nil)

// AggregateBase carries the identity and version of an aggregate.
type AggregateBase struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

func (a *AggregateBase) GetAggregateID() string { return a.ID }

func (a *AggregateBase) GetVersion() int { return a.Version }

var eventDecoders = map[string]func([]byte) (Event, error){
	OrderPlaced{}.EventType():       decodeAs[OrderPlaced],
	ItemStatusChanged{}.EventType(): decodeAs[ItemStatusChanged],
	OrderCancelled{}.EventType():    decodeAs[OrderCancelled],
	OrderReturned{}.EventType():     decodeAs[OrderReturned],
	PaymentRecorded{}.EventType():   decodeAs[PaymentRecorded],
}

func decodeAs[T Event](payload []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// Decode turns a stored record back into its domain event.
func (r EventStoreRecord) Decode() (Event, error) {
	decode, ok := eventDecoders[r.EventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type in stream %s: %s", r.StreamID, r.EventType)
	}
	e, err := decode(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", r.EventType, err)
	}
	return e, nil
}
