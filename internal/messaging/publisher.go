package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every domain event put on the bus
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Publisher sends domain events keyed by device so consumers see each
// device's events in order
type Publisher struct {
	client ServiceBusClient
	now    func() time.Time
}

func NewPublisher(client ServiceBusClient) *Publisher {
	return &Publisher{client: client, now: time.Now}
}

// Publish sends one event. The key becomes the session id.
func (p *Publisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: p.now().UTC(),
		Data:       payload,
	}
	return p.client.SendMessage(ctx, env, key, map[string]interface{}{"type": eventType})
}

// Close releases the underlying client
func (p *Publisher) Close() error {
	return p.client.Close()
}
