package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Event is what the service publishes when a message enters a conversation.
// Downstream consumers (notifications, analytics, other instances) key off it.
type Event struct {
	Kind           string          `json:"kind"` // "message.sent", "offer.responded", "conversation.read"
	ConversationID string          `json:"conversationId"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	At             time.Time       `json:"at"`
}

type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(ev.ConversationID),
		Value: b,
		Time:  ev.At,
	})
}

func (p *Producer) Close() error { return p.writer.Close() }
