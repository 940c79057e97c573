package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Consumer struct {
	reader *kafkago.Reader
	log    *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.SugaredLogger) *Consumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return &Consumer{reader: r, log: log}
}

// Run reads events until ctx is cancelled, handing each to handle. Events from
// other instances are folded back into the local hub this way.
func (c *Consumer) Run(ctx context.Context, handle func(Event)) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warnw("kafka read failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warnw("dropping malformed event", "err", err)
			continue
		}
		handle(ev)
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
