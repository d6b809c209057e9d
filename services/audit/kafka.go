package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"jelly/models"
)

// KafkaSink mirrors audit entries to a Kafka topic. Writes are asynchronous;
// delivery failures are logged and never block the admin action.
type KafkaSink struct {
	writer *kafkago.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 200 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				log.Printf("[audit] kafka delivery of %d entries failed: %v", len(messages), err)
			}
		},
	}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Publish(ctx context.Context, entry models.AuditEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(entry.EntityType + ":" + entry.EntityID),
		Value: b,
		Time:  entry.CreatedAt,
	})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
