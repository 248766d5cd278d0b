package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultKafkaTopic receives the audit stream.
const DefaultKafkaTopic = "simworks.calls"

// Kafka produces events to a topic, keyed by correlation id so every event of
// a call lands on the same partition in order.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects a producer to brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: no brokers configured")
	}
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka notifier: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

// Topic returns the topic events are produced to.
func (k *Kafka) Topic() string { return k.topic }

func (k *Kafka) Notify(ctx context.Context, ev Event) error {
	value, err := Encode(ev)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Key:   []byte(ev.CorrelationID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := k.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %s: %w", ev.Kind, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() {
	k.client.Close()
}
