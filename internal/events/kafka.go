package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaPublisher writes events to one topic keyed by job id, so all events of
// a job land on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// DialKafka creates a synchronous producer that waits for all in-sync replicas.
func DialKafka(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka brokers are required")
	}
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("events: kafka producer: %w", err)
	}
	return NewKafkaPublisher(p, topic), nil
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encode(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.JobID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(ev.Type)},
		},
	}
	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
