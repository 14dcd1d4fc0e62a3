package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"
)

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

// Producer publishes one keyed message and returns once the broker acknowledged it.
type Producer interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

// NewProducer builds the Kafka producer for driver ("" means sarama).
func NewProducer(driver string, brokers []string, topic string) (Producer, error) {
	switch driver {
	case "", DriverSarama:
		return NewSaramaProducer(brokers, topic)
	case DriverKafkaGo:
		return NewKafkaGoProducer(brokers, topic), nil
	default:
		return nil, fmt.Errorf("unknown kafka driver %q (want %s or %s)", driver, DriverSarama, DriverKafkaGo)
	}
}

type SaramaProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaProducer(brokers []string, topic string) (*SaramaProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama producer: %w", err)
	}
	return &SaramaProducer{producer: producer, topic: topic}, nil
}

// Send ignores ctx; the sarama sync producer has its own timeouts.
func (p *SaramaProducer) Send(_ context.Context, key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}

type KafkaGoProducer struct {
	writer *kafka.Writer
}

func NewKafkaGoProducer(brokers []string, topic string) *KafkaGoProducer {
	return &KafkaGoProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaGoProducer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (p *KafkaGoProducer) Close() error {
	return p.writer.Close()
}
