// Package fleetpublish publishes a compact model.FleetSummary to Kafka
// and/or Pulsar after a report run, reusing the teacher's broker client
// wiring from internal/receivers/kafka and internal/receivers/pulsar but
// as a producer rather than a consumer.
package fleetpublish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	ps "github.com/apache/pulsar-client-go/pulsar"

	"github.com/streamlens/jitterlens/internal/model"
)

// KafkaSink publishes FleetSummary messages to one Kafka topic.
type KafkaSink struct {
	writer *kafkago.Writer
}

// NewKafkaSink builds a sink from brokers/topic. Empty brokers or topic
// disables the sink.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return &KafkaSink{}
	}
	return &KafkaSink{writer: &kafkago.Writer{
		Addr:     kafkago.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafkago.LeastBytes{},
	}}
}

// Enabled reports whether brokers/topic were configured.
func (s *KafkaSink) Enabled() bool { return s.writer != nil }

// Publish marshals summary as JSON and writes it to the topic.
func (s *KafkaSink) Publish(ctx context.Context, summary model.FleetSummary) error {
	if !s.Enabled() {
		return nil
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("fleetpublish/kafka: marshal: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafkago.Message{Key: []byte(summary.CaptureID), Value: b}); err != nil {
		return fmt.Errorf("fleetpublish/kafka: write: %w", err)
	}
	return nil
}

// Close releases the underlying writer, if any.
func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// PulsarSink publishes FleetSummary messages to one Pulsar topic.
type PulsarSink struct {
	client   ps.Client
	producer ps.Producer
}

// NewPulsarSink dials serviceURL and creates a producer for topic. Empty
// serviceURL or topic disables the sink.
func NewPulsarSink(serviceURL, topic string) (*PulsarSink, error) {
	if serviceURL == "" || topic == "" {
		return &PulsarSink{}, nil
	}
	client, err := ps.NewClient(ps.ClientOptions{URL: serviceURL, ConnectionTimeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("fleetpublish/pulsar: client: %w", err)
	}
	producer, err := client.CreateProducer(ps.ProducerOptions{Topic: topic})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fleetpublish/pulsar: producer: %w", err)
	}
	return &PulsarSink{client: client, producer: producer}, nil
}

// Enabled reports whether a producer was created.
func (s *PulsarSink) Enabled() bool { return s.producer != nil }

// Publish marshals summary as JSON and sends it on the topic.
func (s *PulsarSink) Publish(ctx context.Context, summary model.FleetSummary) error {
	if !s.Enabled() {
		return nil
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("fleetpublish/pulsar: marshal: %w", err)
	}
	_, err = s.producer.Send(ctx, &ps.ProducerMessage{Payload: b, Key: summary.CaptureID})
	if err != nil {
		return fmt.Errorf("fleetpublish/pulsar: send: %w", err)
	}
	return nil
}

// Close releases the producer and client, if any.
func (s *PulsarSink) Close() {
	if s.producer != nil {
		s.producer.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}
