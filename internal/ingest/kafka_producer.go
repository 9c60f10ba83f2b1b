// Package ingest publishes driver locations and order events to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/models"
)

const publishTimeout = 2 * time.Second

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	locations MessageWriter
	orders    MessageWriter
}

func NewKafkaProducer(brokers []string, locationTopic, orderTopic string) *KafkaProducer {
	return &KafkaProducer{
		locations: newWriter(brokers, locationTopic),
		orders:    newWriter(brokers, orderTopic),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
}

// PublishLocation keys reports by driver so one driver's updates stay ordered.
func (k *KafkaProducer) PublishLocation(ctx context.Context, r models.LocationReport) error {
	return publish(ctx, k.locations, r.DriverID, r)
}

// Publish sends an order event keyed by order id.
func (k *KafkaProducer) Publish(ctx context.Context, ev models.OrderEvent) error {
	return publish(ctx, k.orders, ev.OrderID, ev)
}

func publish(ctx context.Context, w MessageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	var errList []error
	for _, w := range []MessageWriter{k.locations, k.orders} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Nop drops everything. It stands in when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, models.OrderEvent) error { return nil }
func (Nop) Close() error                                      { return nil }
