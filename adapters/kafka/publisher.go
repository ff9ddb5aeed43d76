// Package kafka forwards committed event batches to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/codewandler/evstore/core/es"
)

const (
	HeaderEventID     = "event_id"
	HeaderEventType   = "event_type"
	HeaderAggregateID = "aggregate_id"
	HeaderTenantID    = "tenant_id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	// Brokers is a comma separated broker list.
	Brokers string
	Topic   string
	Log     *slog.Logger
}

// Publisher is an es.Publisher. Every record becomes one message keyed by
// its aggregate ID, so the events of an aggregate land on one partition in
// version order.
type Publisher struct {
	w     messageWriter
	topic string
	log   *slog.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, cfg.Topic, cfg.Log), nil
}

func newPublisher(w messageWriter, topic string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{w: w, topic: topic, log: log.With(slog.String("topic", topic))}
}

func (p *Publisher) Publish(ctx context.Context, records []es.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", r.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(r.AggregateID),
			Value:   value,
			Headers: InjectTraceHeaders(ctx, headersFor(r)),
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	p.log.Debug("events published", slog.String("aggregate_id", records[0].AggregateID), slog.Int("count", len(msgs)))
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }

func headersFor(r es.EventRecord) []kafka.Header {
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(r.ID)},
		{Key: HeaderEventType, Value: []byte(r.Type)},
		{Key: HeaderAggregateID, Value: []byte(r.AggregateID)},
	}
	if r.TenantID != "" {
		headers = append(headers, kafka.Header{Key: HeaderTenantID, Value: []byte(r.TenantID)})
	}
	return headers
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// InjectTraceHeaders appends W3C trace context headers using the global
// propagator.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string { return HeaderValue(c.headers, key) }

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var (
	_ es.Publisher               = (*Publisher)(nil)
	_ propagation.TextMapCarrier = (*headerCarrier)(nil)
)
