package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/metrics"
)

var tracer = otel.Tracer("booking.internal.outbox")

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

type Publisher struct {
	repo      *Repository
	writer    MessageWriter
	pollEvery time.Duration
	batchSize int
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

func NewPublisher(repo *Repository, writer MessageWriter, cfg PublisherConfig, logger *logging.Logger, m *metrics.Metrics) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		repo:      repo,
		writer:    writer,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		logger:    logger,
		metrics:   m,
	}
}

// Run publishes batches until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain backlog before waiting for the next tick
			for {
				n, err := p.PublishBatch(ctx)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Error("outbox publish failed", "error", err)
					}
					break
				}
				if n < p.batchSize {
					break
				}
			}
		}
	}
}

// PublishBatch relays one batch. Events are marked published only after Kafka
// acknowledged every message, so a failure redelivers the whole batch.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	n, err := p.repo.ProcessBatch(ctx, p.batchSize, func(ctx context.Context, events []Event) error {
		ctx, span := tracer.Start(ctx, "outbox.publish",
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithLinks(eventLinks(events)...),
			trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(events))),
		)
		defer span.End()

		msgs := make([]kafka.Message, 0, len(events))
		for _, ev := range events {
			msgs = append(msgs, toMessage(ev))
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "kafka write failed")
			return err
		}
		return nil
	})
	if err != nil {
		p.metrics.ObserveOutbox("failed", 1)
		return 0, err
	}
	if n > 0 {
		p.metrics.ObserveOutbox("published", n)
		p.logger.Debug("outbox batch published", "count", n)
	}
	return n, nil
}

// eventLinks points the publish span at the requests that produced the events.
func eventLinks(events []Event) []trace.Link {
	var links []trace.Link
	for _, ev := range events {
		if ev.Traceparent == "" {
			continue
		}
		carrier := propagation.MapCarrier{"traceparent": ev.Traceparent, "tracestate": ev.Tracestate}
		sc := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), carrier))
		if sc.IsValid() {
			links = append(links, trace.Link{SpanContext: sc})
		}
	}
	return links
}

func toMessage(ev Event) kafka.Message {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(ev.ID.String())},
		{Key: "event_type", Value: []byte(ev.EventType)},
		{Key: "business_id", Value: []byte(ev.BusinessID.String())},
	}

	if ev.Traceparent != "" {
		carrier := propagation.MapCarrier{"traceparent": ev.Traceparent, "tracestate": ev.Tracestate}
		traceCtx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
		hc := &headerCarrier{headers: headers}
		otel.GetTextMapPropagator().Inject(traceCtx, hc)
		headers = hc.headers
	}

	return kafka.Message{
		Topic:   ev.EventType,
		Key:     []byte(ev.AggregateID.String()),
		Value:   ev.Payload,
		Headers: headers,
		Time:    ev.CreatedAt,
	}
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range c.headers {
		if h.Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
