package outbox

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/appointment-booking-engine/internal/logging"
)

var outboxColumns = []string{"id", "business_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestNewEventMarshalsPayload(t *testing.T) {
	businessID, aggregateID := uuid.New(), uuid.New()

	ev, err := NewEvent(context.Background(), businessID, "appointment", aggregateID, "appointment.booked.v1", map[string]string{"status": "confirmed"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, aggregateID, ev.AggregateID)
	assert.JSONEq(t, `{"status":"confirmed"}`, string(ev.Payload))
}

func TestInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ev := Event{ID: uuid.New(), BusinessID: uuid.New(), AggregateType: "appointment", AggregateID: uuid.New(), EventType: "appointment.booked.v1", Payload: []byte(`{}`)}
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(ev.ID, ev.BusinessID, "appointment", ev.AggregateID, "appointment.booked.v1", ev.Payload, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, Insert(context.Background(), mock, ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, businessID, aggregateID := uuid.New(), uuid.New(), uuid.New()
	created := time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(id, businessID, "appointment", aggregateID, "appointment.booked.v1", []byte(`{"a":1}`), "", "", created))
	mock.ExpectExec("UPDATE outbox_events").
		WithArgs([]string{id.String()}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	w := &recordingWriter{}
	p := NewPublisher(NewRepository(mock), w, PublisherConfig{BatchSize: 10}, logging.NewWithWriter(io.Discard, "error"), nil)

	n, err := p.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "appointment.booked.v1", msg.Topic)
	assert.Equal(t, aggregateID.String(), string(msg.Key))
	assert.Equal(t, `{"a":1}`, string(msg.Value))
	assert.Equal(t, id.String(), string(msg.Headers[0].Value))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchKafkaFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(uuid.New(), uuid.New(), "appointment", uuid.New(), "appointment.booked.v1", []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	w := &recordingWriter{err: errors.New("broker unavailable")}
	p := NewPublisher(NewRepository(mock), w, PublisherConfig{}, logging.NewWithWriter(io.Discard, "error"), nil)

	n, err := p.PublishBatch(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnRows(pgxmock.NewRows(outboxColumns))
	mock.ExpectCommit()

	w := &recordingWriter{}
	n, err := NewPublisher(NewRepository(mock), w, PublisherConfig{}, logging.NewWithWriter(io.Discard, "error"), nil).PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.msgs)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestEventLinksAndTraceHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	events := []Event{
		{ID: uuid.New(), EventType: "appointment.booked.v1", Traceparent: traceparent},
		{ID: uuid.New(), EventType: "appointment.booked.v1"},
		{ID: uuid.New(), EventType: "appointment.booked.v1", Traceparent: "garbage"},
	}

	links := eventLinks(events)
	require.Len(t, links, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", links[0].SpanContext.TraceID().String())

	msg := toMessage(events[0])
	var got string
	for _, h := range msg.Headers {
		if h.Key == "traceparent" {
			got = string(h.Value)
		}
	}
	assert.Equal(t, traceparent, got)
}
