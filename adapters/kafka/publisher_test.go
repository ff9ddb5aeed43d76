package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evstore/core/es"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestNewPublisher_Validates(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{Topic: "events"})
	require.Error(t, err)
	_, err = NewPublisher(PublisherConfig{Brokers: "localhost:9092"})
	require.Error(t, err)
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "events", nil)

	records := []es.EventRecord{
		{ID: "e1", AggregateID: "order-1", Version: 1, Type: "OrderPlaced", TenantID: "acme", Payload: []byte(`{"total":10}`)},
		{ID: "e2", AggregateID: "order-1", Version: 2, Type: "OrderPaid", Payload: []byte(`{}`)},
	}
	require.NoError(t, p.Publish(t.Context(), records))
	require.NoError(t, p.Publish(t.Context(), nil))

	msgs := w.messages()
	require.Len(t, msgs, 2)
	for i, m := range msgs {
		assert.Equal(t, "order-1", string(m.Key))
		assert.Equal(t, records[i].ID, HeaderValue(m.Headers, HeaderEventID))
		assert.Equal(t, records[i].Type, HeaderValue(m.Headers, HeaderEventType))

		var decoded es.EventRecord
		require.NoError(t, json.Unmarshal(m.Value, &decoded))
		assert.Equal(t, records[i].Version, decoded.Version)
	}
	assert.Equal(t, "acme", HeaderValue(msgs[0].Headers, HeaderTenantID))
	assert.Empty(t, HeaderValue(msgs[1].Headers, HeaderTenantID))
}

func TestPublisher_WithStore(t *testing.T) {
	w := &fakeWriter{}
	s := es.StartTestStore(t, es.WithPublisher(newPublisher(w, "events", nil)))

	es.RequireAppend(t, s, "order-1", 0,
		es.MustEvent(map[string]any{"total": 10}, es.WithEventType("OrderPlaced")),
		es.MustEvent(map[string]any{}, es.WithEventType("OrderPaid")),
	)
	require.Len(t, w.messages(), 2)

	// a failing broker does not fail the append
	w.mu.Lock()
	w.err = errors.New("broker down")
	w.mu.Unlock()
	res := s.StoreEvents(t.Context(), "order-1", []es.Event{es.MustEvent(map[string]any{}, es.WithEventType("OrderShipped"))}, 2)
	require.True(t, res.Success, res.Error)
	require.Equal(t, es.Version(3), res.Version)
}
