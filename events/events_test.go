package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_PublishWritesOneMessagePerEvent(t *testing.T) {
	// GIVEN: a publisher over a fake writer
	w := &fakeWriter{}
	k := &Kafka{writer: w}
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	// WHEN: two events are published
	err := k.Publish(context.Background(),
		Event{Type: JobCardSettled, Key: "jc-1", OccurredAt: at, Payload: map[string]string{"total": "90.00"}},
		Event{Type: StockWrittenOff, Key: "oil", OccurredAt: at},
	)

	// THEN: both are written keyed and typed
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "jc-1", string(w.msgs[0].Key))
	assert.Equal(t, "event-type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, string(JobCardSettled), string(w.msgs[0].Headers[0].Value))
	assert.Equal(t, at, w.msgs[0].Time)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, JobCardSettled, decoded.Type)
	assert.Equal(t, "jc-1", decoded.Key)
}

func TestKafka_WriteErrorIsWrapped(t *testing.T) {
	boom := errors.New("broker down")
	k := &Kafka{writer: &fakeWriter{err: boom}}

	err := k.Publish(context.Background(), Event{Type: JobCardDeleted, Key: "jc-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestKafka_NothingToPublish(t *testing.T) {
	w := &fakeWriter{err: errors.New("should not be called")}
	k := &Kafka{writer: w}

	require.NoError(t, k.Publish(context.Background()))
	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestMemory_RecordsAndFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, Event{Type: JobCardSettled, Key: "a"}))
	require.NoError(t, m.Publish(ctx, Event{Type: StockWrittenOff, Key: "b"}, Event{Type: JobCardSettled, Key: "c"}))

	assert.Len(t, m.Events(), 3)
	settled := m.OfType(JobCardSettled)
	require.Len(t, settled, 2)
	assert.Equal(t, "c", settled[1].Key)

	m.Err = errors.New("unavailable")
	assert.Error(t, m.Publish(ctx, Event{Type: JobCardDeleted}))
	assert.Len(t, m.Events(), 3)
}
