package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_EmitAndWildcard(t *testing.T) {
	b := NewBus(quietLogger())

	var specific, all atomic.Int32
	b.On(TypeMessageStored, func(Event) { specific.Add(1) })
	b.On("*", func(Event) { all.Add(1) })

	b.Emit(Event{Type: TypeMessageStored})
	b.Emit(Event{Type: TypeFileFailed})

	assert.Equal(t, int32(1), specific.Load())
	assert.Equal(t, int32(2), all.Load())
}

func TestBus_Off(t *testing.T) {
	b := NewBus(quietLogger())
	var n atomic.Int32
	id := b.On("x", func(Event) { n.Add(1) })
	b.On("x", func(Event) {})

	b.Emit(Event{Type: "x"})
	b.Off("x", id)
	b.Emit(Event{Type: "x"})

	assert.Equal(t, int32(1), n.Load())
}

func TestBus_FillsIDAndTimestamp(t *testing.T) {
	b := NewBus(quietLogger())
	var got Event
	b.On("x", func(e Event) { got = e })

	b.Emit(Event{Type: "x"})

	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestBus_ReplayAndHistoryLimit(t *testing.T) {
	b := NewBus(quietLogger())
	b.maxHistory = 3

	b.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	for i := 0; i < 3; i++ {
		b.Emit(Event{Type: "new"})
	}

	assert.Equal(t, 3, b.HistoryLen())
	assert.Len(t, b.Replay("new", threshold), 3)
	assert.Empty(t, b.Replay("old", time.Time{}), "oldest event evicted")
}

func TestBus_PanicRecovery(t *testing.T) {
	b := NewBus(quietLogger())
	var after atomic.Int32
	b.On("x", func(Event) { panic("boom") })
	b.On("x", func(Event) { after.Add(1) })

	assert.NotPanics(t, func() { b.Emit(Event{Type: "x"}) })
	assert.Equal(t, int32(1), after.Load())
}

type recordingPublisher struct {
	exchange, key string
	msg           amqp.Publishing
	calls         int
	err           error
}

func (r *recordingPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	r.calls++
	r.exchange, r.key, r.msg = exchange, key, msg
	return r.err
}

func TestForwarder_PublishesEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	f := newForwarder(pub, "memoryagent.events", quietLogger())
	b := NewBus(quietLogger())
	f.Attach(b)

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.Emit(Event{
		ID:        "evt-1",
		Type:      TypeFileUploaded,
		Source:    "WhatsApp",
		Payload:   map[string]any{"recipient": "+1555", "drive_id": "file-1"},
		Timestamp: ts,
	})

	require.Equal(t, 1, pub.calls)
	assert.Equal(t, "memoryagent.events", pub.exchange)
	assert.Equal(t, TypeFileUploaded, pub.key)
	assert.Equal(t, "evt-1", pub.msg.MessageId)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.msg.Body, &env))
	assert.Equal(t, "WhatsApp", env.Meta.Source)
	assert.Equal(t, ts, env.Meta.Time)
	assert.Equal(t, "file-1", env.Data["drive_id"])
}

func TestForwarder_ErrorIsContained(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel closed")}
	f := newForwarder(pub, "ex", quietLogger())

	assert.NotPanics(t, func() { f.Handle(Event{ID: "1", Type: "x"}) })
	assert.ErrorContains(t, f.Publish(context.Background(), Event{Type: "x"}), "channel closed")
	assert.NoError(t, f.Close())
}
