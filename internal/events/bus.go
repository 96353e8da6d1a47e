// Package events is the in-process pub/sub for ingestion outcomes. Metrics
// and the AMQP forwarder subscribe to it.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event records one ingestion outcome.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // messaging source name
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler is a callback for events.
type Handler func(Event)

// Emitter is the publishing side of Bus.
type Emitter interface {
	Emit(Event)
}

// Bus dispatches events to handlers registered by type, or "*" for all.
// A bounded history is kept for replay.
type Bus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler Handler
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for eventType and returns its id for Off.
func (b *Bus) On(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := eventType + "-" + uuid.NewString()[:8]
	b.handlers[eventType] = append(b.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (b *Bus) Off(eventType, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			b.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler synchronously. A panicking handler is
// logged and does not stop the others.
func (b *Bus) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	if len(b.history) >= b.maxHistory {
		b.history = b.history[1:]
	}
	b.history = append(b.history, event)

	var handlers []namedHandler
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns stored events of eventType ("*" for all) at or after since.
func (b *Bus) Replay(eventType string, since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

func (b *Bus) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Event types emitted by the ingest service.
const (
	TypeMessageStored    = "message.stored"
	TypeCommandProcessed = "command.processed"
	TypeFileUploaded     = "file.uploaded"
	TypeFileFailed       = "file.failed"
	TypeReplyFailed      = "reply.failed"
)
