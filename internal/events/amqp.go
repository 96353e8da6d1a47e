package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	publishTimeout = 5 * time.Second
	appID          = "memoryagent"
)

// publisher is the subset of *amqp.Channel the forwarder needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Envelope is the message body published for each event.
type Envelope struct {
	Meta EnvelopeMeta   `json:"meta"`
	Data map[string]any `json:"data"`
}

type EnvelopeMeta struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
}

// Forwarder publishes bus events to a RabbitMQ topic exchange, using the
// event type as routing key. Publish failures are logged and dropped.
type Forwarder struct {
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	pub  publisher
	conn *amqp.Connection
}

// DialForwarder connects to url and declares exchange as a durable topic
// exchange.
func DialForwarder(url, exchange string, logger *slog.Logger) (*Forwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	f := newForwarder(ch, exchange, logger)
	f.conn = conn
	return f, nil
}

func newForwarder(pub publisher, exchange string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{pub: pub, exchange: exchange, logger: logger}
}

// Attach subscribes the forwarder to every event on bus.
func (f *Forwarder) Attach(bus *Bus) string {
	return bus.On("*", f.Handle)
}

// Handle publishes one event. It matches the Handler signature.
func (f *Forwarder) Handle(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.Publish(ctx, e); err != nil {
		f.logger.Warn("event not forwarded", "type", e.Type, "id", e.ID, "err", err)
	}
}

func (f *Forwarder) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(Envelope{
		Meta: EnvelopeMeta{ID: e.ID, Type: e.Type, Source: e.Source, Time: e.Timestamp.UTC()},
		Data: e.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	err = f.pub.PublishWithContext(ctx, f.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         e.Type,
		Timestamp:    e.Timestamp,
		AppId:        appID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	f.logger.Debug("event forwarded", "type", e.Type, "exchange", f.exchange)
	return nil
}

func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Close()
}
