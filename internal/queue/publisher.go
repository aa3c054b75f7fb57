package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ahlallah/ahl-allah-server/internal/logger"
)

// AuditQueue is the durable queue auth events are routed to.
const AuditQueue = "auth.events"

// Publisher sends events to RabbitMQ.  Each publish dials its own
// connection, so a broker outage only costs the events sent during it.
type Publisher struct {
	URL     string
	Timeout time.Duration
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string) *Publisher {
	return &Publisher{URL: url, Timeout: 5 * time.Second}
}

// Emit publishes in the background.  Failures are logged and dropped.
func (p *Publisher) Emit(ctx context.Context, ev AuthEvent) {
	log := logger.From(ctx)
	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
		defer cancel()
		if err := p.Publish(pctx, ev); err != nil {
			log.Warn("rabbitmq: auth event dropped", logger.Err(err))
		}
	}()
}

// Publish sends one event and waits for the broker to take it.  Messages
// are marked persistent.
func (p *Publisher) Publish(ctx context.Context, ev AuthEvent) error {
	conn, err := amqp.DialConfig(p.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.Timeout),
	})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(AuditQueue, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx,
		"",         // default exchange
		AuditQueue, // routing key = queue name
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
}
