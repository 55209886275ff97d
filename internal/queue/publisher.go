package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// Publisher sends booking events to RabbitMQ.  The connection is dialled
// lazily and re-dialled after it drops, so a broker outage only costs the
// events published while it lasts.  Errors are logged and returned so the
// caller can choose to ignore them without interrupting the request flow.
type Publisher struct {
    url    string
    logger *logrus.Logger

    mu   sync.Mutex
    conn *amqp.Connection
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *logrus.Logger) *Publisher {
    return &Publisher{url: url, logger: logger}
}

// PublishBookingConfirmed publishes to the booking.confirmed queue.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, event BookingConfirmedEvent) error {
    return p.publish(ctx, BookingConfirmedQueue, event)
}

// PublishBookingCancelled publishes to the booking.cancelled queue.
func (p *Publisher) PublishBookingCancelled(ctx context.Context, event BookingCancelledEvent) error {
    return p.publish(ctx, BookingCancelledQueue, event)
}

// Close closes the broker connection if one is open.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn == nil {
        return nil
    }
    err := p.conn.Close()
    p.conn = nil
    return err
}

func (p *Publisher) connection() (*amqp.Connection, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn != nil && !p.conn.IsClosed() {
        return p.conn, nil
    }
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial broker: %w", err)
    }
    p.conn = conn
    return conn, nil
}

func (p *Publisher) publish(ctx context.Context, queue string, event interface{}) error {
    log := p.logger.WithField("queue", queue)

    body, err := json.Marshal(event)
    if err != nil {
        log.WithError(err).Error("rabbitmq: marshal event failed")
        return err
    }

    conn, err := p.connection()
    if err != nil {
        log.WithError(err).Error("rabbitmq: dial failed")
        return err
    }
    ch, err := conn.Channel()
    if err != nil {
        log.WithError(err).Error("rabbitmq: channel open failed")
        return err
    }
    defer func() { _ = ch.Close() }()

    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if err := declare(ch, queue); err != nil {
        log.WithError(err).Error("rabbitmq: queue declare failed")
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx,
        "",    // default exchange
        queue, // routing key = queue name
        false, // mandatory
        false, // immediate
        pub,
    ); err != nil {
        log.WithError(err).Error("rabbitmq: publish failed")
        return err
    }
    return nil
}

func declare(ch *amqp.Channel, queue string) error {
    _, err := ch.QueueDeclare(
        queue,
        true,  // durable
        false, // autoDelete
        false, // exclusive
        false, // noWait
        nil,   // args
    )
    return err
}
