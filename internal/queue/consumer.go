package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// AuditConsumer listens to the booking queues and appends one line per
// event to {dir}/booking.log.
type AuditConsumer struct {
    url    string
    dir    string
    logger *logrus.Logger

    mu sync.Mutex // serialises writes to the log file
}

// NewAuditConsumer returns a consumer writing into dir.
func NewAuditConsumer(url, dir string, logger *logrus.Logger) *AuditConsumer {
    if dir == "" {
        dir = "logs"
    }
    return &AuditConsumer{url: url, dir: dir, logger: logger}
}

// Run connects to RabbitMQ, declares both booking queues and consumes them
// until ctx is cancelled.  It runs a reconnect loop with exponential
// backoff; a message that cannot be processed is rejected without requeue
// so the consumer keeps running.
func (c *AuditConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.logger.WithError(err).Warnf("audit-consumer: failed to dial broker; retrying in %s", backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.logger.WithError(err).Warn("audit-consumer: consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.logger.WithError(err).Warn("audit-consumer: set QoS failed")
    }

    type delivery struct {
        queue string
        d     amqp.Delivery
    }
    merged := make(chan delivery)
    var wg sync.WaitGroup
    for _, q := range []string{BookingConfirmedQueue, BookingCancelledQueue} {
        if err := declare(ch, q); err != nil {
            return fmt.Errorf("queue declare %s: %w", q, err)
        }
        msgs, err := ch.Consume(q, "", false, false, false, false, nil)
        if err != nil {
            return fmt.Errorf("queue consume %s: %w", q, err)
        }
        wg.Add(1)
        go func(q string, msgs <-chan amqp.Delivery) {
            defer wg.Done()
            for d := range msgs {
                select {
                case merged <- delivery{queue: q, d: d}:
                case <-ctx.Done():
                    return
                }
            }
        }(q, msgs)
    }
    go func() {
        wg.Wait()
        close(merged)
    }()

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case m, ok := <-merged:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handleMessage(m.queue, m.d.Body); err != nil {
                c.logger.WithError(err).WithField("queue", m.queue).Error("audit-consumer: handle message failed")
                _ = m.d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = m.d.Ack(false)
        }
    }
}

// handleMessage renders one event as a log line and appends it.
func (c *AuditConsumer) handleMessage(queue string, body []byte) error {
    var line string
    switch queue {
    case BookingConfirmedQueue:
        var ev BookingConfirmedEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return fmt.Errorf("unmarshal: %w", err)
        }
        line = fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | reference=%s | trip_id=%s | user_id=%s | total=%d %s | method=%s | seats=%s\n",
            ev.ConfirmedAt, ev.BookingID, ev.BookingReference, ev.TripID, orGuest(ev.UserID), ev.TotalPrice, ev.Currency, ev.PaymentMethod, seatList(ev.SeatCodes))
    case BookingCancelledQueue:
        var ev BookingCancelledEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return fmt.Errorf("unmarshal: %w", err)
        }
        line = fmt.Sprintf("[%s] Booking cancelled | booking_id=%s | reference=%s | trip_id=%s | user_id=%s | reason=%q | refund=%d %s | seats=%s\n",
            ev.CancelledAt, ev.BookingID, ev.BookingReference, ev.TripID, orGuest(ev.UserID), ev.Reason, ev.RefundAmount, ev.Currency, seatList(ev.SeatCodes))
    default:
        return fmt.Errorf("unknown queue %q", queue)
    }
    return c.appendLine(line)
}

func (c *AuditConsumer) appendLine(line string) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if err := os.MkdirAll(c.dir, 0o755); err != nil {
        return fmt.Errorf("mkdir %s: %w", c.dir, err)
    }
    f, err := os.OpenFile(filepath.Join(c.dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func seatList(seats []string) string {
    return "[" + strings.Join(seats, ",") + "]"
}

func orGuest(userID string) string {
    if userID == "" {
        return "guest"
    }
    return userID
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
