package model

// WebhookEvent is a verified, parsed payment notification.  It is never
// persisted; it only drives a booking transition.
type WebhookEvent struct {
    OrderCode     string
    Status        string
    Amount        int64
    TransactionID string
}

// Payment notification statuses sent by the gateway.
const (
    PaymentEventPaid      = "PAID"
    PaymentEventCancelled = "CANCELLED"
    PaymentEventExpired   = "EXPIRED"
)
