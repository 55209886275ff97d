// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Both are durable and receive persistent messages.
const (
    BookingConfirmedQueue = "booking.confirmed"
    BookingCancelledQueue = "booking.cancelled"
)

// BookingConfirmedEvent is published when payment for a booking is confirmed.
// It contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
    BookingID        string   `json:"booking_id"`
    BookingReference string   `json:"booking_reference"`
    TripID           string   `json:"trip_id"`
    UserID           string   `json:"user_id,omitempty"`
    ContactEmail     string   `json:"contact_email"`
    SeatCodes        []string `json:"seats"`
    TotalPrice       int64    `json:"total_price"`
    Currency         string   `json:"currency"`
    PaymentMethod    string   `json:"payment_method"`
    TransactionRef   string   `json:"transaction_ref,omitempty"`
    ConfirmedAt      string   `json:"confirmed_at"`
}

// BookingCancelledEvent is published when a booking is cancelled, whether by
// the customer, by a payment notification or by the payment-window expiry.
type BookingCancelledEvent struct {
    BookingID        string   `json:"booking_id"`
    BookingReference string   `json:"booking_reference"`
    TripID           string   `json:"trip_id"`
    UserID           string   `json:"user_id,omitempty"`
    SeatCodes        []string `json:"seats"`
    Reason           string   `json:"reason"`
    RefundAmount     int64    `json:"refund_amount"`
    Currency         string   `json:"currency"`
    CancelledAt      string   `json:"cancelled_at"`
}
