package model

import (
    "fmt"
    "time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
    BookingPending   BookingStatus = "pending"
    BookingConfirmed BookingStatus = "confirmed"
    BookingCancelled BookingStatus = "cancelled"
    BookingCompleted BookingStatus = "completed"
)

// PaymentStatus tracks the money side of a booking independently of its
// lifecycle state.
type PaymentStatus string

const (
    PaymentUnpaid   PaymentStatus = "unpaid"
    PaymentPaid     PaymentStatus = "paid"
    PaymentRefunded PaymentStatus = "refunded"
)

// transitions lists the allowed forward moves of the booking state
// machine.  A booking always starts pending; nothing moves backwards.
var transitions = map[BookingStatus][]BookingStatus{
    BookingPending:   {BookingConfirmed, BookingCancelled},
    BookingConfirmed: {BookingCancelled, BookingCompleted},
}

// Booking records a customer's purchase of one or more seats on a trip.
// It is created once in the pending state and then mutated in place by
// payment and status transitions.  Rows are never deleted; cancellation
// is a status value.
//
// Fields:
//  ID                 – immutable internal identifier (UUID).
//  Reference          – short human-shareable code, unique.
//  TripID             – trip being booked.
//  UserID             – booking owner; nil for guest checkout.
//  SessionID          – session that held the seat locks at creation.
//  ContactEmail       – contact address for tickets.
//  ContactPhone       – contact phone number.
//  Status             – lifecycle state.
//  PaymentStatus      – unpaid, paid or refunded.
//  LockedUntil        – payment deadline; pending bookings past it expire.
//  Subtotal           – sum of passenger seat prices (minor units).
//  ServiceFee         – fee added on top of the subtotal.
//  TotalPrice         – Subtotal + ServiceFee.
//  Currency           – ISO currency code of the trip.
//  IsGuestCheckout    – true when booked without an account.
//  PaymentMethod      – set when payment is confirmed.
//  TransactionRef     – gateway transaction id, if any.
//  PaidAt             – when payment was confirmed.
//  CancellationReason – why the booking was cancelled.
//  RefundAmount       – refund computed at cancellation.
//  CancelledAt        – when the booking was cancelled.
//  CompletedAt        – when the trip was marked finished.
type Booking struct {
    ID                 string        `json:"id"`
    Reference          string        `json:"booking_reference"`
    TripID             string        `json:"trip_id"`
    UserID             *string       `json:"user_id,omitempty"`
    SessionID          string        `json:"-"`
    ContactEmail       string        `json:"contact_email"`
    ContactPhone       string        `json:"contact_phone"`
    Status             BookingStatus `json:"status"`
    PaymentStatus      PaymentStatus `json:"payment_status"`
    LockedUntil        time.Time     `json:"locked_until"`
    Subtotal           int64         `json:"subtotal"`
    ServiceFee         int64         `json:"service_fee"`
    TotalPrice         int64         `json:"total_price"`
    Currency           string        `json:"currency"`
    IsGuestCheckout    bool          `json:"is_guest_checkout"`
    PaymentMethod      *string       `json:"payment_method,omitempty"`
    TransactionRef     *string       `json:"transaction_ref,omitempty"`
    PaidAt             *time.Time    `json:"paid_at,omitempty"`
    CancellationReason *string       `json:"cancellation_reason,omitempty"`
    RefundAmount       int64         `json:"refund_amount"`
    CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
    CompletedAt        *time.Time    `json:"completed_at,omitempty"`
    CreatedAt          time.Time     `json:"created_at"`
    UpdatedAt          time.Time     `json:"updated_at"`
    Passengers         []Passenger   `json:"passengers"`
}

// CanTransition returns an error when moving the booking to the target
// status is not allowed by the state machine.
func (b *Booking) CanTransition(to BookingStatus) error {
    for _, next := range transitions[b.Status] {
        if next == to {
            return nil
        }
    }
    return fmt.Errorf("booking %s cannot move from %s to %s", b.ID, b.Status, to)
}

// SeatCodes returns the seats held by the booking's passengers.
func (b *Booking) SeatCodes() []string {
    seats := make([]string, 0, len(b.Passengers))
    for _, p := range b.Passengers {
        seats = append(seats, p.SeatCode)
    }
    return seats
}

// LockOwner returns the seat-lock owner that created this booking.
func (b *Booking) LockOwner() string {
    uid := ""
    if b.UserID != nil {
        uid = *b.UserID
    }
    return LockOwner(uid, b.SessionID)
}

// Passenger is one ticket inside a booking.  Passengers are inserted in
// the same transaction as their booking and never created afterwards.
//
// Fields:
//  TicketID   – identifier of the ticket (UUID).
//  BookingID  – parent booking.
//  SeatCode   – seat on the bus, unique among live bookings of a trip.
//  Price      – seat price in minor units, always positive.
//  FullName   – passenger name printed on the ticket.
//  Phone      – optional passenger phone.
//  DocumentID – optional identity document number.
type Passenger struct {
    TicketID   string  `json:"ticket_id"`
    BookingID  string  `json:"booking_id"`
    SeatCode   string  `json:"seat_code"`
    Price      int64   `json:"price"`
    FullName   string  `json:"full_name"`
    Phone      *string `json:"phone,omitempty"`
    DocumentID *string `json:"document_id,omitempty"`
}

// PassengerUpdate carries PATCH-style edits; nil fields are left alone.
type PassengerUpdate struct {
    FullName   *string `json:"full_name"`
    Phone      *string `json:"phone"`
    DocumentID *string `json:"document_id"`
}

// Payment describes a confirmed payment applied to a booking.
type Payment struct {
    Method         string
    TransactionRef *string
    Amount         int64
}
