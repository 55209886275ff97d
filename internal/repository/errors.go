// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. For example, ErrSeatsAlreadyBooked signals that another
// live booking already owns one of the requested seats, while
// ErrInvalidTransition indicates that the booking's current status does
// not allow the requested change.
package repository

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBookingNotFound is returned when no booking matches the id or
// reference. Handlers should translate this into an HTTP 404 response.
var ErrBookingNotFound = errors.New("booking not found")

// ErrTripNotFound is returned when the trip (or the bus operating it)
// does not exist. Handlers should translate this into an HTTP 404.
var ErrTripNotFound = errors.New("trip not found")

// ErrPassengerNotFound is returned when a ticket id does not belong to
// the booking being modified.
var ErrPassengerNotFound = errors.New("passenger not found")

// ErrSeatsAlreadyBooked is returned when a requested seat is held by a
// non-cancelled booking of the same trip. Handlers should translate this
// into an HTTP 409 response. Use SeatsError to recover the seat codes.
var ErrSeatsAlreadyBooked = errors.New("seats already booked")

// ErrUnknownSeat is returned when a seat code does not exist on the bus
// operating the trip.
var ErrUnknownSeat = errors.New("unknown seat")

// ErrAlreadyPaid is returned when payment is confirmed twice for the
// same booking. Handlers should translate this into an HTTP 409.
var ErrAlreadyPaid = errors.New("booking already paid")

// ErrInvalidTransition is returned when the booking state machine does
// not allow the requested status change.
var ErrInvalidTransition = errors.New("invalid booking status transition")

// ErrAmountMismatch is returned when a payment does not cover the
// booking total.
var ErrAmountMismatch = errors.New("payment amount does not cover booking total")

// ErrInvalidPassenger is returned when passenger data fails integrity
// checks during creation; the whole booking transaction is rolled back.
var ErrInvalidPassenger = errors.New("invalid passenger data")

// ErrReferenceExhausted is returned when no unused booking reference was
// found within the configured number of attempts.
var ErrReferenceExhausted = errors.New("booking reference generation failed")

// SeatsError carries the seat codes behind a seat-level failure while
// still matching its sentinel with errors.Is.
type SeatsError struct {
	Err   error
	Seats []string
}

func (e *SeatsError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), strings.Join(e.Seats, ","))
}

func (e *SeatsError) Unwrap() error { return e.Err }

// seatsErr builds a SeatsError for the sentinel and seats.
func seatsErr(err error, seats []string) error {
	return &SeatsError{Err: err, Seats: seats}
}
