package service

import (
	"errors"
	"fmt"
	"strings"
)

// Seat lock error codes returned to clients alongside the HTTP status.
const (
	CodeSeatsAlreadyLocked = "SEATS_ALREADY_LOCKED"
	CodeCannotExtend       = "CANNOT_EXTEND"
	CodeCannotRelease      = "CANNOT_RELEASE"
	CodeSeatsNotLocked     = "SEATS_NOT_LOCKED"
	CodeLockBusy           = "LOCK_BUSY"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
)

// Booking error codes.
const (
	CodeAlreadyPaid               = "BOOK_003"
	CodeReferenceGenerationFailed = "BOOKING_REFERENCE_GENERATION_FAILED"
)

var (
	// ErrSeatsAlreadyLocked means another user holds a live lock on at
	// least one requested seat.
	ErrSeatsAlreadyLocked = errors.New("seats already locked by another user")
	// ErrCannotExtend means a seat is not locked by the caller's user and
	// session.
	ErrCannotExtend = errors.New("cannot extend locks not held by this session")
	// ErrCannotRelease means a seat is locked by another user or session.
	ErrCannotRelease = errors.New("cannot release locks held by another session")
	// ErrSeatsNotLocked means a booking was attempted without holding the
	// seat locks.
	ErrSeatsNotLocked = errors.New("seats are not locked by this session")
	// ErrLockBusy means the lock keys kept changing under concurrent
	// writers and the request gave up.
	ErrLockBusy = errors.New("seat locks are busy, retry")
	// ErrStoreUnavailable means the lock store could not be reached.  It
	// is never turned into a locked or available answer.
	ErrStoreUnavailable = errors.New("seat lock store unavailable")

	// ErrNoSeats is returned when a request names no seat codes.
	ErrNoSeats = errors.New("no seat codes given")
	// ErrInvalidBooking wraps booking input validation failures.
	ErrInvalidBooking = errors.New("invalid booking request")
)

// LockError is a seat lock failure with the seats that caused it.
type LockError struct {
	Code  string
	Seats []string
	Err   error
}

func (e *LockError) Error() string {
	if len(e.Seats) == 0 {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Code, e.Err, strings.Join(e.Seats, ","))
}

func (e *LockError) Unwrap() error { return e.Err }

func lockErr(code string, seats []string, err error) *LockError {
	return &LockError{Code: code, Seats: seats, Err: err}
}

func storeErr(err error) *LockError {
	return &LockError{Code: CodeStoreUnavailable, Err: fmt.Errorf("%w: %v", ErrStoreUnavailable, err)}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidBooking, fmt.Sprintf(format, args...))
}
