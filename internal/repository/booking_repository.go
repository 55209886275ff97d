package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// BookingRepo owns the bookings and passengers tables.  Every state
// change runs inside one transaction that locks the rows it reads, so
// the status checks and the writes cannot interleave with another
// request.  All timestamps are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, booking_reference, trip_id, user_id, session_id, contact_email, contact_phone,
                        status, payment_status, locked_until, subtotal, service_fee, total_price, currency,
                        is_guest_checkout, payment_method, transaction_ref, paid_at, cancellation_reason,
                        refund_amount, cancelled_at, completed_at, created_at, updated_at`

// inTx runs fn inside a transaction and commits when it returns nil.
// Any error or panic rolls the transaction back.
func (r *BookingRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Create persists a pending booking and all of its passengers in one
// transaction.  The trip row is locked first, then the requested seats
// are checked against every non-cancelled booking of the trip.  A fresh
// reference is drawn from newReference until an unused one is found or
// attempts run out.  If any passenger fails validation nothing is
// written.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking, newReference func() (string, error), attempts int) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTrip(ctx, tx, b.TripID, true); err != nil {
			return err
		}
		taken, err := bookedSeats(ctx, tx, b.TripID, b.SeatCodes())
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return seatsErr(ErrSeatsAlreadyBooked, taken)
		}
		ref, err := uniqueReference(ctx, tx, newReference, attempts)
		if err != nil {
			return err
		}
		b.Reference = ref

		const q = `INSERT INTO bookings (id, booking_reference, trip_id, user_id, session_id, contact_email,
                   contact_phone, status, payment_status, locked_until, subtotal, service_fee, total_price,
                   currency, is_guest_checkout, refund_amount, created_at, updated_at)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
		if _, err := tx.ExecContext(ctx, q,
			b.ID, b.Reference, b.TripID, b.UserID, b.SessionID, b.ContactEmail,
			b.ContactPhone, b.Status, b.PaymentStatus, b.LockedUntil.UTC(), b.Subtotal, b.ServiceFee, b.TotalPrice,
			b.Currency, b.IsGuestCheckout, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		const pq = `INSERT INTO passengers (ticket_id, booking_id, seat_code, price, full_name, phone, document_id)
                    VALUES (?, ?, ?, ?, ?, ?, ?)`
		for i, p := range b.Passengers {
			if err := validatePassenger(p); err != nil {
				return fmt.Errorf("passenger %d: %w", i+1, err)
			}
			if _, err := tx.ExecContext(ctx, pq, p.TicketID, b.ID, p.SeatCode, p.Price, p.FullName, p.Phone, p.DocumentID); err != nil {
				return fmt.Errorf("insert passenger seat %s: %w", p.SeatCode, err)
			}
			b.Passengers[i].BookingID = b.ID
		}
		return nil
	})
}

// GetByID returns a booking with its passengers.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	b, err := getBooking(ctx, r.db, "id = ?", id, false)
	if err != nil {
		return nil, err
	}
	if b.Passengers, err = passengers(ctx, r.db, b.ID, false); err != nil {
		return nil, err
	}
	return b, nil
}

// GetByReference returns a booking by its human-readable reference.
func (r *BookingRepo) GetByReference(ctx context.Context, reference string) (*model.Booking, error) {
	b, err := getBooking(ctx, r.db, "booking_reference = ?", reference, false)
	if err != nil {
		return nil, err
	}
	if b.Passengers, err = passengers(ctx, r.db, b.ID, false); err != nil {
		return nil, err
	}
	return b, nil
}

// BookedSeats returns the seat codes held by non-cancelled bookings of a
// trip.  This, not the lock store, is the source of truth for sold seats.
func (r *BookingRepo) BookedSeats(ctx context.Context, tripID string) ([]string, error) {
	return bookedSeats(ctx, r.db, tripID, nil)
}

// ConfirmPayment marks a pending booking as paid and confirmed.  A second
// confirmation returns ErrAlreadyPaid and changes nothing.
func (r *BookingRepo) ConfirmPayment(ctx context.Context, id string, pay model.Payment, now time.Time) (*model.Booking, error) {
	var out *model.Booking
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, "id = ?", id, true)
		if err != nil {
			return err
		}
		if b.PaymentStatus == model.PaymentPaid {
			return ErrAlreadyPaid
		}
		if err := b.CanTransition(model.BookingConfirmed); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		if pay.Amount < b.TotalPrice {
			return fmt.Errorf("%w: got %d, want %d", ErrAmountMismatch, pay.Amount, b.TotalPrice)
		}
		now = now.UTC()
		const q = `UPDATE bookings SET status = ?, payment_status = ?, payment_method = ?, transaction_ref = ?,
                   paid_at = ?, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, q, model.BookingConfirmed, model.PaymentPaid, pay.Method, pay.TransactionRef, now, now, b.ID); err != nil {
			return fmt.Errorf("confirm booking: %w", err)
		}
		b.Status = model.BookingConfirmed
		b.PaymentStatus = model.PaymentPaid
		b.PaymentMethod = &pay.Method
		b.TransactionRef = pay.TransactionRef
		b.PaidAt = &now
		b.UpdatedAt = now
		if b.Passengers, err = passengers(ctx, tx, b.ID, false); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// RefundFunc computes the refund owed for a booking cancelled at now.
type RefundFunc func(b *model.Booking, trip *model.Trip, now time.Time) int64

// Cancel moves a pending or confirmed booking to cancelled, recording the
// reason and the refund computed by refund.  Paid bookings with a
// positive refund become refunded.
func (r *BookingRepo) Cancel(ctx context.Context, id, reason string, refund RefundFunc, now time.Time) (*model.Booking, error) {
	var out *model.Booking
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, "id = ?", id, true)
		if err != nil {
			return err
		}
		if err := b.CanTransition(model.BookingCancelled); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		trip, err := getTrip(ctx, tx, b.TripID, false)
		if err != nil {
			return err
		}
		now = now.UTC()
		amount := int64(0)
		if refund != nil {
			amount = refund(b, trip, now)
		}
		payStatus := b.PaymentStatus
		if payStatus == model.PaymentPaid && amount > 0 {
			payStatus = model.PaymentRefunded
		}
		const q = `UPDATE bookings SET status = ?, payment_status = ?, cancellation_reason = ?, refund_amount = ?,
                   cancelled_at = ?, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, q, model.BookingCancelled, payStatus, reason, amount, now, now, b.ID); err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}
		b.Status = model.BookingCancelled
		b.PaymentStatus = payStatus
		b.CancellationReason = &reason
		b.RefundAmount = amount
		b.CancelledAt = &now
		b.UpdatedAt = now
		if b.Passengers, err = passengers(ctx, tx, b.ID, false); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Complete marks a confirmed booking as completed once the trip is over.
func (r *BookingRepo) Complete(ctx context.Context, id string, now time.Time) (*model.Booking, error) {
	var out *model.Booking
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, "id = ?", id, true)
		if err != nil {
			return err
		}
		if err := b.CanTransition(model.BookingCompleted); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		now = now.UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE bookings SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
			model.BookingCompleted, now, now, b.ID); err != nil {
			return fmt.Errorf("complete booking: %w", err)
		}
		b.Status = model.BookingCompleted
		b.CompletedAt = &now
		b.UpdatedAt = now
		out = b
		return nil
	})
	return out, err
}

// ExpiredReason is recorded on bookings cancelled by the expiry sweep.
const ExpiredReason = "payment window expired"

// ExpirePending cancels up to limit pending, unpaid bookings whose
// payment deadline is before now and returns them.  Rows locked by a
// concurrent transaction are skipped and picked up by the next sweep.
func (r *BookingRepo) ExpirePending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	var out []model.Booking
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		now = now.UTC()
		q := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND payment_status = ? AND locked_until < ?
              ORDER BY locked_until LIMIT ? FOR UPDATE SKIP LOCKED`
		rows, err := tx.QueryContext(ctx, q, model.BookingPending, model.PaymentUnpaid, now, limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			b, err := scanBooking(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, *b)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		ids := make([]interface{}, 0, len(out)+4)
		ids = append(ids, model.BookingCancelled, ExpiredReason, now, now)
		for _, b := range out {
			ids = append(ids, b.ID)
		}
		upd := `UPDATE bookings SET status = ?, cancellation_reason = ?, cancelled_at = ?, updated_at = ?
                WHERE id IN (` + placeholders(len(out)) + `)`
		if _, err := tx.ExecContext(ctx, upd, ids...); err != nil {
			return fmt.Errorf("expire bookings: %w", err)
		}
		reason := ExpiredReason
		for i := range out {
			if out[i].Passengers, err = passengers(ctx, tx, out[i].ID, false); err != nil {
				return err
			}
			out[i].Status = model.BookingCancelled
			out[i].CancellationReason = &reason
			out[i].CancelledAt = &now
			out[i].UpdatedAt = now
		}
		return nil
	})
	return out, err
}

// UpdatePassenger edits name, phone or document of a ticket.  Seat
// occupancy is untouched.
func (r *BookingRepo) UpdatePassenger(ctx context.Context, bookingID, ticketID string, upd model.PassengerUpdate) (*model.Passenger, error) {
	var out *model.Passenger
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, "id = ?", bookingID, true)
		if err != nil {
			return err
		}
		if !modifiable(b) {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}
		p, err := passenger(ctx, tx, bookingID, ticketID)
		if err != nil {
			return err
		}
		if upd.FullName != nil {
			p.FullName = strings.TrimSpace(*upd.FullName)
		}
		if upd.Phone != nil {
			p.Phone = upd.Phone
		}
		if upd.DocumentID != nil {
			p.DocumentID = upd.DocumentID
		}
		if err := validatePassenger(*p); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE passengers SET full_name = ?, phone = ?, document_id = ? WHERE ticket_id = ?`,
			p.FullName, p.Phone, p.DocumentID, p.TicketID); err != nil {
			return fmt.Errorf("update passenger: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// ChangeSeat moves a ticket to another seat of the same trip.  The new
// seat goes through the same disjointness check as creation.
func (r *BookingRepo) ChangeSeat(ctx context.Context, bookingID, ticketID, seatCode string) (*model.Passenger, error) {
	var out *model.Passenger
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, "id = ?", bookingID, true)
		if err != nil {
			return err
		}
		if !modifiable(b) {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
		}
		trip, err := getTrip(ctx, tx, b.TripID, true)
		if err != nil {
			return err
		}
		if !trip.HasSeat(seatCode) {
			return seatsErr(ErrUnknownSeat, []string{seatCode})
		}
		p, err := passenger(ctx, tx, bookingID, ticketID)
		if err != nil {
			return err
		}
		if p.SeatCode == seatCode {
			out = p
			return nil
		}
		taken, err := bookedSeats(ctx, tx, b.TripID, []string{seatCode})
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return seatsErr(ErrSeatsAlreadyBooked, taken)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE passengers SET seat_code = ? WHERE ticket_id = ?`, seatCode, p.TicketID); err != nil {
			return fmt.Errorf("change seat: %w", err)
		}
		p.SeatCode = seatCode
		out = p
		return nil
	})
	return out, err
}

func modifiable(b *model.Booking) bool {
	return b.Status == model.BookingPending || b.Status == model.BookingConfirmed
}

// validatePassenger enforces the columns a ticket cannot exist without.
func validatePassenger(p model.Passenger) error {
	switch {
	case strings.TrimSpace(p.SeatCode) == "":
		return fmt.Errorf("%w: missing seat code", ErrInvalidPassenger)
	case strings.TrimSpace(p.FullName) == "":
		return fmt.Errorf("%w: missing full name for seat %s", ErrInvalidPassenger, p.SeatCode)
	case p.Price <= 0:
		return fmt.Errorf("%w: non-positive price for seat %s", ErrInvalidPassenger, p.SeatCode)
	}
	return nil
}

// uniqueReference draws references until one is not used by any booking.
func uniqueReference(ctx context.Context, tx *sql.Tx, newReference func() (string, error), attempts int) (string, error) {
	for i := 0; i < attempts; i++ {
		ref, err := newReference()
		if err != nil {
			return "", fmt.Errorf("generate booking reference: %w", err)
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE booking_reference = ?`, ref).Scan(&n); err != nil {
			return "", err
		}
		if n == 0 {
			return ref, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrReferenceExhausted, attempts)
}

// bookedSeats returns which of seatCodes (all seats when empty) are held
// by non-cancelled bookings of the trip.
func bookedSeats(ctx context.Context, q queryer, tripID string, seatCodes []string) ([]string, error) {
	query := `SELECT p.seat_code FROM passengers p
              JOIN bookings b ON b.id = p.booking_id
              WHERE b.trip_id = ? AND b.status <> ?`
	args := []interface{}{tripID, model.BookingCancelled}
	if len(seatCodes) > 0 {
		query += ` AND p.seat_code IN (` + placeholders(len(seatCodes)) + `)`
		for _, s := range seatCodes {
			args = append(args, s)
		}
	}
	query += ` ORDER BY p.seat_code`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func getBooking(ctx context.Context, q queryer, where string, arg interface{}, forUpdate bool) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b                                model.Booking
		userID, payMethod, txRef, reason sql.NullString
		paidAt, cancelledAt, completedAt sql.NullTime
	)
	if err := row.Scan(
		&b.ID, &b.Reference, &b.TripID, &userID, &b.SessionID, &b.ContactEmail, &b.ContactPhone,
		&b.Status, &b.PaymentStatus, &b.LockedUntil, &b.Subtotal, &b.ServiceFee, &b.TotalPrice, &b.Currency,
		&b.IsGuestCheckout, &payMethod, &txRef, &paidAt, &reason,
		&b.RefundAmount, &cancelledAt, &completedAt, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.UserID = nullString(userID)
	b.PaymentMethod = nullString(payMethod)
	b.TransactionRef = nullString(txRef)
	b.CancellationReason = nullString(reason)
	b.PaidAt = nullTime(paidAt)
	b.CancelledAt = nullTime(cancelledAt)
	b.CompletedAt = nullTime(completedAt)
	b.LockedUntil = b.LockedUntil.UTC()
	return &b, nil
}

func passengers(ctx context.Context, q queryer, bookingID string, forUpdate bool) ([]model.Passenger, error) {
	query := `SELECT ticket_id, booking_id, seat_code, price, full_name, phone, document_id
              FROM passengers WHERE booking_id = ? ORDER BY seat_code`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Passenger{}
	for rows.Next() {
		p, err := scanPassenger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func passenger(ctx context.Context, tx *sql.Tx, bookingID, ticketID string) (*model.Passenger, error) {
	const q = `SELECT ticket_id, booking_id, seat_code, price, full_name, phone, document_id
               FROM passengers WHERE ticket_id = ? AND booking_id = ? FOR UPDATE`
	p, err := scanPassenger(tx.QueryRowContext(ctx, q, ticketID, bookingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPassengerNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPassenger(row rowScanner) (*model.Passenger, error) {
	var (
		p          model.Passenger
		phone, doc sql.NullString
	)
	if err := row.Scan(&p.TicketID, &p.BookingID, &p.SeatCode, &p.Price, &p.FullName, &phone, &doc); err != nil {
		return nil, err
	}
	p.Phone = nullString(phone)
	p.DocumentID = nullString(doc)
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
