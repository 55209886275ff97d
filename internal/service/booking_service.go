package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-booking/internal/model"
	"github.com/iliyamo/bus-seat-booking/internal/queue"
	"github.com/iliyamo/bus-seat-booking/internal/repository"
)

// Defaults for BookingService.
const (
	DefaultPaymentWindow     = 15 * time.Minute
	DefaultReferenceAttempts = 5
)

const (
	expireBatchSize          = 100
	webhookPaymentMethod     = "payos"
	customerCancelReason     = "cancelled by customer"
	paymentEventCancelPrefix = "payment "
	tripScheduled            = "scheduled"
)

// BookingStore persists bookings and passengers.  Each method is one
// relational transaction.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking, newReference func() (string, error), attempts int) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	GetByReference(ctx context.Context, reference string) (*model.Booking, error)
	BookedSeats(ctx context.Context, tripID string) ([]string, error)
	ConfirmPayment(ctx context.Context, id string, pay model.Payment, now time.Time) (*model.Booking, error)
	Cancel(ctx context.Context, id, reason string, refund repository.RefundFunc, now time.Time) (*model.Booking, error)
	Complete(ctx context.Context, id string, now time.Time) (*model.Booking, error)
	ExpirePending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	UpdatePassenger(ctx context.Context, bookingID, ticketID string, upd model.PassengerUpdate) (*model.Passenger, error)
	ChangeSeat(ctx context.Context, bookingID, ticketID, seatCode string) (*model.Passenger, error)
}

// TripStore reads trips.
type TripStore interface {
	GetByID(ctx context.Context, tripID string) (*model.Trip, error)
}

// SeatLocks is the part of SeatLockService bookings depend on.
type SeatLocks interface {
	VerifyOwnership(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) error
	ReleaseLocks(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) (ReleaseResult, error)
	GetLockedSeats(ctx context.Context, tripID string) (map[string]LockInfo, error)
	LockedByOthers(ctx context.Context, tripID string, seatCodes []string, ownerID string) ([]string, error)
}

// EventPublisher delivers booking events.  Failures never fail the
// booking transition that produced the event.
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, event queue.BookingConfirmedEvent) error
	PublishBookingCancelled(ctx context.Context, event queue.BookingCancelledEvent) error
}

// PassengerInput is one passenger of a booking request.
type PassengerInput struct {
	FullName   string  `json:"full_name"`
	Phone      *string `json:"phone"`
	DocumentID *string `json:"document_id"`
	SeatCode   string  `json:"seat_code"`
}

// CreateBookingInput is a booking request.  UserID is empty for guests.
type CreateBookingInput struct {
	TripID          string           `json:"trip_id"`
	UserID          string           `json:"-"`
	SessionID       string           `json:"session_id"`
	Seats           []string         `json:"seats"`
	Passengers      []PassengerInput `json:"passengers"`
	ContactEmail    string           `json:"contact_email"`
	ContactPhone    string           `json:"contact_phone"`
	IsGuestCheckout bool             `json:"is_guest_checkout"`
}

// ConfirmPaymentInput confirms payment of a booking.
type ConfirmPaymentInput struct {
	BookingID      string  `json:"-"`
	PaymentMethod  string  `json:"payment_method"`
	TransactionRef *string `json:"transaction_ref"`
	Amount         int64   `json:"amount"`
}

// BookingService runs the booking state machine on top of the relational
// store and hands seats over from the lock store once a booking exists.
type BookingService struct {
	bookings  BookingStore
	trips     TripStore
	locks     SeatLocks
	publisher EventPublisher
	logger    *logrus.Logger

	paymentWindow     time.Duration
	serviceFeePercent int64
	referenceAttempts int
	newReference      func() (string, error)
	now               func() time.Time
}

// BookingOption configures a BookingService.
type BookingOption func(*BookingService)

// WithPaymentWindow sets how long a pending booking waits for payment.
func WithPaymentWindow(d time.Duration) BookingOption {
	return func(s *BookingService) {
		if d > 0 {
			s.paymentWindow = d
		}
	}
}

// WithServiceFeePercent sets the fee added on top of the seat prices.
func WithServiceFeePercent(p int) BookingOption {
	return func(s *BookingService) {
		if p >= 0 {
			s.serviceFeePercent = int64(p)
		}
	}
}

// WithReferenceAttempts bounds booking reference collisions.
func WithReferenceAttempts(n int) BookingOption {
	return func(s *BookingService) {
		if n > 0 {
			s.referenceAttempts = n
		}
	}
}

// WithReferenceGenerator replaces NewBookingReference.
func WithReferenceGenerator(fn func() (string, error)) BookingOption {
	return func(s *BookingService) {
		if fn != nil {
			s.newReference = fn
		}
	}
}

// WithBookingClock replaces time.Now.
func WithBookingClock(now func() time.Time) BookingOption {
	return func(s *BookingService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewBookingService wires the booking state machine.  publisher may be
// nil, in which case no events are sent.
func NewBookingService(bookings BookingStore, trips TripStore, locks SeatLocks, publisher EventPublisher, logger *logrus.Logger, opts ...BookingOption) *BookingService {
	s := &BookingService{
		bookings:          bookings,
		trips:             trips,
		locks:             locks,
		publisher:         publisher,
		logger:            logger,
		paymentWindow:     DefaultPaymentWindow,
		referenceAttempts: DefaultReferenceAttempts,
		newReference:      NewBookingReference,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the request, re-checks that the caller still holds the
// seat locks and stores a pending booking with its passengers.  From here
// on the booking row, not the lock, is what occupies the seats.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	seats, passengers, err := validateCreate(&in)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{"trip_id": in.TripID, "seat_codes": seats, "user_id": in.UserID, "session_id": in.SessionID})

	trip, err := s.trips.GetByID(ctx, in.TripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != tripScheduled {
		return nil, invalid("trip %s is %s and not open for booking", trip.ID, trip.Status)
	}
	var unknown []string
	for _, code := range seats {
		if !trip.HasSeat(code) {
			unknown = append(unknown, code)
		}
	}
	if len(unknown) > 0 {
		return nil, &repository.SeatsError{Err: repository.ErrUnknownSeat, Seats: unknown}
	}
	if err := s.locks.VerifyOwnership(ctx, in.TripID, seats, in.UserID, in.SessionID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &model.Booking{
		ID:              uuid.NewString(),
		TripID:          trip.ID,
		SessionID:       in.SessionID,
		ContactEmail:    in.ContactEmail,
		ContactPhone:    in.ContactPhone,
		Status:          model.BookingPending,
		PaymentStatus:   model.PaymentUnpaid,
		LockedUntil:     now.Add(s.paymentWindow),
		Currency:        trip.Currency,
		IsGuestCheckout: in.IsGuestCheckout,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.UserID != "" {
		uid := in.UserID
		b.UserID = &uid
	}
	for _, p := range passengers {
		b.Passengers = append(b.Passengers, model.Passenger{
			TicketID:   uuid.NewString(),
			SeatCode:   p.SeatCode,
			Price:      trip.SeatPrice,
			FullName:   p.FullName,
			Phone:      p.Phone,
			DocumentID: p.DocumentID,
		})
		b.Subtotal += trip.SeatPrice
	}
	b.ServiceFee = (b.Subtotal*s.serviceFeePercent + 50) / 100
	b.TotalPrice = b.Subtotal + b.ServiceFee

	if err := s.bookings.Create(ctx, b, s.newReference, s.referenceAttempts); err != nil {
		log.WithError(err).Warn("booking creation failed")
		return nil, err
	}
	bookingTransitions.WithLabelValues(string(model.BookingPending)).Inc()
	log.WithFields(logrus.Fields{"booking_id": b.ID, "booking_reference": b.Reference, "total_price": b.TotalPrice}).Info("booking created")
	return b, nil
}

// ConfirmPayment marks the booking paid and confirmed.  A second
// confirmation of the same booking is a conflict (repository.ErrAlreadyPaid)
// rather than a silent success, so double charges surface to the caller.
// The seat locks are released afterwards on a best-effort basis.
func (s *BookingService) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*model.Booking, error) {
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	if in.PaymentMethod == "" {
		return nil, invalid("payment method is required")
	}
	if in.Amount <= 0 {
		return nil, invalid("amount must be positive")
	}
	b, err := s.bookings.ConfirmPayment(ctx, in.BookingID, model.Payment{
		Method:         in.PaymentMethod,
		TransactionRef: in.TransactionRef,
		Amount:         in.Amount,
	}, s.now())
	if err != nil {
		return nil, err
	}
	bookingTransitions.WithLabelValues(string(model.BookingConfirmed)).Inc()
	log := s.bookingLog(b)
	log.Info("booking confirmed")

	s.releaseSeats(ctx, b, log)
	if s.publisher != nil {
		ev := queue.BookingConfirmedEvent{
			BookingID:        b.ID,
			BookingReference: b.Reference,
			TripID:           b.TripID,
			UserID:           deref(b.UserID),
			ContactEmail:     b.ContactEmail,
			SeatCodes:        b.SeatCodes(),
			TotalPrice:       b.TotalPrice,
			Currency:         b.Currency,
			PaymentMethod:    in.PaymentMethod,
			TransactionRef:   deref(b.TransactionRef),
			ConfirmedAt:      b.PaidAt.UTC().Format(time.RFC3339),
		}
		if err := s.publisher.PublishBookingConfirmed(ctx, ev); err != nil {
			eventPublishErrors.Inc()
			log.WithError(err).Warn("publish booking.confirmed failed")
		}
	}
	return b, nil
}

// Cancel cancels a pending or confirmed booking and records the refund
// owed under the refund policy.
func (s *BookingService) Cancel(ctx context.Context, id, reason string) (*model.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = customerCancelReason
	}
	b, err := s.bookings.Cancel(ctx, id, reason, RefundAmount, s.now())
	if err != nil {
		return nil, err
	}
	s.afterCancel(ctx, b)
	return b, nil
}

// Complete marks a confirmed booking as travelled.
func (s *BookingService) Complete(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.bookings.Complete(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	bookingTransitions.WithLabelValues(string(model.BookingCompleted)).Inc()
	s.bookingLog(b).Info("booking completed")
	return b, nil
}

// ExpirePending cancels pending, unpaid bookings past their payment
// deadline, in batches, and returns how many were expired.
func (s *BookingService) ExpirePending(ctx context.Context) (int, error) {
	total := 0
	for {
		expired, err := s.bookings.ExpirePending(ctx, s.now(), expireBatchSize)
		if err != nil {
			return total, err
		}
		for i := range expired {
			s.afterCancel(ctx, &expired[i])
		}
		total += len(expired)
		if len(expired) < expireBatchSize {
			break
		}
	}
	if total > 0 {
		s.logger.WithField("expired", total).Info("expired unpaid bookings")
	}
	return total, nil
}

// UpdatePassenger edits a ticket's passenger details.
func (s *BookingService) UpdatePassenger(ctx context.Context, bookingID, ticketID string, upd model.PassengerUpdate) (*model.Passenger, error) {
	if upd.FullName != nil && strings.TrimSpace(*upd.FullName) == "" {
		return nil, invalid("full name cannot be empty")
	}
	return s.bookings.UpdatePassenger(ctx, bookingID, ticketID, upd)
}

// ChangeSeat moves a ticket to another seat.  The seat must not be booked
// by another live booking nor locked by another user.
func (s *BookingService) ChangeSeat(ctx context.Context, bookingID, ticketID, seatCode string) (*model.Passenger, error) {
	seatCode = strings.ToUpper(strings.TrimSpace(seatCode))
	if seatCode == "" {
		return nil, ErrNoSeats
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	held, err := s.locks.LockedByOthers(ctx, b.TripID, []string{seatCode}, b.LockOwner())
	if err != nil {
		return nil, err
	}
	if len(held) > 0 {
		return nil, lockErr(CodeSeatsAlreadyLocked, held, ErrSeatsAlreadyLocked)
	}
	p, err := s.bookings.ChangeSeat(ctx, bookingID, ticketID, seatCode)
	if err != nil {
		return nil, err
	}
	s.bookingLog(b).WithFields(logrus.Fields{"ticket_id": ticketID, "seat_code": seatCode}).Info("passenger seat changed")
	return p, nil
}

// Get returns a booking by id.
func (s *BookingService) Get(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// GetByReference returns a booking by its reference.
func (s *BookingService) GetByReference(ctx context.Context, reference string) (*model.Booking, error) {
	return s.bookings.GetByReference(ctx, strings.ToUpper(strings.TrimSpace(reference)))
}

// CheckSeatsOpen reports whether seats can still be locked: the trip must
// be open for booking, every seat must exist on its bus and none may be
// held by a live booking.  Locks are only a fast path, so without this
// check a seat sold earlier could be locked again once its lock expired.
func (s *BookingService) CheckSeatsOpen(ctx context.Context, tripID string, seatCodes []string) error {
	seats, err := normalizeSeats(seatCodes)
	if err != nil {
		return err
	}
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.Status != tripScheduled {
		return invalid("trip %s is %s and not open for booking", trip.ID, trip.Status)
	}
	var unknown []string
	for _, code := range seats {
		if !trip.HasSeat(code) {
			unknown = append(unknown, code)
		}
	}
	if len(unknown) > 0 {
		return &repository.SeatsError{Err: repository.ErrUnknownSeat, Seats: unknown}
	}
	booked, err := s.bookings.BookedSeats(ctx, tripID)
	if err != nil {
		return err
	}
	isBooked := make(map[string]bool, len(booked))
	for _, code := range booked {
		isBooked[code] = true
	}
	var taken []string
	for _, code := range seats {
		if isBooked[code] {
			taken = append(taken, code)
		}
	}
	if len(taken) > 0 {
		return &repository.SeatsError{Err: repository.ErrSeatsAlreadyBooked, Seats: taken}
	}
	return nil
}

// SeatMap returns every seat of the trip as booked, locked or available.
// Booked state comes from the relational store and wins over a lock.
func (s *BookingService) SeatMap(ctx context.Context, tripID string) ([]model.SeatState, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	booked, err := s.bookings.BookedSeats(ctx, tripID)
	if err != nil {
		return nil, err
	}
	locks, err := s.locks.GetLockedSeats(ctx, tripID)
	if err != nil {
		return nil, err
	}
	isBooked := make(map[string]bool, len(booked))
	for _, code := range booked {
		isBooked[code] = true
	}
	out := make([]model.SeatState, 0, len(trip.SeatCodes))
	for _, code := range trip.SeatCodes {
		st := model.SeatState{SeatCode: code, Status: model.SeatAvailable}
		if isBooked[code] {
			st.Status = model.SeatBooked
		} else if l, ok := locks[code]; ok {
			exp := l.ExpiresAt
			st.Status = model.SeatLocked
			st.ExpiresAt = &exp
		}
		out = append(out, st)
	}
	return out, nil
}

// HandlePaymentEvent applies a verified gateway notification.  The order
// code is the booking reference.  A PAID event for a booking that is
// already paid is acknowledged so gateway retries stop.
func (s *BookingService) HandlePaymentEvent(ctx context.Context, ev model.WebhookEvent) error {
	log := s.logger.WithFields(logrus.Fields{"order_code": ev.OrderCode, "status": ev.Status})
	b, err := s.bookings.GetByReference(ctx, ev.OrderCode)
	if err != nil {
		return err
	}
	switch strings.ToUpper(ev.Status) {
	case model.PaymentEventPaid:
		in := ConfirmPaymentInput{BookingID: b.ID, PaymentMethod: webhookPaymentMethod, Amount: ev.Amount}
		if ev.TransactionID != "" {
			ref := ev.TransactionID
			in.TransactionRef = &ref
		}
		_, err := s.ConfirmPayment(ctx, in)
		if errors.Is(err, repository.ErrAlreadyPaid) {
			log.Info("duplicate payment notification ignored")
			return nil
		}
		return err
	case model.PaymentEventCancelled, model.PaymentEventExpired:
		if b.Status != model.BookingPending {
			log.WithField("booking_status", b.Status).Info("payment event ignored for non-pending booking")
			return nil
		}
		_, err := s.Cancel(ctx, b.ID, paymentEventCancelPrefix+strings.ToLower(ev.Status))
		return err
	default:
		log.Info("payment event status ignored")
		return nil
	}
}

func (s *BookingService) afterCancel(ctx context.Context, b *model.Booking) {
	bookingTransitions.WithLabelValues(string(model.BookingCancelled)).Inc()
	log := s.bookingLog(b)
	log.WithFields(logrus.Fields{"reason": deref(b.CancellationReason), "refund_amount": b.RefundAmount}).Info("booking cancelled")
	if len(b.Passengers) > 0 {
		s.releaseSeats(ctx, b, log)
	}
	if s.publisher == nil {
		return
	}
	cancelledAt := s.now().UTC()
	if b.CancelledAt != nil {
		cancelledAt = *b.CancelledAt
	}
	ev := queue.BookingCancelledEvent{
		BookingID:        b.ID,
		BookingReference: b.Reference,
		TripID:           b.TripID,
		UserID:           deref(b.UserID),
		SeatCodes:        b.SeatCodes(),
		Reason:           deref(b.CancellationReason),
		RefundAmount:     b.RefundAmount,
		Currency:         b.Currency,
		CancelledAt:      cancelledAt.Format(time.RFC3339),
	}
	if err := s.publisher.PublishBookingCancelled(ctx, ev); err != nil {
		eventPublishErrors.Inc()
		log.WithError(err).Warn("publish booking.cancelled failed")
	}
}

// releaseSeats drops the seat locks of the session that created the
// booking.  Failures only cost the lock TTL, so they are logged.
func (s *BookingService) releaseSeats(ctx context.Context, b *model.Booking, log *logrus.Entry) {
	if b.SessionID == "" && b.UserID == nil {
		return
	}
	if _, err := s.locks.ReleaseLocks(ctx, b.TripID, b.SeatCodes(), deref(b.UserID), b.SessionID); err != nil {
		log.WithError(err).Warn("release seat locks after booking transition failed")
	}
}

func (s *BookingService) bookingLog(b *model.Booking) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"booking_id":        b.ID,
		"booking_reference": b.Reference,
		"trip_id":           b.TripID,
		"user_id":           deref(b.UserID),
		"status":            b.Status,
	})
}

// validateCreate normalises the request in place and returns the seats
// and the passengers in seat order.
func validateCreate(in *CreateBookingInput) ([]string, []PassengerInput, error) {
	in.TripID = strings.TrimSpace(in.TripID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.ContactEmail = strings.TrimSpace(in.ContactEmail)
	in.ContactPhone = strings.TrimSpace(in.ContactPhone)
	if in.TripID == "" {
		return nil, nil, invalid("trip id is required")
	}
	if in.SessionID == "" {
		return nil, nil, invalid("session id is required")
	}
	if in.UserID == "" {
		in.IsGuestCheckout = true
	}
	if in.ContactEmail == "" || !strings.Contains(in.ContactEmail, "@") {
		return nil, nil, invalid("a valid contact email is required")
	}
	if in.ContactPhone == "" {
		return nil, nil, invalid("contact phone is required")
	}

	seats := make([]string, 0, len(in.Seats))
	seen := make(map[string]bool, len(in.Seats))
	for _, c := range in.Seats {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if seen[c] {
			return nil, nil, invalid("seat %s requested twice", c)
		}
		seen[c] = true
		seats = append(seats, c)
	}
	if len(seats) == 0 {
		return nil, nil, ErrNoSeats
	}
	if len(in.Passengers) != len(seats) {
		return nil, nil, invalid("expected %d passengers, got %d", len(seats), len(in.Passengers))
	}

	bySeat := make(map[string]PassengerInput, len(in.Passengers))
	for _, p := range in.Passengers {
		p.SeatCode = strings.ToUpper(strings.TrimSpace(p.SeatCode))
		p.FullName = strings.TrimSpace(p.FullName)
		if !seen[p.SeatCode] {
			return nil, nil, invalid("passenger seat %q is not among the requested seats", p.SeatCode)
		}
		if _, dup := bySeat[p.SeatCode]; dup {
			return nil, nil, invalid("seat %s has more than one passenger", p.SeatCode)
		}
		if p.FullName == "" {
			return nil, nil, invalid("passenger for seat %s needs a full name", p.SeatCode)
		}
		bySeat[p.SeatCode] = p
	}
	passengers := make([]PassengerInput, 0, len(seats))
	for _, c := range seats {
		passengers = append(passengers, bySeat[c])
	}
	return seats, passengers, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
