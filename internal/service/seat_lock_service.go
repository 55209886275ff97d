package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-booking/internal/model"
	"github.com/iliyamo/bus-seat-booking/internal/repository"
)

const guestPrefix = "guest:"

// DefaultLockTTL is how long a seat stays locked without being extended.
const DefaultLockTTL = 10 * time.Minute

// LockStore is the key-value store holding seat locks.  Update must apply
// the returned plan only if none of the read keys changed meanwhile.
type LockStore interface {
	Locks(ctx context.Context, tripID string, seatCodes []string) (map[string]model.SeatLock, error)
	TripLocks(ctx context.Context, tripID string) (map[string]model.SeatLock, error)
	UserSeats(ctx context.Context, ownerID, tripID string) ([]string, error)
	Update(ctx context.Context, tripID, ownerID string, seatCodes []string, decide func(map[string]model.SeatLock) (repository.LockPlan, error)) error
}

// LockResult is returned by LockSeats.
type LockResult struct {
	LockedSeats []string  `json:"locked_seats"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ExtendResult is returned by ExtendLocks.
type ExtendResult struct {
	ExtendedSeats []string  `json:"extended_seats"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ReleaseResult is returned by ReleaseLocks and ReleaseAllUserLocks.
type ReleaseResult struct {
	ReleasedSeats []string `json:"released_seats"`
}

// LockInfo describes one locked seat of a trip.
type LockInfo struct {
	UserID    string    `json:"user_id"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserLock is a seat held by the caller.
type UserLock struct {
	SeatCode  string    `json:"seat_code"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SeatLockService grants users exclusive, time-bounded claims on seats of
// a trip before a booking exists.  Every check and write of one call is a
// single conditional batch in the store, so a conflicting call never
// leaves some of its seats locked.
type SeatLockService struct {
	store  LockStore
	logger *logrus.Logger
	ttl    time.Duration
	now    func() time.Time
}

// SeatLockOption configures a SeatLockService.
type SeatLockOption func(*SeatLockService)

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(d time.Duration) SeatLockOption {
	return func(s *SeatLockService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) SeatLockOption {
	return func(s *SeatLockService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSeatLockService returns a SeatLockService backed by store.
func NewSeatLockService(store LockStore, logger *logrus.Logger, opts ...SeatLockOption) *SeatLockService {
	s := &SeatLockService{
		store:  store,
		logger: logger,
		ttl:    DefaultLockTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lock lifetime granted by LockSeats and ExtendLocks.
func (s *SeatLockService) TTL() time.Duration { return s.ttl }

// LockSeats locks every seat for the caller or none of them.  A seat
// already locked by the same user is re-issued with a fresh expiry.
func (s *SeatLockService) LockSeats(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) (LockResult, error) {
	seats, err := normalizeSeats(seatCodes)
	if err != nil {
		return LockResult{}, err
	}
	owner := model.LockOwner(userID, sessionID)
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	log := s.logger.WithFields(logrus.Fields{"trip_id": tripID, "seat_codes": seats, "user_id": owner, "session_id": sessionID})

	err = s.store.Update(ctx, tripID, owner, seats, func(current map[string]model.SeatLock) (repository.LockPlan, error) {
		var conflicts []string
		for _, code := range seats {
			if l, ok := current[code]; ok && l.Live(now) && !l.OwnedBy(owner) {
				conflicts = append(conflicts, code)
			}
		}
		if len(conflicts) > 0 {
			return repository.LockPlan{}, lockErr(CodeSeatsAlreadyLocked, conflicts, ErrSeatsAlreadyLocked)
		}
		plan := repository.LockPlan{Put: make(map[string]model.SeatLock, len(seats)), TTL: s.ttl}
		for _, code := range seats {
			lockedAt := now
			if l, ok := current[code]; ok && l.Live(now) {
				lockedAt = l.LockedAt
			}
			plan.Put[code] = model.SeatLock{UserID: owner, SessionID: sessionID, LockedAt: lockedAt, ExpiresAt: expires}
		}
		return plan, nil
	})
	if err != nil {
		return LockResult{}, s.fail(log, err)
	}
	seatsLocked.Add(float64(len(seats)))
	log.WithField("expires_at", expires).Info("seats locked")
	return LockResult{LockedSeats: seats, ExpiresAt: expires}, nil
}

// ExtendLocks renews the TTL of seats locked by the caller's user and
// session.  Any seat not bound to both aborts the whole call.
func (s *SeatLockService) ExtendLocks(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) (ExtendResult, error) {
	seats, err := normalizeSeats(seatCodes)
	if err != nil {
		return ExtendResult{}, err
	}
	owner := model.LockOwner(userID, sessionID)
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	log := s.logger.WithFields(logrus.Fields{"trip_id": tripID, "seat_codes": seats, "user_id": owner, "session_id": sessionID})

	err = s.store.Update(ctx, tripID, owner, seats, func(current map[string]model.SeatLock) (repository.LockPlan, error) {
		var failed []string
		for _, code := range seats {
			l, ok := current[code]
			if !ok || !l.Live(now) || !l.BoundTo(owner, sessionID) {
				failed = append(failed, code)
			}
		}
		if len(failed) > 0 {
			return repository.LockPlan{}, lockErr(CodeCannotExtend, failed, ErrCannotExtend)
		}
		plan := repository.LockPlan{Put: make(map[string]model.SeatLock, len(seats)), TTL: s.ttl}
		for _, code := range seats {
			l := current[code]
			l.ExpiresAt = expires
			plan.Put[code] = l
		}
		return plan, nil
	})
	if err != nil {
		return ExtendResult{}, s.fail(log, err)
	}
	log.WithField("expires_at", expires).Info("seat locks extended")
	return ExtendResult{ExtendedSeats: seats, ExpiresAt: expires}, nil
}

// ReleaseLocks deletes the caller's locks.  Seats that are not locked are
// ignored; a seat held by another user or session aborts the call.
func (s *SeatLockService) ReleaseLocks(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) (ReleaseResult, error) {
	seats, err := normalizeSeats(seatCodes)
	if err != nil {
		return ReleaseResult{}, err
	}
	return s.release(ctx, tripID, seats, userID, sessionID, true)
}

// ReleaseAllUserLocks releases every seat the caller holds on a trip in
// this session.  Members of the lock set that point at another owner's
// lock are left to the cleanup sweep.
func (s *SeatLockService) ReleaseAllUserLocks(ctx context.Context, userID, tripID, sessionID string) (ReleaseResult, error) {
	owner := model.LockOwner(userID, sessionID)
	seats, err := s.store.UserSeats(ctx, owner, tripID)
	if err != nil {
		return ReleaseResult{}, s.fail(s.logger.WithFields(logrus.Fields{"trip_id": tripID, "user_id": owner}), err)
	}
	if len(seats) == 0 {
		return ReleaseResult{ReleasedSeats: []string{}}, nil
	}
	sort.Strings(seats)
	return s.release(ctx, tripID, seats, userID, sessionID, false)
}

func (s *SeatLockService) release(ctx context.Context, tripID string, seats []string, userID, sessionID string, strict bool) (ReleaseResult, error) {
	owner := model.LockOwner(userID, sessionID)
	now := s.now().UTC()
	log := s.logger.WithFields(logrus.Fields{"trip_id": tripID, "seat_codes": seats, "user_id": owner, "session_id": sessionID})

	released := []string{}
	err := s.store.Update(ctx, tripID, owner, seats, func(current map[string]model.SeatLock) (repository.LockPlan, error) {
		released = released[:0]
		var foreign []string
		for _, code := range seats {
			l, ok := current[code]
			if !ok || !l.Live(now) {
				continue
			}
			if !l.BoundTo(owner, sessionID) {
				foreign = append(foreign, code)
				continue
			}
			released = append(released, code)
		}
		if strict && len(foreign) > 0 {
			return repository.LockPlan{}, lockErr(CodeCannotRelease, foreign, ErrCannotRelease)
		}
		return repository.LockPlan{Delete: released}, nil
	})
	if err != nil {
		return ReleaseResult{}, s.fail(log, err)
	}
	if len(released) > 0 {
		log.WithField("released", released).Info("seat locks released")
	}
	return ReleaseResult{ReleasedSeats: released}, nil
}

// GetLockedSeats returns every live lock of a trip keyed by seat code.
func (s *SeatLockService) GetLockedSeats(ctx context.Context, tripID string) (map[string]LockInfo, error) {
	locks, err := s.store.TripLocks(ctx, tripID)
	if err != nil {
		return nil, s.fail(s.logger.WithField("trip_id", tripID), err)
	}
	now := s.now().UTC()
	out := make(map[string]LockInfo, len(locks))
	for code, l := range locks {
		if !l.Live(now) {
			continue
		}
		owner := l.UserID
		if strings.HasPrefix(owner, guestPrefix) {
			// guest owners embed the session id, which must not leak
			owner = strings.TrimSuffix(guestPrefix, ":")
		}
		out[code] = LockInfo{UserID: owner, LockedAt: l.LockedAt, ExpiresAt: l.ExpiresAt}
	}
	return out, nil
}

// GetUserLockedSeats lists the seats an owner holds on a trip.  Guests
// pass model.LockOwner("", sessionID) as ownerID.  Set members whose lock
// has gone or changed hands are skipped.
func (s *SeatLockService) GetUserLockedSeats(ctx context.Context, ownerID, tripID string) ([]UserLock, error) {
	log := s.logger.WithFields(logrus.Fields{"trip_id": tripID, "user_id": ownerID})
	seats, err := s.store.UserSeats(ctx, ownerID, tripID)
	if err != nil {
		return nil, s.fail(log, err)
	}
	out := []UserLock{}
	if len(seats) == 0 {
		return out, nil
	}
	sort.Strings(seats)
	locks, err := s.store.Locks(ctx, tripID, seats)
	if err != nil {
		return nil, s.fail(log, err)
	}
	now := s.now().UTC()
	for _, code := range seats {
		l, ok := locks[code]
		if !ok || !l.Live(now) || !l.OwnedBy(ownerID) {
			continue
		}
		out = append(out, UserLock{SeatCode: code, LockedAt: l.LockedAt, ExpiresAt: l.ExpiresAt})
	}
	return out, nil
}

// VerifyOwnership checks that the caller's user and session hold live
// locks on every seat.  Booking creation calls it right before the
// relational write takes over as the source of truth.
func (s *SeatLockService) VerifyOwnership(ctx context.Context, tripID string, seatCodes []string, userID, sessionID string) error {
	seats, err := normalizeSeats(seatCodes)
	if err != nil {
		return err
	}
	owner := model.LockOwner(userID, sessionID)
	log := s.logger.WithFields(logrus.Fields{"trip_id": tripID, "seat_codes": seats, "user_id": owner, "session_id": sessionID})
	locks, err := s.store.Locks(ctx, tripID, seats)
	if err != nil {
		return s.fail(log, err)
	}
	now := s.now().UTC()
	var missing []string
	for _, code := range seats {
		if l, ok := locks[code]; !ok || !l.Live(now) || !l.BoundTo(owner, sessionID) {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return s.fail(log, lockErr(CodeSeatsNotLocked, missing, ErrSeatsNotLocked))
	}
	return nil
}

// LockedByOthers returns the seats with a live lock not owned by ownerID.
func (s *SeatLockService) LockedByOthers(ctx context.Context, tripID string, seatCodes []string, ownerID string) ([]string, error) {
	locks, err := s.store.Locks(ctx, tripID, seatCodes)
	if err != nil {
		return nil, s.fail(s.logger.WithFields(logrus.Fields{"trip_id": tripID, "seat_codes": seatCodes}), err)
	}
	now := s.now().UTC()
	var out []string
	for _, code := range seatCodes {
		if l, ok := locks[code]; ok && l.Live(now) && !l.OwnedBy(ownerID) {
			out = append(out, code)
		}
	}
	return out, nil
}

// fail logs err and converts it into a *LockError.  Ownership failures are
// logged as warnings since they may come from a hijacked session.
func (s *SeatLockService) fail(log *logrus.Entry, err error) error {
	var le *LockError
	switch {
	case errors.As(err, &le):
		lockConflicts.WithLabelValues(le.Code).Inc()
		entry := log.WithFields(logrus.Fields{"code": le.Code, "seats": le.Seats})
		if le.Code == CodeCannotExtend || le.Code == CodeCannotRelease || le.Code == CodeSeatsNotLocked {
			entry.Warn("seat lock ownership check failed")
		} else {
			entry.Info("seat lock rejected")
		}
		return le
	case errors.Is(err, repository.ErrLockContention):
		lockConflicts.WithLabelValues(CodeLockBusy).Inc()
		log.Warn("seat lock contention, giving up")
		return lockErr(CodeLockBusy, nil, ErrLockBusy)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		storeFailures.Inc()
		log.WithError(err).Error("seat lock store error")
		return storeErr(err)
	}
}

// normalizeSeats trims, drops duplicates and keeps the caller's order.
func normalizeSeats(seatCodes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(seatCodes))
	out := make([]string, 0, len(seatCodes))
	for _, c := range seatCodes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoSeats
	}
	return out, nil
}
