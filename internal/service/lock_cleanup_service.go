package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-booking/internal/repository"
	"github.com/iliyamo/bus-seat-booking/internal/scheduler"
)

// DefaultCleanupInterval is how often the lock store is swept.
const DefaultCleanupInterval = 5 * time.Minute

// SweepStore is the part of the lock store the sweeper needs.
type SweepStore interface {
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	KeyTTLs(ctx context.Context, keys []string) ([]time.Duration, error)
	DeletePersistentKeys(ctx context.Context, keys ...string) (int64, error)
	PruneUserSet(ctx context.Context, userKey string) (removed int, deleted bool, err error)
}

// SweepReport summarises one sweep.
type SweepReport struct {
	LockKeysScanned     int
	ExpiredLocksDeleted int
	UserSetsScanned     int
	MembersPruned       int
	UserSetsDeleted     int
}

// LockCleanupService keeps user lock sets in step with the seat locks
// they reference.  It is housekeeping only: expiry is enforced by the
// store TTL and ownership by SeatLockService, so a missed sweep never
// affects correctness.
type LockCleanupService struct {
	store    SweepStore
	logger   *logrus.Logger
	interval time.Duration

	mu  sync.Mutex
	job *scheduler.Job
}

// CleanupOption configures a LockCleanupService.
type CleanupOption func(*LockCleanupService)

// WithCleanupInterval overrides DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) CleanupOption {
	return func(s *LockCleanupService) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewLockCleanupService returns a stopped sweeper.
func NewLockCleanupService(store SweepStore, logger *logrus.Logger, opts ...CleanupOption) *LockCleanupService {
	s := &LockCleanupService{store: store, logger: logger, interval: DefaultCleanupInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps once immediately and then on every interval until Stop
// is called or ctx is cancelled.
func (s *LockCleanupService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil {
		return
	}
	s.job = scheduler.New("lock-cleanup", s.interval, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	}, s.logger, scheduler.RunAtStart())
	s.job.Start(ctx)
}

// Stop halts the sweep loop and waits for a running sweep to return.
func (s *LockCleanupService) Stop() {
	s.mu.Lock()
	job := s.job
	s.job = nil
	s.mu.Unlock()
	if job != nil {
		job.Stop()
	}
}

// Sweep deletes seat lock keys that exist without an expiry, then prunes
// user lock sets of members whose lock is gone and deletes sets left
// empty.  A failure on one set does not stop the others; the first error
// is returned after the whole pass.
func (s *LockCleanupService) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport

	keys, err := s.store.ScanKeys(ctx, repository.SeatLockPattern(""))
	if err != nil {
		cleanupFailures.Inc()
		return rep, err
	}
	rep.LockKeysScanned = len(keys)
	ttls, err := s.store.KeyTTLs(ctx, keys)
	if err != nil {
		cleanupFailures.Inc()
		return rep, err
	}
	// A key gone since the scan reports -2 and may already be a new
	// user's lock; only keys without any expiry are stale.
	var expired []string
	for i, ttl := range ttls {
		if ttl == repository.TTLNoExpiry {
			expired = append(expired, keys[i])
		}
	}
	if len(expired) > 0 {
		n, err := s.store.DeletePersistentKeys(ctx, expired...)
		if err != nil {
			cleanupFailures.Inc()
			return rep, err
		}
		rep.ExpiredLocksDeleted = int(n)
		cleanupExpiredKeys.Add(float64(n))
	}

	sets, err := s.store.ScanKeys(ctx, repository.UserLocksPattern())
	if err != nil {
		cleanupFailures.Inc()
		return rep, err
	}
	rep.UserSetsScanned = len(sets)
	var firstErr error
	for _, key := range sets {
		removed, deleted, err := s.store.PruneUserSet(ctx, key)
		if err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("prune user lock set failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rep.MembersPruned += removed
		if deleted {
			rep.UserSetsDeleted++
		}
	}
	cleanupPrunedMembers.Add(float64(rep.MembersPruned))
	cleanupDeletedSets.Add(float64(rep.UserSetsDeleted))
	if firstErr != nil {
		cleanupFailures.Inc()
	}

	s.logger.WithFields(logrus.Fields{
		"lock_keys":      rep.LockKeysScanned,
		"expired_locks":  rep.ExpiredLocksDeleted,
		"user_sets":      rep.UserSetsScanned,
		"pruned_members": rep.MembersPruned,
		"deleted_sets":   rep.UserSetsDeleted,
	}).Info("lock cleanup sweep finished")
	return rep, firstErr
}
