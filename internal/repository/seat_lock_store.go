package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

const (
	seatLockPrefix  = "seat_lock"
	userLocksPrefix = "user_locks"

	// maxWatchRetries bounds optimistic retries when another writer touches
	// the watched keys between our read and EXEC.
	maxWatchRetries = 8
	scanBatch       = 500
)

// ErrLockContention is returned when the watched keys kept changing for
// every retry of a conditional write.
var ErrLockContention = errors.New("seat lock keys modified concurrently")

// SeatLockKey returns the store key of one seat lock.
func SeatLockKey(tripID, seatCode string) string {
	return seatLockPrefix + ":" + tripID + ":" + seatCode
}

// UserLocksKey returns the store key of the set of seats an owner holds on a trip.
func UserLocksKey(ownerID, tripID string) string {
	return userLocksPrefix + ":" + ownerID + ":" + tripID
}

// SeatLockPattern matches every seat lock key, optionally of one trip.
func SeatLockPattern(tripID string) string {
	if tripID == "" {
		return seatLockPrefix + ":*"
	}
	return seatLockPrefix + ":" + tripID + ":*"
}

// UserLocksPattern matches every user lock set key.
func UserLocksPattern() string { return userLocksPrefix + ":*" }

// parseUserLocksKey splits user_locks:{owner}:{trip}.  Owners may contain
// colons (guest:{session}); trip ids do not.
func parseUserLocksKey(key string) (ownerID, tripID string, ok bool) {
	rest, found := strings.CutPrefix(key, userLocksPrefix+":")
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// seatCodeFromKey returns the seat code part of seat_lock:{trip}:{seat}.
func seatCodeFromKey(key string) string {
	i := strings.LastIndex(key, ":")
	return key[i+1:]
}

// LockPlan lists the writes to apply atomically after a watched read.
// Put values are written with TTL and added to the owner's lock set,
// whose TTL is refreshed to the same value.  Delete keys are removed and
// dropped from the set.
type LockPlan struct {
	Put    map[string]model.SeatLock
	Delete []string
	TTL    time.Duration
}

func (p LockPlan) empty() bool { return len(p.Put) == 0 && len(p.Delete) == 0 }

// SeatLockStore keeps seat locks and per-owner lock sets in Redis.  It
// knows nothing about ownership rules; callers pass a decide function to
// Update and the store guarantees the plan is applied only if none of the
// read keys changed in between.
type SeatLockStore struct {
	rdb *redis.Client
}

// NewSeatLockStore returns a SeatLockStore bound to the given client.
func NewSeatLockStore(rdb *redis.Client) *SeatLockStore { return &SeatLockStore{rdb: rdb} }

// Locks reads the current locks of the given seats in one MGET.  Seats
// without a lock are absent from the result.
func (s *SeatLockStore) Locks(ctx context.Context, tripID string, seatCodes []string) (map[string]model.SeatLock, error) {
	return readLocks(ctx, s.rdb, tripID, seatCodes)
}

// TripLocks returns every live lock of a trip keyed by seat code.
func (s *SeatLockStore) TripLocks(ctx context.Context, tripID string) (map[string]model.SeatLock, error) {
	keys, err := s.ScanKeys(ctx, SeatLockPattern(tripID))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]model.SeatLock{}, nil
	}
	seats := make([]string, 0, len(keys))
	for _, k := range keys {
		seats = append(seats, seatCodeFromKey(k))
	}
	return readLocks(ctx, s.rdb, tripID, seats)
}

// UserSeats returns the members of an owner's lock set for a trip.
func (s *SeatLockStore) UserSeats(ctx context.Context, ownerID, tripID string) ([]string, error) {
	return s.rdb.SMembers(ctx, UserLocksKey(ownerID, tripID)).Result()
}

// Update watches the seat keys and the owner's set, reads the current
// locks, asks decide for a plan and applies it in one MULTI/EXEC.  When
// another client modifies a watched key the transaction is discarded and
// decide runs again on fresh data.  Errors returned by decide abort the
// update unchanged.
func (s *SeatLockStore) Update(ctx context.Context, tripID, ownerID string, seatCodes []string, decide func(current map[string]model.SeatLock) (LockPlan, error)) error {
	userKey := UserLocksKey(ownerID, tripID)
	keys := make([]string, 0, len(seatCodes)+1)
	for _, code := range seatCodes {
		keys = append(keys, SeatLockKey(tripID, code))
	}
	keys = append(keys, userKey)

	txf := func(tx *redis.Tx) error {
		current, err := readLocks(ctx, tx, tripID, seatCodes)
		if err != nil {
			return err
		}
		plan, err := decide(current)
		if err != nil {
			return err
		}
		if plan.empty() {
			return nil
		}
		values := make(map[string][]byte, len(plan.Put))
		for code, lock := range plan.Put {
			b, err := json.Marshal(lock)
			if err != nil {
				return fmt.Errorf("encode seat lock %s: %w", code, err)
			}
			values[code] = b
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(values) > 0 {
				members := make([]interface{}, 0, len(values))
				for code, b := range values {
					pipe.Set(ctx, SeatLockKey(tripID, code), b, plan.TTL)
					members = append(members, code)
				}
				pipe.SAdd(ctx, userKey, members...)
				pipe.Expire(ctx, userKey, plan.TTL)
			}
			if len(plan.Delete) > 0 {
				delKeys := make([]string, 0, len(plan.Delete))
				members := make([]interface{}, 0, len(plan.Delete))
				for _, code := range plan.Delete {
					delKeys = append(delKeys, SeatLockKey(tripID, code))
					members = append(members, code)
				}
				pipe.Del(ctx, delKeys...)
				pipe.SRem(ctx, userKey, members...)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrLockContention
}

// ScanKeys iterates the keyspace with SCAN and returns every key matching
// pattern.  SCAN never blocks the server the way KEYS does.
func (s *SeatLockStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// TTLNoExpiry is what KeyTTLs reports for a key that exists without an
// expiry.  Missing keys report -2ns.
const TTLNoExpiry = time.Duration(-1)

// KeyTTLs fetches the remaining TTL of every key in one pipeline.  Keys
// without expiry report TTLNoExpiry and missing keys -2ns, as Redis does.
func (s *SeatLockStore) KeyTTLs(ctx context.Context, keys []string) ([]time.Duration, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.DurationCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.PTTL(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]time.Duration, len(keys))
	for i, c := range cmds {
		out[i] = c.Val()
	}
	return out, nil
}

// deletePersistentScript deletes each key that still exists without an
// expiry and returns how many it removed.  A key re-created since the TTL
// read carries a TTL and is left alone.
var deletePersistentScript = redis.NewScript(`
local n = 0
for _, k in ipairs(KEYS) do
  if redis.call('PTTL', k) == -1 then
    n = n + redis.call('DEL', k)
  end
end
return n
`)

// DeletePersistentKeys removes those keys that have no expiry at the
// moment of deletion.  The check and the delete run as one script, so a
// lock granted in between is never removed.
func (s *SeatLockStore) DeletePersistentKeys(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return deletePersistentScript.Run(ctx, s.rdb, keys).Int64()
}

// PruneUserSet drops members of a user lock set whose seat lock key no
// longer exists and deletes the set once it is empty.  The set is watched
// so a concurrent lock grant is never undone; in that case the prune is
// skipped until the next sweep.
func (s *SeatLockStore) PruneUserSet(ctx context.Context, userKey string) (removed int, deleted bool, err error) {
	_, tripID, ok := parseUserLocksKey(userKey)
	if !ok {
		return 0, false, fmt.Errorf("malformed user lock key %q", userKey)
	}
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, userKey).Result()
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		exists := make([]*redis.IntCmd, len(members))
		if _, err := tx.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, m := range members {
				exists[i] = pipe.Exists(ctx, SeatLockKey(tripID, m))
			}
			return nil
		}); err != nil {
			return err
		}
		var stale []interface{}
		for i, m := range members {
			if exists[i].Val() == 0 {
				stale = append(stale, m)
			}
		}
		if len(stale) == 0 {
			return nil
		}
		empty := len(stale) == len(members)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if empty {
				pipe.Del(ctx, userKey)
			} else {
				pipe.SRem(ctx, userKey, stale...)
			}
			return nil
		})
		if err == nil {
			removed, deleted = len(stale), empty
		}
		return err
	}, userKey)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, false, nil
	}
	return removed, deleted, err
}

// mgetter is satisfied by both *redis.Client and a watched *redis.Tx.
type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// readLocks MGETs the lock keys of the seats, through the plain client or
// inside a watched transaction.
func readLocks(ctx context.Context, c mgetter, tripID string, seatCodes []string) (map[string]model.SeatLock, error) {
	out := make(map[string]model.SeatLock, len(seatCodes))
	if len(seatCodes) == 0 {
		return out, nil
	}
	keys := make([]string, len(seatCodes))
	for i, code := range seatCodes {
		keys[i] = SeatLockKey(tripID, code)
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var lock model.SeatLock
		if err := json.Unmarshal([]byte(raw), &lock); err != nil {
			return nil, fmt.Errorf("decode seat lock %s: %w", keys[i], err)
		}
		out[seatCodes[i]] = lock
	}
	return out, nil
}
