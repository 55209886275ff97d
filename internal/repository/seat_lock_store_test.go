package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

func newTestStore(t *testing.T) (*SeatLockStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSeatLockStore(rdb), mr
}

func lockFor(owner, session string, now time.Time) model.SeatLock {
	return model.SeatLock{UserID: owner, SessionID: session, LockedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "seat_lock:T1:A1", SeatLockKey("T1", "A1"))
	assert.Equal(t, "user_locks:guest:s-1:T1", UserLocksKey("guest:s-1", "T1"))
	assert.Equal(t, "seat_lock:*", SeatLockPattern(""))
	assert.Equal(t, "seat_lock:T1:*", SeatLockPattern("T1"))

	owner, trip, ok := parseUserLocksKey("user_locks:guest:s-1:T1")
	require.True(t, ok)
	assert.Equal(t, "guest:s-1", owner)
	assert.Equal(t, "T1", trip)

	_, _, ok = parseUserLocksKey("user_locks:T1")
	assert.False(t, ok)
}

func TestUpdate_PutWritesLocksAndUserSet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	err := store.Update(ctx, "T1", "U1", []string{"A1", "A2"}, func(cur map[string]model.SeatLock) (LockPlan, error) {
		assert.Empty(t, cur)
		return LockPlan{
			Put: map[string]model.SeatLock{"A1": lockFor("U1", "S1", now), "A2": lockFor("U1", "S1", now)},
			TTL: 10 * time.Minute,
		}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, mr.TTL("seat_lock:T1:A1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("user_locks:U1:T1"))
	members, err := mr.Members("user_locks:U1:T1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, members)

	locks, err := store.Locks(ctx, "T1", []string{"A1", "A2", "A3"})
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.Equal(t, "S1", locks["A1"].SessionID)
	assert.True(t, locks["A2"].ExpiresAt.Equal(now.Add(10*time.Minute)))

	seats, err := store.UserSeats(ctx, "U1", "T1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, seats)
}

func TestUpdate_DecideErrorWritesNothing(t *testing.T) {
	store, mr := newTestStore(t)
	boom := errors.New("conflict")

	err := store.Update(context.Background(), "T1", "U1", []string{"A1"}, func(map[string]model.SeatLock) (LockPlan, error) {
		return LockPlan{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("seat_lock:T1:A1"))
	assert.False(t, mr.Exists("user_locks:U1:T1"))
}

func TestUpdate_DeleteRemovesKeysAndMembers(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Update(ctx, "T1", "U1", []string{"A1", "A2"}, func(map[string]model.SeatLock) (LockPlan, error) {
		return LockPlan{Put: map[string]model.SeatLock{"A1": lockFor("U1", "S1", now), "A2": lockFor("U1", "S1", now)}, TTL: time.Minute}, nil
	}))
	require.NoError(t, store.Update(ctx, "T1", "U1", []string{"A1"}, func(cur map[string]model.SeatLock) (LockPlan, error) {
		require.Contains(t, cur, "A1")
		return LockPlan{Delete: []string{"A1"}}, nil
	}))

	assert.False(t, mr.Exists("seat_lock:T1:A1"))
	assert.True(t, mr.Exists("seat_lock:T1:A2"))
	members, err := mr.Members("user_locks:U1:T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, members)
}

func TestTripLocks_ScansOneTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, trip := range []string{"T1", "T2"} {
		require.NoError(t, store.Update(ctx, trip, "U1", []string{"A1"}, func(map[string]model.SeatLock) (LockPlan, error) {
			return LockPlan{Put: map[string]model.SeatLock{"A1": lockFor("U1", "S1", now)}, TTL: time.Minute}, nil
		}))
	}

	locks, err := store.TripLocks(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, locks, 1)
	assert.Contains(t, locks, "A1")

	empty, err := store.TripLocks(ctx, "T9")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestKeyTTLsAndDeletePersistent(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("seat_lock:T1:A1", "{}"))
	require.NoError(t, mr.Set("seat_lock:T1:A2", "{}"))
	mr.SetTTL("seat_lock:T1:A2", time.Minute)

	keys, err := store.ScanKeys(ctx, SeatLockPattern(""))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"seat_lock:T1:A1", "seat_lock:T1:A2"}, keys)

	ttls, err := store.KeyTTLs(ctx, []string{"seat_lock:T1:A1", "seat_lock:T1:A2", "seat_lock:T1:A3"})
	require.NoError(t, err)
	require.Len(t, ttls, 3)
	assert.Equal(t, TTLNoExpiry, ttls[0])
	assert.Greater(t, ttls[1], time.Duration(0))
	assert.Equal(t, time.Duration(-2), ttls[2])

	// only the key without expiry goes; the live lock and the missing key are untouched
	n, err := store.DeletePersistentKeys(ctx, "seat_lock:T1:A1", "seat_lock:T1:A2", "seat_lock:T1:A3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, mr.Exists("seat_lock:T1:A1"))
	assert.True(t, mr.Exists("seat_lock:T1:A2"))
}

func TestPruneUserSet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("seat_lock:T1:A1", "{}"))
	_, err := mr.SAdd("user_locks:U1:T1", "A1", "A2")
	require.NoError(t, err)

	removed, deleted, err := store.PruneUserSet(ctx, "user_locks:U1:T1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, deleted)
	members, err := mr.Members("user_locks:U1:T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, members)

	mr.Del("seat_lock:T1:A1")
	removed, deleted, err = store.PruneUserSet(ctx, "user_locks:U1:T1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("user_locks:U1:T1"))

	removed, deleted, err = store.PruneUserSet(ctx, "user_locks:U1:T1")
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.False(t, deleted)

	_, _, err = store.PruneUserSet(ctx, "user_locks:bad")
	assert.Error(t, err)
}
