package model

import (
    "strings"
    "time"
)

// SeatLock represents a temporary claim on a seat of a trip while a
// customer is choosing seats and checking out.  Locks live in the
// shared key-value store under seat_lock:{tripId}:{seatCode} and
// expire through the store's own TTL; there is no other timer.
//
// Fields:
//  UserID    – owner of the lock (guests use LockOwner("", sessionId)).
//  SessionID – browser/app session the lock is bound to.
//  LockedAt  – when the lock was first granted.
//  ExpiresAt – when the store will drop the key.
type SeatLock struct {
    UserID    string    `json:"userId"`
    SessionID string    `json:"sessionId"`
    LockedAt  time.Time `json:"lockedAt"`
    ExpiresAt time.Time `json:"expiresAt"`
}

// OwnedBy reports whether the lock belongs to the given user.
func (l SeatLock) OwnedBy(userID string) bool { return l.UserID == userID }

// BoundTo reports whether the lock belongs to the given user and session.
func (l SeatLock) BoundTo(userID, sessionID string) bool {
    return l.UserID == userID && l.SessionID == sessionID
}

// Live reports whether the lock is still valid at now.  The store normally
// drops expired keys itself; this guards values read just before expiry.
func (l SeatLock) Live(now time.Time) bool { return l.ExpiresAt.After(now) }

// guestOwnerPrefix namespaces guest lock owners so they never collide with
// authenticated user ids.
const guestOwnerPrefix = "guest:"

// LockOwner returns the identifier that owns seat locks for a caller.
// Authenticated users own locks by user id; guests own them by session.
func LockOwner(userID, sessionID string) string {
    if strings.TrimSpace(userID) != "" {
        return userID
    }
    return guestOwnerPrefix + sessionID
}
