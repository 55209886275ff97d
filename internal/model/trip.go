package model

import "time"

// Trip is a scheduled departure of a bus on a route.  Only the fields the
// booking core needs are loaded: identity, departure time, pricing and
// the seat codes of the bus operating the trip.
//
// Fields:
//  ID          – trips.id
//  BusID       – bus operating the trip.
//  Origin      – departure city.
//  Destination – arrival city.
//  DepartureAt – scheduled departure (UTC).
//  SeatPrice   – price of one seat in minor units.
//  Currency    – ISO currency code.
//  Status      – scheduled, departed, finished or cancelled.
//  SeatCodes   – seats of the bus (e.g. A1, A2, B1 ...).
type Trip struct {
    ID          string
    BusID       string
    Origin      string
    Destination string
    DepartureAt time.Time
    SeatPrice   int64
    Currency    string
    Status      string
    SeatCodes   []string
}

// HasSeat reports whether the bus operating the trip has the seat.
func (t *Trip) HasSeat(code string) bool {
    for _, s := range t.SeatCodes {
        if s == code {
            return true
        }
    }
    return false
}

// Seat states shown on a trip's seat map.
const (
    SeatAvailable = "available"
    SeatLocked    = "locked"
    SeatBooked    = "booked"
)

// SeatState is one cell of the seat map returned to clients.
type SeatState struct {
    SeatCode  string     `json:"seat_code"`
    Status    string     `json:"status"`
    ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
