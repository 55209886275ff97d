package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// queryer is satisfied by *sql.DB and *sql.Tx so lookups can run inside
// or outside a transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TripRepo reads scheduled trips and the seat layout of their buses.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo returns a new TripRepo bound to the given database.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

// GetByID returns the trip with its bus seat codes.  ErrTripNotFound is
// returned when the trip does not exist.
func (r *TripRepo) GetByID(ctx context.Context, tripID string) (*model.Trip, error) {
	return getTrip(ctx, r.db, tripID, false)
}

// getTrip loads a trip and its seats.  With forUpdate the trip row is
// locked until the surrounding transaction ends, which serialises every
// booking write for that trip.
func getTrip(ctx context.Context, q queryer, tripID string, forUpdate bool) (*model.Trip, error) {
	query := `SELECT id, bus_id, origin, destination, departure_at, seat_price, currency, status
              FROM trips WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var t model.Trip
	err := q.QueryRowContext(ctx, query, tripID).Scan(
		&t.ID, &t.BusID, &t.Origin, &t.Destination, &t.DepartureAt, &t.SeatPrice, &t.Currency, &t.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	t.DepartureAt = t.DepartureAt.UTC()

	rows, err := q.QueryContext(ctx, `SELECT seat_code FROM bus_seats WHERE bus_id = ? ORDER BY seat_code`, t.BusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		t.SeatCodes = append(t.SeatCodes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.SeatCodes) == 0 {
		// a trip whose bus has no seats cannot be booked; treat as missing bus
		return nil, ErrTripNotFound
	}
	return &t, nil
}
