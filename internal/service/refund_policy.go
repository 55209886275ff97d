package service

import (
	"time"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// refundTiers maps the minimum notice before departure to the refunded
// share of the total price, in percent.  Checked from longest notice.
var refundTiers = []struct {
	notice  time.Duration
	percent int64
}{
	{72 * time.Hour, 100},
	{24 * time.Hour, 70},
	{6 * time.Hour, 50},
}

// RefundAmount is the refund owed when b is cancelled at now.  Unpaid
// bookings get nothing; paid ones get a share depending on how long
// before departure they are cancelled.
func RefundAmount(b *model.Booking, trip *model.Trip, now time.Time) int64 {
	if b.PaymentStatus != model.PaymentPaid {
		return 0
	}
	notice := trip.DepartureAt.Sub(now)
	for _, t := range refundTiers {
		if notice >= t.notice {
			return b.TotalPrice * t.percent / 100
		}
	}
	return 0
}
