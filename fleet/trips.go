package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/fleet-ledger/ledger"
)

// RegisterTrip issues a number when the trip has none, then registers it.
// A number issued for a trip that then fails to register stays unused.
func (n *TripNumberer) RegisterTrip(ctx context.Context, t ledger.Trip) (ledger.Trip, error) {
	if t.Number == "" {
		if t.Date.IsZero() {
			return ledger.Trip{}, fmt.Errorf("trip %s date required for numbering: %w", t.ID, ledger.ErrInvalidInput)
		}
		number, err := n.Next(ctx, t.VehiclePlate, t.Date)
		if err != nil {
			return ledger.Trip{}, err
		}
		t.Number = number
	}
	return n.engine.RegisterTrip(ctx, t)
}

// UpdateTrip re-issues the number when the vehicle plate changed, since
// numbers are counted per plate.
func (n *TripNumberer) UpdateTrip(ctx context.Context, t ledger.Trip) (ledger.Trip, error) {
	existing, err := n.engine.Trip(ctx, t.ID)
	if err != nil {
		return ledger.Trip{}, err
	}
	if t.VehiclePlate != "" && t.VehiclePlate != existing.VehiclePlate {
		date := t.Date
		if date.IsZero() {
			date = existing.Date
		}
		number, err := n.Next(ctx, t.VehiclePlate, date)
		if err != nil {
			return ledger.Trip{}, err
		}
		t.Number = number
	}
	return n.engine.UpdateTrip(ctx, t)
}

// =============================================================================
// AUTO CLOSURE
// =============================================================================

// ShouldAutoClose reports whether a trip can be closed: it earned revenue,
// is fully paid and its date is not in the future.
func ShouldAutoClose(p ledger.Projection, tripDate, now time.Time) bool {
	if !p.Revenue.IsPositive() {
		return false
	}
	if ledger.Day(tripDate).After(ledger.Day(now)) {
		return false
	}
	return p.PaymentStatus == ledger.PaymentPaid
}
