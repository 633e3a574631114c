package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the locally cached view of the single open spot position.
// The exchange is the source of truth; this copy is refreshed every cycle
// and after every fill, never used as the source for order sizing.
//
// Invariant: Quantity == 0 implies AverageCost == 0 and PeakPrice == 0
// (zero acts as the null value for PeakPrice and OpenedAt).
type Position struct {
	Coin        string
	Quantity    decimal.Decimal
	AverageCost decimal.Decimal
	PeakPrice   decimal.Decimal
	OpenedAt    time.Time
}

// IsOpen reports whether any quantity is held.
func (p Position) IsOpen() bool {
	return p.Quantity.IsPositive()
}
