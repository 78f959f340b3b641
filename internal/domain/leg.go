package domain

import "time"

// Side is the direction of a position or order.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// LegStatus tracks one venue-side position through its lifecycle.
type LegStatus string

const (
	LegStatusOpening LegStatus = "OPENING"
	LegStatusOpen    LegStatus = "OPEN"
	LegStatusClosing LegStatus = "CLOSING"
	LegStatusClosed  LegStatus = "CLOSED"
	LegStatusError   LegStatus = "ERROR"
)

// Terminal reports whether the status admits no further transitions.
func (s LegStatus) Terminal() bool {
	return s == LegStatusClosed || s == LegStatusError
}

// Leg is one venue-side position belonging to a Trade. Legs are created when
// an order is placed for one side of a trade and from then on are mutated
// only by the reconciler (from venue-reported truth) or by the order
// execution protocol (on placement and cancellation outcomes).
type Leg struct {
	ID            string
	TradeID       string
	Venue         string
	Token         string
	Side          Side
	Size          float64
	EntryPrice    float64
	Leverage      float64
	Cost          float64 // size * entry price
	UnrealizedPnL float64
	RealizedPnL   float64
	Status        LegStatus
	ExternalID    string // venue order/position identifier
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// PositionRecord is a venue-reported position as returned by
// Connector.GetAllPositions. It is raw venue truth: reconciliation input,
// never written back to a venue.
type PositionRecord struct {
	Venue         string
	Token         string
	Side          Side
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	Leverage      float64
	UnrealizedPnL float64
	RealizedPnL   float64
}
