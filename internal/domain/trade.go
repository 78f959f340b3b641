package domain

import (
	"fmt"
	"time"
)

// TradeStatus is derived from the statuses of a trade's two legs; it is never
// set independently.
type TradeStatus string

const (
	TradeStatusOpening TradeStatus = "OPENING"
	TradeStatusOpen    TradeStatus = "OPEN"
	TradeStatusClosing TradeStatus = "CLOSING"
	TradeStatusClosed  TradeStatus = "CLOSED"
	TradeStatusError   TradeStatus = "ERROR"
)

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusClosed
}

// AutoCloseConfig holds per-trade closure thresholds. It is set at trade
// creation from operator defaults and read by the auto-close policy engine.
type AutoCloseConfig struct {
	Enabled      bool
	APRThreshold float64 // close when current spread APR falls below this
	PnLThreshold float64 // close when aggregate PnL <= -|PnLThreshold|
	TimeoutHours float64 // close when the trade has been open at least this long
}

// Trade is the logical delta-neutral arbitrage position: exactly two legs on
// the same token, opposite sides, different venues.
type Trade struct {
	ID        string
	Token     string
	Legs      [2]Leg
	Status    TradeStatus
	AutoClose AutoCloseConfig

	// Entry spread, frozen at open.
	EntryLongRate  float64
	EntryShortRate float64
	EntryAPR       float64

	// Aggregates, recomputed from the legs each reconciliation cycle.
	TotalCost  float64
	TotalPnL   float64
	CurrentAPR float64

	CloseReason string
	OpenedAt    time.Time
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// LongLeg returns a pointer to the LONG-side leg.
func (t *Trade) LongLeg() *Leg {
	if t.Legs[0].Side == SideLong {
		return &t.Legs[0]
	}
	return &t.Legs[1]
}

// ShortLeg returns a pointer to the SHORT-side leg.
func (t *Trade) ShortLeg() *Leg {
	if t.Legs[0].Side == SideShort {
		return &t.Legs[0]
	}
	return &t.Legs[1]
}

// Validate checks the two-leg invariant: opposite sides, distinct venues,
// same token.
func (t *Trade) Validate() error {
	a, b := t.Legs[0], t.Legs[1]
	if a.Side == b.Side {
		return fmt.Errorf("trade %s: legs share side %s", t.ID, a.Side)
	}
	if a.Venue == b.Venue {
		return fmt.Errorf("trade %s: legs share venue %s", t.ID, a.Venue)
	}
	if a.Token != b.Token {
		return fmt.Errorf("trade %s: leg tokens differ (%s vs %s)", t.ID, a.Token, b.Token)
	}
	return nil
}

// Recompute refreshes the trade's aggregate cost and PnL from its legs.
func (t *Trade) Recompute() {
	t.TotalCost = t.Legs[0].Cost + t.Legs[1].Cost
	t.TotalPnL = t.Legs[0].UnrealizedPnL + t.Legs[0].RealizedPnL +
		t.Legs[1].UnrealizedPnL + t.Legs[1].RealizedPnL
}

// HoursOpen returns how long the trade has been open as of now.
func (t *Trade) HoursOpen(now time.Time) float64 {
	return now.Sub(t.OpenedAt).Hours()
}

// DeriveTradeStatus maps the statuses of a trade's two legs to the trade
// status. The mapping is a pure function:
//
//   - both legs terminal (CLOSED or ERROR)      -> CLOSED
//   - any leg ERROR, other not yet terminal     -> ERROR (unhedged exposure)
//   - any leg CLOSING or CLOSED                 -> CLOSING
//   - both legs OPEN                            -> OPEN
//   - otherwise (a leg still OPENING)           -> OPENING
//
// A one-legged failure surfaces immediately as ERROR rather than being
// masked by the healthy leg.
func DeriveTradeStatus(a, b LegStatus) TradeStatus {
	if a.Terminal() && b.Terminal() {
		return TradeStatusClosed
	}
	if a == LegStatusError || b == LegStatusError {
		return TradeStatusError
	}
	if a == LegStatusClosing || b == LegStatusClosing ||
		a == LegStatusClosed || b == LegStatusClosed {
		return TradeStatusClosing
	}
	if a == LegStatusOpen && b == LegStatusOpen {
		return TradeStatusOpen
	}
	return TradeStatusOpening
}
