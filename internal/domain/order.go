package domain

// OrderIntent describes an order the bot wants on a venue, in venue-agnostic
// terms. The connector resolves token to symbol, computes a limit price from
// the mark price and slippage tolerance, and quantizes size and price to the
// venue's step and tick before submission.
type OrderIntent struct {
	Token    string
	Side     Side
	Size     float64
	Leverage float64
	// SlippageTolerance widens the limit price away from mark so the order
	// crosses: added when buying, subtracted when selling. Fraction, e.g.
	// 0.002 for 20 bps.
	SlippageTolerance float64
}

// OrderState is the venue-reported state of a submitted order.
type OrderState string

const (
	OrderStateOpen     OrderState = "OPEN"
	OrderStateFilled   OrderState = "FILLED"
	OrderStateCanceled OrderState = "CANCELED"
	OrderStateRejected OrderState = "REJECTED"
)

// Terminal reports whether the order can no longer change state.
func (s OrderState) Terminal() bool {
	return s == OrderStateFilled || s == OrderStateCanceled || s == OrderStateRejected
}

// PlacedOrder is the connector's answer to PlaceOrder: the venue-assigned
// identifier and the quantized price/size actually submitted.
type PlacedOrder struct {
	OrderID string
	Price   float64
	Size    float64
	// Filled is set when the venue confirmed an immediate fill at submission.
	Filled bool
}
