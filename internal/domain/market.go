package domain

import "time"

// VenueMarket is per-venue, per-token contract metadata. Connectors fetch it
// lazily on first use and treat it as immutable between refreshes; every
// other component reads it through the owning connector.
type VenueMarket struct {
	Venue          string
	Token          string
	Symbol         string // venue-native symbol, e.g. BTCUSDT or PERP_BTC_USDC
	PricePrecision int    // decimal places of price
	SizePrecision  int    // decimal places of size
	TickSize       float64
	StepSize       float64
	MinOrderSize   float64
	MaxOrderSize   float64
	MinNotional    float64
	MaxLeverage    float64
	RefreshedAt    time.Time
}
