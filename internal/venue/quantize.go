package venue

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/perparb/fundarb/internal/domain"
)

// QuantizeDown rounds value down to the nearest integer multiple of step.
// The arithmetic runs on scaled decimal integers, not binary floats, so a
// value sitting exactly on a step boundary stays there and repeated
// quantization is a no-op. step <= 0 returns value unchanged.
func QuantizeDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	q, _ := v.Div(s).Floor().Mul(s).Float64()
	return q
}

// QuantizeIntent applies a venue's market rules to a raw intent: the limit
// price is offset from mark by the slippage tolerance (up when buying, down
// when selling, so the order crosses), then price and size are rounded down
// to the venue tick and step. Violations of the venue's size or notional
// bounds fail with domain.ErrBoundsViolation rather than being clamped.
func QuantizeIntent(m domain.VenueMarket, intent domain.OrderIntent, markPrice float64) (price, size float64, err error) {
	raw := markPrice
	if intent.Side == domain.SideLong {
		raw = markPrice * (1 + intent.SlippageTolerance)
	} else {
		raw = markPrice * (1 - intent.SlippageTolerance)
	}

	price = QuantizeDown(raw, m.TickSize)
	size = QuantizeDown(intent.Size, m.StepSize)

	if size <= 0 {
		return 0, 0, fmt.Errorf("venue: size %v quantizes to zero (step %v): %w",
			intent.Size, m.StepSize, domain.ErrBoundsViolation)
	}
	if m.MinOrderSize > 0 && size < m.MinOrderSize {
		return 0, 0, fmt.Errorf("venue: size %v below minimum %v: %w",
			size, m.MinOrderSize, domain.ErrBoundsViolation)
	}
	if m.MaxOrderSize > 0 && size > m.MaxOrderSize {
		return 0, 0, fmt.Errorf("venue: size %v above maximum %v: %w",
			size, m.MaxOrderSize, domain.ErrBoundsViolation)
	}
	if m.MinNotional > 0 && price*size < m.MinNotional {
		return 0, 0, fmt.Errorf("venue: notional %v below minimum %v: %w",
			price*size, m.MinNotional, domain.ErrBoundsViolation)
	}
	return price, size, nil
}

// FormatDecimal renders value with exactly places decimal digits, the form
// most venue APIs require for price and size fields.
func FormatDecimal(value float64, places int) string {
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(value).StringFixed(int32(places))
}

// PlacesFromStep derives the decimal precision implied by a tick or step,
// e.g. 0.001 -> 3. Venues that publish ticks but not precisions get their
// formatting width from this.
func PlacesFromStep(step float64) int {
	if step <= 0 {
		return 0
	}
	if e := decimal.NewFromFloat(step).Exponent(); e < 0 {
		return int(-e)
	}
	return 0
}
