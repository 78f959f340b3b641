package venue

import (
	"errors"
	"math"
	"testing"

	"github.com/perparb/fundarb/internal/domain"
)

func TestQuantizeDownRoundsDown(t *testing.T) {
	cases := []struct {
		value, step, want float64
	}{
		{0.123456, 0.001, 0.123},
		{0.1299, 0.001, 0.129},
		{50123.7, 0.5, 50123.5},
		{50123.7, 1, 50123},
		{0.0009, 0.001, 0},
		{2.5, 0.1, 2.5},         // already on a boundary
		{100, 0.01, 100},        // exact integer
		{0.29, 0.01, 0.29},      // binary-float hazard: 0.29/0.01 != 29 in float64
		{0.57, 0.01, 0.57},      // same hazard
		{1.15, 0.05, 1.15},      // same hazard
		{0.123456, 0, 0.123456}, // zero step passes through
	}
	for _, c := range cases {
		got := QuantizeDown(c.value, c.step)
		if got != c.want {
			t.Errorf("QuantizeDown(%v, %v) = %v, want %v", c.value, c.step, got, c.want)
		}
		if got > c.value {
			t.Errorf("QuantizeDown(%v, %v) = %v exceeds input", c.value, c.step, got)
		}
	}
}

func TestQuantizeDownIdempotent(t *testing.T) {
	values := []float64{0.123456, 50123.7, 0.29, 1.15, 99999.999}
	steps := []float64{0.001, 0.01, 0.05, 0.5, 1}
	for _, v := range values {
		for _, s := range steps {
			once := QuantizeDown(v, s)
			twice := QuantizeDown(once, s)
			if once != twice {
				t.Errorf("QuantizeDown(%v, %v): not idempotent, %v then %v", v, s, once, twice)
			}
		}
	}
}

func TestQuantizeDownMultipleOfStep(t *testing.T) {
	values := []float64{0.123456, 3.14159, 271.828, 0.29}
	steps := []float64{0.001, 0.01, 0.25}
	for _, v := range values {
		for _, s := range steps {
			got := QuantizeDown(v, s)
			ratio := got / s
			if math.Abs(ratio-math.Round(ratio)) > 1e-9 {
				t.Errorf("QuantizeDown(%v, %v) = %v is not a multiple of step", v, s, got)
			}
		}
	}
}

func testMarket() domain.VenueMarket {
	return domain.VenueMarket{
		Venue:        "aster",
		Token:        "BTC",
		Symbol:       "BTCUSDT",
		TickSize:     0.1,
		StepSize:     0.001,
		MinOrderSize: 0.001,
		MaxOrderSize: 100,
		MinNotional:  10,
	}
}

func TestQuantizeIntentSlippageDirection(t *testing.T) {
	m := testMarket()
	mark := 50000.0

	long := domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 0.5, SlippageTolerance: 0.002}
	price, size, err := QuantizeIntent(m, long, mark)
	if err != nil {
		t.Fatalf("QuantizeIntent long: %v", err)
	}
	if price <= mark {
		t.Errorf("long limit price %v not above mark %v", price, mark)
	}
	if size != 0.5 {
		t.Errorf("size = %v, want 0.5", size)
	}

	short := domain.OrderIntent{Token: "BTC", Side: domain.SideShort, Size: 0.5, SlippageTolerance: 0.002}
	price, _, err = QuantizeIntent(m, short, mark)
	if err != nil {
		t.Fatalf("QuantizeIntent short: %v", err)
	}
	if price >= mark {
		t.Errorf("short limit price %v not below mark %v", price, mark)
	}
}

func TestQuantizeIntentBounds(t *testing.T) {
	m := testMarket()

	cases := []struct {
		name string
		size float64
	}{
		{"below step", 0.0004},
		{"below minimum", 0.0001},
		{"above maximum", 500},
	}
	for _, c := range cases {
		intent := domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: c.size}
		if _, _, err := QuantizeIntent(m, intent, 50000); !errors.Is(err, domain.ErrBoundsViolation) {
			t.Errorf("%s: err = %v, want ErrBoundsViolation", c.name, err)
		}
	}

	// Below minimum notional: size fine, price*size too small.
	intent := domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 0.001}
	if _, _, err := QuantizeIntent(m, intent, 500); !errors.Is(err, domain.ErrBoundsViolation) {
		t.Errorf("notional: err = %v, want ErrBoundsViolation", err)
	}
}

func TestFormatDecimal(t *testing.T) {
	cases := []struct {
		value  float64
		places int
		want   string
	}{
		{0.5, 3, "0.500"},
		{50000, 2, "50000.00"},
		{1.23456, 2, "1.23"},
		{42, 0, "42"},
	}
	for _, c := range cases {
		if got := FormatDecimal(c.value, c.places); got != c.want {
			t.Errorf("FormatDecimal(%v, %d) = %q, want %q", c.value, c.places, got, c.want)
		}
	}
}
