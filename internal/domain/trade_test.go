package domain

import (
	"testing"
	"time"
)

func TestDeriveTradeStatusTable(t *testing.T) {
	o, op, cl, cd, er := LegStatusOpening, LegStatusOpen, LegStatusClosing, LegStatusClosed, LegStatusError

	// Expected trade status for every ordered pair of leg statuses.
	want := map[[2]LegStatus]TradeStatus{
		{o, o}:   TradeStatusOpening,
		{o, op}:  TradeStatusOpening,
		{o, cl}:  TradeStatusClosing,
		{o, cd}:  TradeStatusClosing,
		{o, er}:  TradeStatusError,
		{op, op}: TradeStatusOpen,
		{op, cl}: TradeStatusClosing,
		{op, cd}: TradeStatusClosing,
		{op, er}: TradeStatusError,
		{cl, cl}: TradeStatusClosing,
		{cl, cd}: TradeStatusClosing,
		{cl, er}: TradeStatusError,
		{cd, cd}: TradeStatusClosed,
		{cd, er}: TradeStatusClosed,
		{er, er}: TradeStatusClosed,
	}

	all := []LegStatus{o, op, cl, cd, er}
	for _, a := range all {
		for _, b := range all {
			expected, ok := want[[2]LegStatus{a, b}]
			if !ok {
				expected = want[[2]LegStatus{b, a}]
			}
			if got := DeriveTradeStatus(a, b); got != expected {
				t.Errorf("DeriveTradeStatus(%s, %s) = %s, want %s", a, b, got, expected)
			}
		}
	}
}

func TestDeriveTradeStatusSymmetric(t *testing.T) {
	all := []LegStatus{LegStatusOpening, LegStatusOpen, LegStatusClosing, LegStatusClosed, LegStatusError}
	for _, a := range all {
		for _, b := range all {
			if DeriveTradeStatus(a, b) != DeriveTradeStatus(b, a) {
				t.Errorf("DeriveTradeStatus not symmetric for (%s, %s)", a, b)
			}
		}
	}
}

func TestTradeValidate(t *testing.T) {
	base := Trade{
		ID: "t1",
		Legs: [2]Leg{
			{Venue: "vest", Token: "BTC", Side: SideLong},
			{Venue: "aster", Token: "BTC", Side: SideShort},
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid trade rejected: %v", err)
	}

	sameSide := base
	sameSide.Legs[1].Side = SideLong
	if err := sameSide.Validate(); err == nil {
		t.Error("same-side legs accepted")
	}

	sameVenue := base
	sameVenue.Legs[1].Venue = "vest"
	if err := sameVenue.Validate(); err == nil {
		t.Error("same-venue legs accepted")
	}

	mixedToken := base
	mixedToken.Legs[1].Token = "ETH"
	if err := mixedToken.Validate(); err == nil {
		t.Error("mixed-token legs accepted")
	}
}

func TestTradeRecompute(t *testing.T) {
	tr := Trade{
		Legs: [2]Leg{
			{Cost: 1000, UnrealizedPnL: 12.5, RealizedPnL: 1.5},
			{Cost: 1005, UnrealizedPnL: -8.25, RealizedPnL: 0},
		},
	}
	tr.Recompute()
	if tr.TotalCost != 2005 {
		t.Errorf("TotalCost = %v, want 2005", tr.TotalCost)
	}
	if got := tr.TotalPnL; got != 5.75 {
		t.Errorf("TotalPnL = %v, want 5.75", got)
	}
}

func TestLegSelectors(t *testing.T) {
	tr := Trade{
		Legs: [2]Leg{
			{ID: "a", Side: SideShort},
			{ID: "b", Side: SideLong},
		},
		OpenedAt: time.Now().Add(-90 * time.Minute),
	}
	if tr.LongLeg().ID != "b" || tr.ShortLeg().ID != "a" {
		t.Errorf("leg selectors picked wrong legs: long=%s short=%s", tr.LongLeg().ID, tr.ShortLeg().ID)
	}
	if h := tr.HoursOpen(time.Now()); h < 1.49 || h > 1.51 {
		t.Errorf("HoursOpen = %v, want ~1.5", h)
	}
}
