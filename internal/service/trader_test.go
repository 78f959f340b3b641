package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

func newTestTrader(store *memStore, funding *memFunding, sink EventSink, cfg TraderConfig, connectors ...venue.Connector) *Trader {
	if sink == nil {
		sink = NopSink{}
	}
	reg := newTestRegistry(connectors...)
	fundingSvc := NewFundingService(reg, funding, funding, nil, testLogger)
	exec := newTestExecutor()
	return NewTrader(reg, memTradeStore{store}, memLegStore{store}, fundingSvc, exec, sink, cfg, testLogger)
}

func seedFunding(funding *memFunding, token string, rates map[string]float64) {
	for venueName, rate := range rates {
		funding.Set(context.Background(), domain.FundingRateSnapshot{
			Venue: venueName, Token: token, Rate: rate, FrequencyHours: 1,
		})
	}
}

func TestScanPicksExtremeVenuePair(t *testing.T) {
	funding := newMemFunding()
	seedFunding(funding, "BTC", map[string]float64{
		"alpha": 0.0001,
		"beta":  -0.0002,
		"gamma": 0.00005,
	})

	tr := newTestTrader(newMemStore(), funding, nil, TraderConfig{Tokens: []string{"BTC"}},
		tradingStub("alpha"), tradingStub("beta"), tradingStub("gamma"))

	opps, err := tr.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities", len(opps))
	}
	opp := opps[0]
	if opp.LongVenue != "beta" || opp.ShortVenue != "alpha" {
		t.Errorf("pair = long %s / short %s, want long beta / short alpha", opp.LongVenue, opp.ShortVenue)
	}
	want := (0.0001 - (-0.0002)) * 8760 * 100
	if diff := opp.APR - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("APR = %f, want %f", opp.APR, want)
	}
}

func TestScanSkipsSingleVenueTokens(t *testing.T) {
	funding := newMemFunding()
	seedFunding(funding, "DOGE", map[string]float64{"alpha": 0.0005})

	tr := newTestTrader(newMemStore(), funding, nil, TraderConfig{Tokens: []string{"DOGE"}}, tradingStub("alpha"))
	opps, err := tr.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("got %d opportunities from one venue", len(opps))
	}
}

func TestRunOpensBestOpportunity(t *testing.T) {
	store := newMemStore()
	funding := newMemFunding()
	seedFunding(funding, "BTC", map[string]float64{"alpha": 0.0001, "beta": -0.0002})

	alpha, beta := tradingStub("alpha"), tradingStub("beta")
	sink := &recordSink{}
	cfg := TraderConfig{
		Tokens:        []string{"BTC"},
		MinAPR:        100,
		MaxOpenTrades: 3,
		NotionalUSD:   50000,
		Leverage:      3,
		Slippage:      0.002,
		AutoClose:     domain.AutoCloseConfig{Enabled: true, APRThreshold: 150},
	}
	tr := newTestTrader(store, funding, sink, cfg, alpha, beta)

	result, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Opened != 1 {
		t.Fatalf("opened = %d, want 1", result.Opened)
	}

	trades, _ := memTradeStore{store}.ListByStatus(context.Background(), domain.TradeStatusOpen)
	if len(trades) != 1 {
		t.Fatalf("got %d open trades", len(trades))
	}
	trade := trades[0]
	if trade.LongLeg().Venue != "beta" || trade.ShortLeg().Venue != "alpha" {
		t.Errorf("legs = long %s / short %s", trade.LongLeg().Venue, trade.ShortLeg().Venue)
	}
	if !trade.AutoClose.Enabled || trade.AutoClose.APRThreshold != 150 {
		t.Errorf("auto-close defaults not applied: %+v", trade.AutoClose)
	}
	if trade.EntryAPR < 100 {
		t.Errorf("entry APR = %f", trade.EntryAPR)
	}
	// Both venues got one order, sized notional/mark = 1.
	for _, c := range []*stubConnector{alpha, beta} {
		if len(c.placed) != 1 {
			t.Fatalf("%s placed %d orders", c.name, len(c.placed))
		}
		if c.placed[0].intent.Size != 1 {
			t.Errorf("%s order size = %f, want 1", c.name, c.placed[0].intent.Size)
		}
		if c.placed[0].reduceOnly {
			t.Errorf("%s open order flagged reduce-only", c.name)
		}
	}
	if len(sink.byType(domain.EventTradeOpened)) != 1 {
		t.Error("no trade-opened event")
	}
}

func TestRunRespectsAPRMinimum(t *testing.T) {
	store := newMemStore()
	funding := newMemFunding()
	seedFunding(funding, "BTC", map[string]float64{"alpha": 0.00001, "beta": -0.00001})

	tr := newTestTrader(store, funding, nil,
		TraderConfig{Tokens: []string{"BTC"}, MinAPR: 100, NotionalUSD: 50000},
		tradingStub("alpha"), tradingStub("beta"))

	result, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Opened != 0 {
		t.Errorf("opened a trade below the APR minimum")
	}
}

func TestRunRespectsOpenTradeCap(t *testing.T) {
	store := newMemStore()
	seedTrade(store, "ETH", [2]domain.LegStatus{domain.LegStatusOpen, domain.LegStatusOpen}, [2]string{"alpha", "beta"})

	funding := newMemFunding()
	seedFunding(funding, "BTC", map[string]float64{"alpha": 0.0001, "beta": -0.0002})

	tr := newTestTrader(store, funding, nil,
		TraderConfig{Tokens: []string{"BTC"}, MinAPR: 100, MaxOpenTrades: 1, NotionalUSD: 50000},
		tradingStub("alpha"), tradingStub("beta"))

	result, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Opened != 0 || result.Skipped == "" {
		t.Errorf("result = %+v, want skip at cap", result)
	}
}

func TestSecondLegFailureLeavesErrorTrade(t *testing.T) {
	store := newMemStore()
	funding := newMemFunding()
	seedFunding(funding, "BTC", map[string]float64{"alpha": 0.0001, "beta": -0.0002})

	alpha, beta := tradingStub("alpha"), tradingStub("beta")
	// Long leg opens on beta first; the short leg on alpha then fails.
	alpha.placeErr = fmt.Errorf("alpha: margin: %w", domain.ErrOrderRejected)

	sink := &recordSink{}
	tr := newTestTrader(store, funding, sink,
		TraderConfig{Tokens: []string{"BTC"}, MinAPR: 100, NotionalUSD: 50000},
		alpha, beta)

	_, err := tr.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded despite second-leg failure")
	}

	trades, _ := memTradeStore{store}.ListByStatus(context.Background(), domain.TradeStatusError)
	if len(trades) != 1 {
		t.Fatalf("got %d ERROR trades, want 1", len(trades))
	}
	trade := trades[0]
	if trade.LongLeg().Status != domain.LegStatusOpen {
		t.Errorf("live leg status = %s, want OPEN", trade.LongLeg().Status)
	}
	if trade.ShortLeg().Status != domain.LegStatusError {
		t.Errorf("failed leg status = %s, want ERROR", trade.ShortLeg().Status)
	}
	if len(sink.byType(domain.EventCriticalAlert)) != 1 {
		t.Error("no critical alert for unhedged open")
	}
}
