package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/execution"
	"github.com/perparb/fundarb/internal/venue"
)

// TraderConfig bounds what the opportunity trader may open.
type TraderConfig struct {
	Tokens        []string
	MinAPR        float64 // open only at or above this spread APR, percent
	MaxOpenTrades int
	NotionalUSD   float64 // target notional per leg
	Leverage      float64
	Slippage      float64
	AutoClose     domain.AutoCloseConfig // defaults applied to new trades
}

// Trader scans funding snapshots for spread opportunities and opens two-leg
// delta-neutral trades on the best one.
type Trader struct {
	registry *venue.Registry
	trades   domain.TradeStore
	legs     domain.LegStore
	funding  *FundingService
	exec     *execution.Executor
	events   EventSink
	cfg      TraderConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewTrader creates a Trader.
func NewTrader(
	registry *venue.Registry,
	trades domain.TradeStore,
	legs domain.LegStore,
	funding *FundingService,
	exec *execution.Executor,
	events EventSink,
	cfg TraderConfig,
	logger *slog.Logger,
) *Trader {
	return &Trader{
		registry: registry,
		trades:   trades,
		legs:     legs,
		funding:  funding,
		exec:     exec,
		events:   events,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "trader")),
		now:      time.Now,
	}
}

// Scan returns the best spread opportunity per configured token, sorted by
// descending APR. Tokens without at least two venues reporting are skipped.
func (t *Trader) Scan(ctx context.Context) ([]domain.SpreadOpportunity, error) {
	var out []domain.SpreadOpportunity
	for _, token := range t.cfg.Tokens {
		snaps, err := t.funding.LatestAll(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("trader: snapshots for %s: %w", token, err)
		}
		if len(snaps) < 2 {
			continue
		}

		long, short := snaps[0], snaps[0]
		for _, s := range snaps[1:] {
			if s.Rate < long.Rate {
				long = s
			}
			if s.Rate > short.Rate {
				short = s
			}
		}
		if long.Venue == short.Venue {
			continue
		}
		out = append(out, domain.SpreadOpportunity{
			Token:      token,
			LongVenue:  long.Venue,
			LongRate:   long.Rate,
			ShortVenue: short.Venue,
			ShortRate:  short.Rate,
			APR:        domain.SpreadAPR(long, short),
			DetectedAt: t.now().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APR > out[j].APR })
	return out, nil
}

// TradeResult summarizes one auto-trade cycle.
type TradeResult struct {
	Scanned int
	Opened  int
	Skipped string
}

// Run scans for opportunities and opens the best one that clears the APR
// minimum, respecting the open-trade cap.
func (t *Trader) Run(ctx context.Context) (TradeResult, error) {
	open, err := t.trades.Count(ctx,
		domain.TradeStatusOpening, domain.TradeStatusOpen, domain.TradeStatusClosing)
	if err != nil {
		return TradeResult{}, fmt.Errorf("trader: count open trades: %w", err)
	}
	if t.cfg.MaxOpenTrades > 0 && open >= int64(t.cfg.MaxOpenTrades) {
		return TradeResult{Skipped: "open trade cap reached"}, nil
	}

	opportunities, err := t.Scan(ctx)
	if err != nil {
		return TradeResult{}, err
	}
	result := TradeResult{Scanned: len(opportunities)}
	for _, opp := range opportunities {
		if opp.APR < t.cfg.MinAPR {
			break // sorted descending, nothing further qualifies
		}
		if err := t.OpenTrade(ctx, opp); err != nil {
			return result, err
		}
		result.Opened++
		return result, nil // one trade per cycle
	}
	return result, nil
}

// OpenTrade opens a two-leg trade on the opportunity. The two legs are
// opened sequentially: the second is only attempted after the first is
// confirmed. A second-leg failure leaves the trade ERROR with one live,
// unhedged leg; that outcome is surfaced, never rolled back automatically.
func (t *Trader) OpenTrade(ctx context.Context, opp domain.SpreadOpportunity) error {
	now := t.now().UTC()
	trade := domain.Trade{
		ID:             uuid.New().String(),
		Token:          opp.Token,
		Status:         domain.TradeStatusOpening,
		AutoClose:      t.cfg.AutoClose,
		EntryLongRate:  opp.LongRate,
		EntryShortRate: opp.ShortRate,
		EntryAPR:       opp.APR,
		CurrentAPR:     opp.APR,
		OpenedAt:       now,
		UpdatedAt:      now,
	}
	trade.Legs[0] = t.newLeg(trade.ID, opp.LongVenue, opp.Token, domain.SideLong, now)
	trade.Legs[1] = t.newLeg(trade.ID, opp.ShortVenue, opp.Token, domain.SideShort, now)
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("trader: %w", err)
	}

	if err := t.trades.Create(ctx, trade); err != nil {
		return fmt.Errorf("trader: create trade: %w", err)
	}
	for i := range trade.Legs {
		if err := t.legs.Create(ctx, trade.Legs[i]); err != nil {
			return fmt.Errorf("trader: create leg: %w", err)
		}
	}

	// First leg. Failure here leaves no exposure beyond what reconciliation
	// can still discover through the recorded leg.
	if err := t.openLeg(ctx, &trade.Legs[0]); err != nil {
		t.failTrade(ctx, &trade, 0, err)
		return fmt.Errorf("trader: first leg on %s: %w", opp.LongVenue, err)
	}

	// Second leg. Failure here means one live unhedged leg.
	if err := t.openLeg(ctx, &trade.Legs[1]); err != nil {
		t.failTrade(ctx, &trade, 1, err)
		t.events.Publish(ctx, domain.Event{
			Type:     domain.EventCriticalAlert,
			Severity: domain.SeverityCritical,
			Title:    "Second leg failed",
			Message: fmt.Sprintf("%s: long leg on %s is live but short leg on %s failed, position is unhedged",
				opp.Token, opp.LongVenue, opp.ShortVenue),
			Payload: map[string]any{"trade_id": trade.ID, "token": opp.Token},
			At:      t.now().UTC(),
		})
		return fmt.Errorf("trader: second leg on %s: %w", opp.ShortVenue, err)
	}

	trade.Status = domain.TradeStatusOpen
	trade.Recompute()
	trade.UpdatedAt = t.now().UTC()
	if err := t.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("trader: mark trade open: %w", err)
	}

	t.logger.Info("trade opened",
		slog.String("trade_id", trade.ID),
		slog.String("token", opp.Token),
		slog.String("long", opp.LongVenue),
		slog.String("short", opp.ShortVenue),
		slog.Float64("entry_apr", opp.APR))
	t.events.Publish(ctx, domain.Event{
		Type:     domain.EventTradeOpened,
		Severity: domain.SeverityInfo,
		Title:    "Trade opened",
		Message: fmt.Sprintf("%s long %s / short %s at %.1f%% APR",
			opp.Token, opp.LongVenue, opp.ShortVenue, opp.APR),
		Payload: map[string]any{"trade_id": trade.ID, "token": opp.Token, "apr": opp.APR},
		At:      t.now().UTC(),
	})
	return nil
}

func (t *Trader) newLeg(tradeID, venueName, token string, side domain.Side, now time.Time) domain.Leg {
	return domain.Leg{
		ID:        uuid.New().String(),
		TradeID:   tradeID,
		Venue:     venueName,
		Token:     token,
		Side:      side,
		Leverage:  t.cfg.Leverage,
		Status:    domain.LegStatusOpening,
		OpenedAt:  now,
		UpdatedAt: now,
	}
}

// openLeg sizes, submits, and confirms one leg, then records the fill.
func (t *Trader) openLeg(ctx context.Context, leg *domain.Leg) error {
	c, err := t.registry.Get(leg.Venue)
	if err != nil {
		return fmt.Errorf("connector %s: %w", leg.Venue, err)
	}
	mark, err := c.GetPrice(ctx, leg.Token)
	if err != nil {
		return err
	}
	size := t.cfg.NotionalUSD / mark
	if t.cfg.Leverage > 0 {
		if _, err := c.SetLeverage(ctx, leg.Token, t.cfg.Leverage); err != nil {
			return fmt.Errorf("set leverage: %w", err)
		}
	}

	placed, err := t.exec.OpenPosition(ctx, c, domain.OrderIntent{
		Token:             leg.Token,
		Side:              leg.Side,
		Size:              size,
		Leverage:          t.cfg.Leverage,
		SlippageTolerance: t.cfg.Slippage,
	})
	if err != nil {
		return err
	}

	leg.Size = placed.Size
	leg.EntryPrice = placed.Price
	leg.Cost = placed.Size * placed.Price
	leg.ExternalID = placed.OrderID
	leg.Status = domain.LegStatusOpen
	leg.UpdatedAt = t.now().UTC()
	return t.legs.Update(ctx, *leg)
}

// failTrade records a failed open attempt: the failed leg goes ERROR and the
// trade status is re-derived from both legs.
func (t *Trader) failTrade(ctx context.Context, trade *domain.Trade, failedLeg int, cause error) {
	now := t.now().UTC()
	trade.Legs[failedLeg].Status = domain.LegStatusError
	trade.Legs[failedLeg].UpdatedAt = now
	if err := t.legs.Update(ctx, trade.Legs[failedLeg]); err != nil {
		t.logger.Error("failed-leg update failed",
			slog.String("leg_id", trade.Legs[failedLeg].ID),
			slog.Any("error", err))
	}

	trade.Status = domain.DeriveTradeStatus(trade.Legs[0].Status, trade.Legs[1].Status)
	trade.UpdatedAt = now
	if err := t.trades.Update(ctx, *trade); err != nil {
		t.logger.Error("failed-trade update failed",
			slog.String("trade_id", trade.ID),
			slog.Any("error", err))
	}
	t.logger.Error("trade open failed",
		slog.String("trade_id", trade.ID),
		slog.String("venue", trade.Legs[failedLeg].Venue),
		slog.Any("error", cause))
}
