package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

// defaultOpeningGrace is how long an OPENING leg may stay invisible on its
// venue before reconciliation declares the open attempt lost.
const defaultOpeningGrace = 2 * time.Minute

// Reconciler merges venue-reported positions into locally-tracked legs and
// re-derives trade status afterwards. Venue truth always wins over local
// estimates.
type Reconciler struct {
	registry *venue.Registry
	legs     domain.LegStore
	trades   domain.TradeStore
	funding  *FundingService
	events   EventSink
	logger   *slog.Logger
	grace    time.Duration
	now      func() time.Time
}

// NewReconciler creates a Reconciler with the default opening grace delay.
func NewReconciler(
	registry *venue.Registry,
	legs domain.LegStore,
	trades domain.TradeStore,
	funding *FundingService,
	events EventSink,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		registry: registry,
		legs:     legs,
		trades:   trades,
		funding:  funding,
		events:   events,
		logger:   logger.With(slog.String("component", "reconciler")),
		grace:    defaultOpeningGrace,
		now:      time.Now,
	}
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	LegsChecked   int
	LegsUpdated   int
	TradesUpdated int
	VenueErrors   map[string]string
}

// Reconcile runs one full pass: fetch venue positions concurrently, merge
// them into non-terminal legs, then re-derive every non-terminal trade's
// status and aggregates.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	byVenue, failed := r.fetchPositions(ctx)
	result := ReconcileResult{VenueErrors: failed}

	legs, err := r.legs.ListByStatus(ctx, domain.LegStatusOpening, domain.LegStatusOpen, domain.LegStatusClosing)
	if err != nil {
		return result, fmt.Errorf("reconciler: list legs: %w", err)
	}
	result.LegsChecked = len(legs)

	for _, leg := range legs {
		// A venue that failed this cycle contributes nothing; its legs are
		// left untouched rather than treated as missing.
		if _, venueFailed := failed[leg.Venue]; venueFailed {
			continue
		}
		changed := r.mergeLeg(&leg, byVenue[leg.Venue])
		if !changed {
			continue
		}
		leg.UpdatedAt = r.now().UTC()
		if err := r.legs.Update(ctx, leg); err != nil {
			r.logger.Error("leg update failed",
				slog.String("leg_id", leg.ID),
				slog.Any("error", err))
			continue
		}
		result.LegsUpdated++
		r.events.Publish(ctx, domain.Event{
			Type:     domain.EventLegUpdated,
			Severity: domain.SeverityInfo,
			Title:    "Leg updated",
			Message:  fmt.Sprintf("%s %s leg on %s now %s", leg.Token, leg.Side, leg.Venue, leg.Status),
			Payload: map[string]any{
				"leg_id":   leg.ID,
				"trade_id": leg.TradeID,
				"venue":    leg.Venue,
				"status":   string(leg.Status),
			},
			At: r.now().UTC(),
		})
	}

	updated, err := r.refreshTrades(ctx)
	if err != nil {
		return result, err
	}
	result.TradesUpdated = updated
	return result, nil
}

// fetchPositions fans out GetAllPositions to every account-capable venue.
// The second return maps failed venue names to their errors.
func (r *Reconciler) fetchPositions(ctx context.Context) (map[string][]domain.PositionRecord, map[string]string) {
	connectors := r.registry.WithCapability(venue.CapAccountData)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		byVenue  = make(map[string][]domain.PositionRecord, len(connectors))
		failures = make(map[string]string)
	)
	for _, c := range connectors {
		wg.Add(1)
		go func(c venue.Connector) {
			defer wg.Done()
			positions, err := c.GetAllPositions(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("position fetch failed",
					slog.String("venue", c.Name()),
					slog.Any("error", err))
				failures[c.Name()] = err.Error()
				return
			}
			byVenue[c.Name()] = positions
		}(c)
	}
	wg.Wait()
	return byVenue, failures
}

// mergeLeg applies the venue's report for one leg and returns whether the
// leg changed. Absence is interpreted by the leg's expected phase: a leg
// still OPENING is given a grace delay, a confirmed OPEN leg that vanished
// is an error, and absence is the normal terminal signal for CLOSING.
func (r *Reconciler) mergeLeg(leg *domain.Leg, venuePositions []domain.PositionRecord) bool {
	for _, p := range venuePositions {
		if p.Token != leg.Token {
			continue
		}
		prev := *leg
		leg.Side = p.Side
		leg.Size = p.Size
		leg.EntryPrice = p.EntryPrice
		if p.Leverage > 0 {
			leg.Leverage = p.Leverage
		}
		leg.Cost = p.Size * p.EntryPrice
		leg.UnrealizedPnL = p.UnrealizedPnL
		leg.RealizedPnL = p.RealizedPnL
		if leg.Status == domain.LegStatusOpening {
			leg.Status = domain.LegStatusOpen
		}
		return *leg != prev
	}

	switch leg.Status {
	case domain.LegStatusOpening:
		if r.now().Sub(leg.OpenedAt) < r.grace {
			return false
		}
		r.logger.Warn("opening leg never landed",
			slog.String("leg_id", leg.ID),
			slog.String("venue", leg.Venue),
			slog.String("token", leg.Token))
		leg.Status = domain.LegStatusError
		return true
	case domain.LegStatusOpen:
		r.logger.Error("open position vanished from venue",
			slog.String("leg_id", leg.ID),
			slog.String("venue", leg.Venue),
			slog.String("token", leg.Token))
		leg.Status = domain.LegStatusError
		return true
	case domain.LegStatusClosing:
		leg.Status = domain.LegStatusClosed
		return true
	default:
		return false
	}
}

// refreshTrades re-derives status and aggregates for every non-terminal
// trade from its current legs.
func (r *Reconciler) refreshTrades(ctx context.Context) (int, error) {
	trades, err := r.trades.ListByStatus(ctx,
		domain.TradeStatusOpening, domain.TradeStatusOpen,
		domain.TradeStatusClosing, domain.TradeStatusError)
	if err != nil {
		return 0, fmt.Errorf("reconciler: list trades: %w", err)
	}

	updated := 0
	for _, trade := range trades {
		legs, err := r.legs.ListByTrade(ctx, trade.ID)
		if err != nil || len(legs) != 2 {
			r.logger.Error("trade legs unavailable",
				slog.String("trade_id", trade.ID),
				slog.Int("legs", len(legs)),
				slog.Any("error", err))
			continue
		}
		trade.Legs[0], trade.Legs[1] = legs[0], legs[1]

		prev := trade.Status
		trade.Status = domain.DeriveTradeStatus(legs[0].Status, legs[1].Status)
		trade.Recompute()
		if trade.Status == domain.TradeStatusOpen {
			if apr, ok := r.currentAPR(ctx, &trade); ok {
				trade.CurrentAPR = apr
			}
		}

		now := r.now().UTC()
		trade.UpdatedAt = now
		if trade.Status == domain.TradeStatusClosed && trade.ClosedAt == nil {
			trade.ClosedAt = &now
		}
		if err := r.trades.Update(ctx, trade); err != nil {
			r.logger.Error("trade update failed",
				slog.String("trade_id", trade.ID),
				slog.Any("error", err))
			continue
		}
		updated++
		r.announce(ctx, trade, prev)
	}
	return updated, nil
}

// currentAPR recomputes the trade's spread APR from the latest snapshots for
// each leg's venue.
func (r *Reconciler) currentAPR(ctx context.Context, trade *domain.Trade) (float64, bool) {
	long, short := trade.LongLeg(), trade.ShortLeg()
	longSnap, err := r.funding.Latest(ctx, long.Venue, long.Token)
	if err != nil {
		return 0, false
	}
	shortSnap, err := r.funding.Latest(ctx, short.Venue, short.Token)
	if err != nil {
		return 0, false
	}
	return domain.SpreadAPR(longSnap, shortSnap), true
}

func (r *Reconciler) announce(ctx context.Context, trade domain.Trade, prev domain.TradeStatus) {
	if trade.Status == prev {
		return
	}
	switch trade.Status {
	case domain.TradeStatusClosed:
		r.events.Publish(ctx, domain.Event{
			Type:     domain.EventTradeClosed,
			Severity: domain.SeverityInfo,
			Title:    "Trade closed",
			Message:  fmt.Sprintf("%s closed, PnL %.2f (%s)", trade.Token, trade.TotalPnL, trade.CloseReason),
			Payload: map[string]any{
				"trade_id": trade.ID,
				"token":    trade.Token,
				"pnl":      trade.TotalPnL,
				"reason":   trade.CloseReason,
			},
			At: r.now().UTC(),
		})
	case domain.TradeStatusError:
		r.events.Publish(ctx, domain.Event{
			Type:     domain.EventCriticalAlert,
			Severity: domain.SeverityCritical,
			Title:    "Trade in error state",
			Message:  fmt.Sprintf("%s has unhedged exposure, manual review required", trade.Token),
			Payload: map[string]any{
				"trade_id": trade.ID,
				"token":    trade.Token,
			},
			At: r.now().UTC(),
		})
	}
}
