package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/execution"
	"github.com/perparb/fundarb/internal/venue"
)

// Close reasons recorded on the trade and reported in events.
const (
	CloseReasonAPR     = "apr_below_threshold"
	CloseReasonPnL     = "pnl_floor"
	CloseReasonTimeout = "timeout"
	CloseReasonManual  = "manual"
)

// AutoCloser evaluates closure thresholds for every open trade and requests
// closure on the first matching condition.
type AutoCloser struct {
	registry *venue.Registry
	trades   domain.TradeStore
	legs     domain.LegStore
	exec     *execution.Executor
	events   EventSink
	logger   *slog.Logger
	slippage float64
	now      func() time.Time
}

// NewAutoCloser creates an AutoCloser. slippage is the tolerance passed to
// close orders so they cross the book.
func NewAutoCloser(
	registry *venue.Registry,
	trades domain.TradeStore,
	legs domain.LegStore,
	exec *execution.Executor,
	events EventSink,
	slippage float64,
	logger *slog.Logger,
) *AutoCloser {
	return &AutoCloser{
		registry: registry,
		trades:   trades,
		legs:     legs,
		exec:     exec,
		events:   events,
		logger:   logger.With(slog.String("component", "autoclose")),
		slippage: slippage,
		now:      time.Now,
	}
}

// AutoCloseResult summarizes one evaluation cycle.
type AutoCloseResult struct {
	Evaluated int
	Triggered int
	Failures  []string
}

// Run evaluates every OPEN trade with auto-close enabled and closes the ones
// that trigger.
func (a *AutoCloser) Run(ctx context.Context) (AutoCloseResult, error) {
	trades, err := a.trades.ListByStatus(ctx, domain.TradeStatusOpen)
	if err != nil {
		return AutoCloseResult{}, fmt.Errorf("autoclose: list trades: %w", err)
	}

	var result AutoCloseResult
	for _, trade := range trades {
		if !trade.AutoClose.Enabled {
			continue
		}
		result.Evaluated++
		reason, ok := a.evaluate(&trade)
		if !ok {
			continue
		}
		a.logger.Info("auto-close triggered",
			slog.String("trade_id", trade.ID),
			slog.String("token", trade.Token),
			slog.String("reason", reason),
			slog.Float64("current_apr", trade.CurrentAPR),
			slog.Float64("pnl", trade.TotalPnL))
		result.Triggered++
		if err := a.CloseTrade(ctx, &trade, reason); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", trade.ID, err))
		}
	}
	return result, nil
}

// evaluate applies the thresholds in fixed order: APR floor, then PnL floor,
// then timeout. The first match wins and later conditions are not consulted.
func (a *AutoCloser) evaluate(trade *domain.Trade) (string, bool) {
	cfg := trade.AutoClose
	if cfg.APRThreshold > 0 && trade.CurrentAPR < cfg.APRThreshold {
		return CloseReasonAPR, true
	}
	if cfg.PnLThreshold != 0 && trade.TotalPnL <= -abs(cfg.PnLThreshold) {
		return CloseReasonPnL, true
	}
	if cfg.TimeoutHours > 0 && trade.HoursOpen(a.now()) >= cfg.TimeoutHours {
		return CloseReasonTimeout, true
	}
	return "", false
}

// CloseTrade moves the trade to CLOSING and submits both leg closes
// independently and concurrently. A soft failure (timeout, unreachable)
// leaves the leg CLOSING for the next cycle to retry; a hard failure
// (authentication) marks the leg and trade ERROR.
func (a *AutoCloser) CloseTrade(ctx context.Context, trade *domain.Trade, reason string) error {
	now := a.now().UTC()
	trade.Status = domain.TradeStatusClosing
	trade.CloseReason = reason
	trade.UpdatedAt = now
	if err := a.trades.Update(ctx, *trade); err != nil {
		return fmt.Errorf("autoclose: mark trade closing: %w", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		hardFail bool
		firstErr error
	)
	for i := range trade.Legs {
		leg := trade.Legs[i]
		if leg.Status.Terminal() {
			continue
		}
		leg.Status = domain.LegStatusClosing
		leg.UpdatedAt = now
		if err := a.legs.Update(ctx, leg); err != nil {
			return fmt.Errorf("autoclose: mark leg closing: %w", err)
		}

		wg.Add(1)
		go func(leg domain.Leg) {
			defer wg.Done()
			err := a.closeLeg(ctx, leg)
			if err == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			if errors.Is(err, domain.ErrAuthenticationFailed) {
				hardFail = true
				leg.Status = domain.LegStatusError
				leg.UpdatedAt = a.now().UTC()
				if uerr := a.legs.Update(ctx, leg); uerr != nil {
					a.logger.Error("leg error-state update failed",
						slog.String("leg_id", leg.ID),
						slog.Any("error", uerr))
				}
			}
		}(leg)
	}
	wg.Wait()

	if hardFail {
		trade.Status = domain.TradeStatusError
		trade.UpdatedAt = a.now().UTC()
		if err := a.trades.Update(ctx, *trade); err != nil {
			a.logger.Error("trade error-state update failed",
				slog.String("trade_id", trade.ID),
				slog.Any("error", err))
		}
		a.events.Publish(ctx, domain.Event{
			Type:     domain.EventCriticalAlert,
			Severity: domain.SeverityCritical,
			Title:    "Trade close hard-failed",
			Message:  fmt.Sprintf("%s close failed with an authentication error, position may be unhedged", trade.Token),
			Payload:  map[string]any{"trade_id": trade.ID, "token": trade.Token, "reason": reason},
			At:       a.now().UTC(),
		})
	}
	if firstErr != nil {
		return fmt.Errorf("autoclose: close trade %s: %w", trade.ID, firstErr)
	}
	return nil
}

// closeLeg submits one reduce-only close through the execution protocol.
func (a *AutoCloser) closeLeg(ctx context.Context, leg domain.Leg) error {
	c, err := a.registry.Get(leg.Venue)
	if err != nil {
		return fmt.Errorf("autoclose: connector %s: %w", leg.Venue, err)
	}
	_, err = a.exec.ClosePosition(ctx, c, domain.OrderIntent{
		Token:             leg.Token,
		Side:              leg.Side,
		Size:              leg.Size,
		SlippageTolerance: a.slippage,
	})
	if err != nil {
		a.logger.Warn("leg close failed",
			slog.String("leg_id", leg.ID),
			slog.String("venue", leg.Venue),
			slog.Any("error", err))
		return err
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
