// Package execution implements the order confirmation protocol: submit an
// order through a venue connector, then confirm the fill by bounded status
// polling, cancelling on timeout. Venues do not guarantee synchronous fill
// confirmation on submission, so every open and close goes through this
// loop.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultConfirmTimeout = 60 * time.Second
)

// Executor drives one order from submission to a terminal outcome.
type Executor struct {
	clock          Clock
	logger         *slog.Logger
	pollInterval   time.Duration
	confirmTimeout time.Duration
}

// Options configures an Executor. Zero values fall back to the defaults.
type Options struct {
	Clock          Clock
	Logger         *slog.Logger
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// New builds an Executor.
func New(opts Options) *Executor {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	return &Executor{
		clock:          opts.Clock,
		logger:         opts.Logger.With(slog.String("component", "execution")),
		pollInterval:   opts.PollInterval,
		confirmTimeout: opts.ConfirmTimeout,
	}
}

// OpenPosition submits the intent and confirms the fill. On immediate fill
// it returns directly; otherwise it polls order status until the order is
// terminal or the confirmation ceiling expires. On expiry it issues a
// best-effort cancel and fails with domain.ErrOrderTimeout; the position may
// still have filled during the race, which reconciliation will surface.
func (e *Executor) OpenPosition(ctx context.Context, c venue.Connector, intent domain.OrderIntent) (domain.PlacedOrder, error) {
	// Baseline position size, taken before submission so that an order the
	// venue forgets about can still be confirmed by an observed increase.
	baseline, baselineKnown := e.positionSize(ctx, c, intent.Token, intent.Side)

	placed, err := c.PlaceOrder(ctx, intent, false)
	if err != nil {
		return domain.PlacedOrder{}, err
	}
	if placed.Filled {
		return placed, nil
	}
	return e.confirm(ctx, c, intent.Token, placed, intent.Side, baseline, baselineKnown, false)
}

// ClosePosition submits a close through the connector's own ClosePosition,
// so venues with a dedicated close endpoint use it, and confirms the fill
// the same way OpenPosition does. The intent carries the side of the open
// position being closed.
func (e *Executor) ClosePosition(ctx context.Context, c venue.Connector, intent domain.OrderIntent) (domain.PlacedOrder, error) {
	baseline, baselineKnown := e.positionSize(ctx, c, intent.Token, intent.Side)

	orderID, err := c.ClosePosition(ctx, intent)
	if err != nil {
		return domain.PlacedOrder{}, err
	}
	placed := domain.PlacedOrder{OrderID: orderID, Size: intent.Size}
	return e.confirm(ctx, c, intent.Token, placed, intent.Side, baseline, baselineKnown, true)
}

// confirm polls order status until the order is terminal or the ceiling
// expires. watchSide is the position side whose size movement independently
// confirms an order the venue no longer reports: growth for an open,
// shrinkage when reducing.
func (e *Executor) confirm(ctx context.Context, c venue.Connector, token string, placed domain.PlacedOrder, watchSide domain.Side, baseline float64, baselineKnown, reducing bool) (domain.PlacedOrder, error) {
	deadline := e.clock.Now().Add(e.confirmTimeout)
	for {
		select {
		case <-ctx.Done():
			return placed, ctx.Err()
		case <-e.clock.After(e.pollInterval):
		}

		state, err := c.GetOrderStatus(ctx, token, placed.OrderID)
		switch {
		case err == nil:
			switch state {
			case domain.OrderStateFilled:
				placed.Filled = true
				return placed, nil
			case domain.OrderStateCanceled:
				return placed, fmt.Errorf("execution: order %s canceled on venue: %w", placed.OrderID, domain.ErrOrderRejected)
			case domain.OrderStateRejected:
				return placed, fmt.Errorf("execution: order %s: %w", placed.OrderID, domain.ErrOrderRejected)
			}
		case errors.Is(err, domain.ErrNotFound):
			// The order vanished without a terminal status. Treat it as
			// filled only when a position change in the order's direction is
			// independently observable; otherwise keep polling.
			if baselineKnown {
				size, ok := e.positionSize(ctx, c, token, watchSide)
				if ok && ((!reducing && size > baseline) || (reducing && size < baseline)) {
					placed.Filled = true
					return placed, nil
				}
			}
		default:
			e.logger.Warn("order status poll failed",
				slog.String("venue", c.Name()),
				slog.String("order_id", placed.OrderID),
				slog.Any("error", err))
		}

		if !e.clock.Now().Before(deadline) {
			break
		}
	}

	if _, err := c.CancelOrder(ctx, token, placed.OrderID); err != nil {
		// The cancel race is resolved by reconciliation, not here.
		e.logger.Warn("cancel after timeout failed",
			slog.String("venue", c.Name()),
			slog.String("order_id", placed.OrderID),
			slog.Any("error", err))
	}
	return placed, fmt.Errorf("execution: order %s on %s not confirmed within %s: %w",
		placed.OrderID, c.Name(), e.confirmTimeout, domain.ErrOrderTimeout)
}

// positionSize reports the venue-side size of the (token, side) position.
// The second return is false when the venue could not be asked, in which
// case the absent-order heuristic is disabled rather than fed a guess.
func (e *Executor) positionSize(ctx context.Context, c venue.Connector, token string, side domain.Side) (float64, bool) {
	if !c.Capabilities().Has(venue.CapAccountData) {
		return 0, false
	}
	positions, err := c.GetAllPositions(ctx)
	if err != nil {
		return 0, false
	}
	for _, p := range positions {
		if p.Token == token && p.Side == side {
			return p.Size, true
		}
	}
	return 0, true
}
