package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perparb/fundarb/internal/feed"
	"github.com/perparb/fundarb/internal/server"
	"github.com/perparb/fundarb/internal/server/handler"
	"github.com/perparb/fundarb/internal/venue"
	"github.com/perparb/fundarb/internal/venue/aster"
	"github.com/perparb/fundarb/internal/venue/edgex"
	"github.com/perparb/fundarb/internal/venue/orderly"
	"github.com/perparb/fundarb/internal/venue/vest"
)

// TradeMode runs the full trading loop: periodic jobs (including the
// opportunity trader), supplementary mark-price feeds, and the HTTP surface
// when enabled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})

	a.startFeeds(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// MonitorMode reconciles and auto-closes existing trades but never opens new
// ones: the trader job is simply not registered in this mode.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})

	a.startFeeds(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ServerMode serves the HTTP surface only. Periodic jobs do not run on a
// schedule, but remain manually triggerable via POST /api/jobs/{name}/run.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: all jobs, feeds, and the HTTP server regardless
// of server.enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})

	a.startFeeds(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the HTTP server goroutine plus a shutdown watcher to
// the given errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.logger),
			Trades:  handler.NewTradesHandler(deps.Trades, a.logger),
			Funding: handler.NewFundingHandler(deps.FundingSvc, a.cfg.Trader.Tokens, a.logger),
			Jobs:    handler.NewJobsHandler(deps.Scheduler, a.logger),
		},
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// feedPatterns maps venue names to their native symbol patterns, for building
// mark-price subscriptions without a connector round trip.
var feedPatterns = map[string]string{
	aster.Name:   aster.SymbolPattern,
	orderly.Name: orderly.SymbolPattern,
	edgex.Name:   edgex.SymbolPattern,
	vest.Name:    vest.SymbolPattern,
}

// feedDialects maps venue names to their stream protocols. Venues without an
// entry use the feed package's default dialect.
var feedDialects = map[string]feed.Dialect{
	aster.Name: feed.BinanceDialect{},
}

// startFeeds launches one supplementary mark-price stream per enabled venue
// that has a WebSocket endpoint configured. Ticks refresh the mark price of
// the cached funding snapshot between REST polls; reconciliation never
// depends on them.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	venues := map[string]string{
		aster.Name:   a.cfg.Venues.Aster.WsURL,
		orderly.Name: a.cfg.Venues.Orderly.WsURL,
		edgex.Name:   a.cfg.Venues.Edgex.WsURL,
		vest.Name:    a.cfg.Venues.Vest.WsURL,
	}

	for _, name := range deps.Registry.Names() {
		wsURL := venues[name]
		if wsURL == "" {
			continue
		}
		mapper, err := venue.NewPatternMapper(feedPatterns[name])
		if err != nil {
			a.logger.Warn("feed disabled, bad symbol pattern",
				slog.String("venue", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		symbols := make([]string, 0, len(a.cfg.Trader.Tokens))
		for _, token := range a.cfg.Trader.Tokens {
			symbols = append(symbols, mapper.ToSymbol(token))
		}

		f := feed.NewMarkPriceFeed(name, wsURL, symbols, feedDialects[name],
			a.markPriceHandler(deps, mapper), a.logger)
		g.Go(func() error {
			return f.Run(ctx)
		})
	}
}

// markPriceHandler refreshes the cached funding snapshot's mark price. Cache
// misses are ignored: the next funding poll creates the snapshot.
func (a *App) markPriceHandler(deps *Dependencies, mapper *venue.PatternMapper) feed.MarkPriceHandler {
	return func(ctx context.Context, tick feed.MarkPrice) {
		token, ok := mapper.ToToken(tick.Symbol)
		if !ok {
			return
		}
		snap, err := deps.FundingCache.Get(ctx, tick.Venue, token)
		if err != nil {
			return
		}
		price, _ := tick.Price.Float64()
		if price <= 0 || price == snap.MarkPrice {
			return
		}
		snap.MarkPrice = price
		if err := deps.FundingCache.Set(ctx, snap); err != nil {
			a.logger.Debug("mark price cache refresh failed",
				slog.String("venue", tick.Venue),
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
		}
	}
}
