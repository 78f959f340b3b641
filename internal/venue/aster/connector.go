// Package aster implements the venue.Connector contract for the Aster
// perpetual futures exchange, a Binance-dialect API authenticated with an
// API key header and an HMAC-SHA256 hex signature over the query string.
package aster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/perparb/fundarb/internal/crypto"
	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

const (
	// Name is the registry identifier for this venue.
	Name = "aster"

	// SymbolPattern maps a token to this venue's native instrument name.
	SymbolPattern = "%sUSDT"

	defaultAPIKeyHeader     = "X-MBX-APIKEY"
	defaultFundingFrequency = 8 // hours
)

// Options configures a Connector. Missing credentials degrade the venue to
// its public market-data operations.
type Options struct {
	BaseURL               string
	APIKey                string
	APISecret             string
	APIKeyHeader          string  // defaults to X-MBX-APIKEY
	FundingFrequencyHours float64 // defaults to 8
	Logger                *slog.Logger
}

// Connector is the Aster venue adapter.
type Connector struct {
	baseURL      string
	auth         crypto.HMACAuth
	apiKeyHeader string
	fundingFreq  float64
	mapper       *venue.PatternMapper
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	markets map[string]domain.VenueMarket // by token
}

var _ venue.Connector = (*Connector)(nil)

// New builds an Aster connector. BaseURL is required.
func New(opts Options) (*Connector, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("aster: BaseURL is required")
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = defaultAPIKeyHeader
	}
	if opts.FundingFrequencyHours <= 0 {
		opts.FundingFrequencyHours = defaultFundingFrequency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mapper, err := venue.NewPatternMapper(SymbolPattern)
	if err != nil {
		return nil, err
	}

	return &Connector{
		baseURL:      opts.BaseURL,
		auth:         crypto.HMACAuth{Key: opts.APIKey, Secret: opts.APISecret},
		apiKeyHeader: opts.APIKeyHeader,
		fundingFreq:  opts.FundingFrequencyHours,
		mapper:       mapper,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       opts.Logger.With(slog.String("component", "venue.aster")),
		now:          time.Now,
		markets:      make(map[string]domain.VenueMarket),
	}, nil
}

// Name implements venue.Connector.
func (c *Connector) Name() string { return Name }

// Capabilities reports market data always; trading and account data only
// when credentials are present.
func (c *Connector) Capabilities() venue.Capability {
	caps := venue.CapMarketData
	if c.auth.Configured() {
		caps |= venue.CapTrading | venue.CapAccountData
	}
	return caps
}

// TestConnection fetches exchange metadata, primes the market cache, and
// returns the number of trading markets seen.
func (c *Connector) TestConnection(ctx context.Context) (int, error) {
	n, err := c.refreshMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("aster: test connection: %w", err)
	}
	return n, nil
}

// GetFundingRates returns funding snapshots for the given tokens, or every
// cached market when tokens is empty.
func (c *Connector) GetFundingRates(ctx context.Context, tokens []string) ([]domain.FundingRateSnapshot, error) {
	if len(tokens) == 0 {
		var err error
		tokens, err = c.knownTokens(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.FundingRateSnapshot, 0, len(tokens))
	for _, token := range tokens {
		pi, err := c.premiumIndex(ctx, token)
		if err != nil {
			if errors.Is(err, domain.ErrDataUnavailable) {
				c.logger.Warn("no funding data", slog.String("token", token))
				continue
			}
			return nil, err
		}
		out = append(out, domain.FundingRateSnapshot{
			Venue:          Name,
			Token:          token,
			Rate:           parseFloat(pi.LastFundingRate),
			FrequencyHours: c.fundingFreq,
			NextFundingAt:  msToTime(pi.NextFundingTime),
			MarkPrice:      parseFloat(pi.MarkPrice),
			IndexPrice:     parseFloat(pi.IndexPrice),
			FetchedAt:      c.now().UTC(),
		})
	}
	return out, nil
}

// GetPrice returns the current mark price for token.
func (c *Connector) GetPrice(ctx context.Context, token string) (float64, error) {
	pi, err := c.premiumIndex(ctx, token)
	if err != nil {
		return 0, err
	}
	price := parseFloat(pi.MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("aster: no mark price for %s: %w", token, domain.ErrDataUnavailable)
	}
	return price, nil
}

// SetLeverage sets contract leverage and returns the effective value.
func (c *Connector) SetLeverage(ctx context.Context, token string, leverage float64) (float64, error) {
	params := url.Values{}
	params.Set("symbol", c.mapper.ToSymbol(token))
	params.Set("leverage", strconv.Itoa(int(leverage)))

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	if err != nil {
		return 0, fmt.Errorf("aster: set leverage: %w", err)
	}
	var resp leverageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("aster: decode leverage response: %w", err)
	}
	return float64(resp.Leverage), nil
}

// PlaceOrder quantizes and submits a limit order.
func (c *Connector) PlaceOrder(ctx context.Context, intent domain.OrderIntent, reduceOnly bool) (domain.PlacedOrder, error) {
	m, err := c.market(ctx, intent.Token)
	if err != nil {
		return domain.PlacedOrder{}, err
	}
	mark, err := c.GetPrice(ctx, intent.Token)
	if err != nil {
		return domain.PlacedOrder{}, err
	}
	price, size, err := venue.QuantizeIntent(m, intent, mark)
	if err != nil {
		return domain.PlacedOrder{}, err
	}

	side := "BUY"
	if intent.Side == domain.SideShort {
		side = "SELL"
	}

	params := url.Values{}
	params.Set("symbol", m.Symbol)
	params.Set("side", side)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", venue.FormatDecimal(size, m.SizePrecision))
	params.Set("price", venue.FormatDecimal(price, m.PricePrecision))
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("aster: place order: %w", err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("aster: decode order response: %w", err)
	}
	if resp.Status == "REJECTED" {
		return domain.PlacedOrder{}, fmt.Errorf("aster: order rejected: %w", domain.ErrOrderRejected)
	}

	c.logger.Info("order placed",
		slog.String("symbol", m.Symbol),
		slog.String("side", side),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.Int64("order_id", resp.OrderID))

	return domain.PlacedOrder{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Price:   price,
		Size:    size,
		Filled:  resp.Status == "FILLED",
	}, nil
}

// CancelOrder cancels an order; cancelling an order the venue no longer
// knows is treated as already settled, not an error.
func (c *Connector) CancelOrder(ctx context.Context, token, orderID string) (bool, error) {
	params := url.Values{}
	params.Set("symbol", c.mapper.ToSymbol(token))
	params.Set("orderId", orderID)

	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("aster: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// GetOrderStatus reports the venue state of a submitted order.
func (c *Connector) GetOrderStatus(ctx context.Context, token, orderID string) (domain.OrderState, error) {
	params := url.Values{}
	params.Set("symbol", c.mapper.ToSymbol(token))
	params.Set("orderId", orderID)

	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return "", fmt.Errorf("aster: order status %s: %w", orderID, err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("aster: decode order status: %w", err)
	}

	switch resp.Status {
	case "NEW", "PARTIALLY_FILLED":
		return domain.OrderStateOpen, nil
	case "FILLED":
		return domain.OrderStateFilled, nil
	case "CANCELED", "EXPIRED":
		return domain.OrderStateCanceled, nil
	case "REJECTED":
		return domain.OrderStateRejected, nil
	default:
		return "", fmt.Errorf("aster: unknown order status %q", resp.Status)
	}
}

// GetAllPositions returns every non-flat position on the venue.
func (c *Connector) GetAllPositions(ctx context.Context) ([]domain.PositionRecord, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("aster: positions: %w", err)
	}
	var entries []positionRiskEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("aster: decode positions: %w", err)
	}

	out := make([]domain.PositionRecord, 0, len(entries))
	for _, e := range entries {
		amt := parseFloat(e.PositionAmt)
		if amt == 0 {
			continue
		}
		token, ok := c.mapper.ToToken(e.Symbol)
		if !ok {
			continue
		}
		side := domain.SideLong
		size := amt
		if amt < 0 {
			side = domain.SideShort
			size = -amt
		}
		out = append(out, domain.PositionRecord{
			Venue:         Name,
			Token:         token,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(e.EntryPrice),
			MarkPrice:     parseFloat(e.MarkPrice),
			Leverage:      parseFloat(e.Leverage),
			UnrealizedPnL: parseFloat(e.UnrealizedProfit),
		})
	}
	return out, nil
}

// ClosePosition submits a reduce-only order on the opposite side.
func (c *Connector) ClosePosition(ctx context.Context, intent domain.OrderIntent) (string, error) {
	return venue.CloseByReduceOnly(ctx, c, intent)
}

// --------------------------------------------------------------------------
// Market metadata
// --------------------------------------------------------------------------

// market returns cached metadata for token, fetching lazily on first use.
func (c *Connector) market(ctx context.Context, token string) (domain.VenueMarket, error) {
	c.mu.RLock()
	m, ok := c.markets[token]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	if _, err := c.refreshMarkets(ctx); err != nil {
		return domain.VenueMarket{}, err
	}

	c.mu.RLock()
	m, ok = c.markets[token]
	c.mu.RUnlock()
	if !ok {
		return domain.VenueMarket{}, fmt.Errorf("aster: no market for token %s: %w", token, domain.ErrDataUnavailable)
	}
	return m, nil
}

func (c *Connector) knownTokens(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	n := len(c.markets)
	c.mu.RUnlock()
	if n == 0 {
		if _, err := c.refreshMarkets(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	tokens := make([]string, 0, len(c.markets))
	for token := range c.markets {
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// refreshMarkets reloads the symbol table from exchange metadata.
func (c *Connector) refreshMarkets(ctx context.Context) (int, error) {
	body, err := c.doPublic(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return 0, err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, fmt.Errorf("aster: decode exchange info: %w", err)
	}

	now := c.now().UTC()
	fresh := make(map[string]domain.VenueMarket, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		token, ok := c.mapper.ToToken(s.Symbol)
		if !ok {
			continue
		}
		m := domain.VenueMarket{
			Venue:          Name,
			Token:          token,
			Symbol:         s.Symbol,
			PricePrecision: s.PricePrecision,
			SizePrecision:  s.QuantityPrecision,
			RefreshedAt:    now,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				m.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				m.StepSize = parseFloat(f.StepSize)
				m.MinOrderSize = parseFloat(f.MinQty)
				m.MaxOrderSize = parseFloat(f.MaxQty)
			case "MIN_NOTIONAL":
				m.MinNotional = parseFloat(f.MinNotional)
			}
		}
		fresh[token] = m
	}

	c.mu.Lock()
	c.markets = fresh
	c.mu.Unlock()

	return len(fresh), nil
}
