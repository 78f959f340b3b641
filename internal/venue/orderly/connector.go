// Package orderly implements the venue.Connector contract for the Orderly
// network gateway. Requests are authenticated with an Ed25519 signature
// over timestamp+method+path+body carried in orderly-* headers.
package orderly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/perparb/fundarb/internal/crypto"
	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

const (
	// Name is the registry identifier for this venue.
	Name = "orderly"

	// SymbolPattern maps a token to this venue's native instrument name.
	SymbolPattern = "PERP_%s_USDC"

	defaultFundingFrequency = 8 // hours
)

// Options configures a Connector. Without a signing key the venue degrades
// to public market data.
type Options struct {
	BaseURL               string
	AccountID             string
	SigningKeyHex         string // Ed25519 seed, hex
	FundingFrequencyHours float64
	Logger                *slog.Logger
}

// Connector is the Orderly venue adapter.
type Connector struct {
	baseURL     string
	accountID   string
	signer      *crypto.Ed25519Signer
	fundingFreq float64
	mapper      *venue.PatternMapper
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.RWMutex
	markets map[string]domain.VenueMarket
}

var _ venue.Connector = (*Connector)(nil)

// New builds an Orderly connector.
func New(opts Options) (*Connector, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("orderly: BaseURL is required")
	}
	if opts.FundingFrequencyHours <= 0 {
		opts.FundingFrequencyHours = defaultFundingFrequency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var signer *crypto.Ed25519Signer
	if opts.SigningKeyHex != "" {
		var err error
		signer, err = crypto.NewEd25519Signer(opts.SigningKeyHex)
		if err != nil {
			return nil, fmt.Errorf("orderly: %w", err)
		}
	}

	mapper, err := venue.NewPatternMapper(SymbolPattern)
	if err != nil {
		return nil, err
	}

	return &Connector{
		baseURL:     opts.BaseURL,
		accountID:   opts.AccountID,
		signer:      signer,
		fundingFreq: opts.FundingFrequencyHours,
		mapper:      mapper,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      opts.Logger.With(slog.String("component", "venue.orderly")),
		now:         time.Now,
		markets:     make(map[string]domain.VenueMarket),
	}, nil
}

// Name implements venue.Connector.
func (c *Connector) Name() string { return Name }

// Capabilities reports market data always; trading and account data only
// with a signing key and account id.
func (c *Connector) Capabilities() venue.Capability {
	caps := venue.CapMarketData
	if c.signer != nil && c.accountID != "" {
		caps |= venue.CapTrading | venue.CapAccountData
	}
	return caps
}

// TestConnection fetches the public symbol table and returns its size.
func (c *Connector) TestConnection(ctx context.Context) (int, error) {
	n, err := c.refreshMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("orderly: test connection: %w", err)
	}
	return n, nil
}

// GetFundingRates returns funding snapshots for the given tokens, or every
// known market when tokens is empty.
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
		symbol := c.mapper.ToSymbol(token)
		body, err := c.doPublic(ctx, http.MethodGet, "/v1/public/funding_rate/"+symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				c.logger.Warn("no funding data", slog.String("token", token))
				continue
			}
			return nil, fmt.Errorf("orderly: funding rate %s: %w", token, err)
		}
		var resp fundingRateResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("orderly: decode funding rate: %w", err)
		}

		mark, index := c.prices(ctx, symbol)
		out = append(out, domain.FundingRateSnapshot{
			Venue:          Name,
			Token:          token,
			Rate:           resp.Data.EstFundingRate,
			FrequencyHours: c.fundingFreq,
			NextFundingAt:  msToTime(resp.Data.NextFundingTime),
			MarkPrice:      mark,
			IndexPrice:     index,
			FetchedAt:      c.now().UTC(),
		})
	}
	return out, nil
}

// GetPrice returns the current mark price for token.
func (c *Connector) GetPrice(ctx context.Context, token string) (float64, error) {
	symbol := c.mapper.ToSymbol(token)
	body, err := c.doPublic(ctx, http.MethodGet, "/v1/public/futures/"+symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("orderly: no ticker for %s: %w", token, domain.ErrDataUnavailable)
		}
		return 0, fmt.Errorf("orderly: price %s: %w", token, err)
	}
	var resp futuresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("orderly: decode futures: %w", err)
	}
	if resp.Data.MarkPrice <= 0 {
		return 0, fmt.Errorf("orderly: no mark price for %s: %w", token, domain.ErrDataUnavailable)
	}
	return resp.Data.MarkPrice, nil
}

// SetLeverage sets the account leverage. Orderly applies leverage
// account-wide, not per contract; the token argument is accepted for
// contract parity and ignored.
func (c *Connector) SetLeverage(ctx context.Context, _ string, leverage float64) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodPost, "/v1/client/leverage",
		map[string]int{"leverage": int(leverage)})
	if err != nil {
		return 0, fmt.Errorf("orderly: set leverage: %w", err)
	}
	var resp leverageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("orderly: decode leverage: %w", err)
	}
	if resp.Data.Leverage > 0 {
		return resp.Data.Leverage, nil
	}
	return leverage, nil
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

	body, err := c.doSigned(ctx, http.MethodPost, "/v1/order", orderRequest{
		Symbol:        m.Symbol,
		OrderType:     "LIMIT",
		OrderPrice:    price,
		OrderQuantity: size,
		Side:          side,
		ReduceOnly:    reduceOnly,
	})
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("orderly: place order: %w", err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("orderly: decode order response: %w", err)
	}

	c.logger.Info("order placed",
		slog.String("symbol", m.Symbol),
		slog.String("side", side),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.Int64("order_id", resp.Data.OrderID))

	return domain.PlacedOrder{
		OrderID: strconv.FormatInt(resp.Data.OrderID, 10),
		Price:   price,
		Size:    size,
	}, nil
}

// CancelOrder cancels an order; an order the venue no longer knows is
// treated as already settled.
func (c *Connector) CancelOrder(ctx context.Context, token, orderID string) (bool, error) {
	path := "/v1/order?order_id=" + orderID + "&symbol=" + c.mapper.ToSymbol(token)
	_, err := c.doSigned(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("orderly: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// GetOrderStatus reports the venue state of a submitted order.
func (c *Connector) GetOrderStatus(ctx context.Context, _ string, orderID string) (domain.OrderState, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/v1/order/"+orderID, nil)
	if err != nil {
		return "", fmt.Errorf("orderly: order status %s: %w", orderID, err)
	}
	var resp orderStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("orderly: decode order status: %w", err)
	}

	switch resp.Data.Status {
	case "NEW", "PARTIAL_FILLED", "REPLACED":
		return domain.OrderStateOpen, nil
	case "FILLED":
		return domain.OrderStateFilled, nil
	case "CANCELLED", "EXPIRED":
		return domain.OrderStateCanceled, nil
	case "REJECTED":
		return domain.OrderStateRejected, nil
	default:
		return "", fmt.Errorf("orderly: unknown order status %q", resp.Data.Status)
	}
}

// GetAllPositions returns every non-flat position on the venue.
func (c *Connector) GetAllPositions(ctx context.Context) ([]domain.PositionRecord, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/v1/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("orderly: positions: %w", err)
	}
	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("orderly: decode positions: %w", err)
	}

	out := make([]domain.PositionRecord, 0, len(resp.Data.Rows))
	for _, row := range resp.Data.Rows {
		if row.PositionQty == 0 {
			continue
		}
		token, ok := c.mapper.ToToken(row.Symbol)
		if !ok {
			continue
		}
		side := domain.SideLong
		size := row.PositionQty
		if size < 0 {
			side = domain.SideShort
			size = -size
		}
		out = append(out, domain.PositionRecord{
			Venue:         Name,
			Token:         token,
			Side:          side,
			Size:          size,
			EntryPrice:    row.AverageOpenPrice,
			MarkPrice:     row.MarkPrice,
			Leverage:      row.Leverage,
			UnrealizedPnL: row.UnsettledPnL,
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
		return domain.VenueMarket{}, fmt.Errorf("orderly: no market for token %s: %w", token, domain.ErrDataUnavailable)
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

func (c *Connector) refreshMarkets(ctx context.Context) (int, error) {
	body, err := c.doPublic(ctx, http.MethodGet, "/v1/public/info")
	if err != nil {
		return 0, err
	}
	var resp infoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("orderly: decode public info: %w", err)
	}

	now := c.now().UTC()
	fresh := make(map[string]domain.VenueMarket, len(resp.Data.Rows))
	for _, row := range resp.Data.Rows {
		token, ok := c.mapper.ToToken(row.Symbol)
		if !ok {
			continue
		}
		fresh[token] = domain.VenueMarket{
			Venue:          Name,
			Token:          token,
			Symbol:         row.Symbol,
			PricePrecision: venue.PlacesFromStep(row.QuoteTick),
			SizePrecision:  venue.PlacesFromStep(row.BaseTick),
			TickSize:       row.QuoteTick,
			StepSize:       row.BaseTick,
			MinOrderSize:   row.BaseMin,
			MaxOrderSize:   row.BaseMax,
			MinNotional:    row.MinNotional,
			RefreshedAt:    now,
		}
	}

	c.mu.Lock()
	c.markets = fresh
	c.mu.Unlock()

	return len(fresh), nil
}

// prices fetches mark/index for a symbol, tolerating failure with zeros
// since funding snapshots remain useful without them.
func (c *Connector) prices(ctx context.Context, symbol string) (mark, index float64) {
	body, err := c.doPublic(ctx, http.MethodGet, "/v1/public/futures/"+symbol)
	if err != nil {
		return 0, 0
	}
	var resp futuresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0
	}
	return resp.Data.MarkPrice, resp.Data.IndexPrice
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
