// Package vest implements the venue.Connector contract for the Vest
// exchange. Orders are authorized by an Ethereum key: the order fields are
// abi-encoded, keccak-hashed, wrapped in the personal-message prefix, and
// signed with secp256k1.
package vest

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
	Name = "vest"

	// SymbolPattern maps a token to this venue's native instrument name.
	SymbolPattern = "%s-PERP"

	// Vest settles funding hourly.
	defaultFundingFrequency = 1
)

// Options configures a Connector. Without a private key the venue degrades
// to public market data.
type Options struct {
	BaseURL               string
	PrivateKeyHex         string
	FundingFrequencyHours float64
	Logger                *slog.Logger
}

// Connector is the Vest venue adapter.
type Connector struct {
	baseURL     string
	signer      *crypto.EthSigner
	fundingFreq float64
	mapper      *venue.PatternMapper
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.RWMutex
	markets map[string]domain.VenueMarket
}

var _ venue.Connector = (*Connector)(nil)

// New builds a Vest connector.
func New(opts Options) (*Connector, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("vest: BaseURL is required")
	}
	if opts.FundingFrequencyHours <= 0 {
		opts.FundingFrequencyHours = defaultFundingFrequency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var signer *crypto.EthSigner
	if opts.PrivateKeyHex != "" {
		var err error
		signer, err = crypto.NewEthSigner(opts.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("vest: %w", err)
		}
	}

	mapper, err := venue.NewPatternMapper(SymbolPattern)
	if err != nil {
		return nil, err
	}

	return &Connector{
		baseURL:     opts.BaseURL,
		signer:      signer,
		fundingFreq: opts.FundingFrequencyHours,
		mapper:      mapper,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      opts.Logger.With(slog.String("component", "venue.vest")),
		now:         time.Now,
		markets:     make(map[string]domain.VenueMarket),
	}, nil
}

// Name implements venue.Connector.
func (c *Connector) Name() string { return Name }

// Capabilities reports market data always; trading and account data only
// with a signing key.
func (c *Connector) Capabilities() venue.Capability {
	caps := venue.CapMarketData
	if c.signer != nil {
		caps |= venue.CapTrading | venue.CapAccountData
	}
	return caps
}

// TestConnection fetches exchange metadata and returns the market count.
func (c *Connector) TestConnection(ctx context.Context) (int, error) {
	n, err := c.refreshMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("vest: test connection: %w", err)
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
		tk, err := c.ticker(ctx, token)
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
			Rate:           parseFloat(tk.OneHrFundingRate),
			FrequencyHours: c.fundingFreq,
			NextFundingAt:  msToTime(tk.NextFundingTime),
			MarkPrice:      parseFloat(tk.MarkPrice),
			IndexPrice:     parseFloat(tk.IndexPrice),
			FetchedAt:      c.now().UTC(),
		})
	}
	return out, nil
}

// GetPrice returns the current mark price for token.
func (c *Connector) GetPrice(ctx context.Context, token string) (float64, error) {
	tk, err := c.ticker(ctx, token)
	if err != nil {
		return 0, err
	}
	price := parseFloat(tk.MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("vest: no mark price for %s: %w", token, domain.ErrDataUnavailable)
	}
	return price, nil
}

// SetLeverage clamps to the market maximum. Vest derives effective leverage
// from margin, so the venue call is a no-op beyond validation.
func (c *Connector) SetLeverage(ctx context.Context, token string, leverage float64) (float64, error) {
	m, err := c.market(ctx, token)
	if err != nil {
		return 0, err
	}
	if m.MaxLeverage > 0 && leverage > m.MaxLeverage {
		return m.MaxLeverage, nil
	}
	return leverage, nil
}

// PlaceOrder quantizes, signs, and submits a market order bounded by a
// slippage limit price.
func (c *Connector) PlaceOrder(ctx context.Context, intent domain.OrderIntent, reduceOnly bool) (domain.PlacedOrder, error) {
	if c.signer == nil {
		return domain.PlacedOrder{}, fmt.Errorf("vest: signing key not configured: %w", domain.ErrAuthenticationFailed)
	}
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

	nowMS := c.now().UnixMilli()
	payload := orderPayload{
		Time:       nowMS,
		Nonce:      nowMS,
		OrderType:  "MARKET",
		Symbol:     m.Symbol,
		IsBuy:      intent.Side == domain.SideLong,
		Size:       venue.FormatDecimal(size, m.SizePrecision),
		LimitPrice: venue.FormatDecimal(price, m.PricePrecision),
		ReduceOnly: reduceOnly,
	}
	sig, err := c.signOrder(payload)
	if err != nil {
		return domain.PlacedOrder{}, err
	}

	body, err := c.doPost(ctx, "/orders", createOrderRequest{Order: payload, Signature: sig})
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("vest: place order: %w", err)
	}
	var resp createOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("vest: decode order response: %w", err)
	}

	c.logger.Info("order placed",
		slog.String("symbol", m.Symbol),
		slog.Bool("is_buy", payload.IsBuy),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.String("order_id", resp.ID))

	return domain.PlacedOrder{
		OrderID: resp.ID,
		Price:   price,
		Size:    size,
		Filled:  resp.Status == "FILLED",
	}, nil
}

// signOrder hashes keccak256(abi.encode(time, nonce, orderType, symbol,
// isBuy, size, limitPrice, reduceOnly)) and personal-signs it. The encoding
// order is the venue verifier's contract.
func (c *Connector) signOrder(p orderPayload) (string, error) {
	argsHash := crypto.Keccak256(crypto.ABIEncode(
		crypto.ABIUint64(uint64(p.Time)),
		crypto.ABIUint64(uint64(p.Nonce)),
		crypto.ABIString(p.OrderType),
		crypto.ABIString(p.Symbol),
		crypto.ABIBool(p.IsBuy),
		crypto.ABIString(p.Size),
		crypto.ABIString(p.LimitPrice),
		crypto.ABIBool(p.ReduceOnly),
	))
	sig, err := c.signer.SignPersonal(argsHash)
	if err != nil {
		return "", fmt.Errorf("vest: signing order: %w", err)
	}
	return sig, nil
}

// CancelOrder cancels an order; an order the venue no longer knows is
// treated as already settled.
func (c *Connector) CancelOrder(ctx context.Context, _ string, orderID string) (bool, error) {
	_, err := c.doPost(ctx, "/orders/cancel", cancelOrderRequest{ID: orderID})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("vest: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// GetOrderStatus reports the venue state of a submitted order.
func (c *Connector) GetOrderStatus(ctx context.Context, _ string, orderID string) (domain.OrderState, error) {
	body, err := c.doGet(ctx, "/orders?id="+url.QueryEscape(orderID))
	if err != nil {
		return "", fmt.Errorf("vest: order status %s: %w", orderID, err)
	}
	var resp orderStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("vest: decode order status: %w", err)
	}

	switch resp.Status {
	case "NEW", "PARTIALLY_FILLED":
		return domain.OrderStateOpen, nil
	case "FILLED":
		return domain.OrderStateFilled, nil
	case "CANCELLED", "EXPIRED":
		return domain.OrderStateCanceled, nil
	case "REJECTED":
		return domain.OrderStateRejected, nil
	default:
		return "", fmt.Errorf("vest: unknown order status %q", resp.Status)
	}
}

// GetAllPositions returns every non-flat position on the venue.
func (c *Connector) GetAllPositions(ctx context.Context) ([]domain.PositionRecord, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("vest: signing key not configured: %w", domain.ErrAuthenticationFailed)
	}
	body, err := c.doGet(ctx, "/account?address="+c.signer.Address().Hex())
	if err != nil {
		return nil, fmt.Errorf("vest: positions: %w", err)
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("vest: decode account: %w", err)
	}

	out := make([]domain.PositionRecord, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		token, ok := c.mapper.ToToken(p.Symbol)
		if !ok {
			continue
		}
		side := domain.SideLong
		if size < 0 {
			side = domain.SideShort
			size = -size
		}
		out = append(out, domain.PositionRecord{
			Venue:         Name,
			Token:         token,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			Leverage:      parseFloat(p.Leverage),
			UnrealizedPnL: parseFloat(p.UnrealizedPnL),
			RealizedPnL:   parseFloat(p.RealizedPnL),
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
		return domain.VenueMarket{}, fmt.Errorf("vest: no market for token %s: %w", token, domain.ErrDataUnavailable)
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
	body, err := c.doGet(ctx, "/exchangeInfo")
	if err != nil {
		return 0, err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, fmt.Errorf("vest: decode exchange info: %w", err)
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
		tick := parseFloat(s.TickSize)
		step := parseFloat(s.StepSize)
		fresh[token] = domain.VenueMarket{
			Venue:          Name,
			Token:          token,
			Symbol:         s.Symbol,
			PricePrecision: venue.PlacesFromStep(tick),
			SizePrecision:  venue.PlacesFromStep(step),
			TickSize:       tick,
			StepSize:       step,
			MinOrderSize:   parseFloat(s.MinSize),
			MaxOrderSize:   parseFloat(s.MaxSize),
			MaxLeverage:    s.MaxLeverage,
			RefreshedAt:    now,
		}
	}

	c.mu.Lock()
	c.markets = fresh
	c.mu.Unlock()

	return len(fresh), nil
}

func (c *Connector) ticker(ctx context.Context, token string) (*tickerEntry, error) {
	symbol := c.mapper.ToSymbol(token)
	body, err := c.doGet(ctx, "/ticker/latest?symbols="+url.QueryEscape(symbol))
	if err != nil {
		return nil, fmt.Errorf("vest: ticker %s: %w", token, err)
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("vest: decode ticker: %w", err)
	}
	for i := range resp.Tickers {
		if resp.Tickers[i].Symbol == symbol {
			return &resp.Tickers[i], nil
		}
	}
	return nil, fmt.Errorf("vest: no ticker for %s: %w", token, domain.ErrDataUnavailable)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
