// Package edgex implements the venue.Connector contract for the edgeX
// exchange. Orders are signed with STARK-curve ECDSA over the Keccak-256
// hash of a canonical sorted-key JSON representation of the order.
package edgex

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
	Name = "edgex"

	// SymbolPattern maps a token to this venue's native instrument name.
	SymbolPattern = "%sUSD"

	defaultFundingFrequency = 4 // hours
)

// Options configures a Connector. Without a STARK key and account id the
// venue degrades to public market data.
type Options struct {
	BaseURL               string
	AccountID             string
	StarkPrivateKeyHex    string
	FundingFrequencyHours float64
	Logger                *slog.Logger
}

// Connector is the edgeX venue adapter.
type Connector struct {
	baseURL     string
	accountID   string
	signer      *crypto.StarkSigner
	fundingFreq float64
	mapper      *venue.PatternMapper
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.RWMutex
	markets map[string]domain.VenueMarket
}

var _ venue.Connector = (*Connector)(nil)

// New builds an edgeX connector.
func New(opts Options) (*Connector, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("edgex: BaseURL is required")
	}
	if opts.FundingFrequencyHours <= 0 {
		opts.FundingFrequencyHours = defaultFundingFrequency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var signer *crypto.StarkSigner
	if opts.StarkPrivateKeyHex != "" {
		var err error
		signer, err = crypto.NewStarkSigner(opts.StarkPrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("edgex: %w", err)
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
		logger:      opts.Logger.With(slog.String("component", "venue.edgex")),
		now:         time.Now,
		markets:     make(map[string]domain.VenueMarket),
	}, nil
}

// Name implements venue.Connector.
func (c *Connector) Name() string { return Name }

// Capabilities reports market data always; trading and account data only
// with a STARK key and account id.
func (c *Connector) Capabilities() venue.Capability {
	caps := venue.CapMarketData
	if c.signer != nil && c.accountID != "" {
		caps |= venue.CapTrading | venue.CapAccountData
	}
	return caps
}

// TestConnection fetches contract metadata and returns the number of
// tradable contracts.
func (c *Connector) TestConnection(ctx context.Context) (int, error) {
	n, err := c.refreshMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("edgex: test connection: %w", err)
	}
	return n, nil
}

// GetFundingRates returns funding snapshots for the given tokens, or every
// known contract when tokens is empty.
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
			if errors.Is(err, domain.ErrDataUnavailable) || errors.Is(err, domain.ErrNotFound) {
				c.logger.Warn("no funding data", slog.String("token", token))
				continue
			}
			return nil, err
		}
		out = append(out, domain.FundingRateSnapshot{
			Venue:          Name,
			Token:          token,
			Rate:           parseFloat(tk.Data.FundingRate),
			FrequencyHours: c.fundingFreq,
			NextFundingAt:  msToTime(tk.Data.NextFundingTime),
			MarkPrice:      parseFloat(tk.Data.MarkPrice),
			IndexPrice:     parseFloat(tk.Data.IndexPrice),
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
	price := parseFloat(tk.Data.MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("edgex: no mark price for %s: %w", token, domain.ErrDataUnavailable)
	}
	return price, nil
}

// SetLeverage sets contract leverage and returns the effective value.
func (c *Connector) SetLeverage(ctx context.Context, token string, leverage float64) (float64, error) {
	if err := c.requireAuth(); err != nil {
		return 0, err
	}
	m, err := c.market(ctx, token)
	if err != nil {
		return 0, err
	}
	if m.MaxLeverage > 0 && leverage > m.MaxLeverage {
		leverage = m.MaxLeverage
	}

	body, err := c.doPost(ctx, "/api/v1/private/account/updateLeverageSetting", leverageRequest{
		AccountID:  c.accountID,
		ContractID: m.Symbol,
		Leverage:   strconv.Itoa(int(leverage)),
	})
	if err != nil {
		return 0, fmt.Errorf("edgex: set leverage: %w", err)
	}
	var resp leverageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("edgex: decode leverage: %w", err)
	}
	if l := parseFloat(resp.Data.Leverage); l > 0 {
		return l, nil
	}
	return leverage, nil
}

// PlaceOrder quantizes, signs with the STARK key, and submits a limit
// order.
func (c *Connector) PlaceOrder(ctx context.Context, intent domain.OrderIntent, reduceOnly bool) (domain.PlacedOrder, error) {
	if err := c.requireAuth(); err != nil {
		return domain.PlacedOrder{}, err
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

	side := "BUY"
	if intent.Side == domain.SideShort {
		side = "SELL"
	}

	req := createOrderRequest{
		AccountID:  c.accountID,
		ContractID: m.Symbol,
		Nonce:      strconv.FormatInt(c.now().UnixMilli(), 10),
		Price:      venue.FormatDecimal(price, m.PricePrecision),
		ReduceOnly: reduceOnly,
		Side:       side,
		Size:       venue.FormatDecimal(size, m.SizePrecision),
	}
	req.SigR, req.SigS = c.signOrder(req)

	body, err := c.doPost(ctx, "/api/v1/private/order/createOrder", req)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("edgex: place order: %w", err)
	}
	var resp createOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("edgex: decode order response: %w", err)
	}

	c.logger.Info("order placed",
		slog.String("contract", m.Symbol),
		slog.String("side", side),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.String("order_id", resp.Data.OrderID))

	return domain.PlacedOrder{
		OrderID: resp.Data.OrderID,
		Price:   price,
		Size:    size,
		Filled:  resp.Data.Status == "FILLED",
	}, nil
}

// signOrder hashes the canonical sorted-key JSON form of the order with
// Keccak-256 and signs the digest on the STARK curve. The JSON layout is
// part of the venue's verifier contract and must not change.
func (c *Connector) signOrder(req createOrderRequest) (r, s string) {
	canonical := fmt.Sprintf(
		`{"accountId":%q,"contractId":%q,"nonce":%q,"price":%q,"reduceOnly":%t,"side":%q,"size":%q}`,
		req.AccountID, req.ContractID, req.Nonce, req.Price, req.ReduceOnly, req.Side, req.Size,
	)
	return c.signer.Sign(crypto.Keccak256([]byte(canonical)))
}

// CancelOrder cancels an order; an order the venue no longer knows is
// treated as already settled.
func (c *Connector) CancelOrder(ctx context.Context, _ string, orderID string) (bool, error) {
	if err := c.requireAuth(); err != nil {
		return false, err
	}
	_, err := c.doPost(ctx, "/api/v1/private/order/cancelOrder", cancelOrderRequest{
		AccountID: c.accountID,
		OrderID:   orderID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("edgex: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// GetOrderStatus reports the venue state of a submitted order.
func (c *Connector) GetOrderStatus(ctx context.Context, _ string, orderID string) (domain.OrderState, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}
	body, err := c.doGet(ctx, "/api/v1/private/order/getOrderById?accountId="+c.accountID+"&orderId="+orderID)
	if err != nil {
		return "", fmt.Errorf("edgex: order status %s: %w", orderID, err)
	}
	var resp orderStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("edgex: decode order status: %w", err)
	}

	switch resp.Data.Status {
	case "PENDING", "OPEN", "PARTIALLY_FILLED":
		return domain.OrderStateOpen, nil
	case "FILLED":
		return domain.OrderStateFilled, nil
	case "CANCELED", "EXPIRED":
		return domain.OrderStateCanceled, nil
	case "REJECTED":
		return domain.OrderStateRejected, nil
	default:
		return "", fmt.Errorf("edgex: unknown order status %q", resp.Data.Status)
	}
}

// GetAllPositions returns every non-flat position on the venue.
func (c *Connector) GetAllPositions(ctx context.Context) ([]domain.PositionRecord, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	body, err := c.doGet(ctx, "/api/v1/private/account/getPositions?accountId="+c.accountID)
	if err != nil {
		return nil, fmt.Errorf("edgex: positions: %w", err)
	}
	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("edgex: decode positions: %w", err)
	}

	out := make([]domain.PositionRecord, 0, len(resp.Data.PositionList))
	for _, p := range resp.Data.PositionList {
		size := parseFloat(p.OpenSize)
		if size == 0 {
			continue
		}
		token, ok := c.mapper.ToToken(p.ContractID)
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
			EntryPrice:    parseFloat(p.AvgEntryPrice),
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

func (c *Connector) requireAuth() error {
	if c.signer == nil || c.accountID == "" {
		return fmt.Errorf("edgex: credentials not configured: %w", domain.ErrAuthenticationFailed)
	}
	return nil
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
		return domain.VenueMarket{}, fmt.Errorf("edgex: no contract for token %s: %w", token, domain.ErrDataUnavailable)
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
	body, err := c.doGet(ctx, "/api/v1/public/meta/getMetaData")
	if err != nil {
		return 0, err
	}
	var resp metaDataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("edgex: decode metadata: %w", err)
	}

	now := c.now().UTC()
	fresh := make(map[string]domain.VenueMarket, len(resp.Data.ContractList))
	for _, ct := range resp.Data.ContractList {
		if !ct.Enabled {
			continue
		}
		token, ok := c.mapper.ToToken(ct.ContractName)
		if !ok {
			continue
		}
		tick := parseFloat(ct.TickSize)
		step := parseFloat(ct.StepSize)
		fresh[token] = domain.VenueMarket{
			Venue:          Name,
			Token:          token,
			Symbol:         ct.ContractID,
			PricePrecision: venue.PlacesFromStep(tick),
			SizePrecision:  venue.PlacesFromStep(step),
			TickSize:       tick,
			StepSize:       step,
			MinOrderSize:   parseFloat(ct.MinOrderSize),
			MaxOrderSize:   parseFloat(ct.MaxOrderSize),
			MaxLeverage:    parseFloat(ct.MaxLeverage),
			RefreshedAt:    now,
		}
	}

	c.mu.Lock()
	c.markets = fresh
	c.mu.Unlock()

	return len(fresh), nil
}

func (c *Connector) ticker(ctx context.Context, token string) (*tickerResponse, error) {
	m, err := c.market(ctx, token)
	if err != nil {
		return nil, err
	}
	body, err := c.doGet(ctx, "/api/v1/public/quote/getTicker?contractId="+m.Symbol)
	if err != nil {
		return nil, fmt.Errorf("edgex: ticker %s: %w", token, err)
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("edgex: decode ticker: %w", err)
	}
	return &resp, nil
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
