package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/execution"
	"github.com/perparb/fundarb/internal/venue"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testClock advances by d on every After call and fires immediately, so the
// order confirmation loop runs without real sleeps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func newTestExecutor() *execution.Executor {
	return execution.New(execution.Options{Logger: testLogger, Clock: &testClock{now: time.Unix(1700000000, 0)}})
}

// memStore is an in-memory LegStore + TradeStore. Trades returned by reads
// have their legs hydrated from the leg table, matching the SQL stores.
type memStore struct {
	mu     sync.Mutex
	legs   map[string]domain.Leg
	trades map[string]domain.Trade
}

func newMemStore() *memStore {
	return &memStore{
		legs:   make(map[string]domain.Leg),
		trades: make(map[string]domain.Trade),
	}
}

// LegStore

func (m *memStore) CreateLeg(ctx context.Context, leg domain.Leg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs[leg.ID] = leg
	return nil
}

func (m *memStore) UpdateLeg(ctx context.Context, leg domain.Leg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.legs[leg.ID]; !ok {
		return domain.ErrNotFound
	}
	m.legs[leg.ID] = leg
	return nil
}

func (m *memStore) GetLeg(ctx context.Context, id string) (domain.Leg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leg, ok := m.legs[id]
	if !ok {
		return domain.Leg{}, domain.ErrNotFound
	}
	return leg, nil
}

func (m *memStore) legsByTrade(tradeID string) []domain.Leg {
	var out []domain.Leg
	for _, leg := range m.legs {
		if leg.TradeID == tradeID {
			out = append(out, leg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memLegStore struct{ *memStore }

func (m memLegStore) Create(ctx context.Context, leg domain.Leg) error { return m.CreateLeg(ctx, leg) }
func (m memLegStore) Update(ctx context.Context, leg domain.Leg) error { return m.UpdateLeg(ctx, leg) }
func (m memLegStore) GetByID(ctx context.Context, id string) (domain.Leg, error) {
	return m.GetLeg(ctx, id)
}

func (m memLegStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.Leg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.legsByTrade(tradeID), nil
}

func (m memLegStore) ListByStatus(ctx context.Context, statuses ...domain.LegStatus) ([]domain.Leg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Leg
	for _, leg := range m.legs {
		for _, st := range statuses {
			if leg.Status == st {
				out = append(out, leg)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memLegStore) GetByVenueToken(ctx context.Context, venueName, token string) ([]domain.Leg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Leg
	for _, leg := range m.legs {
		if leg.Venue == venueName && leg.Token == token {
			out = append(out, leg)
		}
	}
	return out, nil
}

var _ domain.LegStore = memLegStore{}

type memTradeStore struct{ *memStore }

func (m memTradeStore) Create(ctx context.Context, trade domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[trade.ID] = trade
	return nil
}

func (m memTradeStore) Update(ctx context.Context, trade domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[trade.ID]; !ok {
		return domain.ErrNotFound
	}
	m.trades[trade.ID] = trade
	return nil
}

func (m memTradeStore) hydrate(trade domain.Trade) domain.Trade {
	legs := m.legsByTrade(trade.ID)
	if len(legs) == 2 {
		trade.Legs[0], trade.Legs[1] = legs[0], legs[1]
	}
	return trade
}

func (m memTradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return m.hydrate(trade), nil
}

func (m memTradeStore) ListByStatus(ctx context.Context, statuses ...domain.TradeStatus) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, trade := range m.trades {
		for _, st := range statuses {
			if trade.Status == st {
				out = append(out, m.hydrate(trade))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memTradeStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, trade := range m.trades {
		if trade.Status == domain.TradeStatusClosed && trade.ClosedAt != nil && trade.ClosedAt.Before(cutoff) {
			out = append(out, m.hydrate(trade))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m memTradeStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trades, id)
	for legID, leg := range m.legs {
		if leg.TradeID == id {
			delete(m.legs, legID)
		}
	}
	return nil
}

func (m memTradeStore) Count(ctx context.Context, statuses ...domain.TradeStatus) (int64, error) {
	trades, _ := m.ListByStatus(ctx, statuses...)
	return int64(len(trades)), nil
}

var _ domain.TradeStore = memTradeStore{}

// memFunding is an in-memory FundingStore and FundingCache in one.
type memFunding struct {
	mu     sync.Mutex
	latest map[string]domain.FundingRateSnapshot // venue|token
	hist   []domain.FundingRateSnapshot
}

func newMemFunding() *memFunding {
	return &memFunding{latest: make(map[string]domain.FundingRateSnapshot)}
}

func fundingKey(venueName, token string) string { return venueName + "|" + token }

func (m *memFunding) Insert(ctx context.Context, snap domain.FundingRateSnapshot) error {
	return m.InsertBatch(ctx, []domain.FundingRateSnapshot{snap})
}

func (m *memFunding) InsertBatch(ctx context.Context, snaps []domain.FundingRateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hist = append(m.hist, snaps...)
	for _, snap := range snaps {
		m.latest[fundingKey(snap.Venue, snap.Token)] = snap
	}
	return nil
}

func (m *memFunding) Latest(ctx context.Context, venueName, token string) (domain.FundingRateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.latest[fundingKey(venueName, token)]
	if !ok {
		return domain.FundingRateSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memFunding) ListRecent(ctx context.Context, venueName, token string, limit int) ([]domain.FundingRateSnapshot, error) {
	return nil, nil
}

func (m *memFunding) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.hist[:0]
	var deleted int64
	for _, snap := range m.hist {
		if snap.FetchedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	m.hist = kept
	return deleted, nil
}

// FundingCache

func (m *memFunding) Set(ctx context.Context, snap domain.FundingRateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[fundingKey(snap.Venue, snap.Token)] = snap
	return nil
}

func (m *memFunding) Get(ctx context.Context, venueName, token string) (domain.FundingRateSnapshot, error) {
	return m.Latest(ctx, venueName, token)
}

func (m *memFunding) GetAll(ctx context.Context, token string) ([]domain.FundingRateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FundingRateSnapshot
	for _, snap := range m.latest {
		if snap.Token == token {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out, nil
}

var (
	_ domain.FundingStore = (*memFunding)(nil)
	_ domain.FundingCache = (*memFunding)(nil)
)

// memBlob records uploads.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objects: make(map[string][]byte)} }

func (m *memBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = buf.Bytes()
	return nil
}

var _ domain.BlobWriter = (*memBlob)(nil)

// recordSink collects published events.
type recordSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordSink) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordSink) byType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// stubConnector is a scriptable venue.Connector.
type stubConnector struct {
	name string
	caps venue.Capability

	fundingRates []domain.FundingRateSnapshot
	fundingErr   error
	price        float64
	priceErr     error

	positions    []domain.PositionRecord
	positionsErr error

	placeResp domain.PlacedOrder
	placeErr  error
	placed    []placeCall

	orderState domain.OrderState
}

type placeCall struct {
	intent     domain.OrderIntent
	reduceOnly bool
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Capabilities() venue.Capability { return s.caps }

func (s *stubConnector) TestConnection(context.Context) (int, error) { return 1, nil }

func (s *stubConnector) GetFundingRates(context.Context, []string) ([]domain.FundingRateSnapshot, error) {
	return s.fundingRates, s.fundingErr
}

func (s *stubConnector) GetPrice(context.Context, string) (float64, error) {
	return s.price, s.priceErr
}

func (s *stubConnector) SetLeverage(_ context.Context, _ string, l float64) (float64, error) {
	return l, nil
}

func (s *stubConnector) PlaceOrder(_ context.Context, intent domain.OrderIntent, reduceOnly bool) (domain.PlacedOrder, error) {
	s.placed = append(s.placed, placeCall{intent: intent, reduceOnly: reduceOnly})
	if s.placeErr != nil {
		return domain.PlacedOrder{}, s.placeErr
	}
	resp := s.placeResp
	if resp.OrderID == "" {
		resp.OrderID = fmt.Sprintf("%s-%d", s.name, len(s.placed))
	}
	if resp.Size == 0 {
		resp.Size = intent.Size
	}
	if resp.Price == 0 {
		resp.Price = s.price
	}
	resp.Filled = true
	return resp, nil
}

func (s *stubConnector) CancelOrder(context.Context, string, string) (bool, error) {
	return true, nil
}

func (s *stubConnector) GetOrderStatus(context.Context, string, string) (domain.OrderState, error) {
	if s.orderState == "" {
		return domain.OrderStateFilled, nil
	}
	return s.orderState, nil
}

func (s *stubConnector) GetAllPositions(context.Context) ([]domain.PositionRecord, error) {
	return s.positions, s.positionsErr
}

func (s *stubConnector) ClosePosition(ctx context.Context, intent domain.OrderIntent) (string, error) {
	return venue.CloseByReduceOnly(ctx, s, intent)
}

var _ venue.Connector = (*stubConnector)(nil)

func newTestRegistry(connectors ...venue.Connector) *venue.Registry {
	reg := venue.NewRegistry()
	for _, c := range connectors {
		if err := reg.Register(c); err != nil {
			panic(err)
		}
	}
	return reg
}
