package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

// fakeClock advances by d on every After call and fires immediately, so the
// polling loop runs its full schedule without real sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type fakeConnector struct {
	caps venue.Capability

	placed     []domain.OrderIntent
	reduceOnly []bool
	placeResp  domain.PlacedOrder
	placeErr   error

	statusMu    sync.Mutex
	statuses    []any // domain.OrderState or error, consumed in order
	statusCalls int

	positions    []domain.PositionRecord
	positionsErr error
	// positionsAfterPlace replaces positions once an order is submitted,
	// simulating a fill the venue never reported through order status.
	positionsAfterPlace []domain.PositionRecord

	cancelCalls int
	cancelErr   error

	closeCalls int
	// closeResp simulates a venue with a dedicated close endpoint: when set,
	// ClosePosition returns this order id without going through PlaceOrder.
	closeResp string
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) Capabilities() venue.Capability { return f.caps }

func (f *fakeConnector) TestConnection(context.Context) (int, error) { return 1, nil }
func (f *fakeConnector) GetFundingRates(context.Context, []string) ([]domain.FundingRateSnapshot, error) {
	return nil, domain.ErrUnsupportedOperation
}
func (f *fakeConnector) GetPrice(context.Context, string) (float64, error) { return 50000, nil }
func (f *fakeConnector) SetLeverage(_ context.Context, _ string, l float64) (float64, error) {
	return l, nil
}

func (f *fakeConnector) PlaceOrder(_ context.Context, intent domain.OrderIntent, reduceOnly bool) (domain.PlacedOrder, error) {
	f.placed = append(f.placed, intent)
	f.reduceOnly = append(f.reduceOnly, reduceOnly)
	if f.positionsAfterPlace != nil {
		f.positions = f.positionsAfterPlace
	}
	return f.placeResp, f.placeErr
}

func (f *fakeConnector) CancelOrder(context.Context, string, string) (bool, error) {
	f.cancelCalls++
	return f.cancelErr == nil, f.cancelErr
}

func (f *fakeConnector) GetOrderStatus(context.Context, string, string) (domain.OrderState, error) {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return domain.OrderStateOpen, nil
	}
	next := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	switch v := next.(type) {
	case domain.OrderState:
		return v, nil
	case error:
		return "", v
	default:
		panic(fmt.Sprintf("bad status script entry %T", next))
	}
}

func (f *fakeConnector) GetAllPositions(context.Context) ([]domain.PositionRecord, error) {
	return f.positions, f.positionsErr
}

func (f *fakeConnector) ClosePosition(ctx context.Context, intent domain.OrderIntent) (string, error) {
	f.closeCalls++
	if f.closeResp != "" {
		if f.positionsAfterPlace != nil {
			f.positions = f.positionsAfterPlace
		}
		return f.closeResp, nil
	}
	return venue.CloseByReduceOnly(ctx, f, intent)
}

var _ venue.Connector = (*fakeConnector)(nil)

func newTestExecutor(clock Clock) *Executor {
	return New(Options{Clock: clock, PollInterval: time.Second, ConfirmTimeout: 60 * time.Second})
}

func TestImmediateFillSkipsPolling(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading,
		placeResp: domain.PlacedOrder{OrderID: "1", Price: 50000, Size: 1, Filled: true},
	}
	e := newTestExecutor(&fakeClock{})

	placed, err := e.OpenPosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if !placed.Filled || placed.OrderID != "1" {
		t.Errorf("placed = %+v", placed)
	}
	if conn.statusCalls != 0 {
		t.Errorf("status polled %d times on immediate fill", conn.statusCalls)
	}
}

func TestFillAfterPolling(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading,
		placeResp: domain.PlacedOrder{OrderID: "2", Price: 50000, Size: 1},
		statuses:  []any{domain.OrderStateOpen, domain.OrderStateOpen, domain.OrderStateFilled},
	}
	e := newTestExecutor(&fakeClock{})

	placed, err := e.OpenPosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if !placed.Filled {
		t.Error("order not reported filled")
	}
	if conn.statusCalls != 3 {
		t.Errorf("status calls = %d, want 3", conn.statusCalls)
	}
}

func TestRejectedOrderFails(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading,
		placeResp: domain.PlacedOrder{OrderID: "3"},
		statuses:  []any{domain.OrderStateRejected},
	}
	e := newTestExecutor(&fakeClock{})

	_, err := e.OpenPosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Errorf("err = %v, want ErrOrderRejected", err)
	}
}

func TestTimeoutCancelsAndFails(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading,
		placeResp: domain.PlacedOrder{OrderID: "4"},
	}
	clock := &fakeClock{}
	e := newTestExecutor(clock)

	_, err := e.OpenPosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if !errors.Is(err, domain.ErrOrderTimeout) {
		t.Fatalf("err = %v, want ErrOrderTimeout", err)
	}
	if conn.cancelCalls != 1 {
		t.Errorf("cancel calls = %d, want 1", conn.cancelCalls)
	}
	if conn.statusCalls != 60 {
		t.Errorf("status calls = %d, want 60", conn.statusCalls)
	}
}

func TestCancelFailureAfterTimeoutIsNotEscalated(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading,
		placeResp: domain.PlacedOrder{OrderID: "5"},
		cancelErr: errors.New("venue hiccup"),
	}
	e := newTestExecutor(&fakeClock{})

	_, err := e.OpenPosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if !errors.Is(err, domain.ErrOrderTimeout) {
		t.Errorf("err = %v, want ErrOrderTimeout despite cancel failure", err)
	}
}

func TestAbsentOrderConfirmedByPositionIncrease(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading | venue.CapAccountData,
		placeResp: domain.PlacedOrder{OrderID: "6", Size: 1},
		statuses:  []any{fmt.Errorf("gone: %w", domain.ErrNotFound)},
	}
	// Baseline is taken before submission with no position; after the order
	// lands the venue reports a long of 1.
	conn.positionsAfterPlace = []domain.PositionRecord{
		{Venue: "fake", Token: "BTC", Side: domain.SideLong, Size: 1, EntryPrice: 50000},
	}
	e := newTestExecutor(&fakeClock{})

	placed, err := e.OpenPosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if !placed.Filled {
		t.Error("absent order with observed position increase not treated as filled")
	}
}

func TestAbsentOrderWithoutPositionKeepsPolling(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading | venue.CapAccountData,
		placeResp: domain.PlacedOrder{OrderID: "7", Size: 1},
		statuses:  []any{fmt.Errorf("gone: %w", domain.ErrNotFound)},
	}
	e := newTestExecutor(&fakeClock{})

	_, err := e.OpenPosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if !errors.Is(err, domain.ErrOrderTimeout) {
		t.Errorf("err = %v, want ErrOrderTimeout", err)
	}
	if conn.statusCalls < 60 {
		t.Errorf("status calls = %d, want full polling schedule", conn.statusCalls)
	}
}

func TestClosePositionFlipsSideAndSetsReduceOnly(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading,
		placeResp: domain.PlacedOrder{OrderID: "8"},
		statuses:  []any{domain.OrderStateFilled},
	}
	e := newTestExecutor(&fakeClock{})

	placed, err := e.ClosePosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if conn.closeCalls != 1 {
		t.Fatalf("connector ClosePosition calls = %d, want 1", conn.closeCalls)
	}
	if len(conn.placed) != 1 {
		t.Fatalf("placed %d orders", len(conn.placed))
	}
	if conn.placed[0].Side != domain.SideShort || !conn.reduceOnly[0] {
		t.Errorf("close submitted side=%s reduceOnly=%t", conn.placed[0].Side, conn.reduceOnly[0])
	}
	if !placed.Filled {
		t.Error("close not reported filled after status poll")
	}
}

func TestClosePositionUsesConnectorOverride(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading,
		closeResp: "99",
		statuses:  []any{domain.OrderStateFilled},
	}
	e := newTestExecutor(&fakeClock{})

	placed, err := e.ClosePosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if placed.OrderID != "99" || !placed.Filled {
		t.Errorf("placed = %+v, want order 99 filled", placed)
	}
	// A venue-specific close endpoint must not be rerouted through the
	// generic reduce-only submission.
	if len(conn.placed) != 0 {
		t.Errorf("PlaceOrder called %d times for an overridden close", len(conn.placed))
	}
}

func TestCloseAbsentOrderConfirmedByPositionDecrease(t *testing.T) {
	conn := &fakeConnector{
		caps:      venue.CapMarketData | venue.CapTrading | venue.CapAccountData,
		closeResp: "10",
		statuses:  []any{fmt.Errorf("gone: %w", domain.ErrNotFound)},
		positions: []domain.PositionRecord{
			{Venue: "fake", Token: "BTC", Side: domain.SideLong, Size: 1, EntryPrice: 50000},
		},
		positionsAfterPlace: []domain.PositionRecord{},
	}
	e := newTestExecutor(&fakeClock{})

	placed, err := e.ClosePosition(context.Background(), conn, domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if !placed.Filled {
		t.Error("absent close order with observed position decrease not treated as filled")
	}
}
