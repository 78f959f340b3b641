package vest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/perparb/fundarb/internal/crypto"
	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/venue"
)

const testEthKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

const exchangeInfoJSON = `{"symbols": [
  {"symbol": "BTC-PERP", "status": "TRADING", "tickSize": "0.01", "stepSize": "0.0001", "minSize": "0.0001", "maxSize": "100", "maxLeverage": 20},
  {"symbol": "ETH-PERP", "status": "TRADING", "tickSize": "0.01", "stepSize": "0.001", "minSize": "0.001", "maxSize": "1000", "maxLeverage": 20},
  {"symbol": "OLD-PERP", "status": "DELISTED", "tickSize": "0.01", "stepSize": "0.001"}
]}`

func newTestConnector(t *testing.T, handler http.Handler) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:       srv.URL,
		PrivateKeyHex: testEthKey,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestTestConnectionSkipsDelisted(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exchangeInfoJSON))
	}))

	n, err := c.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if n != 2 {
		t.Errorf("market count = %d, want 2", n)
	}
}

func TestPlaceOrderPersonalSignature(t *testing.T) {
	var gotOrder createOrderRequest

	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exchangeInfo":
			w.Write([]byte(exchangeInfoJSON))
		case "/ticker/latest":
			w.Write([]byte(`{"tickers": [{"symbol": "BTC-PERP", "markPrice": "50000", "oneHrFundingRate": "0.0001"}]}`))
		case "/orders":
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &gotOrder); err != nil {
				t.Fatalf("decoding order: %v", err)
			}
			w.Write([]byte(`{"id": "ord-1204", "status": "FILLED"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	// Freeze the clock so the signed time and nonce are deterministic.
	c.now = func() time.Time { return time.UnixMilli(1762097336031) }

	intent := domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1.0}
	placed, err := c.PlaceOrder(context.Background(), intent, false)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if placed.OrderID != "ord-1204" || !placed.Filled {
		t.Errorf("placed = %+v", placed)
	}

	p := gotOrder.Order
	if p.Time != 1762097336031 || p.Nonce != 1762097336031 {
		t.Errorf("time/nonce = %d/%d", p.Time, p.Nonce)
	}
	if p.OrderType != "MARKET" || p.Symbol != "BTC-PERP" || !p.IsBuy || p.ReduceOnly {
		t.Errorf("order fields = %+v", p)
	}
	if p.Size != "1.0000" || p.LimitPrice != "50000.00" {
		t.Errorf("size/limit = %s/%s", p.Size, p.LimitPrice)
	}

	// Recompute the hash the venue's verifier would build from the wire
	// fields and check it against the recorded vector for this order.
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
	wantHash := "91ad7225e0f903d6c480ef856f4bafd4d65bca76bf1acbf1b640d5294dd22191"
	if got := hex.EncodeToString(argsHash); got != wantHash {
		t.Fatalf("args hash = %s, want %s", got, wantHash)
	}

	// The signature must recover to the connector's signing address.
	if len(gotOrder.Signature) != 2+130 {
		t.Fatalf("signature form %q", gotOrder.Signature)
	}
	sig, err := hex.DecodeString(gotOrder.Signature[2:])
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(crypto.PersonalDigest(argsHash), sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != c.signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), c.signer.Address().Hex())
	}
}

func TestGetFundingRates(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exchangeInfo":
			w.Write([]byte(exchangeInfoJSON))
		case "/ticker/latest":
			if got := r.URL.Query().Get("symbols"); got != "BTC-PERP" {
				t.Errorf("symbols = %s", got)
			}
			w.Write([]byte(`{"tickers": [{"symbol": "BTC-PERP", "markPrice": "50000", "indexPrice": "49998", "oneHrFundingRate": "0.00003", "nextFundingTime": 1762099200000}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	snaps, err := c.GetFundingRates(context.Background(), []string{"BTC"})
	if err != nil {
		t.Fatalf("GetFundingRates: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots", len(snaps))
	}
	s := snaps[0]
	if s.Venue != "vest" || s.Rate != 0.00003 || s.FrequencyHours != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.NextFundingAt != time.UnixMilli(1762099200000).UTC() {
		t.Errorf("next funding = %v", s.NextFundingAt)
	}
}

func TestGetOrderStatusMapping(t *testing.T) {
	status := "NEW"
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "77" {
			t.Errorf("id = %s", got)
		}
		w.Write([]byte(`{"id": "77", "status": "` + status + `"}`))
	}))

	cases := []struct {
		status string
		want   domain.OrderState
	}{
		{"NEW", domain.OrderStateOpen},
		{"PARTIALLY_FILLED", domain.OrderStateOpen},
		{"FILLED", domain.OrderStateFilled},
		{"CANCELLED", domain.OrderStateCanceled},
		{"REJECTED", domain.OrderStateRejected},
	}
	for _, tc := range cases {
		status = tc.status
		got, err := c.GetOrderStatus(context.Background(), "BTC", "77")
		if err != nil {
			t.Fatalf("status %s: %v", tc.status, err)
		}
		if got != tc.want {
			t.Errorf("status %s: got %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestGetAllPositions(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("address") == "" {
			t.Error("missing address query parameter")
		}
		w.Write([]byte(`{"positions": [
			{"symbol": "BTC-PERP", "size": "-1.0000", "entryPrice": "50000", "markPrice": "50250", "unrealizedPnl": "-250", "realizedPnl": "3.2", "leverage": "5"},
			{"symbol": "ETH-PERP", "size": "0", "entryPrice": "0", "markPrice": "3000"}
		]}`))
	}))

	positions, err := c.GetAllPositions(context.Background())
	if err != nil {
		t.Fatalf("GetAllPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.Token != "BTC" || p.Side != domain.SideShort || p.Size != 1.0 || p.UnrealizedPnL != -250 {
		t.Errorf("position = %+v", p)
	}
}

func TestCancelUnknownOrderIsIdempotent(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code": "ORDER_NOT_FOUND", "message": "gone"}`))
	}))

	ok, err := c.CancelOrder(context.Background(), "BTC", "42")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if ok {
		t.Error("venue acknowledged a cancel it could not perform")
	}
}

func TestUnauthenticatedDegradesToMarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exchangeInfoJSON))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if c.Capabilities().Has(venue.CapTrading) {
		t.Error("keyless connector reports trading capability")
	}
	if _, err := c.TestConnection(context.Background()); err != nil {
		t.Errorf("public metadata fetch failed without credentials: %v", err)
	}
	_, err = c.PlaceOrder(context.Background(), domain.OrderIntent{Token: "BTC", Side: domain.SideLong, Size: 1}, false)
	if !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Errorf("err = %v, want ErrAuthenticationFailed", err)
	}
}
