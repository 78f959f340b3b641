package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/perparb/fundarb/internal/domain"
	"github.com/perparb/fundarb/internal/scheduler"
	"github.com/perparb/fundarb/internal/server/handler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTradeStore struct {
	trades []domain.Trade
}

func (f *fakeTradeStore) Create(ctx context.Context, t domain.Trade) error { return nil }
func (f *fakeTradeStore) Update(ctx context.Context, t domain.Trade) error { return nil }

func (f *fakeTradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	for _, t := range f.trades {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (f *fakeTradeStore) ListByStatus(ctx context.Context, statuses ...domain.TradeStatus) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeTradeStore) Count(ctx context.Context, statuses ...domain.TradeStatus) (int64, error) {
	return int64(len(f.trades)), nil
}

type fakeFunding struct {
	snaps map[string][]domain.FundingRateSnapshot
}

func (f *fakeFunding) LatestAll(ctx context.Context, token string) ([]domain.FundingRateSnapshot, error) {
	return f.snaps[token], nil
}

func sampleTrade(id string, status domain.TradeStatus) domain.Trade {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Trade{
		ID:     id,
		Token:  "BTC",
		Status: status,
		Legs: [2]domain.Leg{
			{ID: id + "-a", TradeID: id, Venue: "alpha", Token: "BTC", Side: domain.SideLong, Size: 1, Status: domain.LegStatusOpen},
			{ID: id + "-b", TradeID: id, Venue: "beta", Token: "BTC", Side: domain.SideShort, Size: 1, Status: domain.LegStatusOpen},
		},
		EntryAPR:  200,
		OpenedAt:  now,
		UpdatedAt: now,
	}
}

func newTestServer(t *testing.T, cfg Config, trades *fakeTradeStore, sched *scheduler.Scheduler) *Server {
	t.Helper()
	logger := testLogger()
	if trades == nil {
		trades = &fakeTradeStore{}
	}
	if sched == nil {
		sched = scheduler.New(nil, logger)
	}
	funding := &fakeFunding{snaps: map[string][]domain.FundingRateSnapshot{
		"BTC": {{Venue: "alpha", Token: "BTC", Rate: 0.0001, FrequencyHours: 1, FetchedAt: time.Now()}},
	}}
	return NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(logger),
		Trades:  handler.NewTradesHandler(trades, logger),
		Funding: handler.NewFundingHandler(funding, []string{"BTC"}, logger),
		Jobs:    handler.NewJobsHandler(sched, logger),
	}, logger)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestListTradesFiltersByStatus(t *testing.T) {
	trades := &fakeTradeStore{trades: []domain.Trade{
		sampleTrade("t1", domain.TradeStatusOpen),
		sampleTrade("t2", domain.TradeStatusClosed),
		sampleTrade("t3", domain.TradeStatusOpen),
	}}
	srv := newTestServer(t, Config{}, trades, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades?status=open", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Count  int `json:"count"`
		Trades []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Legs   []struct {
				Venue string `json:"venue"`
			} `json:"legs"`
		} `json:"trades"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if len(body.Trades[0].Legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(body.Trades[0].Legs))
	}
}

func TestListTradesRejectsBadStatus(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades?status=bogus", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetTradeNotFound(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFundingEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/funding", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Funding map[string][]struct {
			Venue         string  `json:"venue"`
			AnnualizedPct float64 `json:"annualized_pct"`
		} `json:"funding"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	rows := body.Funding["BTC"]
	if len(rows) != 1 || rows[0].Venue != "alpha" {
		t.Fatalf("funding = %+v", body.Funding)
	}
	// 0.0001 per hour, 8760 periods per year.
	if got := rows[0].AnnualizedPct; got < 87.5 || got > 87.7 {
		t.Fatalf("annualized = %v, want ~87.6", got)
	}
}

func TestRunJobEndpoint(t *testing.T) {
	logger := testLogger()
	sched := scheduler.New(nil, logger)
	ran := false
	if err := sched.Register("refresh", time.Minute, func(ctx context.Context) (any, error) {
		ran = true
		return map[string]int{"snapshots": 3}, nil
	}); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, Config{}, nil, sched)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/refresh/run", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !ran {
		t.Fatal("job did not run")
	}
	var result scheduler.JobResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Job != "refresh" || !result.Success {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunJobUnknown(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/nope/run", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "sekrit"}, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}
}
