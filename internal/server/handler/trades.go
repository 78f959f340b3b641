package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/perparb/fundarb/internal/domain"
)

// TradesHandler serves read access to trades for the operator dashboard.
type TradesHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler backed by the given store.
func NewTradesHandler(trades domain.TradeStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		trades: trades,
		logger: logHandler(logger, "trades"),
	}
}

// legResponse is the JSON shape of one leg.
type legResponse struct {
	ID            string  `json:"id"`
	Venue         string  `json:"venue"`
	Token         string  `json:"token"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	Leverage      float64 `json:"leverage"`
	Cost          float64 `json:"cost"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Status        string  `json:"status"`
	ExternalID    string  `json:"external_id,omitempty"`
}

// tradeResponse is the JSON shape of one trade.
type tradeResponse struct {
	ID             string        `json:"id"`
	Token          string        `json:"token"`
	Status         string        `json:"status"`
	Legs           []legResponse `json:"legs"`
	EntryLongRate  float64       `json:"entry_long_rate"`
	EntryShortRate float64       `json:"entry_short_rate"`
	EntryAPR       float64       `json:"entry_apr"`
	TotalCost      float64       `json:"total_cost"`
	TotalPnL       float64       `json:"total_pnl"`
	CurrentAPR     float64       `json:"current_apr"`
	CloseReason    string        `json:"close_reason,omitempty"`
	OpenedAt       time.Time     `json:"opened_at"`
	ClosedAt       *time.Time    `json:"closed_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func toTradeResponse(t domain.Trade) tradeResponse {
	resp := tradeResponse{
		ID:             t.ID,
		Token:          t.Token,
		Status:         string(t.Status),
		Legs:           make([]legResponse, 0, len(t.Legs)),
		EntryLongRate:  t.EntryLongRate,
		EntryShortRate: t.EntryShortRate,
		EntryAPR:       t.EntryAPR,
		TotalCost:      t.TotalCost,
		TotalPnL:       t.TotalPnL,
		CurrentAPR:     t.CurrentAPR,
		CloseReason:    t.CloseReason,
		OpenedAt:       t.OpenedAt,
		ClosedAt:       t.ClosedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	for _, leg := range t.Legs {
		resp.Legs = append(resp.Legs, legResponse{
			ID:            leg.ID,
			Venue:         leg.Venue,
			Token:         leg.Token,
			Side:          string(leg.Side),
			Size:          leg.Size,
			EntryPrice:    leg.EntryPrice,
			Leverage:      leg.Leverage,
			Cost:          leg.Cost,
			UnrealizedPnL: leg.UnrealizedPnL,
			RealizedPnL:   leg.RealizedPnL,
			Status:        string(leg.Status),
			ExternalID:    leg.ExternalID,
		})
	}
	return resp
}

var allTradeStatuses = []domain.TradeStatus{
	domain.TradeStatusOpening,
	domain.TradeStatusOpen,
	domain.TradeStatusClosing,
	domain.TradeStatusClosed,
	domain.TradeStatusError,
}

// parseStatuses parses the "status" query parameter, a comma-separated list
// of trade statuses. An empty parameter means all statuses.
func parseStatuses(raw string) ([]domain.TradeStatus, bool) {
	if raw == "" {
		return allTradeStatuses, true
	}
	var out []domain.TradeStatus
	for _, part := range strings.Split(raw, ",") {
		s := domain.TradeStatus(strings.ToUpper(strings.TrimSpace(part)))
		valid := false
		for _, known := range allTradeStatuses {
			if s == known {
				valid = true
				break
			}
		}
		if !valid {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// ListTrades responds with trades, optionally filtered by status.
// GET /api/trades?status=OPEN,CLOSING&limit=50&offset=0
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	statuses, ok := parseStatuses(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	trades, err := h.trades.ListByStatus(r.Context(), statuses...)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	// Pagination is applied after the status filter; trade volumes at this
	// surface are small enough that in-process slicing suffices.
	opts := parseListOpts(r)
	if opts.Offset >= len(trades) {
		trades = nil
	} else {
		trades = trades[opts.Offset:]
	}
	if len(trades) > opts.Limit {
		trades = trades[:opts.Limit]
	}

	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": out,
		"count":  len(out),
	})
}

// GetTrade responds with a single trade by ID.
// GET /api/trades/{id}
func (h *TradesHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	trade, err := h.trades.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(trade))
}
