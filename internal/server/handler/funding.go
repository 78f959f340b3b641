package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/perparb/fundarb/internal/domain"
)

// FundingReader is the slice of the funding service this handler needs.
type FundingReader interface {
	LatestAll(ctx context.Context, token string) ([]domain.FundingRateSnapshot, error)
}

// FundingHandler serves the latest funding-rate snapshots per token.
type FundingHandler struct {
	funding FundingReader
	tokens  []string
	logger  *slog.Logger
}

// NewFundingHandler creates a FundingHandler for the configured token list.
func NewFundingHandler(funding FundingReader, tokens []string, logger *slog.Logger) *FundingHandler {
	return &FundingHandler{
		funding: funding,
		tokens:  tokens,
		logger:  logHandler(logger, "funding"),
	}
}

// snapshotResponse is the JSON shape of one funding-rate observation.
type snapshotResponse struct {
	Venue          string    `json:"venue"`
	Token          string    `json:"token"`
	Rate           float64   `json:"rate"`
	FrequencyHours float64   `json:"frequency_hours"`
	AnnualizedPct  float64   `json:"annualized_pct"`
	NextFundingAt  time.Time `json:"next_funding_at,omitzero"`
	MarkPrice      float64   `json:"mark_price,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

func toSnapshotResponse(s domain.FundingRateSnapshot) snapshotResponse {
	return snapshotResponse{
		Venue:          s.Venue,
		Token:          s.Token,
		Rate:           s.Rate,
		FrequencyHours: s.FrequencyHours,
		AnnualizedPct:  s.Rate * s.PeriodsPerYear() * 100,
		NextFundingAt:  s.NextFundingAt,
		MarkPrice:      s.MarkPrice,
		FetchedAt:      s.FetchedAt,
	}
}

// ListFunding responds with the latest snapshot per venue for each configured
// token, or for a single token when ?token= is given. Venues with no data for
// a token are simply absent from the response.
// GET /api/funding?token=BTC
func (h *FundingHandler) ListFunding(w http.ResponseWriter, r *http.Request) {
	tokens := h.tokens
	if t := r.URL.Query().Get("token"); t != "" {
		tokens = []string{t}
	}

	out := make(map[string][]snapshotResponse, len(tokens))
	for _, token := range tokens {
		snaps, err := h.funding.LatestAll(r.Context(), token)
		if err != nil {
			h.logger.WarnContext(r.Context(), "funding lookup failed",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
			continue
		}
		rows := make([]snapshotResponse, 0, len(snaps))
		for _, s := range snaps {
			rows = append(rows, toSnapshotResponse(s))
		}
		out[token] = rows
	}

	writeJSON(w, http.StatusOK, map[string]any{"funding": out})
}
