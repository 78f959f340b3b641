package domain

import "time"

// FundingRateSnapshot is one observation of a venue's funding state for a
// token. Snapshots are immutable once written; newer snapshots supersede
// older ones, they are never mutated in place.
type FundingRateSnapshot struct {
	Venue          string
	Token          string
	Rate           float64 // per funding period
	FrequencyHours float64 // hours between funding payments
	NextFundingAt  time.Time
	MarkPrice      float64
	IndexPrice     float64
	FetchedAt      time.Time
}

// PeriodsPerYear returns how many funding periods the snapshot's venue pays
// per year.
func (s FundingRateSnapshot) PeriodsPerYear() float64 {
	if s.FrequencyHours <= 0 {
		return 0
	}
	return hoursPerYear / s.FrequencyHours
}

const hoursPerYear = 24 * 365 // 8760

// SpreadAPR annualizes the funding-rate difference between a short-side and a
// long-side snapshot, in percent. When the venues pay funding at different
// frequencies the more frequent of the two is used.
func SpreadAPR(long, short FundingRateSnapshot) float64 {
	freq := long.FrequencyHours
	if short.FrequencyHours > 0 && (freq <= 0 || short.FrequencyHours < freq) {
		freq = short.FrequencyHours
	}
	if freq <= 0 {
		return 0
	}
	return (short.Rate - long.Rate) * (hoursPerYear / freq) * 100
}

// SpreadOpportunity is a detected funding-rate spread worth capturing: long
// on the venue paying the lowest rate, short on the venue paying the highest.
type SpreadOpportunity struct {
	Token      string
	LongVenue  string
	LongRate   float64
	ShortVenue string
	ShortRate  float64
	APR        float64
	DetectedAt time.Time
}
