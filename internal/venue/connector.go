// Package venue defines the contract every exchange adapter implements and
// the pieces they share: the connector registry, decimal quantization, and
// token/symbol mapping.
package venue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/perparb/fundarb/internal/domain"
)

// Capability is a bitmask of the operation families a venue offers.
type Capability uint8

const (
	// CapMarketData covers prices, funding rates, and market metadata.
	CapMarketData Capability = 1 << iota
	// CapTrading covers order placement, cancellation, and leverage.
	CapTrading
	// CapAccountData covers authenticated position and balance queries.
	CapAccountData
)

// Has reports whether c includes want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Connector is the uniform contract every venue adapter satisfies. Venues
// that lack a capability return domain.ErrUnsupportedOperation from the
// operations they cannot serve instead of inventing defaults.
//
// GetAllPositions is all-or-nothing: it returns the venue's full position
// list or an error, never a silently empty success when the venue could not
// be read. The reconciler relies on this to tell "no positions" apart from
// "venue unreadable".
type Connector interface {
	// Name returns the venue identifier, e.g. "aster".
	Name() string

	// Capabilities reports which operation families the venue offers.
	Capabilities() Capability

	// TestConnection verifies reachability and primes market metadata,
	// returning the number of markets seen. Absence of credentials is not
	// an error here; unreachability is.
	TestConnection(ctx context.Context) (int, error)

	// GetFundingRates returns current funding snapshots for the given
	// tokens, or for every known token when tokens is empty. Spot venues
	// fail with domain.ErrUnsupportedOperation.
	GetFundingRates(ctx context.Context, tokens []string) ([]domain.FundingRateSnapshot, error)

	// GetPrice returns the current mark price for token. Fails with
	// domain.ErrDataUnavailable when the venue has no usable ticker.
	GetPrice(ctx context.Context, token string) (float64, error)

	// SetLeverage sets the leverage for token's contract and returns the
	// leverage actually in effect, which the venue may have clamped.
	SetLeverage(ctx context.Context, token string, leverage float64) (float64, error)

	// PlaceOrder computes a slippage-offset limit price, quantizes price
	// and size to the venue's tick and step, signs, and submits.
	PlaceOrder(ctx context.Context, intent domain.OrderIntent, reduceOnly bool) (domain.PlacedOrder, error)

	// CancelOrder cancels an order. Cancelling an already-filled or
	// already-cancelled order is not an error; the bool reports whether
	// the venue acknowledged a live cancellation.
	CancelOrder(ctx context.Context, token, orderID string) (bool, error)

	// GetOrderStatus reports the venue's view of a submitted order. An
	// order absent from the venue's open-order and history queries fails
	// with domain.ErrNotFound.
	GetOrderStatus(ctx context.Context, token, orderID string) (domain.OrderState, error)

	// GetAllPositions returns every open position on the venue.
	GetAllPositions(ctx context.Context) ([]domain.PositionRecord, error)

	// ClosePosition submits a reduce-only order on the opposite side of
	// intent and returns the venue order id.
	ClosePosition(ctx context.Context, intent domain.OrderIntent) (string, error)
}

// Registry holds the enabled connectors for the process. It is built once
// during wiring and passed by value reference to the services; there is no
// ambient global.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector under its own name. Registering the same name
// twice is a wiring bug and returns an error.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, dup := r.connectors[name]; dup {
		return fmt.Errorf("venue: connector %q already registered", name)
	}
	r.connectors[name] = c
	return nil
}

// Get returns the connector for name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("venue: connector %q: %w", name, domain.ErrNotFound)
	}
	return c, nil
}

// All returns every registered connector, sorted by name for deterministic
// iteration.
func (r *Registry) All() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// WithCapability returns every registered connector offering cap.
func (r *Registry) WithCapability(cap Capability) []Connector {
	all := r.All()
	out := all[:0]
	for _, c := range all {
		if c.Capabilities().Has(cap) {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the sorted names of all registered connectors.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Name()
	}
	return names
}
