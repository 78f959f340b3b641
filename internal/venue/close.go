package venue

import (
	"context"
	"fmt"

	"github.com/perparb/fundarb/internal/domain"
)

// CloseByReduceOnly is the default ClosePosition implementation: submit a
// reduce-only order on the opposite side of the open position. Venues with
// a dedicated close endpoint override this in their own connector.
func CloseByReduceOnly(ctx context.Context, c Connector, intent domain.OrderIntent) (string, error) {
	opp := intent
	opp.Side = intent.Side.Opposite()

	placed, err := c.PlaceOrder(ctx, opp, true)
	if err != nil {
		return "", fmt.Errorf("venue: closing %s %s on %s: %w", intent.Side, intent.Token, c.Name(), err)
	}
	return placed.OrderID, nil
}
