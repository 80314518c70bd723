// Package strategy maps regimes to spread structures, builds spreads from option chains
// and evaluates exit rules for open positions.
package strategy

import (
	"fmt"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Select returns the spread structure traded in the given regime.
func Select(r models.Regime) (models.StrategyType, error) {
	switch r {
	case models.RegimeBullish:
		return models.BullPutSpread, nil
	case models.RegimeBearish:
		return models.BearCallSpread, nil
	case models.RegimeSideways, models.RegimeHighVolatility:
		return models.IronCondor, nil
	case models.RegimeExtreme:
		return models.NoTrade, nil
	default:
		return models.NoTrade, fmt.Errorf("%w: %s", models.ErrUnknownRegime, r)
	}
}
